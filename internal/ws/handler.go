package ws

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin subscribers are expected; auth happens via the bearer
	// token, not the Origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is the inbound protocol: subscribe, unsubscribe or ping
type clientMessage struct {
	Action string `json:"action"`
	JobID  string `json:"jobId,omitempty"`
}

// HandleConnection authenticates the bearer credential, upgrades the
// socket, and serves the subscribe protocol until the client disconnects.
// Authentication failure closes the request with no partial handshake.
func (r *Registry) HandleConnection(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		header := c.GetHeader("Authorization")
		if strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		}
	}

	principal, err := r.verify(token)
	if err != nil || principal == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   gin.H{"code": "UNAUTHORIZED", "message": "invalid connection token"},
		})
		return
	}

	socket, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	conn := &Conn{
		ws:        socket,
		principal: *principal,
		subs:      make(map[uuid.UUID]*Subscription),
	}

	log := r.logger.WithFields(logrus.Fields{
		"userId":   principal.UserID,
		"tenantId": principal.TenantID,
	})
	log.Debug("Progress connection established")

	defer r.dropConnection(conn)

	for {
		var msg clientMessage
		if err := socket.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("Connection closed unexpectedly")
			}
			return
		}

		switch msg.Action {
		case "subscribe":
			jobID, err := uuid.Parse(msg.JobID)
			if err != nil {
				_ = conn.writeJSON(gin.H{"type": "error", "message": "invalid jobId"})
				continue
			}
			sub := r.Subscribe(conn, jobID)
			_ = conn.writeJSON(gin.H{
				"type":           "subscribed",
				"jobId":          jobID.String(),
				"subscriptionId": sub.ID.String(),
			})

		case "unsubscribe":
			jobID, err := uuid.Parse(msg.JobID)
			if err != nil {
				_ = conn.writeJSON(gin.H{"type": "error", "message": "invalid jobId"})
				continue
			}
			conn.mu.Lock()
			sub := conn.subs[jobID]
			conn.mu.Unlock()
			if sub != nil {
				r.Unsubscribe(sub)
			}
			_ = conn.writeJSON(gin.H{"type": "unsubscribed", "jobId": jobID.String()})

		case "ping":
			conn.mu.Lock()
			for _, sub := range conn.subs {
				sub.touch()
			}
			conn.mu.Unlock()
			_ = conn.writeJSON(gin.H{"type": "pong"})

		default:
			// One misbehaving client must never affect anyone else; bad
			// messages are answered, not punished.
			_ = conn.writeJSON(gin.H{"type": "error", "message": "unknown action"})
		}
	}
}
