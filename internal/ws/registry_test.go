package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-import-service/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// wsPipe upgrades one real websocket pair so writes hit actual frames
func wsPipe(t *testing.T) (server *websocket.Conn, client *websocket.Conn) {
	t.Helper()

	serverCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := up.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	server = <-serverCh
	t.Cleanup(func() { server.Close() })
	return server, client
}

func newTestConn(t *testing.T) (*Conn, *websocket.Conn) {
	serverWS, clientWS := wsPipe(t)
	conn := &Conn{
		ws:        serverWS,
		principal: Principal{UserID: "user-1", TenantID: "tenant-123"},
		subs:      make(map[uuid.UUID]*Subscription),
	}
	return conn, clientWS
}

func readEvent(t *testing.T, client *websocket.Conn) map[string]interface{} {
	t.Helper()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var payload map[string]interface{}
	require.NoError(t, client.ReadJSON(&payload))
	return payload
}

// ===========================================
// Fan-Out Tests
// ===========================================

func TestEmit_FanOutToAllSubscribers(t *testing.T) {
	r := NewRegistry(nil, testLogger())
	jobID := uuid.New()

	connA, clientA := newTestConn(t)
	connB, clientB := newTestConn(t)
	r.Subscribe(connA, jobID)
	r.Subscribe(connB, jobID)
	require.Equal(t, 2, r.SubscriberCount(jobID))

	delivered, failed := r.Emit(jobID, models.ProgressEvent{JobID: jobID, Processed: 10, Total: 100})
	assert.Equal(t, 2, delivered)
	assert.Equal(t, 0, failed)

	for _, client := range []*websocket.Conn{clientA, clientB} {
		event := readEvent(t, client)
		assert.Equal(t, "progress", event["type"])
		assert.Equal(t, float64(10), event["processed"])
	}
}

func TestEmit_UnknownJobIsNoop(t *testing.T) {
	r := NewRegistry(nil, testLogger())

	delivered, failed := r.Emit(uuid.New(), models.ProgressEvent{})
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 0, failed)
}

func TestEmit_OnlyTargetJobReceives(t *testing.T) {
	r := NewRegistry(nil, testLogger())
	jobA, jobB := uuid.New(), uuid.New()

	connA, clientA := newTestConn(t)
	connB, clientB := newTestConn(t)
	r.Subscribe(connA, jobA)
	r.Subscribe(connB, jobB)

	delivered, _ := r.Emit(jobA, models.ProgressEvent{JobID: jobA})
	assert.Equal(t, 1, delivered)

	event := readEvent(t, clientA)
	assert.Equal(t, jobA.String(), event["jobId"])

	// jobB's subscriber got nothing
	clientB.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var unexpected map[string]interface{}
	assert.Error(t, clientB.ReadJSON(&unexpected))
}

func TestEmit_FailedWriteEvictsOnlyThatSubscription(t *testing.T) {
	r := NewRegistry(nil, testLogger())
	jobID := uuid.New()

	connA, clientA := newTestConn(t)
	connB, _ := newTestConn(t)
	r.Subscribe(connA, jobID)
	r.Subscribe(connB, jobID)

	// Kill B's transport before the broadcast
	connB.ws.Close()

	delivered, failed := r.Emit(jobID, models.ProgressEvent{JobID: jobID})
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, r.SubscriberCount(jobID))

	// The healthy subscriber still got the event
	event := readEvent(t, clientA)
	assert.Equal(t, "progress", event["type"])
}

// ===========================================
// Lifecycle Tests
// ===========================================

func TestSubscribe_SameJobTwiceReusesSubscription(t *testing.T) {
	r := NewRegistry(nil, testLogger())
	jobID := uuid.New()

	conn, client := newTestConn(t)
	first := r.Subscribe(conn, jobID)
	second := r.Subscribe(conn, jobID)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, r.SubscriberCount(jobID))

	// One delivery per event, not one per subscribe call
	delivered, failed := r.Emit(jobID, models.ProgressEvent{JobID: jobID, Processed: 1, Total: 2})
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 0, failed)

	event := readEvent(t, client)
	assert.Equal(t, "progress", event["type"])
	client.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var duplicate map[string]interface{}
	assert.Error(t, client.ReadJSON(&duplicate))
}

func TestUnsubscribe_DropsEmptyJobEntry(t *testing.T) {
	r := NewRegistry(nil, testLogger())
	jobID := uuid.New()

	conn, _ := newTestConn(t)
	sub := r.Subscribe(conn, jobID)
	require.Equal(t, 1, r.SubscriberCount(jobID))

	r.Unsubscribe(sub)
	assert.Equal(t, 0, r.SubscriberCount(jobID))

	r.mu.RLock()
	_, stillTracked := r.jobs[jobID]
	r.mu.RUnlock()
	assert.False(t, stillTracked)
}

func TestJobCompleted_FinalEventThenEviction(t *testing.T) {
	r := NewRegistry(nil, testLogger())
	jobA, jobB := uuid.New(), uuid.New()

	// One connection watching two jobs
	conn, client := newTestConn(t)
	r.Subscribe(conn, jobA)
	r.Subscribe(conn, jobB)

	r.JobCompleted(jobA, models.ProgressEvent{JobID: jobA, Status: models.JobStatusCompleted})

	event := readEvent(t, client)
	assert.Equal(t, "job_completed", event["type"])
	assert.Equal(t, 0, r.SubscriberCount(jobA))

	// The connection survives because jobB is still subscribed
	assert.Equal(t, 1, r.SubscriberCount(jobB))
	delivered, _ := r.Emit(jobB, models.ProgressEvent{JobID: jobB})
	assert.Equal(t, 1, delivered)
}

func TestDropConnection_RemovesAllSubscriptions(t *testing.T) {
	r := NewRegistry(nil, testLogger())
	jobA, jobB := uuid.New(), uuid.New()

	conn, _ := newTestConn(t)
	r.Subscribe(conn, jobA)
	r.Subscribe(conn, jobB)

	r.dropConnection(conn)
	assert.Equal(t, 0, r.SubscriberCount(jobA))
	assert.Equal(t, 0, r.SubscriberCount(jobB))
}

// ===========================================
// Heartbeat Tests
// ===========================================

func TestSweep_EvictsStaleSubscriptions(t *testing.T) {
	r := NewRegistry(nil, testLogger(), WithHeartbeat(time.Minute, 50*time.Millisecond))
	jobID := uuid.New()

	staleConn, _ := newTestConn(t)
	freshConn, freshClient := newTestConn(t)
	stale := r.Subscribe(staleConn, jobID)
	fresh := r.Subscribe(freshConn, jobID)

	// Age the stale subscription past the timeout; keep the other current
	stale.mu.Lock()
	stale.lastHeartbeat = time.Now().Add(-time.Second)
	stale.mu.Unlock()
	fresh.touch()

	r.sweep(time.Now())

	assert.Equal(t, 1, r.SubscriberCount(jobID))

	// Survivors get pinged by the sweep
	event := readEvent(t, freshClient)
	assert.Equal(t, "ping", event["type"])
}

// ===========================================
// Connection Handler Tests
// ===========================================

func TestHandleConnection_RejectsBadTokenBeforeUpgrade(t *testing.T) {
	verify := func(token string) (*Principal, error) {
		return nil, assert.AnError
	}
	r := NewRegistry(verify, testLogger())

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws/imports", r.HandleConnection)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/imports?token=bad"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleConnection_SubscribeProtocol(t *testing.T) {
	verify := func(token string) (*Principal, error) {
		if token != "good" {
			return nil, assert.AnError
		}
		return &Principal{UserID: "user-1", TenantID: "tenant-123"}, nil
	}
	r := NewRegistry(verify, testLogger())

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws/imports", r.HandleConnection)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/imports?token=good"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	jobID := uuid.New()
	require.NoError(t, client.WriteJSON(map[string]string{"action": "subscribe", "jobId": jobID.String()}))
	ack := readEvent(t, client)
	assert.Equal(t, "subscribed", ack["type"])
	assert.Equal(t, jobID.String(), ack["jobId"])

	require.Eventually(t, func() bool { return r.SubscriberCount(jobID) == 1 },
		time.Second, 5*time.Millisecond)

	require.NoError(t, client.WriteJSON(map[string]string{"action": "ping"}))
	pong := readEvent(t, client)
	assert.Equal(t, "pong", pong["type"])

	require.NoError(t, client.WriteJSON(map[string]string{"action": "unsubscribe", "jobId": jobID.String()}))
	ack = readEvent(t, client)
	assert.Equal(t, "unsubscribed", ack["type"])
	assert.Equal(t, 0, r.SubscriberCount(jobID))
}
