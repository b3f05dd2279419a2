package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"catalog-import-service/internal/metrics"
	"catalog-import-service/internal/models"
)

const (
	// DefaultHeartbeatInterval is how often the sweep pings every open
	// subscription
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultHeartbeatTimeout evicts subscriptions whose last heartbeat is
	// older than this, regardless of client responsiveness
	DefaultHeartbeatTimeout = 90 * time.Second

	writeWait = 10 * time.Second
)

// Principal is the identity resolved from a connection token before the
// socket is upgraded
type Principal struct {
	UserID   string
	TenantID string
}

// TokenVerifier is the external authentication boundary:
// verifyConnectionToken(token) -> principal or failure
type TokenVerifier func(token string) (*Principal, error)

// Subscription ties one live connection to one job
type Subscription struct {
	ID       uuid.UUID
	JobID    uuid.UUID
	UserID   string
	TenantID string

	conn *Conn

	mu            sync.Mutex
	lastHeartbeat time.Time
}

func (s *Subscription) touch() {
	s.mu.Lock()
	s.lastHeartbeat = time.Now()
	s.mu.Unlock()
}

func (s *Subscription) heartbeatAge(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastHeartbeat)
}

// Conn wraps one websocket connection. Gorilla permits a single concurrent
// writer, so every write goes through writeMu.
type Conn struct {
	ws        *websocket.Conn
	principal Principal

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[uuid.UUID]*Subscription // keyed by job id
	dead bool
}

func (c *Conn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *Conn) close() {
	c.mu.Lock()
	if c.dead {
		c.mu.Unlock()
		return
	}
	c.dead = true
	c.mu.Unlock()
	c.ws.Close()
}

// jobEntry holds one job's subscriber set behind its own lock, so fan-out
// for unrelated jobs never contends
type jobEntry struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*Subscription // keyed by subscription id
}

// Registry manages the many-to-many job/subscriber relationships and the
// heartbeat clock. It is an explicitly constructed object handed to the
// connection handler, not process-global state.
type Registry struct {
	verify            TokenVerifier
	logger            *logrus.Entry
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	mu   sync.RWMutex
	jobs map[uuid.UUID]*jobEntry

	stopOnce sync.Once
	done     chan struct{}
}

// Option tweaks registry construction, mainly for tests
type Option func(*Registry)

func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(r *Registry) {
		r.heartbeatInterval = interval
		r.heartbeatTimeout = timeout
	}
}

func NewRegistry(verify TokenVerifier, logger *logrus.Logger, opts ...Option) *Registry {
	r := &Registry{
		verify:            verify,
		logger:            logger.WithField("component", "progress-registry"),
		heartbeatInterval: DefaultHeartbeatInterval,
		heartbeatTimeout:  DefaultHeartbeatTimeout,
		jobs:              make(map[uuid.UUID]*jobEntry),
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the heartbeat sweep loop
func (r *Registry) Start() {
	go func() {
		ticker := time.NewTicker(r.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweep(time.Now())
			case <-r.done:
				return
			}
		}
	}()
}

// Stop halts the heartbeat loop
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// Subscribe registers a connection's interest in a job and acknowledges
// with a subscription identifier. A connection already watching the job
// keeps its existing subscription; it is never double-registered.
func (r *Registry) Subscribe(conn *Conn, jobID uuid.UUID) *Subscription {
	conn.mu.Lock()
	if existing, ok := conn.subs[jobID]; ok {
		conn.mu.Unlock()
		existing.touch()
		return existing
	}
	conn.mu.Unlock()

	sub := &Subscription{
		ID:            uuid.New(),
		JobID:         jobID,
		UserID:        conn.principal.UserID,
		TenantID:      conn.principal.TenantID,
		conn:          conn,
		lastHeartbeat: time.Now(),
	}

	r.mu.Lock()
	entry, ok := r.jobs[jobID]
	if !ok {
		entry = &jobEntry{subs: make(map[uuid.UUID]*Subscription)}
		r.jobs[jobID] = entry
	}
	r.mu.Unlock()

	entry.mu.Lock()
	entry.subs[sub.ID] = sub
	entry.mu.Unlock()

	conn.mu.Lock()
	conn.subs[jobID] = sub
	conn.mu.Unlock()

	metrics.LiveSubscriptions.Inc()
	return sub
}

// Unsubscribe removes exactly the affected subscription; an emptied job
// entry is dropped rather than left as a placeholder
func (r *Registry) Unsubscribe(sub *Subscription) {
	r.removeSubscription(sub)

	sub.conn.mu.Lock()
	if sub.conn.subs[sub.JobID] == sub {
		delete(sub.conn.subs, sub.JobID)
	}
	sub.conn.mu.Unlock()
}

func (r *Registry) removeSubscription(sub *Subscription) {
	r.mu.Lock()
	entry, ok := r.jobs[sub.JobID]
	r.mu.Unlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	_, present := entry.subs[sub.ID]
	delete(entry.subs, sub.ID)
	empty := len(entry.subs) == 0
	entry.mu.Unlock()

	if present {
		metrics.LiveSubscriptions.Dec()
	}
	if empty {
		r.mu.Lock()
		if e, ok := r.jobs[sub.JobID]; ok {
			e.mu.Lock()
			if len(e.subs) == 0 {
				delete(r.jobs, sub.JobID)
			}
			e.mu.Unlock()
		}
		r.mu.Unlock()
	}
}

// dropConnection removes all of a connection's subscriptions, used on
// disconnect and read errors
func (r *Registry) dropConnection(conn *Conn) {
	conn.mu.Lock()
	subs := make([]*Subscription, 0, len(conn.subs))
	for _, sub := range conn.subs {
		subs = append(subs, sub)
	}
	conn.subs = make(map[uuid.UUID]*Subscription)
	conn.mu.Unlock()

	for _, sub := range subs {
		r.removeSubscription(sub)
	}
	conn.close()
}

// Emit delivers an event to every live subscriber of the job. A delivery
// failure evicts only the failing subscription and never blocks the others.
// Returns delivered and failed counts for observability.
func (r *Registry) Emit(jobID uuid.UUID, event models.ProgressEvent) (delivered, failed int) {
	if event.Type == "" {
		event.Type = "progress"
	}

	r.mu.RLock()
	entry, ok := r.jobs[jobID]
	r.mu.RUnlock()
	if !ok {
		return 0, 0
	}

	entry.mu.Lock()
	targets := make([]*Subscription, 0, len(entry.subs))
	for _, sub := range entry.subs {
		targets = append(targets, sub)
	}
	entry.mu.Unlock()

	for _, sub := range targets {
		if err := sub.conn.writeJSON(event); err != nil {
			failed++
			metrics.BroadcastFailures.Inc()
			r.logger.WithFields(logrus.Fields{
				"jobId":          jobID,
				"subscriptionId": sub.ID,
			}).WithError(err).Warn("Progress delivery failed, evicting subscription")
			r.Unsubscribe(sub)
			sub.conn.close()
			continue
		}
		delivered++
	}
	return delivered, failed
}

// JobCompleted pushes one final event to the job's current subscribers,
// then force-closes and evicts them as a unit.
func (r *Registry) JobCompleted(jobID uuid.UUID, event models.ProgressEvent) {
	if event.Type == "" {
		event.Type = "job_completed"
	}

	r.mu.Lock()
	entry, ok := r.jobs[jobID]
	if ok {
		delete(r.jobs, jobID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	subs := make([]*Subscription, 0, len(entry.subs))
	for _, sub := range entry.subs {
		subs = append(subs, sub)
	}
	entry.subs = make(map[uuid.UUID]*Subscription)
	entry.mu.Unlock()

	for _, sub := range subs {
		_ = sub.conn.writeJSON(event)

		sub.conn.mu.Lock()
		if sub.conn.subs[sub.JobID] == sub {
			delete(sub.conn.subs, sub.JobID)
		}
		remaining := len(sub.conn.subs)
		sub.conn.mu.Unlock()

		metrics.LiveSubscriptions.Dec()
		if remaining == 0 {
			sub.conn.close()
		}
	}
}

// SubscriberCount reports how many live subscriptions a job has
func (r *Registry) SubscriberCount(jobID uuid.UUID) int {
	r.mu.RLock()
	entry, ok := r.jobs[jobID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return len(entry.subs)
}

// sweep pings every open subscription and force-evicts the stale ones
func (r *Registry) sweep(now time.Time) {
	r.mu.RLock()
	entries := make([]*jobEntry, 0, len(r.jobs))
	for _, entry := range r.jobs {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	ping := map[string]string{"type": "ping"}
	for _, entry := range entries {
		entry.mu.Lock()
		subs := make([]*Subscription, 0, len(entry.subs))
		for _, sub := range entry.subs {
			subs = append(subs, sub)
		}
		entry.mu.Unlock()

		for _, sub := range subs {
			if sub.heartbeatAge(now) > r.heartbeatTimeout {
				r.logger.WithFields(logrus.Fields{
					"jobId":          sub.JobID,
					"subscriptionId": sub.ID,
				}).Info("Heartbeat timeout, force-closing subscription")
				r.Unsubscribe(sub)
				sub.conn.close()
				continue
			}
			if err := sub.conn.writeJSON(ping); err != nil {
				r.Unsubscribe(sub)
				sub.conn.close()
			}
		}
	}
}
