// Package registry tracks client connections and sessions on the
// server and dispatches inbound messages to their typed handlers. It
// is the single owner of the two shared maps; listeners never touch
// session state directly.
package registry

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/racepulse/telemetry-relay-go/log"
	"github.com/racepulse/telemetry-relay-go/pkg/model"
	"github.com/racepulse/telemetry-relay-go/pkg/server/auth"
	"github.com/racepulse/telemetry-relay-go/pkg/server/metrics"
	"github.com/racepulse/telemetry-relay-go/pkg/store"
)

// ConnState is the per-connection state machine:
// Connected -> Authenticated -> Closed.
type ConnState int

const (
	StateConnected ConnState = iota
	StateAuthenticated
	StateClosed
)

// ClientConnection is one transport-level connection. Not persisted;
// removed from the registry on disconnect or idle timeout.
type ClientConnection struct {
	ID            string
	Remote        string
	Transport     string
	SessionID     string
	State         ConnState
	ConnectedAt   time.Time
	LastMessageAt time.Time

	closeFn func() // set by the owning listener
}

// sessionState wraps a descriptor with ingest counters for the
// session summaries.
type sessionState struct {
	desc     *model.SessionDescriptor
	samples  int64
	events   int64
	lastSeen time.Time
}

// SessionSummary is the query API's view of a session.
type SessionSummary struct {
	*model.SessionDescriptor
	SampleCount int64     `json:"sample_count"`
	EventCount  int64     `json:"event_count"`
	LastSeen    time.Time `json:"last_seen"`
}

// EventHook is invoked after events were handled; the proactive voice
// notification pipeline attaches here.
type EventHook func(sessionID string, events []model.DetectedEvent)

type Registry struct {
	connMu sync.Mutex
	conns  map[string]*ClientConnection

	sessMu   sync.Mutex
	sessions map[string]*sessionState

	keys        *auth.KeySet
	st          store.Store // nil in degraded (memory-only) mode
	metrics     *metrics.Metrics
	logger      *log.Logger
	idleTimeout time.Duration
	maxClients  int
	eventHook   EventHook
	started     time.Time
}

type Option func(*Registry)

func WithStore(st store.Store) Option {
	return func(r *Registry) { r.st = st }
}

func WithKeys(keys *auth.KeySet) Option {
	return func(r *Registry) { r.keys = keys }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

func WithMaxClients(n int) Option {
	return func(r *Registry) { r.maxClients = n }
}

func WithEventHook(hook EventHook) Option {
	return func(r *Registry) { r.eventHook = hook }
}

func WithLogger(logger *log.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		conns:       make(map[string]*ClientConnection),
		sessions:    make(map[string]*sessionState),
		idleTimeout: 2 * time.Minute,
		maxClients:  100,
		logger:      log.Default().Named("registry"),
		started:     time.Now(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.keys == nil {
		r.keys = auth.NewKeySet(nil, r.logger)
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	return r
}

// Register adds a new connection in state Connected. It returns false
// when the client limit is reached.
func (r *Registry) Register(transport, remote string, closeFn func()) (*ClientConnection, bool) {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.maxClients > 0 && len(r.conns) >= r.maxClients {
		r.logger.Warn("connection rejected, client limit reached",
			log.String("remote", remote), log.Int("max", r.maxClients))
		return nil, false
	}
	now := time.Now()
	conn := &ClientConnection{
		ID:            uuid.NewString(),
		Remote:        remote,
		Transport:     transport,
		State:         StateConnected,
		ConnectedAt:   now,
		LastMessageAt: now,
		closeFn:       closeFn,
	}
	r.conns[conn.ID] = conn
	r.metrics.ActiveClients.Set(float64(len(r.conns)))
	r.logger.Debug("connection registered",
		log.String("connId", conn.ID),
		log.String("transport", transport),
		log.String("remote", remote))
	return conn, true
}

// Unregister removes the connection; the transition to Closed is
// terminal and has no persisted side effect.
func (r *Registry) Unregister(connID string) {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if conn, ok := r.conns[connID]; ok {
		conn.State = StateClosed
		delete(r.conns, connID)
		r.metrics.ActiveClients.Set(float64(len(r.conns)))
		r.logger.Debug("connection removed", log.String("connId", connID))
	}
}

// Dispatch routes one inbound message for a stateful connection
// (websocket). Messages on an unauthenticated connection other than a
// valid session_info are dropped with a warning; the connection stays
// open so the client can retry with correct credentials.
func (r *Registry) Dispatch(ctx context.Context, conn *ClientConnection, msg *model.Message) {
	r.connMu.Lock()
	conn.LastMessageAt = time.Now()
	state := conn.State
	r.connMu.Unlock()

	r.metrics.MessagesReceived.WithLabelValues(conn.Transport, string(msg.Type)).Inc()

	if state == StateConnected {
		if msg.Type != model.MessageSessionInfo || !r.keys.Validate(msg.APIKey) {
			r.metrics.MessagesDropped.WithLabelValues("unauthenticated").Inc()
			r.logger.Warn("message on unauthenticated connection dropped",
				log.String("connId", conn.ID),
				log.String("type", string(msg.Type)))
			return
		}
		r.connMu.Lock()
		conn.State = StateAuthenticated
		r.connMu.Unlock()
		r.logger.Info("connection authenticated",
			log.String("connId", conn.ID), log.String("remote", conn.Remote))
	}

	switch msg.Type {
	case model.MessageSessionInfo:
		if r.handleSessionInfo(ctx, msg) {
			r.connMu.Lock()
			conn.SessionID = msg.SessionID
			r.connMu.Unlock()
		}
	case model.MessageTelemetry:
		r.handleTelemetry(ctx, msg)
	default:
		r.metrics.MessagesDropped.WithLabelValues("unknown_type").Inc()
		r.logger.Warn("unknown message type dropped", log.String("type", string(msg.Type)))
	}
}

// DispatchDatagram handles one UDP datagram. Datagrams are stateless:
// each one must carry a valid API key, no connection object survives
// the call.
func (r *Registry) DispatchDatagram(ctx context.Context, remote string, msg *model.Message) {
	r.metrics.MessagesReceived.WithLabelValues("udp", string(msg.Type)).Inc()
	if !r.keys.Validate(msg.APIKey) {
		r.metrics.MessagesDropped.WithLabelValues("unauthenticated").Inc()
		r.logger.Warn("unauthenticated datagram dropped", log.String("remote", remote))
		return
	}
	switch msg.Type {
	case model.MessageSessionInfo:
		r.handleSessionInfo(ctx, msg)
	case model.MessageTelemetry:
		r.handleTelemetry(ctx, msg)
	default:
		r.metrics.MessagesDropped.WithLabelValues("unknown_type").Inc()
	}
}

// handleSessionInfo upserts the session descriptor: create on first
// sight, merge on update. Last write wins on concurrent updates.
func (r *Registry) handleSessionInfo(ctx context.Context, msg *model.Message) bool {
	var desc model.SessionDescriptor
	if err := json.Unmarshal(msg.Data, &desc); err != nil {
		r.metrics.MessagesDropped.WithLabelValues("malformed").Inc()
		r.logger.Warn("malformed session info dropped", log.ErrorField(err))
		return false
	}
	if desc.ID == "" {
		desc.ID = msg.SessionID
	}
	if desc.ID == "" {
		r.metrics.MessagesDropped.WithLabelValues("malformed").Inc()
		r.logger.Warn("session info without session id dropped")
		return false
	}

	r.sessMu.Lock()
	state, ok := r.sessions[desc.ID]
	if !ok {
		if desc.Created.IsZero() {
			desc.Created = time.Now()
		}
		desc.Updated = time.Now()
		state = &sessionState{desc: &desc}
		r.sessions[desc.ID] = state
		r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
		r.logger.Info("session created",
			log.String("sessionId", desc.ID),
			log.String("track", desc.TrackName),
			log.String("car", desc.CarName))
	} else {
		state.desc.Merge(&desc)
	}
	state.lastSeen = time.Now()
	snapshot := *state.desc
	r.sessMu.Unlock()

	if r.st != nil {
		if err := r.st.PutSession(ctx, &snapshot); err != nil {
			r.metrics.StoreWriteErrors.Inc()
			r.logger.Warn("session not persisted", log.ErrorField(err))
		}
	}
	return true
}

// handleTelemetry forwards a sample and its events to the store. A
// sample for an unknown session is dropped with a warning when no
// persistent store can resolve it.
func (r *Registry) handleTelemetry(ctx context.Context, msg *model.Message) {
	if msg.SessionID == "" || len(msg.Data) == 0 {
		r.metrics.MessagesDropped.WithLabelValues("malformed").Inc()
		r.logger.Warn("malformed telemetry dropped")
		return
	}

	state := r.lookupSession(ctx, msg.SessionID)
	if state == nil {
		r.metrics.MessagesDropped.WithLabelValues("unknown_session").Inc()
		r.logger.Warn("telemetry for unknown session dropped",
			log.String("sessionId", msg.SessionID))
		return
	}

	ts := timestampOf(msg)

	if r.st != nil {
		if err := r.st.PutSample(ctx, msg.SessionID, ts, msg.Data); err != nil {
			// best effort stream, losing samples is acceptable
			r.metrics.StoreWriteErrors.Inc()
			r.logger.Debug("sample not persisted", log.ErrorField(err))
		} else {
			r.metrics.StoreWrites.WithLabelValues("sample").Inc()
		}
		for _, kind := range msg.Events {
			if err := r.st.PutEvent(ctx, msg.SessionID, ts,
				model.EventKind(kind), msg.Data); err != nil {
				r.metrics.StoreWriteErrors.Inc()
				r.logger.Debug("event not persisted", log.ErrorField(err))
			} else {
				r.metrics.StoreWrites.WithLabelValues("event").Inc()
			}
		}
	}

	r.sessMu.Lock()
	state.samples++
	state.events += int64(len(msg.Events))
	state.lastSeen = time.Now()
	r.sessMu.Unlock()

	if r.eventHook != nil && len(msg.Events) > 0 {
		detected := lo.Map(msg.Events, func(kind string, _ int) model.DetectedEvent {
			return model.DetectedEvent{
				Kind:        model.EventKind(kind),
				SessionID:   msg.SessionID,
				SessionTime: msg.Timestamp,
			}
		})
		r.eventHook(msg.SessionID, detected)
	}
}

// lookupSession resolves a session from memory first, falling back to
// the persistent store (a producer may reconnect after a server
// restart).
func (r *Registry) lookupSession(ctx context.Context, sessionID string) *sessionState {
	r.sessMu.Lock()
	state, ok := r.sessions[sessionID]
	r.sessMu.Unlock()
	if ok {
		return state
	}
	if r.st == nil {
		return nil
	}
	desc, err := r.st.GetSession(ctx, sessionID)
	if err != nil {
		return nil
	}

	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	if state, ok = r.sessions[sessionID]; ok {
		return state // raced with another listener, keep theirs
	}
	state = &sessionState{desc: desc, lastSeen: time.Now()}
	r.sessions[sessionID] = state
	r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
	return state
}

// SweepIdle runs until ctx is canceled and closes connections that
// were silent for longer than the idle timeout.
func (r *Registry) SweepIdle(ctx context.Context) {
	ticker := time.NewTicker(r.idleTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.closeIdle()
		}
	}
}

func (r *Registry) closeIdle() {
	cutoff := time.Now().Add(-r.idleTimeout)

	// Dispatch updates LastMessageAt under connMu, so everything needed
	// after the unlock is copied out while the lock is held.
	type idleConn struct {
		id      string
		last    time.Time
		closeFn func()
	}
	r.connMu.Lock()
	idle := lo.FilterMap(lo.Values(r.conns), func(c *ClientConnection, _ int) (idleConn, bool) {
		return idleConn{id: c.ID, last: c.LastMessageAt, closeFn: c.closeFn},
			c.LastMessageAt.Before(cutoff)
	})
	r.connMu.Unlock()

	for _, conn := range idle {
		r.logger.Info("closing idle connection",
			log.String("connId", conn.id),
			log.Time("lastMessage", conn.last))
		if conn.closeFn != nil {
			conn.closeFn()
		}
		r.Unregister(conn.id)
	}
}

// Sessions returns summaries ordered by creation time.
func (r *Registry) Sessions() []SessionSummary {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	out := lo.Map(lo.Values(r.sessions), func(s *sessionState, _ int) SessionSummary {
		clone := *s.desc
		return SessionSummary{
			SessionDescriptor: &clone,
			SampleCount:       s.samples,
			EventCount:        s.events,
			LastSeen:          s.lastSeen,
		}
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Created.Before(out[j].Created)
	})
	return out
}

// Session returns the summary for one session, or nil.
func (r *Registry) Session(sessionID string) *SessionSummary {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	state, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	clone := *state.desc
	return &SessionSummary{
		SessionDescriptor: &clone,
		SampleCount:       state.samples,
		EventCount:        state.events,
		LastSeen:          state.lastSeen,
	}
}

// Counts returns the current connection and session counts for the
// health endpoint.
func (r *Registry) Counts() (clients, sessions int) {
	r.connMu.Lock()
	clients = len(r.conns)
	r.connMu.Unlock()
	r.sessMu.Lock()
	sessions = len(r.sessions)
	r.sessMu.Unlock()
	return clients, sessions
}

// Uptime reports how long this registry (process) has been running.
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.started)
}

// Store exposes the backing store for the query handlers; nil while
// running memory-only.
func (r *Registry) Store() store.Store {
	return r.st
}

// Keys exposes the API key allow-list shared with the query API.
func (r *Registry) Keys() *auth.KeySet {
	return r.keys
}

// Metrics exposes the instruments shared with the query API listener.
func (r *Registry) Metrics() *metrics.Metrics {
	return r.metrics
}

// timestampOf picks the wall-clock storage key for a telemetry
// envelope: the sample's recorded_at when present, arrival time
// otherwise. The session-relative timestamp stays inside the payload.
func timestampOf(msg *model.Message) time.Time {
	var probe struct {
		RecordedAt time.Time `json:"recorded_at"`
	}
	if err := json.Unmarshal(msg.Data, &probe); err == nil && !probe.RecordedAt.IsZero() {
		return probe.RecordedAt
	}
	return time.Now()
}
