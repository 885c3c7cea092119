// Copyright 2026 OneAgent Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/oneagent-io/oneagent/pkg/backbone"
	"github.com/oneagent-io/oneagent/pkg/fault"
)

// Counter keys for session metrics, maintained in the backbone cache so
// the monitoring layer can read them without touching the manager.
const (
	CounterSessionsCreated    = "metrics:sessions:created"
	CounterSessionsExpired    = "metrics:sessions:expired"
	CounterSessionsTerminated = "metrics:sessions:terminated"
	CounterEventsAdded        = "metrics:events:added"
	CounterEventsReplayed     = "metrics:events:replayed"
)

const (
	// DefaultIdleTimeout is how long a session survives without activity.
	DefaultIdleTimeout = 30 * time.Minute
	// DefaultEventTTL is how long replay events stay resumable.
	DefaultEventTTL = time.Hour
)

// TouchStatus reports the outcome of Touch.
type TouchStatus int

const (
	TouchOK TouchStatus = iota
	TouchExpired
	TouchNotFound
)

// Manager owns the session lifecycle and the event surface on top of a
// SessionStorage and an EventLog. Transports and the protocol engine go
// through the manager; only the janitor scans the store.
type Manager struct {
	backbone    *backbone.Backbone
	store       SessionStorage
	events      EventLog
	logger      *zap.Logger
	idleTimeout time.Duration
	eventTTL    time.Duration
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Store overrides the default cache-backed SessionStorage.
	Store SessionStorage
	// Events overrides the default cache-backed EventLog.
	Events EventLog
	// IdleTimeout defaults to DefaultIdleTimeout.
	IdleTimeout time.Duration
	// EventTTL defaults to DefaultEventTTL.
	EventTTL time.Duration
	// MaxEventsPerStream bounds each (session, stream) buffer; only
	// used when Events is nil. Defaults to DefaultMaxEventsPerSession.
	MaxEventsPerStream int
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// NewManager creates a Manager on the given backbone.
func NewManager(bb *backbone.Backbone, opts ManagerOptions) *Manager {
	store := opts.Store
	if store == nil {
		store = NewCacheStore(bb.Cache())
	}
	events := opts.Events
	if events == nil {
		events = NewCacheEventLog(bb.Cache(), opts.MaxEventsPerStream)
	}
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	ttl := opts.EventTTL
	if ttl <= 0 {
		ttl = DefaultEventTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		backbone:    bb,
		store:       store,
		events:      events,
		logger:      logger,
		idleTimeout: idle,
		eventTTL:    ttl,
	}
}

// IdleTimeout returns the configured session idle timeout.
func (m *Manager) IdleTimeout() time.Duration { return m.idleTimeout }

// EventTTL returns the configured replay event TTL.
func (m *Manager) EventTTL() time.Duration { return m.eventTTL }

// Create issues a new session. The returned ID must be echoed to HTTP
// clients in the Mcp-Session-Id response header.
func (m *Manager) Create(ctx context.Context, clientID, origin, protocolVersion string, capabilities map[string]interface{}, meta map[string]string) (*Session, error) {
	now := m.backbone.Now()
	sess := &Session{
		ID:              m.backbone.NewID("session"),
		ClientID:        clientID,
		Origin:          origin,
		ProtocolVersion: protocolVersion,
		Capabilities:    capabilities,
		CreatedAt:       now,
		LastActivity:    now,
		ExpiresAt:       now.Add(m.idleTimeout),
		State:           StateActive,
		Metadata:        meta,
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	if _, err := backbone.IncrCounter(ctx, m.backbone.Cache(), CounterSessionsCreated); err != nil {
		m.logger.Debug("session counter update failed", zap.Error(err))
	}
	m.logger.Info("session created",
		zap.String("session_id", MaskID(sess.ID)),
		zap.String("protocol_version", protocolVersion),
		zap.Time("expires_at", sess.ExpiresAt))
	return sess, nil
}

// Get returns the session, or nil when it does not exist. A session past
// its deadline is transitioned to EXPIRED as a side effect and reported
// as nil.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	if sess.State == StateActive && sess.ExpiredAt(m.backbone.Now()) {
		if err := m.expire(ctx, sess.ID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if sess.State != StateActive {
		return nil, nil
	}
	return sess, nil
}

func (m *Manager) expire(ctx context.Context, id string) error {
	expired := StateExpired
	if _, err := m.store.Update(ctx, id, Patch{State: &expired}); err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return nil
		}
		return err
	}
	if _, err := backbone.IncrCounter(ctx, m.backbone.Cache(), CounterSessionsExpired); err != nil {
		m.logger.Debug("session counter update failed", zap.Error(err))
	}
	m.logger.Debug("session expired", zap.String("session_id", MaskID(id)))
	return nil
}

// Resolve is Get with typed errors, for callers that must distinguish a
// session that never existed from one that timed out or was terminated.
func (m *Manager) Resolve(ctx context.Context, id string) (*Session, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fault.New(fault.KindSessionNotFound, "session not found")
	}
	switch {
	case sess.State == StateTerminated:
		return nil, fault.New(fault.KindSessionExpired, "session terminated")
	case sess.State == StateExpired:
		return nil, fault.New(fault.KindSessionExpired, "session expired")
	case sess.ExpiredAt(m.backbone.Now()):
		if err := m.expire(ctx, sess.ID); err != nil {
			return nil, err
		}
		return nil, fault.New(fault.KindSessionExpired, "session expired")
	}
	return sess, nil
}

// Update applies a partial patch to an active session. Lifecycle
// transitions go through Terminate and the janitor, not here.
func (m *Manager) Update(ctx context.Context, id string, patch Patch) (*Session, error) {
	if _, err := m.Resolve(ctx, id); err != nil {
		return nil, err
	}
	if patch.State != nil {
		return nil, fault.New(fault.KindInvalidParams, "state transitions are not patchable")
	}
	return m.store.Update(ctx, id, patch)
}

// Touch records activity and extends the session deadline.
func (m *Manager) Touch(ctx context.Context, id string) (TouchStatus, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return TouchNotFound, err
	}
	if sess == nil {
		return TouchNotFound, nil
	}
	now := m.backbone.Now()
	if sess.State != StateActive {
		return TouchExpired, nil
	}
	if sess.ExpiredAt(now) {
		if err := m.expire(ctx, sess.ID); err != nil {
			return TouchExpired, err
		}
		return TouchExpired, nil
	}
	deadline := now.Add(m.idleTimeout)
	if _, err := m.store.Update(ctx, id, Patch{LastActivity: &now, ExpiresAt: &deadline}); err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return TouchNotFound, nil
		}
		return TouchNotFound, err
	}
	return TouchOK, nil
}

// Terminate moves the session to TERMINATED and drops its event log.
// Terminating an already terminated session is a no-op.
func (m *Manager) Terminate(ctx context.Context, id string) error {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return fault.New(fault.KindSessionNotFound, "session not found")
	}
	if sess.State != StateTerminated {
		terminated := StateTerminated
		if _, err := m.store.Update(ctx, id, Patch{State: &terminated}); err != nil {
			return err
		}
		if _, err := backbone.IncrCounter(ctx, m.backbone.Cache(), CounterSessionsTerminated); err != nil {
			m.logger.Debug("session counter update failed", zap.Error(err))
		}
	}
	if err := m.events.ClearSession(ctx, id); err != nil {
		return err
	}
	m.logger.Info("session terminated", zap.String("session_id", MaskID(id)))
	return nil
}

// AddEvent persists an outbound frame for the session and stream,
// assigning the event ID, timestamp, and the next sequence number.
func (m *Manager) AddEvent(ctx context.Context, sessionID, streamID string, typ EventType, payload json.RawMessage) (*Event, error) {
	if _, err := m.Resolve(ctx, sessionID); err != nil {
		return nil, err
	}
	e := &Event{
		ID:        m.backbone.NewID("event"),
		SessionID: sessionID,
		StreamID:  streamID,
		Timestamp: m.backbone.Now(),
		Type:      typ,
		Payload:   payload,
	}
	if err := m.events.AddEvent(ctx, e); err != nil {
		return nil, err
	}
	if _, err := m.store.Update(ctx, sessionID, Patch{BumpEventCounter: true}); err != nil {
		if !fault.IsKind(err, fault.KindNotFound) {
			return nil, err
		}
	}
	if _, err := backbone.IncrCounter(ctx, m.backbone.Cache(), CounterEventsAdded); err != nil {
		m.logger.Debug("event counter update failed", zap.Error(err))
	}
	return e, nil
}

// ReplayEvents returns the events after lastEventID for the stream, or
// the whole buffer when lastEventID is empty or unknown. An unknown
// lastEventID adds an "unknown_last_event" warning.
func (m *Manager) ReplayEvents(ctx context.Context, sessionID, streamID, lastEventID string) ([]*Event, []string, error) {
	if _, err := m.Resolve(ctx, sessionID); err != nil {
		return nil, nil, err
	}
	events, warnings, err := m.events.EventsAfter(ctx, sessionID, streamID, lastEventID)
	if err != nil {
		return nil, nil, err
	}
	if len(events) > 0 {
		if _, err := backbone.AddCounter(ctx, m.backbone.Cache(), CounterEventsReplayed, int64(len(events))); err != nil {
			m.logger.Debug("event counter update failed", zap.Error(err))
		}
	}
	m.logger.Debug("events replayed",
		zap.String("session_id", MaskID(sessionID)),
		zap.String("stream_id", streamID),
		zap.Int("count", len(events)),
		zap.Strings("warnings", warnings))
	return events, warnings, nil
}

// Metrics aggregates session and event counts.
func (m *Manager) Metrics(ctx context.Context) (*Metrics, error) {
	active, err := m.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	cache := m.backbone.Cache()
	created, err := backbone.GetCounter(ctx, cache, CounterSessionsCreated)
	if err != nil {
		return nil, err
	}
	expired, err := backbone.GetCounter(ctx, cache, CounterSessionsExpired)
	if err != nil {
		return nil, err
	}
	terminated, err := backbone.GetCounter(ctx, cache, CounterSessionsTerminated)
	if err != nil {
		return nil, err
	}
	added, err := backbone.GetCounter(ctx, cache, CounterEventsAdded)
	if err != nil {
		return nil, err
	}
	replayed, err := backbone.GetCounter(ctx, cache, CounterEventsReplayed)
	if err != nil {
		return nil, err
	}

	var perSession float64
	if len(active) > 0 {
		var total int64
		for _, s := range active {
			total += s.EventCounter
		}
		perSession = float64(total) / float64(len(active))
	}
	return &Metrics{
		ActiveSessions:     len(active),
		SessionsCreated:    created,
		SessionsExpired:    expired,
		SessionsTerminated: terminated,
		EventsAdded:        added,
		EventsReplayed:     replayed,
		EventsPerSession:   perSession,
	}, nil
}

// ListActive exposes the active sessions for health reporting.
func (m *Manager) ListActive(ctx context.Context) ([]*Session, error) {
	return m.store.ListActive(ctx)
}

// CleanupExpired transitions stale ACTIVE sessions to EXPIRED and drops
// events older than the event TTL. Only the janitor calls this.
func (m *Manager) CleanupExpired(ctx context.Context) (sessions, events int, err error) {
	now := m.backbone.Now()
	sessions, err = m.store.CleanupExpired(ctx, now)
	if err != nil {
		return 0, 0, err
	}
	if sessions > 0 {
		if _, err := backbone.AddCounter(ctx, m.backbone.Cache(), CounterSessionsExpired, int64(sessions)); err != nil {
			m.logger.Debug("session counter update failed", zap.Error(err))
		}
	}
	events, err = m.events.CleanupOld(ctx, m.eventTTL, now)
	if err != nil {
		return sessions, 0, err
	}
	return sessions, events, nil
}

// Close releases the underlying stores.
func (m *Manager) Close() error {
	if err := m.store.Close(); err != nil {
		return err
	}
	return m.events.Close()
}
