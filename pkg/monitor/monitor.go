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

// Package monitor aggregates the monotonic counters the other layers
// keep in the backbone cache and publishes them on /health,
// /health/sessions, and /metrics (Prometheus exposition). It holds no
// state of its own; every number is derived from the cache on read.
package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/oneagent-io/oneagent/pkg/a2a"
	"github.com/oneagent-io/oneagent/pkg/backbone"
	"github.com/oneagent-io/oneagent/pkg/origin"
	"github.com/oneagent-io/oneagent/pkg/session"
	"github.com/oneagent-io/oneagent/pkg/tools"
)

// Monitor reads the aggregate view. It implements tools.StatusSource so
// the built-in status tools serve the same numbers as the HTTP
// endpoints.
type Monitor struct {
	bb       *backbone.Backbone
	sessions *session.Manager
	logger   *zap.Logger
	started  time.Time
}

var _ tools.StatusSource = (*Monitor)(nil)

// Options configures New.
type Options struct {
	Logger *zap.Logger
}

// New builds a Monitor over the shared backbone and session manager.
func New(bb *backbone.Backbone, sessions *session.Manager, opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		bb:       bb,
		sessions: sessions,
		logger:   logger,
		started:  bb.Now(),
	}
}

// HealthSnapshot returns the liveness view served on /health.
func (m *Monitor) HealthSnapshot(ctx context.Context) (map[string]interface{}, error) {
	active, err := m.sessions.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	now := m.bb.Now()
	return map[string]interface{}{
		"status":         "ok",
		"time":           now.UTC().Format(time.RFC3339),
		"uptimeSeconds":  int64(now.Sub(m.started) / time.Second),
		"activeSessions": len(active),
	}, nil
}

// MetricsSnapshot returns every aggregate counter as a flat map.
func (m *Monitor) MetricsSnapshot(ctx context.Context) (map[string]interface{}, error) {
	sm, err := m.sessions.Metrics(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{
		"sessions.active":     sm.ActiveSessions,
		"sessions.created":    sm.SessionsCreated,
		"sessions.expired":    sm.SessionsExpired,
		"sessions.terminated": sm.SessionsTerminated,
		"events.added":        sm.EventsAdded,
		"events.replayed":     sm.EventsReplayed,
		"events.per_session":  sm.EventsPerSession,
	}
	cache := m.bb.Cache()
	counters := map[string]string{
		"a2a.agents.registered":  a2a.CounterAgentsRegistered,
		"a2a.sessions.created":   a2a.CounterSessionsCreated,
		"a2a.messages.sent":      a2a.CounterMessagesSent,
		"a2a.messages.delivered": a2a.CounterMessagesDelivered,
		"a2a.messages.dropped":   a2a.CounterMessagesDropped,
		"tools.registered":       tools.CounterToolsRegistered,
		"tools.invoked":          tools.CounterToolsInvoked,
		"tools.errors":           tools.CounterToolErrors,
		"origin.blocked":         origin.BlockedCounterKey,
	}
	for name, key := range counters {
		v, err := backbone.GetCounter(ctx, cache, key)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// SessionSnapshot is one row of the /health/sessions projection.
// Session ids are masked the same way the logs mask them.
type SessionSnapshot struct {
	ID           string    `json:"id"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Events       int64     `json:"events"`
}

// SessionsSnapshot lists the active sessions for health reporting.
func (m *Monitor) SessionsSnapshot(ctx context.Context) ([]SessionSnapshot, error) {
	active, err := m.sessions.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SessionSnapshot, 0, len(active))
	for _, s := range active {
		out = append(out, SessionSnapshot{
			ID:           session.MaskID(s.ID),
			State:        string(s.State),
			CreatedAt:    s.CreatedAt,
			LastActivity: s.LastActivity,
			ExpiresAt:    s.ExpiresAt,
			Events:       s.EventCounter,
		})
	}
	return out, nil
}
