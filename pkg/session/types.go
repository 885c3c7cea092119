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

// Package session owns MCP session lifecycle and the per-session event
// log that makes SSE streams resumable. Sessions bind one client to the
// server; events are the persisted JSON-RPC frames of its streams.
package session

import (
	"encoding/json"
	"time"
)

// State is the lifecycle state of a session.
type State string

const (
	// StateActive means the session accepts requests.
	StateActive State = "ACTIVE"
	// StateExpired means the idle timeout elapsed.
	StateExpired State = "EXPIRED"
	// StateTerminated means the client or an operator ended the session.
	StateTerminated State = "TERMINATED"
)

// Session is one client-to-server binding, identified by the UUID echoed
// in the Mcp-Session-Id header.
type Session struct {
	ID              string                 `json:"id"`
	ClientID        string                 `json:"clientId,omitempty"`
	Origin          string                 `json:"origin,omitempty"`
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	CreatedAt       time.Time              `json:"createdAt"`
	LastActivity    time.Time              `json:"lastActivity"`
	ExpiresAt       time.Time              `json:"expiresAt"`
	State           State                  `json:"state"`
	EventCounter    int64                  `json:"eventCounter"`
	Metadata        map[string]string      `json:"metadata,omitempty"`
}

// ExpiredAt reports whether the session is past its idle deadline at now.
func (s *Session) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// EventType tags the JSON-RPC frame an event carries.
type EventType string

const (
	EventRequest      EventType = "request"
	EventResponse     EventType = "response"
	EventNotification EventType = "notification"
	EventMessage      EventType = "message"
)

// Event is one persisted SSE frame. Sequence numbers are strictly
// increasing within a (session, stream) pair with no gaps.
type Event struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	StreamID  string          `json:"streamId"`
	Sequence  int64           `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// Patch is a partial session update. Nil fields are left unchanged;
// Metadata keys are merged into the existing mapping.
type Patch struct {
	ClientID         *string
	ProtocolVersion  *string
	Capabilities     map[string]interface{}
	LastActivity     *time.Time
	ExpiresAt        *time.Time
	State            *State
	BumpEventCounter bool
	Metadata         map[string]string
}

// Metrics is the aggregate view the manager exposes.
type Metrics struct {
	ActiveSessions     int     `json:"activeSessions"`
	SessionsCreated    int64   `json:"sessionsCreated"`
	SessionsExpired    int64   `json:"sessionsExpired"`
	SessionsTerminated int64   `json:"sessionsTerminated"`
	EventsAdded        int64   `json:"eventsAdded"`
	EventsReplayed     int64   `json:"eventsReplayed"`
	EventsPerSession   float64 `json:"eventsPerSession"`
}

// MaskID returns the loggable form of a session id: its first 8
// characters. Full session ids never appear in logs or error bodies.
func MaskID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
