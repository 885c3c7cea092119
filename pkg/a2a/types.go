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

// Package a2a is the agent-to-agent communication service: an agent
// registry with passive health tracking, conversation sessions with
// per-session FIFO delivery, and an event bus with per-subscriber
// drop-oldest queues. Agent and conversation records live in the
// backbone cache; only this package mutates them.
package a2a

import "time"

// AgentStatus is the declared availability of an agent.
type AgentStatus string

const (
	StatusOnline  AgentStatus = "online"
	StatusOffline AgentStatus = "offline"
	StatusBusy    AgentStatus = "busy"
)

// Health is the snapshot an agent reports on heartbeat.
type Health struct {
	Status         string    `json:"status"`
	ResponseTimeMS float64   `json:"responseTimeMs"`
	ErrorRate      float64   `json:"errorRate"`
	QueueSize      int       `json:"queueSize"`
	UptimeSeconds  float64   `json:"uptimeSeconds"`
	LastActivity   time.Time `json:"lastActivity"`
}

// Agent is one known participant in the communication service.
type Agent struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Capabilities  []string          `json:"capabilities,omitempty"`
	Status        AgentStatus       `json:"status"`
	Health        Health            `json:"health"`
	RegisteredAt  time.Time         `json:"registeredAt"`
	LastHeartbeat time.Time         `json:"lastHeartbeat"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// SessionMode shapes how participants are expected to interact.
type SessionMode string

const (
	ModeCollaborative SessionMode = "collaborative"
	ModeCompetitive   SessionMode = "competitive"
	ModeHierarchical  SessionMode = "hierarchical"
)

// SessionStatus is the lifecycle state of a conversation session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionInactive  SessionStatus = "inactive"
	SessionConcluded SessionStatus = "concluded"
)

// Conversation is a bounded multi-agent exchange. Only listed
// participants may send messages into it.
type Conversation struct {
	ID           string        `json:"id"`
	Name         string        `json:"name,omitempty"`
	Participants []string      `json:"participants"`
	Mode         SessionMode   `json:"mode"`
	Topic        string        `json:"topic,omitempty"`
	Status       SessionStatus `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
	// NLACS marks the session as carrying natural-language coordination
	// threads on top of plain messages.
	NLACS bool `json:"nlacs,omitempty"`
}

// HasParticipant reports whether agentID is listed on the session.
func (c *Conversation) HasParticipant(agentID string) bool {
	for _, p := range c.Participants {
		if p == agentID {
			return true
		}
	}
	return false
}

// MessageType classifies one exchange inside a session.
type MessageType string

const (
	MessageUpdate   MessageType = "update"
	MessageQuestion MessageType = "question"
	MessageDecision MessageType = "decision"
	MessageAction   MessageType = "action"
	MessageInsight  MessageType = "insight"
)

// MaxMessageChars bounds message content length.
const MaxMessageChars = 10000

// Message is one exchange inside a conversation session. ID and
// Timestamp are server-assigned at enqueue; an empty ToAgent means
// broadcast to every other participant.
type Message struct {
	ID        string            `json:"id"`
	SessionID string            `json:"sessionId"`
	FromAgent string            `json:"fromAgent"`
	ToAgent   string            `json:"toAgent,omitempty"`
	Content   string            `json:"content"`
	Type      MessageType       `json:"messageType"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EventType names one bus event.
type EventType string

const (
	EventAgentRegistered    EventType = "agent_registered"
	EventAgentDeregistered  EventType = "agent_deregistered"
	EventAgentStatusChanged EventType = "agent_status_changed"
	EventSessionCreated     EventType = "session_created"
	EventSessionJoined      EventType = "session_joined"
	EventSessionLeft        EventType = "session_left"
	EventMessageSent        EventType = "message_sent"
	EventMessageReceived    EventType = "message_received"
	EventBroadcast          EventType = "broadcast"
	EventHealthChanged      EventType = "health_changed"
	EventNLACS              EventType = "nlacs_event"
)

// Event is one bus notification. Message is set for message events;
// Payload carries event-specific extras.
type Event struct {
	Type      EventType              `json:"type"`
	AgentID   string                 `json:"agentId,omitempty"`
	SessionID string                 `json:"sessionId,omitempty"`
	Message   *Message               `json:"message,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Handler consumes bus events. Handlers run on their subscriber's
// dispatch goroutine: slow handlers cost their own subscription events,
// never anyone else's.
type Handler func(Event)

// Cache keys.
const (
	agentKeyPrefix    = "agent:"
	agentIDsKey       = "agent:ids"
	agentCapKeyPrefix = "agent:capability:"
	convKeyPrefix     = "conv:"
	convHistorySuffix = ":history"
)

// Counter keys surfaced by the monitor. All are monotonic.
const (
	CounterAgentsRegistered  = "a2a:agents:registered"
	CounterSessionsCreated   = "a2a:sessions:created"
	CounterMessagesSent      = "a2a:messages:sent"
	CounterMessagesDelivered = "a2a:messages:delivered"
	CounterMessagesDropped   = "a2a:messages:dropped"
)
