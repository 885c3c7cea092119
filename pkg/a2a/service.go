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

package a2a

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/oneagent-io/oneagent/pkg/backbone"
	"github.com/oneagent-io/oneagent/pkg/fault"
)

// DefaultSessionQueueSize bounds each session's inbound send queue.
const DefaultSessionQueueSize = 256

// DefaultHistoryLimit bounds each session's stored message history.
const DefaultHistoryLimit = 1000

// Service is the communication surface: conversation sessions, FIFO
// message delivery within a session, and event fan-out. Each session
// owns a serializer goroutine, so sends to one session append in call
// order while different sessions proceed in parallel.
type Service struct {
	bb       *backbone.Backbone
	registry *Registry
	bus      *EventBus
	logger   *zap.Logger

	queueSize    int
	historyLimit int

	mu          sync.Mutex
	serializers map[string]chan *sendOp
	closed      bool
	wg          sync.WaitGroup
}

// ServiceOptions configures NewService.
type ServiceOptions struct {
	// QueueSize bounds each session's inbound queue. Defaults to
	// DefaultSessionQueueSize.
	QueueSize int
	// HistoryLimit bounds stored history per session. Defaults to
	// DefaultHistoryLimit.
	HistoryLimit int
	Logger       *zap.Logger
}

// NewService creates the communication service on the shared backbone.
func NewService(bb *backbone.Backbone, registry *Registry, bus *EventBus, opts ServiceOptions) *Service {
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultSessionQueueSize
	}
	historyLimit := opts.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		bb:           bb,
		registry:     registry,
		bus:          bus,
		logger:       logger,
		queueSize:    queueSize,
		historyLimit: historyLimit,
		serializers:  make(map[string]chan *sendOp),
	}
}

// SessionConfig describes a conversation session to create.
type SessionConfig struct {
	Name         string
	Participants []string
	Mode         SessionMode
	Topic        string
	NLACS        bool
}

// CreateSession validates the participants and stores a new session.
func (s *Service) CreateSession(ctx context.Context, cfg SessionConfig) (string, error) {
	if len(cfg.Participants) == 0 {
		return "", fault.New(fault.KindInvalidParams, "session needs at least one participant")
	}
	for _, id := range cfg.Participants {
		if _, err := s.registry.Get(ctx, id); err != nil {
			return "", err
		}
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeCollaborative
	}

	conv := &Conversation{
		ID:           s.bb.NewID("conv"),
		Name:         cfg.Name,
		Participants: append([]string(nil), cfg.Participants...),
		Mode:         mode,
		Topic:        cfg.Topic,
		Status:       SessionActive,
		CreatedAt:    s.bb.Now(),
		NLACS:        cfg.NLACS,
	}
	if err := s.saveConversation(ctx, conv); err != nil {
		return "", err
	}
	if _, err := backbone.IncrCounter(ctx, s.bb.Cache(), CounterSessionsCreated); err != nil {
		s.logger.Debug("session counter update failed", zap.Error(err))
	}
	s.emit(Event{Type: EventSessionCreated, SessionID: conv.ID, Timestamp: conv.CreatedAt})
	s.logger.Info("conversation session created",
		zap.String("session_id", conv.ID),
		zap.Int("participants", len(conv.Participants)),
		zap.String("mode", string(mode)))
	return conv.ID, nil
}

// GetSessionInfo returns the session record.
func (s *Service) GetSessionInfo(ctx context.Context, sessionID string) (*Conversation, error) {
	return s.loadConversation(ctx, sessionID)
}

// Join adds an agent to a session. Returns false when the agent was
// already a participant; joining twice is not an error.
func (s *Service) Join(ctx context.Context, sessionID, agentID string) (bool, error) {
	if _, err := s.registry.Get(ctx, agentID); err != nil {
		return false, err
	}
	changed, err := s.updateConversation(ctx, sessionID, func(conv *Conversation) bool {
		if conv.HasParticipant(agentID) {
			return false
		}
		conv.Participants = append(conv.Participants, agentID)
		return true
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.emit(Event{Type: EventSessionJoined, SessionID: sessionID, AgentID: agentID, Timestamp: s.bb.Now()})
	}
	return changed, nil
}

// Leave removes an agent from a session. Returns false when the agent
// was not a participant.
func (s *Service) Leave(ctx context.Context, sessionID, agentID string) (bool, error) {
	changed, err := s.updateConversation(ctx, sessionID, func(conv *Conversation) bool {
		for i, p := range conv.Participants {
			if p == agentID {
				conv.Participants = append(conv.Participants[:i], conv.Participants[i+1:]...)
				return true
			}
		}
		return false
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.emit(Event{Type: EventSessionLeft, SessionID: sessionID, AgentID: agentID, Timestamp: s.bb.Now()})
	}
	return changed, nil
}

type sendOp struct {
	msg       *Message
	conv      *Conversation
	broadcast bool
	reply     chan sendResult
}

type sendResult struct {
	messageID string
	err       error
}

// SendMessage validates and enqueues one message on its session's
// serializer. Returns the server-assigned message id once the message is
// appended to history, or queue_full when the session's inbound queue is
// at capacity (retryable; the service never retries itself).
func (s *Service) SendMessage(ctx context.Context, msg *Message) (string, error) {
	return s.send(ctx, msg, false)
}

// BroadcastMessage sends to every other participant. Any ToAgent on the
// message is ignored.
func (s *Service) BroadcastMessage(ctx context.Context, msg *Message) (string, error) {
	msg.ToAgent = ""
	return s.send(ctx, msg, true)
}

func (s *Service) send(ctx context.Context, msg *Message, broadcast bool) (string, error) {
	if msg == nil {
		return "", fault.New(fault.KindInvalidParams, "message is required")
	}
	if msg.Content == "" {
		return "", fault.New(fault.KindInvalidParams, "message content cannot be empty")
	}
	if len([]rune(msg.Content)) > MaxMessageChars {
		return "", fault.Newf(fault.KindInvalidParams, "message content exceeds %d characters", MaxMessageChars)
	}
	if msg.Type == "" {
		msg.Type = MessageUpdate
	}

	conv, err := s.loadConversation(ctx, msg.SessionID)
	if err != nil {
		return "", err
	}
	if !conv.HasParticipant(msg.FromAgent) {
		return "", fault.Newf(fault.KindInvalidParams, "agent %s is not a participant of session %s", msg.FromAgent, msg.SessionID)
	}
	if msg.ToAgent != "" && !conv.HasParticipant(msg.ToAgent) {
		return "", fault.Newf(fault.KindInvalidParams, "recipient %s is not a participant of session %s", msg.ToAgent, msg.SessionID)
	}

	queue, err := s.serializer(msg.SessionID)
	if err != nil {
		return "", err
	}
	op := &sendOp{msg: msg, conv: conv, broadcast: broadcast, reply: make(chan sendResult, 1)}
	select {
	case queue <- op:
	default:
		return "", fault.Newf(fault.KindQueueFull, "session %s inbound queue is full", msg.SessionID).SetRetryable(true)
	}

	select {
	case res := <-op.reply:
		return res.messageID, res.err
	case <-ctx.Done():
		// The message may still deliver; the caller just stopped waiting.
		return "", ctx.Err()
	}
}

// serializer returns (starting if needed) the session's send queue.
func (s *Service) serializer(sessionID string) (chan *sendOp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fault.New(fault.KindInternal, "communication service is closed")
	}
	queue, ok := s.serializers[sessionID]
	if !ok {
		queue = make(chan *sendOp, s.queueSize)
		s.serializers[sessionID] = queue
		s.wg.Add(1)
		go s.run(sessionID, queue)
	}
	return queue, nil
}

// run is the per-session serializer: it assigns ids and timestamps,
// appends to history, and emits delivery events strictly in dequeue
// order. Detached from request contexts so an impatient caller cannot
// tear a half-appended message.
func (s *Service) run(sessionID string, queue chan *sendOp) {
	defer s.wg.Done()
	ctx := context.Background()
	cache := s.bb.Cache()

	for op := range queue {
		msg := op.msg
		msg.ID = s.bb.NewID("msg")
		msg.Timestamp = s.bb.Now()

		raw, err := json.Marshal(msg)
		if err == nil {
			err = cache.ListAppend(ctx, convKeyPrefix+sessionID+convHistorySuffix, raw, s.historyLimit)
		}
		if err != nil {
			op.reply <- sendResult{err: fault.Wrap(fault.KindInternal, err, "append message history")}
			continue
		}
		if _, err := backbone.IncrCounter(ctx, cache, CounterMessagesSent); err != nil {
			s.logger.Debug("message counter update failed", zap.Error(err))
		}

		delivered, dropped := 0, 0
		d, r := s.publish(Event{Type: EventMessageSent, SessionID: sessionID, AgentID: msg.FromAgent, Message: msg, Timestamp: msg.Timestamp})
		delivered, dropped = delivered+d, dropped+r

		recipients := []string{}
		if msg.ToAgent != "" {
			recipients = append(recipients, msg.ToAgent)
		} else {
			for _, p := range op.conv.Participants {
				if p != msg.FromAgent {
					recipients = append(recipients, p)
				}
			}
		}
		for _, recipient := range recipients {
			d, r := s.publish(Event{
				Type:      EventMessageReceived,
				SessionID: sessionID,
				AgentID:   recipient,
				Message:   msg,
				Timestamp: msg.Timestamp,
			})
			delivered, dropped = delivered+d, dropped+r
		}
		if op.broadcast {
			d, r := s.publish(Event{Type: EventBroadcast, SessionID: sessionID, AgentID: msg.FromAgent, Message: msg, Timestamp: msg.Timestamp})
			delivered, dropped = delivered+d, dropped+r
		}

		if delivered > 0 {
			if _, err := backbone.AddCounter(ctx, cache, CounterMessagesDelivered, int64(delivered)); err != nil {
				s.logger.Debug("message counter update failed", zap.Error(err))
			}
		}
		if dropped > 0 {
			if _, err := backbone.AddCounter(ctx, cache, CounterMessagesDropped, int64(dropped)); err != nil {
				s.logger.Debug("message counter update failed", zap.Error(err))
			}
		}

		op.reply <- sendResult{messageID: msg.ID}
	}
}

// GetHistory returns the most recent limit messages for a session, in
// send order. limit <= 0 returns the whole stored history.
func (s *Service) GetHistory(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	if _, err := s.loadConversation(ctx, sessionID); err != nil {
		return nil, err
	}
	start := 0
	if limit > 0 {
		start = -limit
	}
	raws, err := s.bb.Cache().ListRange(ctx, convKeyPrefix+sessionID+convHistorySuffix, start, -1)
	if err != nil {
		return nil, err
	}
	out := make([]*Message, 0, len(raws))
	for _, raw := range raws {
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fault.Wrap(fault.KindInternal, err, "decode message record")
		}
		out = append(out, &msg)
	}
	return out, nil
}

// On subscribes a handler to one event type.
func (s *Service) On(event EventType, handler Handler) (string, error) {
	return s.bus.Subscribe(event, handler)
}

// Off removes a subscription made with On.
func (s *Service) Off(subscriptionID string) error {
	return s.bus.Unsubscribe(subscriptionID)
}

// Close stops every session serializer after draining queued sends.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, queue := range s.serializers {
		close(queue)
		delete(s.serializers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *Service) publish(event Event) (int, int) {
	if s.bus == nil {
		return 0, 0
	}
	return s.bus.Publish(event)
}

func (s *Service) emit(event Event) {
	if s.bus != nil {
		s.bus.Publish(event)
	}
}

func (s *Service) loadConversation(ctx context.Context, id string) (*Conversation, error) {
	raw, ok, err := s.bb.Cache().Get(ctx, convKeyPrefix+id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fault.Newf(fault.KindNotFound, "session not found: %s", id)
	}
	var conv Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "decode session record")
	}
	return &conv, nil
}

func (s *Service) saveConversation(ctx context.Context, conv *Conversation) error {
	raw, err := json.Marshal(conv)
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "encode session record")
	}
	return s.bb.Cache().Set(ctx, convKeyPrefix+conv.ID, raw, 0)
}

// updateConversation applies mutate under optimistic concurrency.
// mutate returns false to signal no change (the update is skipped).
func (s *Service) updateConversation(ctx context.Context, id string, mutate func(*Conversation) bool) (bool, error) {
	cache := s.bb.Cache()
	for attempt := 0; attempt < 16; attempt++ {
		raw, ok, err := cache.Get(ctx, convKeyPrefix+id)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, fault.Newf(fault.KindNotFound, "session not found: %s", id)
		}
		var conv Conversation
		if err := json.Unmarshal(raw, &conv); err != nil {
			return false, fault.Wrap(fault.KindInternal, err, "decode session record")
		}
		if !mutate(&conv) {
			return false, nil
		}
		next, err := json.Marshal(&conv)
		if err != nil {
			return false, fault.Wrap(fault.KindInternal, err, "encode session record")
		}
		swapped, err := cache.UpdateIf(ctx, convKeyPrefix+id, raw, next)
		if err != nil {
			return false, err
		}
		if swapped {
			return true, nil
		}
	}
	return false, fault.Newf(fault.KindSequenceContention, "session %s update contended", id).SetRetryable(true)
}
