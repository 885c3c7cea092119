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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/oneagent-io/oneagent/pkg/backbone"
	"github.com/oneagent-io/oneagent/pkg/fault"
)

func newTestService(t *testing.T, opts ServiceOptions) (*Service, *Registry, *EventBus) {
	t.Helper()
	clock := backbone.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	bb, err := backbone.New(backbone.Options{Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, bb.Close()) })

	logger := zaptest.NewLogger(t)
	if opts.Logger == nil {
		opts.Logger = logger
	}
	bus := NewEventBus(100, logger)
	t.Cleanup(func() { require.NoError(t, bus.Close()) })

	reg := NewRegistry(bb, bus, RegistryOptions{Logger: logger})
	svc := NewService(bb, reg, bus, opts)
	t.Cleanup(func() { require.NoError(t, svc.Close()) })
	return svc, reg, bus
}

func registerAgents(t *testing.T, reg *Registry, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := reg.Register(context.Background(), &Agent{ID: id, Name: id})
		require.NoError(t, err)
	}
}

func TestCreateSessionValidatesParticipants(t *testing.T) {
	svc, reg, _ := newTestService(t, ServiceOptions{})
	ctx := context.Background()
	registerAgents(t, reg, "a1", "a2")

	id, err := svc.CreateSession(ctx, SessionConfig{
		Name:         "triage",
		Participants: []string{"a1", "a2"},
		Topic:        "rollout",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	info, err := svc.GetSessionInfo(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, SessionActive, info.Status)
	assert.Equal(t, ModeCollaborative, info.Mode)
	assert.Equal(t, []string{"a1", "a2"}, info.Participants)

	// Zero participants is rejected.
	_, err = svc.CreateSession(ctx, SessionConfig{})
	assert.Equal(t, fault.KindInvalidParams, fault.KindOf(err))

	// Unknown participant is rejected.
	_, err = svc.CreateSession(ctx, SessionConfig{Participants: []string{"ghost"}})
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestJoinLeaveIdempotent(t *testing.T) {
	svc, reg, _ := newTestService(t, ServiceOptions{})
	ctx := context.Background()
	registerAgents(t, reg, "a1", "a2", "a3")

	id, err := svc.CreateSession(ctx, SessionConfig{Participants: []string{"a1"}})
	require.NoError(t, err)

	changed, err := svc.Join(ctx, id, "a2")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = svc.Join(ctx, id, "a2")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = svc.Leave(ctx, id, "a2")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = svc.Leave(ctx, id, "a2")
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = svc.Join(ctx, id, "ghost")
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestSendMessageParticipantChecks(t *testing.T) {
	svc, reg, _ := newTestService(t, ServiceOptions{})
	ctx := context.Background()
	registerAgents(t, reg, "a1", "a2", "outsider")

	id, err := svc.CreateSession(ctx, SessionConfig{Participants: []string{"a1", "a2"}})
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, &Message{SessionID: id, FromAgent: "outsider", Content: "hi"})
	assert.Equal(t, fault.KindInvalidParams, fault.KindOf(err))

	_, err = svc.SendMessage(ctx, &Message{SessionID: id, FromAgent: "a1", ToAgent: "outsider", Content: "hi"})
	assert.Equal(t, fault.KindInvalidParams, fault.KindOf(err))

	msgID, err := svc.SendMessage(ctx, &Message{SessionID: id, FromAgent: "a1", ToAgent: "a2", Content: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, msgID)
}

func TestSendMessageContentBounds(t *testing.T) {
	svc, reg, _ := newTestService(t, ServiceOptions{})
	ctx := context.Background()
	registerAgents(t, reg, "a1", "a2")

	id, err := svc.CreateSession(ctx, SessionConfig{Participants: []string{"a1", "a2"}})
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, &Message{SessionID: id, FromAgent: "a1", Content: ""})
	assert.Equal(t, fault.KindInvalidParams, fault.KindOf(err))

	_, err = svc.SendMessage(ctx, &Message{
		SessionID: id, FromAgent: "a1",
		Content: strings.Repeat("x", MaxMessageChars),
	})
	require.NoError(t, err, "content at the bound is accepted")

	_, err = svc.SendMessage(ctx, &Message{
		SessionID: id, FromAgent: "a1",
		Content: strings.Repeat("x", MaxMessageChars+1),
	})
	assert.Equal(t, fault.KindInvalidParams, fault.KindOf(err))
}

func TestSendMessageFIFOWithinSession(t *testing.T) {
	svc, reg, bus := newTestService(t, ServiceOptions{})
	ctx := context.Background()
	registerAgents(t, reg, "a1", "a2")

	id, err := svc.CreateSession(ctx, SessionConfig{Participants: []string{"a1", "a2"}})
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []string
	_, err = bus.Subscribe(EventMessageSent, func(e Event) {
		mu.Lock()
		seen = append(seen, e.Message.Content)
		mu.Unlock()
	})
	require.NoError(t, err)

	want := []string{"one", "two", "three", "four", "five"}
	for _, content := range want {
		_, err := svc.SendMessage(ctx, &Message{SessionID: id, FromAgent: "a1", Content: content})
		require.NoError(t, err)
	}

	history, err := svc.GetHistory(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, history, len(want))
	for i, msg := range history {
		assert.Equal(t, want[i], msg.Content, "history preserves send order")
		assert.NotEmpty(t, msg.ID)
		assert.False(t, msg.Timestamp.IsZero())
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == len(want)
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, want, seen, "message_sent events follow send order")
	mu.Unlock()
}

func TestBroadcastReachesAllOtherParticipants(t *testing.T) {
	svc, reg, bus := newTestService(t, ServiceOptions{})
	ctx := context.Background()
	registerAgents(t, reg, "a1", "a2", "a3")

	id, err := svc.CreateSession(ctx, SessionConfig{Participants: []string{"a1", "a2", "a3"}})
	require.NoError(t, err)

	var mu sync.Mutex
	received := map[string]int{}
	_, err = bus.Subscribe(EventMessageReceived, func(e Event) {
		mu.Lock()
		received[e.AgentID]++
		mu.Unlock()
	})
	require.NoError(t, err)

	broadcasts := 0
	bMu := sync.Mutex{}
	_, err = bus.Subscribe(EventBroadcast, func(Event) {
		bMu.Lock()
		broadcasts++
		bMu.Unlock()
	})
	require.NoError(t, err)

	_, err = svc.BroadcastMessage(ctx, &Message{SessionID: id, FromAgent: "a1", Content: "all hands"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, received["a2"])
	assert.Equal(t, 1, received["a3"])
	assert.Zero(t, received["a1"], "sender does not receive its own broadcast")
	mu.Unlock()

	require.Eventually(t, func() bool {
		bMu.Lock()
		defer bMu.Unlock()
		return broadcasts == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGetHistoryLimit(t *testing.T) {
	svc, reg, _ := newTestService(t, ServiceOptions{})
	ctx := context.Background()
	registerAgents(t, reg, "a1", "a2")

	id, err := svc.CreateSession(ctx, SessionConfig{Participants: []string{"a1", "a2"}})
	require.NoError(t, err)

	for _, content := range []string{"one", "two", "three"} {
		_, err := svc.SendMessage(ctx, &Message{SessionID: id, FromAgent: "a1", Content: content})
		require.NoError(t, err)
	}

	tail, err := svc.GetHistory(ctx, id, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "two", tail[0].Content)
	assert.Equal(t, "three", tail[1].Content)

	_, err = svc.GetHistory(ctx, "no-such-session", 0)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestSessionsProceedInParallel(t *testing.T) {
	svc, reg, _ := newTestService(t, ServiceOptions{})
	ctx := context.Background()
	registerAgents(t, reg, "a1", "a2")

	s1, err := svc.CreateSession(ctx, SessionConfig{Participants: []string{"a1", "a2"}})
	require.NoError(t, err)
	s2, err := svc.CreateSession(ctx, SessionConfig{Participants: []string{"a1", "a2"}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for _, sid := range []string{s1, s2} {
		wg.Add(1)
		go func(sid string) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if _, err := svc.SendMessage(ctx, &Message{SessionID: sid, FromAgent: "a1", Content: "m"}); err != nil {
					errs <- err
					return
				}
			}
		}(sid)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, sid := range []string{s1, s2} {
		history, err := svc.GetHistory(ctx, sid, 0)
		require.NoError(t, err)
		assert.Len(t, history, 20)
	}
}
