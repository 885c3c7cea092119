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

package nlacs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/oneagent-io/oneagent/pkg/a2a"
	"github.com/oneagent-io/oneagent/pkg/backbone"
	"github.com/oneagent-io/oneagent/pkg/fault"
)

type nlacsFixture struct {
	svc     *Service
	comms   *a2a.Service
	bus     *a2a.EventBus
	session string
}

func newFixture(t *testing.T, opts ServiceOptions) *nlacsFixture {
	t.Helper()
	clock := backbone.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	bb, err := backbone.New(backbone.Options{Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, bb.Close()) })

	logger := zaptest.NewLogger(t)
	bus := a2a.NewEventBus(100, logger)
	t.Cleanup(func() { require.NoError(t, bus.Close()) })

	reg := a2a.NewRegistry(bb, bus, a2a.RegistryOptions{Logger: logger})
	comms := a2a.NewService(bb, reg, bus, a2a.ServiceOptions{Logger: logger})
	t.Cleanup(func() { require.NoError(t, comms.Close()) })

	ctx := context.Background()
	for _, id := range []string{"a1", "a2", "a3"} {
		_, err := reg.Register(ctx, &a2a.Agent{ID: id, Name: id})
		require.NoError(t, err)
	}
	sessionID, err := comms.CreateSession(ctx, a2a.SessionConfig{
		Participants: []string{"a1", "a2", "a3"},
		Topic:        "deployment strategy",
		NLACS:        true,
	})
	require.NoError(t, err)

	if opts.Logger == nil {
		opts.Logger = logger
	}
	svc := NewService(bb, comms, bus, opts)
	return &nlacsFixture{svc: svc, comms: comms, bus: bus, session: sessionID}
}

func (f *nlacsFixture) thread(t *testing.T, participants ...string) string {
	t.Helper()
	id, err := f.svc.CreateThread(context.Background(), ThreadConfig{
		SessionID:    f.session,
		Participants: participants,
		Topic:        "deployment strategy",
	})
	require.NoError(t, err)
	return id
}

func (f *nlacsFixture) say(t *testing.T, threadID, from, content string) string {
	t.Helper()
	id, err := f.svc.SendThreadMessage(context.Background(), threadID,
		&a2a.Message{FromAgent: from, Content: content}, MessageContribution)
	require.NoError(t, err)
	return id
}

type fixedExtractor struct {
	insights []*EmergentInsight
	err      error
}

func (f *fixedExtractor) Extract(context.Context, *ConversationThread, []*a2a.Message) ([]*EmergentInsight, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*EmergentInsight, len(f.insights))
	for i, ins := range f.insights {
		cp := *ins
		out[i] = &cp
	}
	return out, nil
}

func TestCreateThreadValidation(t *testing.T) {
	f := newFixture(t, ServiceOptions{})
	ctx := context.Background()

	id := f.thread(t)
	thread, err := f.svc.GetThread(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2", "a3"}, thread.Participants, "defaults to session participants")

	_, err = f.svc.CreateThread(ctx, ThreadConfig{SessionID: f.session, Participants: []string{"ghost"}})
	assert.Equal(t, fault.KindInvalidParams, fault.KindOf(err))

	_, err = f.svc.CreateThread(ctx, ThreadConfig{SessionID: "missing"})
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))

	// Sessions without the flag cannot host threads.
	plain, err := f.comms.CreateSession(ctx, a2a.SessionConfig{Participants: []string{"a1"}})
	require.NoError(t, err)
	_, err = f.svc.CreateThread(ctx, ThreadConfig{SessionID: plain})
	assert.Equal(t, fault.KindInvalidParams, fault.KindOf(err))
}

func TestSendThreadMessageTagsAndRecords(t *testing.T) {
	f := newFixture(t, ServiceOptions{})
	ctx := context.Background()
	threadID := f.thread(t, "a1", "a2")

	msgID := f.say(t, threadID, "a1", "we should ship friday")

	thread, err := f.svc.GetThread(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, []string{msgID}, thread.MessageIDs)

	history, err := f.comms.GetHistory(ctx, f.session, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, threadID, history[0].Metadata[MetadataThreadID])
	assert.Equal(t, string(MessageContribution), history[0].Metadata[MetadataSubtype])

	// a3 is a session participant but not in this thread.
	_, err = f.svc.SendThreadMessage(ctx, threadID, &a2a.Message{FromAgent: "a3", Content: "hi"}, "")
	assert.Equal(t, fault.KindInvalidParams, fault.KindOf(err))
	_, err = f.svc.SendThreadMessage(ctx, threadID, &a2a.Message{FromAgent: "a1", ToAgent: "a3", Content: "hi"}, "")
	assert.Equal(t, fault.KindInvalidParams, fault.KindOf(err))
}

func TestGenerateInsightsFromContradiction(t *testing.T) {
	f := newFixture(t, ServiceOptions{})
	ctx := context.Background()
	threadID := f.thread(t)

	f.say(t, threadID, "a1", "the canary rollout finished cleanly yesterday")
	f.say(t, threadID, "a2", "the canary rollout did not finish cleanly, two pods crashed")
	f.say(t, threadID, "a1", "latency stayed flat through the canary rollout window")
	f.say(t, threadID, "a3", "error budget consumption is within limits")
	f.say(t, threadID, "a2", "we should replay the canary rollout with more telemetry")

	insights, err := f.svc.GenerateInsights(ctx, threadID)
	require.NoError(t, err)
	require.NotEmpty(t, insights)

	thread, err := f.svc.GetThread(ctx, threadID)
	require.NoError(t, err)
	foundClassified := false
	for _, ins := range insights {
		assert.GreaterOrEqual(t, ins.Confidence, 0.0)
		assert.LessOrEqual(t, ins.Confidence, 1.0)
		for _, c := range ins.Contributors {
			assert.True(t, thread.HasParticipant(c), "contributor %s outside thread", c)
		}
		if ins.Type == InsightPattern || ins.Type == InsightSynthesis {
			foundClassified = true
		}
	}
	assert.True(t, foundClassified)

	// A second run yields the same set of records, not duplicates.
	again, err := f.svc.GenerateInsights(ctx, threadID)
	require.NoError(t, err)
	ids := func(list []*EmergentInsight) map[string]bool {
		out := map[string]bool{}
		for _, ins := range list {
			out[ins.ID] = true
		}
		return out
	}
	assert.Equal(t, ids(insights), ids(again))
}

func TestGenerateInsightsRejectsBadConfidence(t *testing.T) {
	f := newFixture(t, ServiceOptions{
		Extractor: &fixedExtractor{insights: []*EmergentInsight{{
			Type: InsightRisk, Content: "overflow", Confidence: 1.5, Contributors: []string{"a1"},
		}}},
	})
	threadID := f.thread(t)
	f.say(t, threadID, "a1", "hello there")

	_, err := f.svc.GenerateInsights(context.Background(), threadID)
	assert.Equal(t, fault.KindInvalidConfidence, fault.KindOf(err))
}

func TestGenerateInsightsFallsBackWhenLLMUnavailable(t *testing.T) {
	f := newFixture(t, ServiceOptions{
		Extractor: &fixedExtractor{err: fault.New(fault.KindLLMUnavailable, "provider down")},
	})
	threadID := f.thread(t)
	f.say(t, threadID, "a1", "database migration plan looks solid")
	f.say(t, threadID, "a2", "database migration needs a rollback script")

	insights, err := f.svc.GenerateInsights(context.Background(), threadID)
	require.NoError(t, err)
	require.NotEmpty(t, insights, "heuristic fallback still produces insights")
}

func TestGenerateInsightsDropsOutsideContributors(t *testing.T) {
	f := newFixture(t, ServiceOptions{
		Extractor: &fixedExtractor{insights: []*EmergentInsight{
			{Type: InsightPattern, Content: "mixed", Confidence: 0.5, Contributors: []string{"a1", "intruder"}},
			{Type: InsightPattern, Content: "alien", Confidence: 0.5, Contributors: []string{"intruder"}},
		}},
	})
	threadID := f.thread(t)
	f.say(t, threadID, "a1", "hello")

	insights, err := f.svc.GenerateInsights(context.Background(), threadID)
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, []string{"a1"}, insights[0].Contributors)
}

func TestValidateAndRevise(t *testing.T) {
	f := newFixture(t, ServiceOptions{
		Extractor: &fixedExtractor{insights: []*EmergentInsight{{
			Type: InsightOptimization, Content: "batch the writes", Confidence: 0.6, Contributors: []string{"a2"},
		}}},
	})
	ctx := context.Background()
	threadID := f.thread(t)
	f.say(t, threadID, "a2", "hello")

	insights, err := f.svc.GenerateInsights(ctx, threadID)
	require.NoError(t, err)
	require.Len(t, insights, 1)
	original := insights[0]

	require.NoError(t, f.svc.ValidateInsight(ctx, original.ID))
	got, err := f.svc.GetInsight(ctx, original.ID)
	require.NoError(t, err)
	assert.True(t, got.Validated)

	_, err = f.svc.ReviseInsight(ctx, original.ID, "batch the writes hourly", 0.4)
	assert.Equal(t, fault.KindInvalidParams, fault.KindOf(err), "confidence may not decrease")
	_, err = f.svc.ReviseInsight(ctx, original.ID, "x", 1.7)
	assert.Equal(t, fault.KindInvalidConfidence, fault.KindOf(err))

	revID, err := f.svc.ReviseInsight(ctx, original.ID, "batch the writes hourly", 0.8)
	require.NoError(t, err)
	rev, err := f.svc.GetInsight(ctx, revID)
	require.NoError(t, err)
	assert.Equal(t, original.ID, rev.Supersedes)
	assert.False(t, rev.Validated)

	// The original record is untouched and excluded from the current set.
	got, err = f.svc.GetInsight(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, "batch the writes", got.Content)

	current, err := f.svc.ListInsights(ctx, threadID)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, revID, current[0].ID)
}

func TestSynthesizeCombinesThreads(t *testing.T) {
	f := newFixture(t, ServiceOptions{
		Extractor: &fixedExtractor{insights: []*EmergentInsight{{
			Type: InsightRisk, Content: "rollback path untested", Confidence: 0.7, Contributors: []string{"a1"},
		}}},
	})
	ctx := context.Background()
	t1 := f.thread(t)
	f.say(t, t1, "a1", "hello")
	_, err := f.svc.GenerateInsights(ctx, t1)
	require.NoError(t, err)

	result, err := f.svc.Synthesize(ctx, []string{t1}, "what blocks the release?")
	require.NoError(t, err)
	assert.Contains(t, result.Content, "rollback path untested")
	assert.InDelta(t, 0.7, result.Confidence, 1e-9)
	assert.NotEmpty(t, result.Sources)

	_, err = f.svc.Synthesize(ctx, nil, "anything?")
	assert.Equal(t, fault.KindInvalidParams, fault.KindOf(err))

	empty := f.thread(t)
	_, err = f.svc.Synthesize(ctx, []string{empty}, "anything?")
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestAnalyzeConsensus(t *testing.T) {
	f := newFixture(t, ServiceOptions{})
	ctx := context.Background()
	threadID := f.thread(t)

	f.say(t, threadID, "a1", "I agree we should ship the deployment friday")
	f.say(t, threadID, "a2", "I disagree, the deployment is not ready")
	// a3 stays silent.

	result, err := f.svc.AnalyzeConsensus(ctx, threadID, "deployment")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, result.Supporting)
	assert.Equal(t, []string{"a2"}, result.Objecting)
	assert.Equal(t, []string{"a3"}, result.Neutral)
	// 2 of 3 spoke, half of the decided agree.
	assert.InDelta(t, 0.5*(2.0/3.0)+0.5*0.5, result.QualityScore, 1e-9)
}

func TestBreakthroughPublishesEvent(t *testing.T) {
	f := newFixture(t, ServiceOptions{
		Extractor: &fixedExtractor{insights: []*EmergentInsight{{
			Type:         InsightBreakthrough,
			Content:      "zero-downtime cutover is possible via shadow traffic",
			Confidence:   0.95,
			Contributors: []string{"a1", "a2"},
		}}},
	})
	ctx := context.Background()

	var mu sync.Mutex
	var events []a2a.Event
	_, err := f.bus.Subscribe(a2a.EventNLACS, func(e a2a.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	require.NoError(t, err)

	threadID := f.thread(t)
	f.say(t, threadID, "a1", "hello")
	_, err = f.svc.GenerateInsights(ctx, threadID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "breakthrough", events[0].Payload["kind"])
	assert.Equal(t, threadID, events[0].Payload["threadId"])
}
