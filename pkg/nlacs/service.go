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
	"encoding/json"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/oneagent-io/oneagent/pkg/a2a"
	"github.com/oneagent-io/oneagent/pkg/backbone"
	"github.com/oneagent-io/oneagent/pkg/fault"
	"github.com/oneagent-io/oneagent/pkg/llm"
)

// Breakthrough detection defaults.
const (
	DefaultBreakthroughConfidence = 0.85
	DefaultBreakthroughNovelty    = 0.7
)

// Service coordinates threads, insight extraction, synthesis, and
// consensus analysis. All message traffic goes through the agent
// communication service; nlacs only stores its own thread and insight
// records.
type Service struct {
	bb        *backbone.Backbone
	comms     *a2a.Service
	bus       *a2a.EventBus
	extractor Extractor
	fallback  Extractor
	llmClient llm.Client
	logger    *zap.Logger

	breakConfidence float64
	breakNovelty    float64
}

// ServiceOptions configures NewService.
type ServiceOptions struct {
	// Extractor is the primary strategy. Defaults to the heuristic.
	Extractor Extractor
	// LLM optionally powers synthesis answers and the LLM extractor
	// fallback path; without it synthesis is deterministic.
	LLM llm.Client
	// BreakthroughConfidence and BreakthroughNovelty gate nlacs_event
	// breakthrough notifications.
	BreakthroughConfidence float64
	BreakthroughNovelty    float64
	Logger                 *zap.Logger
}

// NewService builds the coordination layer. bus may be nil to disable
// breakthrough notifications.
func NewService(bb *backbone.Backbone, comms *a2a.Service, bus *a2a.EventBus, opts ServiceOptions) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	extractor := opts.Extractor
	if extractor == nil {
		extractor = &Heuristic{}
	}
	breakConfidence := opts.BreakthroughConfidence
	if breakConfidence <= 0 {
		breakConfidence = DefaultBreakthroughConfidence
	}
	breakNovelty := opts.BreakthroughNovelty
	if breakNovelty <= 0 {
		breakNovelty = DefaultBreakthroughNovelty
	}
	return &Service{
		bb:              bb,
		comms:           comms,
		bus:             bus,
		extractor:       extractor,
		fallback:        &Heuristic{},
		llmClient:       opts.LLM,
		logger:          logger,
		breakConfidence: breakConfidence,
		breakNovelty:    breakNovelty,
	}
}

// ThreadConfig parameterizes CreateThread.
type ThreadConfig struct {
	SessionID string
	// Participants defaults to all session participants; every listed
	// id must belong to the session.
	Participants []string
	Topic        string
}

// CreateThread opens a thread over an existing session. The session
// must have been created with the NLACS flag.
func (s *Service) CreateThread(ctx context.Context, cfg ThreadConfig) (string, error) {
	conv, err := s.comms.GetSessionInfo(ctx, cfg.SessionID)
	if err != nil {
		return "", err
	}
	if !conv.NLACS {
		return "", fault.Newf(fault.KindInvalidParams, "session %s is not nlacs-enabled", cfg.SessionID)
	}
	participants := cfg.Participants
	if len(participants) == 0 {
		participants = append([]string(nil), conv.Participants...)
	}
	for _, p := range participants {
		if !conv.HasParticipant(p) {
			return "", fault.Newf(fault.KindInvalidParams, "agent %s is not a session participant", p)
		}
	}

	thread := &ConversationThread{
		ID:           s.bb.NewID("thread"),
		SessionID:    cfg.SessionID,
		Participants: participants,
		Topic:        cfg.Topic,
		CreatedAt:    s.bb.Now(),
	}
	if err := s.saveThread(ctx, thread); err != nil {
		return "", err
	}
	s.logger.Info("thread created",
		zap.String("thread_id", thread.ID),
		zap.String("session_id", thread.SessionID),
		zap.Int("participants", len(participants)))
	return thread.ID, nil
}

// GetThread returns one thread or a not_found fault.
func (s *Service) GetThread(ctx context.Context, id string) (*ConversationThread, error) {
	raw, ok, err := s.bb.Cache().Get(ctx, threadKeyPrefix+id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fault.Newf(fault.KindNotFound, "thread not found: %s", id)
	}
	var thread ConversationThread
	if err := json.Unmarshal(raw, &thread); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "decode thread record")
	}
	return &thread, nil
}

// SendThreadMessage routes a thread message through the communication
// service and records the resulting message id on the thread. An empty
// ToAgent broadcasts to the thread's session.
func (s *Service) SendThreadMessage(ctx context.Context, threadID string, msg *a2a.Message, subtype ThreadMessageType) (string, error) {
	if msg == nil {
		return "", fault.New(fault.KindInvalidParams, "message is required")
	}
	thread, err := s.GetThread(ctx, threadID)
	if err != nil {
		return "", err
	}
	if !thread.HasParticipant(msg.FromAgent) {
		return "", fault.Newf(fault.KindInvalidParams, "agent %s is not a thread participant", msg.FromAgent)
	}
	if msg.ToAgent != "" && !thread.HasParticipant(msg.ToAgent) {
		return "", fault.Newf(fault.KindInvalidParams, "agent %s is not a thread participant", msg.ToAgent)
	}
	if subtype == "" {
		subtype = MessageContribution
	}
	msg.SessionID = thread.SessionID
	if msg.Metadata == nil {
		msg.Metadata = map[string]string{}
	}
	msg.Metadata[MetadataThreadID] = threadID
	msg.Metadata[MetadataSubtype] = string(subtype)

	var messageID string
	if msg.ToAgent == "" {
		messageID, err = s.comms.BroadcastMessage(ctx, msg)
	} else {
		messageID, err = s.comms.SendMessage(ctx, msg)
	}
	if err != nil {
		return "", err
	}
	if _, err := s.updateThread(ctx, threadID, func(t *ConversationThread) bool {
		t.MessageIDs = append(t.MessageIDs, messageID)
		return true
	}); err != nil {
		return "", err
	}
	return messageID, nil
}

// GenerateInsights extracts insights from the thread's messages. The
// run is idempotent modulo ids: a proposal matching a stored insight's
// type and content returns the stored record instead of a duplicate.
func (s *Service) GenerateInsights(ctx context.Context, threadID string) ([]*EmergentInsight, error) {
	thread, err := s.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	messages, err := s.threadMessages(ctx, thread)
	if err != nil {
		return nil, err
	}

	proposals, err := s.extractor.Extract(ctx, thread, messages)
	if err != nil {
		if !fault.IsKind(err, fault.KindLLMUnavailable) {
			return nil, err
		}
		s.logger.Warn("extractor unavailable, using heuristic fallback",
			zap.String("thread_id", threadID), zap.Error(err))
		proposals, err = s.fallback.Extract(ctx, thread, messages)
		if err != nil {
			return nil, err
		}
	}

	existing, err := s.ListInsights(ctx, threadID)
	if err != nil {
		return nil, err
	}
	byContent := make(map[string]*EmergentInsight, len(existing))
	for _, ins := range existing {
		byContent[string(ins.Type)+"|"+ins.Content] = ins
	}

	var out []*EmergentInsight
	for _, p := range proposals {
		if p.Confidence < 0 || p.Confidence > 1 {
			return nil, fault.Newf(fault.KindInvalidConfidence, "confidence %v out of range", p.Confidence)
		}
		p.Contributors = intersect(p.Contributors, thread.Participants)
		if len(p.Contributors) == 0 {
			continue
		}
		if prior, ok := byContent[string(p.Type)+"|"+p.Content]; ok {
			out = append(out, prior)
			continue
		}

		novelty := s.novelty(p.Content, existing)
		p.ID = s.bb.NewID("insight")
		p.ThreadID = threadID
		p.CreatedAt = s.bb.Now()
		if err := s.saveInsight(ctx, p); err != nil {
			return nil, err
		}
		if _, err := s.updateThread(ctx, threadID, func(t *ConversationThread) bool {
			t.InsightIDs = append(t.InsightIDs, p.ID)
			return true
		}); err != nil {
			return nil, err
		}
		existing = append(existing, p)
		byContent[string(p.Type)+"|"+p.Content] = p
		out = append(out, p)

		if p.Confidence >= s.breakConfidence && novelty >= s.breakNovelty {
			s.notifyBreakthrough(thread, p, novelty)
		}
	}
	return out, nil
}

// ListInsights returns the thread's current (non-superseded) insights.
func (s *Service) ListInsights(ctx context.Context, threadID string) ([]*EmergentInsight, error) {
	thread, err := s.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	all := make([]*EmergentInsight, 0, len(thread.InsightIDs))
	superseded := map[string]struct{}{}
	for _, id := range thread.InsightIDs {
		ins, err := s.GetInsight(ctx, id)
		if err != nil {
			if fault.IsKind(err, fault.KindNotFound) {
				continue
			}
			return nil, err
		}
		if ins.Supersedes != "" {
			superseded[ins.Supersedes] = struct{}{}
		}
		all = append(all, ins)
	}
	out := all[:0]
	for _, ins := range all {
		if _, old := superseded[ins.ID]; !old {
			out = append(out, ins)
		}
	}
	return out, nil
}

// GetInsight returns one insight or a not_found fault.
func (s *Service) GetInsight(ctx context.Context, id string) (*EmergentInsight, error) {
	raw, ok, err := s.bb.Cache().Get(ctx, insightKeyPrefix+id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fault.Newf(fault.KindNotFound, "insight not found: %s", id)
	}
	var ins EmergentInsight
	if err := json.Unmarshal(raw, &ins); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "decode insight record")
	}
	return &ins, nil
}

// ValidateInsight finalizes an insight. Validated insights are
// immutable; later revisions become superseding records.
func (s *Service) ValidateInsight(ctx context.Context, id string) error {
	ins, err := s.GetInsight(ctx, id)
	if err != nil {
		return err
	}
	if ins.Validated {
		return nil
	}
	ins.Validated = true
	return s.saveInsight(ctx, ins)
}

// ReviseInsight records a revision as a new insight superseding the
// old one. Confidence may only grow; the original is left untouched.
func (s *Service) ReviseInsight(ctx context.Context, id, content string, confidence float64) (string, error) {
	if confidence < 0 || confidence > 1 {
		return "", fault.Newf(fault.KindInvalidConfidence, "confidence %v out of range", confidence)
	}
	prior, err := s.GetInsight(ctx, id)
	if err != nil {
		return "", err
	}
	if confidence < prior.Confidence {
		return "", fault.Newf(fault.KindInvalidParams,
			"confidence may not decrease: %v < %v", confidence, prior.Confidence)
	}
	if content == "" {
		content = prior.Content
	}
	revision := &EmergentInsight{
		ID:             s.bb.NewID("insight"),
		ThreadID:       prior.ThreadID,
		Type:           prior.Type,
		Content:        content,
		Confidence:     confidence,
		Contributors:   append([]string(nil), prior.Contributors...),
		SourceMessages: append([]string(nil), prior.SourceMessages...),
		RelevanceScore: prior.RelevanceScore,
		CreatedAt:      s.bb.Now(),
		Supersedes:     prior.ID,
	}
	if err := s.saveInsight(ctx, revision); err != nil {
		return "", err
	}
	if prior.ThreadID != "" {
		if _, err := s.updateThread(ctx, prior.ThreadID, func(t *ConversationThread) bool {
			t.InsightIDs = append(t.InsightIDs, revision.ID)
			return true
		}); err != nil {
			return "", err
		}
	}
	return revision.ID, nil
}

// Synthesize combines insights across threads into an answer to the
// question. With an LLM configured the answer is generated; otherwise
// the top insights by confidence are stitched together.
func (s *Service) Synthesize(ctx context.Context, threadIDs []string, question string) (*SynthesizedInsight, error) {
	if len(threadIDs) == 0 {
		return nil, fault.New(fault.KindInvalidParams, "at least one thread id is required")
	}
	var pool []*EmergentInsight
	for _, id := range threadIDs {
		insights, err := s.ListInsights(ctx, id)
		if err != nil {
			return nil, err
		}
		pool = append(pool, insights...)
	}
	if len(pool) == 0 {
		return nil, fault.New(fault.KindNotFound, "no insights to synthesize")
	}
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].Confidence != pool[j].Confidence {
			return pool[i].Confidence > pool[j].Confidence
		}
		return pool[i].ID < pool[j].ID
	})

	sources := make([]string, 0, len(pool))
	total := 0.0
	for _, ins := range pool {
		sources = append(sources, ins.ID)
		total += ins.Confidence
	}

	content, err := s.synthesisAnswer(ctx, question, pool)
	if err != nil {
		return nil, err
	}
	result := &SynthesizedInsight{
		ID:         s.bb.NewID("insight"),
		Question:   question,
		ThreadIDs:  threadIDs,
		Content:    content,
		Confidence: total / float64(len(pool)),
		Sources:    sources,
		CreatedAt:  s.bb.Now(),
	}
	record := &EmergentInsight{
		ID:             result.ID,
		Type:           InsightSynthesis,
		Content:        result.Content,
		Confidence:     result.Confidence,
		Contributors:   contributorUnion(pool),
		SourceMessages: nil,
		CreatedAt:      result.CreatedAt,
	}
	if err := s.saveInsight(ctx, record); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) synthesisAnswer(ctx context.Context, question string, pool []*EmergentInsight) (string, error) {
	if s.llmClient != nil {
		var sb strings.Builder
		sb.WriteString("Question: " + question + "\n\nInsights:\n")
		for _, ins := range pool {
			sb.WriteString("- " + ins.Content + "\n")
		}
		answer, err := s.llmClient.Generate(ctx, sb.String(), llm.GenerateOptions{
			System: "Answer the question in at most three sentences using only the listed insights.",
		})
		if err == nil {
			return answer, nil
		}
		if !fault.IsKind(err, fault.KindLLMUnavailable) {
			return "", err
		}
		s.logger.Warn("llm synthesis unavailable, combining deterministically", zap.Error(err))
	}
	top := pool
	if len(top) > 3 {
		top = top[:3]
	}
	parts := make([]string, 0, len(top))
	for _, ins := range top {
		parts = append(parts, ins.Content)
	}
	return strings.Join(parts, "; "), nil
}

// AnalyzeConsensus computes the agreement level across thread
// participants on a topic.
func (s *Service) AnalyzeConsensus(ctx context.Context, threadID, topic string) (*ConsensusResult, error) {
	thread, err := s.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	messages, err := s.threadMessages(ctx, thread)
	if err != nil {
		return nil, err
	}

	topicTerms := keywords(topic)
	stances := map[string]string{}
	var compromises []string
	spoke := map[string]struct{}{}
	for _, msg := range messages {
		if len(topicTerms) > 0 && len(sharedKeywords(msg.Content, topic)) == 0 {
			continue
		}
		spoke[msg.FromAgent] = struct{}{}
		lower := strings.ToLower(msg.Content)
		switch {
		case negated(msg.Content):
			stances[msg.FromAgent] = "object"
		case containsAny(lower, supportMarkers):
			stances[msg.FromAgent] = "support"
		}
		if containsAny(lower, compromiseMarkers) {
			compromises = append(compromises, msg.Content)
		}
	}

	result := &ConsensusResult{
		Topic:       topic,
		Supporting:  []string{},
		Objecting:   []string{},
		Neutral:     []string{},
		Compromises: compromises,
	}
	for _, p := range thread.Participants {
		switch stances[p] {
		case "support":
			result.Supporting = append(result.Supporting, p)
		case "object":
			result.Objecting = append(result.Objecting, p)
		default:
			result.Neutral = append(result.Neutral, p)
		}
	}
	sort.Strings(result.Supporting)
	sort.Strings(result.Objecting)
	sort.Strings(result.Neutral)

	participation := 0.0
	if len(thread.Participants) > 0 {
		participation = float64(len(spoke)) / float64(len(thread.Participants))
	}
	agreement := 0.5
	if decided := len(result.Supporting) + len(result.Objecting); decided > 0 {
		agreement = float64(len(result.Supporting)) / float64(decided)
	}
	result.QualityScore = 0.5*participation + 0.5*agreement
	return result, nil
}

var supportMarkers = []string{
	"agree", "support", "approve", "sounds good", "in favor", "+1", "yes,",
}

var compromiseMarkers = []string{
	"instead", "alternatively", "compromise", "middle ground", "what if",
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// threadMessages pulls the session history and keeps messages tagged
// with this thread's id.
func (s *Service) threadMessages(ctx context.Context, thread *ConversationThread) ([]*a2a.Message, error) {
	history, err := s.comms.GetHistory(ctx, thread.SessionID, 0)
	if err != nil {
		return nil, err
	}
	out := make([]*a2a.Message, 0, len(thread.MessageIDs))
	for _, msg := range history {
		if msg.Metadata[MetadataThreadID] == thread.ID {
			out = append(out, msg)
		}
	}
	return out, nil
}

// novelty is 1 minus the best keyword overlap with prior insights.
func (s *Service) novelty(content string, existing []*EmergentInsight) float64 {
	terms := keywords(content)
	if len(terms) == 0 {
		return 0
	}
	best := 0.0
	for _, ins := range existing {
		shared := sharedKeywords(content, ins.Content)
		if overlap := float64(len(shared)) / float64(len(terms)); overlap > best {
			best = overlap
		}
	}
	return 1 - best
}

func (s *Service) notifyBreakthrough(thread *ConversationThread, ins *EmergentInsight, novelty float64) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(a2a.Event{
		Type:      a2a.EventNLACS,
		SessionID: thread.SessionID,
		Payload: map[string]interface{}{
			"kind":       "breakthrough",
			"threadId":   thread.ID,
			"insightId":  ins.ID,
			"confidence": ins.Confidence,
			"novelty":    novelty,
		},
		Timestamp: s.bb.Now(),
	})
	s.logger.Info("breakthrough insight detected",
		zap.String("thread_id", thread.ID),
		zap.String("insight_id", ins.ID),
		zap.Float64("confidence", ins.Confidence),
		zap.Float64("novelty", novelty))
}

func (s *Service) saveThread(ctx context.Context, thread *ConversationThread) error {
	raw, err := json.Marshal(thread)
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "encode thread record")
	}
	return s.bb.Cache().Set(ctx, threadKeyPrefix+thread.ID, raw, 0)
}

func (s *Service) saveInsight(ctx context.Context, ins *EmergentInsight) error {
	raw, err := json.Marshal(ins)
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "encode insight record")
	}
	return s.bb.Cache().Set(ctx, insightKeyPrefix+ins.ID, raw, 0)
}

// updateThread applies mutate under optimistic concurrency, mirroring
// the session store's bounded retry.
func (s *Service) updateThread(ctx context.Context, id string, mutate func(*ConversationThread) bool) (bool, error) {
	cache := s.bb.Cache()
	for attempt := 0; attempt < 16; attempt++ {
		raw, ok, err := cache.Get(ctx, threadKeyPrefix+id)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, fault.Newf(fault.KindNotFound, "thread not found: %s", id)
		}
		var thread ConversationThread
		if err := json.Unmarshal(raw, &thread); err != nil {
			return false, fault.Wrap(fault.KindInternal, err, "decode thread record")
		}
		if !mutate(&thread) {
			return false, nil
		}
		next, err := json.Marshal(&thread)
		if err != nil {
			return false, fault.Wrap(fault.KindInternal, err, "encode thread record")
		}
		swapped, err := cache.UpdateIf(ctx, threadKeyPrefix+id, raw, next)
		if err != nil {
			return false, err
		}
		if swapped {
			return true, nil
		}
	}
	return false, fault.Newf(fault.KindSequenceContention, "thread %s update contended", id).SetRetryable(true)
}

func intersect(subset, allowed []string) []string {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = struct{}{}
	}
	out := make([]string, 0, len(subset))
	for _, s := range subset {
		if _, ok := allowedSet[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

func contributorUnion(insights []*EmergentInsight) []string {
	set := map[string]struct{}{}
	for _, ins := range insights {
		for _, c := range ins.Contributors {
			set[c] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
