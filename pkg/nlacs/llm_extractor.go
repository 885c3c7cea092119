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
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/oneagent-io/oneagent/pkg/a2a"
	"github.com/oneagent-io/oneagent/pkg/fault"
	"github.com/oneagent-io/oneagent/pkg/llm"
)

const extractionSystemPrompt = `You analyze multi-agent discussion transcripts and extract emergent insights.
Respond with a JSON array only. Each element:
{"type":"pattern|synthesis|breakthrough|connection|optimization|risk|opportunity",
 "content":"one-sentence insight",
 "confidence":0.0-1.0,
 "contributors":["agent ids that support it"],
 "sourceMessages":["message ids it derives from"]}
Return [] when the transcript holds no insight worth recording.`

// LLMExtractor asks a language model for insight proposals. Provider
// failures surface as llm_unavailable so callers can fall back to the
// deterministic heuristic.
type LLMExtractor struct {
	client llm.Client
	logger *zap.Logger
}

var _ Extractor = (*LLMExtractor)(nil)

// NewLLMExtractor builds an extractor over an LLM client.
func NewLLMExtractor(client llm.Client, logger *zap.Logger) (*LLMExtractor, error) {
	if client == nil {
		return nil, fault.New(fault.KindInvalidParams, "llm client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMExtractor{client: client, logger: logger}, nil
}

// Extract prompts the model with the thread transcript and parses the
// returned proposals.
func (e *LLMExtractor) Extract(ctx context.Context, thread *ConversationThread, messages []*a2a.Message) ([]*EmergentInsight, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	var sb strings.Builder
	if thread.Topic != "" {
		fmt.Fprintf(&sb, "Topic: %s\n\n", thread.Topic)
	}
	for _, msg := range messages {
		fmt.Fprintf(&sb, "[%s] %s: %s\n", msg.ID, msg.FromAgent, msg.Content)
	}

	raw, err := e.client.Generate(ctx, sb.String(), llm.GenerateOptions{
		System: extractionSystemPrompt,
	})
	if err != nil {
		return nil, err
	}
	insights, err := parseInsightJSON(raw)
	if err != nil {
		e.logger.Warn("discarding unparseable extraction output", zap.Error(err))
		return nil, fault.Wrap(fault.KindLLMUnavailable, err, "parse extraction output")
	}
	return insights, nil
}

var validInsightTypes = map[InsightType]struct{}{
	InsightPattern: {}, InsightSynthesis: {}, InsightBreakthrough: {},
	InsightConnection: {}, InsightOptimization: {}, InsightRisk: {},
	InsightOpportunity: {},
}

// parseInsightJSON tolerates markdown fences around the array.
func parseInsightJSON(raw string) ([]*EmergentInsight, error) {
	trimmed := strings.TrimSpace(raw)
	if start := strings.Index(trimmed, "["); start >= 0 {
		if end := strings.LastIndex(trimmed, "]"); end > start {
			trimmed = trimmed[start : end+1]
		}
	}
	var proposals []*EmergentInsight
	if err := json.Unmarshal([]byte(trimmed), &proposals); err != nil {
		return nil, err
	}
	out := proposals[:0]
	for _, p := range proposals {
		if p == nil || p.Content == "" {
			continue
		}
		if _, ok := validInsightTypes[p.Type]; !ok {
			p.Type = InsightPattern
		}
		out = append(out, p)
	}
	return out, nil
}
