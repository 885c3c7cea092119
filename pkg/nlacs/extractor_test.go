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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/oneagent-io/oneagent/pkg/a2a"
	"github.com/oneagent-io/oneagent/pkg/fault"
	"github.com/oneagent-io/oneagent/pkg/llm"
)

func TestHeuristicDeterministic(t *testing.T) {
	messages := []*a2a.Message{
		{ID: "m1", FromAgent: "a1", Content: "the migration window opens tuesday"},
		{ID: "m2", FromAgent: "a2", Content: "the migration window is not safe on tuesday"},
		{ID: "m3", FromAgent: "a3", Content: "capacity checks passed"},
	}
	h := &Heuristic{}
	first, err := h.Extract(context.Background(), nil, messages)
	require.NoError(t, err)
	second, err := h.Extract(context.Background(), nil, messages)
	require.NoError(t, err)
	assert.Equal(t, first, second, "same input yields the same proposals")

	var types []InsightType
	for _, ins := range first {
		types = append(types, ins.Type)
	}
	assert.Contains(t, types, InsightPattern)
	assert.Contains(t, types, InsightSynthesis, "contradiction between m1 and m2")
}

func TestKeywords(t *testing.T) {
	got := keywords("The Quick, quick brown fox: FOX jumps!")
	assert.Equal(t, []string{"quick", "brown", "jumps"}, got)
}

type scriptedLLM struct {
	reply string
	err   error
}

func (s *scriptedLLM) Generate(context.Context, string, llm.GenerateOptions) (string, error) {
	return s.reply, s.err
}

func (s *scriptedLLM) Embed(context.Context, string) ([]float64, error) {
	return nil, fault.New(fault.KindLLMUnavailable, "no embeddings")
}

func TestLLMExtractorParsesFencedJSON(t *testing.T) {
	client := &scriptedLLM{reply: "```json\n" + `[
		{"type":"risk","content":"rollback untested","confidence":0.8,"contributors":["a1"],"sourceMessages":["m1"]},
		{"type":"made-up","content":"odd type","confidence":0.5,"contributors":["a2"]},
		{"type":"pattern","content":"","confidence":0.5}
	]` + "\n```"}
	ex, err := NewLLMExtractor(client, zaptest.NewLogger(t))
	require.NoError(t, err)

	thread := &ConversationThread{ID: "t1"}
	insights, err := ex.Extract(context.Background(), thread, []*a2a.Message{
		{ID: "m1", FromAgent: "a1", Content: "rollback is untested"},
	})
	require.NoError(t, err)
	require.Len(t, insights, 2, "empty-content proposal dropped")
	assert.Equal(t, InsightRisk, insights[0].Type)
	assert.Equal(t, InsightPattern, insights[1].Type, "unknown type coerced")
}

func TestLLMExtractorPropagatesUnavailable(t *testing.T) {
	ex, err := NewLLMExtractor(&scriptedLLM{err: fault.New(fault.KindLLMUnavailable, "down")}, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, err = ex.Extract(context.Background(), &ConversationThread{}, []*a2a.Message{{ID: "m1", Content: "x"}})
	assert.Equal(t, fault.KindLLMUnavailable, fault.KindOf(err))

	// Garbage output is also reported as unavailable, prompting fallback.
	ex2, err := NewLLMExtractor(&scriptedLLM{reply: "I could not comply"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, err = ex2.Extract(context.Background(), &ConversationThread{}, []*a2a.Message{{ID: "m1", Content: "x"}})
	assert.Equal(t, fault.KindLLMUnavailable, fault.KindOf(err))
}
