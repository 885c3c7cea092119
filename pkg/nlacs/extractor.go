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
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/oneagent-io/oneagent/pkg/a2a"
)

// Extractor proposes insights from a thread's message set. Proposals
// carry no id or timestamp; the service assigns those on acceptance.
type Extractor interface {
	Extract(ctx context.Context, thread *ConversationThread, messages []*a2a.Message) ([]*EmergentInsight, error)
}

// Heuristic is the deterministic fallback extractor: keyword
// co-occurrence across agents yields pattern insights, and negated
// claims sharing keywords with earlier messages yield synthesis
// insights flagging the contradiction. Same input, same output.
type Heuristic struct {
	// MinAgents is how many distinct agents must mention a term before
	// it counts as a recurring theme. Defaults to 2.
	MinAgents int
}

var _ Extractor = (*Heuristic)(nil)

var stopwords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "also": {}, "been": {},
	"before": {}, "being": {}, "between": {}, "both": {}, "cannot": {},
	"could": {}, "does": {}, "doing": {}, "down": {}, "each": {},
	"from": {}, "have": {}, "having": {}, "here": {}, "into": {},
	"just": {}, "more": {}, "most": {}, "only": {}, "other": {},
	"over": {}, "same": {}, "should": {}, "some": {}, "such": {},
	"than": {}, "that": {}, "their": {}, "them": {}, "then": {},
	"there": {}, "these": {}, "they": {}, "this": {}, "those": {},
	"through": {}, "under": {}, "very": {}, "were": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "while": {}, "will": {},
	"with": {}, "would": {}, "your": {},
}

var negationMarkers = []string{
	"not ", "no ", "never ", "disagree", "cannot", "can't", "won't",
	"isn't", "aren't", "doesn't", "don't", "shouldn't", "oppose",
}

// Extract runs both heuristics over the messages.
func (h *Heuristic) Extract(_ context.Context, _ *ConversationThread, messages []*a2a.Message) ([]*EmergentInsight, error) {
	minAgents := h.MinAgents
	if minAgents <= 0 {
		minAgents = 2
	}
	var out []*EmergentInsight
	out = append(out, h.recurringThemes(messages, minAgents)...)
	out = append(out, h.contradictions(messages)...)
	return out, nil
}

type termStat struct {
	agents   map[string]struct{}
	messages []string
	count    int
}

func (h *Heuristic) recurringThemes(messages []*a2a.Message, minAgents int) []*EmergentInsight {
	stats := map[string]*termStat{}
	for _, msg := range messages {
		seen := map[string]struct{}{}
		for _, term := range keywords(msg.Content) {
			st := stats[term]
			if st == nil {
				st = &termStat{agents: map[string]struct{}{}}
				stats[term] = st
			}
			st.count++
			st.agents[msg.FromAgent] = struct{}{}
			if _, dup := seen[term]; !dup {
				st.messages = append(st.messages, msg.ID)
				seen[term] = struct{}{}
			}
		}
	}

	terms := make([]string, 0, len(stats))
	for term, st := range stats {
		if len(st.agents) >= minAgents {
			terms = append(terms, term)
		}
	}
	sort.Strings(terms)

	out := make([]*EmergentInsight, 0, len(terms))
	for _, term := range terms {
		st := stats[term]
		contributors := make([]string, 0, len(st.agents))
		for agent := range st.agents {
			contributors = append(contributors, agent)
		}
		sort.Strings(contributors)
		confidence := 0.4 + 0.1*float64(st.count)
		if confidence > 0.9 {
			confidence = 0.9
		}
		relevance := float64(len(st.messages)) / float64(len(messages))
		out = append(out, &EmergentInsight{
			Type:           InsightPattern,
			Content:        fmt.Sprintf("recurring theme across agents: %s", term),
			Confidence:     confidence,
			Contributors:   contributors,
			SourceMessages: st.messages,
			RelevanceScore: relevance,
		})
	}
	return out
}

func (h *Heuristic) contradictions(messages []*a2a.Message) []*EmergentInsight {
	var out []*EmergentInsight
	for i := 0; i < len(messages); i++ {
		for j := i + 1; j < len(messages); j++ {
			a, b := messages[i], messages[j]
			if negated(a.Content) == negated(b.Content) {
				continue
			}
			shared := sharedKeywords(a.Content, b.Content)
			if len(shared) < 2 {
				continue
			}
			contributors := []string{a.FromAgent}
			if b.FromAgent != a.FromAgent {
				contributors = append(contributors, b.FromAgent)
			}
			sort.Strings(contributors)
			out = append(out, &EmergentInsight{
				Type:           InsightSynthesis,
				Content:        fmt.Sprintf("contradictory claims about: %s", strings.Join(shared, ", ")),
				Confidence:     0.6,
				Contributors:   contributors,
				SourceMessages: []string{a.ID, b.ID},
				RelevanceScore: 0.5,
			})
		}
	}
	return out
}

// keywords tokenizes content to lowercase terms of 4+ runes with
// stopwords removed, in order of first appearance, deduplicated.
func keywords(content string) []string {
	fields := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := map[string]struct{}{}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 4 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func sharedKeywords(a, b string) []string {
	inB := map[string]struct{}{}
	for _, term := range keywords(b) {
		inB[term] = struct{}{}
	}
	var shared []string
	for _, term := range keywords(a) {
		if _, ok := inB[term]; ok {
			shared = append(shared, term)
		}
	}
	sort.Strings(shared)
	return shared
}

func negated(content string) bool {
	lower := strings.ToLower(content)
	for _, marker := range negationMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
