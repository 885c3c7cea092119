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

// Package nlacs is the natural-language coordination layer on top of
// agent sessions: conversation threads, emergent insight extraction,
// cross-thread synthesis, and consensus analysis. It never mutates
// session or message state; it keeps its own records and references
// messages by id.
package nlacs

import "time"

// ThreadMessageType classifies messages within a thread.
type ThreadMessageType string

const (
	MessageContribution ThreadMessageType = "contribution"
	MessageQuestion     ThreadMessageType = "question"
	MessageSynthesis    ThreadMessageType = "synthesis"
	MessageInsight      ThreadMessageType = "insight"
	MessageConsensus    ThreadMessageType = "consensus"
)

// Message metadata keys attached to thread traffic routed through the
// agent communication service.
const (
	MetadataThreadID = "threadId"
	MetadataSubtype  = "subtype"
)

// ConversationThread groups thread messages over an existing agent
// session. Participants are a subset of the session's participants.
type ConversationThread struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	Participants []string  `json:"participants"`
	Topic        string    `json:"topic,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	// MessageIDs references messages in the session history, in send
	// order. The thread never stores message bodies.
	MessageIDs []string `json:"messageIds,omitempty"`
	// InsightIDs references insights extracted from this thread.
	InsightIDs []string `json:"insightIds,omitempty"`
}

// HasParticipant reports whether agentID belongs to the thread.
func (t *ConversationThread) HasParticipant(agentID string) bool {
	for _, p := range t.Participants {
		if p == agentID {
			return true
		}
	}
	return false
}

// InsightType classifies emergent insights.
type InsightType string

const (
	InsightPattern      InsightType = "pattern"
	InsightSynthesis    InsightType = "synthesis"
	InsightBreakthrough InsightType = "breakthrough"
	InsightConnection   InsightType = "connection"
	InsightOptimization InsightType = "optimization"
	InsightRisk         InsightType = "risk"
	InsightOpportunity  InsightType = "opportunity"
)

// EmergentInsight is a proposal extracted from thread messages.
// Contributors are always a subset of the thread participants, and
// Confidence stays in [0,1]. Once Validated an insight is immutable;
// revisions are new records pointing back through Supersedes.
type EmergentInsight struct {
	ID             string      `json:"id"`
	ThreadID       string      `json:"threadId,omitempty"`
	Type           InsightType `json:"type"`
	Content        string      `json:"content"`
	Confidence     float64     `json:"confidence"`
	Contributors   []string    `json:"contributors,omitempty"`
	SourceMessages []string    `json:"sourceMessages,omitempty"`
	RelevanceScore float64     `json:"relevanceScore,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	Validated      bool        `json:"validated,omitempty"`
	Supersedes     string      `json:"supersedes,omitempty"`
}

// SynthesizedInsight is the result of combining insights across
// threads in answer to a question.
type SynthesizedInsight struct {
	ID         string    `json:"id"`
	Question   string    `json:"question"`
	ThreadIDs  []string  `json:"threadIds"`
	Content    string    `json:"content"`
	Confidence float64   `json:"confidence"`
	Sources    []string  `json:"sources,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ConsensusResult summarizes agreement across thread participants on a
// topic. QualityScore in [0,1] weighs participation and agreement.
type ConsensusResult struct {
	Topic        string   `json:"topic"`
	Supporting   []string `json:"supporting"`
	Objecting    []string `json:"objecting"`
	Neutral      []string `json:"neutral"`
	Compromises  []string `json:"compromises,omitempty"`
	QualityScore float64  `json:"qualityScore"`
}

// Cache key layout.
const (
	threadKeyPrefix  = "nlacs:thread:"
	insightKeyPrefix = "nlacs:insight:"
)
