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

package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultPromptBudget bounds prompts sent to providers. Generous enough
// for a full thread transcript, small enough to stay under model context
// windows with room for the completion.
const DefaultPromptBudget = 8000

// TokenCounter counts tokens with tiktoken's cl100k_base encoding, a
// close approximation for Claude-family models. When the encoding cannot
// be loaded it estimates at four characters per token.
type TokenCounter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.Mutex
}

var (
	globalCounter *TokenCounter
	counterOnce   sync.Once
)

// Tokens returns the shared token counter.
func Tokens() *TokenCounter {
	counterOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			globalCounter = &TokenCounter{}
			return
		}
		globalCounter = &TokenCounter{encoder: enc}
	})
	return globalCounter
}

// Count returns the token count for text.
func (tc *TokenCounter) Count(text string) int {
	if tc.encoder == nil {
		return len(text) / 4
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.encoder.Encode(text, nil, nil))
}

// Truncate returns text cut down to at most budget tokens. Text already
// within budget is returned unchanged.
func (tc *TokenCounter) Truncate(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if tc.encoder == nil {
		limit := budget * 4
		if len(text) <= limit {
			return text
		}
		return text[:limit]
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tokens := tc.encoder.Encode(text, nil, nil)
	if len(tokens) <= budget {
		return text
	}
	return tc.encoder.Decode(tokens[:budget])
}
