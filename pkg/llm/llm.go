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

// Package llm provides a narrow client interface over hosted language
// model providers. Callers see Generate and Embed; provider failures
// surface as llm_unavailable faults so coordination layers can degrade
// rather than break.
package llm

import "context"

// GenerateOptions tunes a single Generate call. Zero values fall back
// to the provider's configured defaults.
type GenerateOptions struct {
	// System is an optional system prompt prepended to the request.
	System string
	// MaxTokens caps the completion length.
	MaxTokens int
	// Temperature overrides the provider default when > 0.
	Temperature float64
}

// Client is the surface coordination layers depend on. Providers that
// cannot embed return an llm_unavailable fault from Embed.
type Client interface {
	// Generate produces a completion for the prompt.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	// Embed produces a vector representation of the text.
	Embed(ctx context.Context, text string) ([]float64, error)
}
