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
	"context"
	"os"

	"github.com/oneagent-io/oneagent/pkg/fault"
)

// Provider names accepted by New.
const (
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Config selects and configures a provider.
type Config struct {
	// Provider is "anthropic" or "bedrock". Defaults to "anthropic".
	Provider string
	// APIKey for Anthropic; falls back to ANTHROPIC_API_KEY.
	APIKey string
	// Model overrides the provider default model id.
	Model string
	// Region for Bedrock.
	Region string
	// Profile selects a shared AWS config profile for Bedrock.
	Profile      string
	MaxTokens    int
	Temperature  float64
	PromptBudget int
}

// New builds a Client for the configured provider.
func New(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Provider {
	case "", ProviderAnthropic:
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		return NewAnthropicFromAPIKey(apiKey, AnthropicOptions{
			Model:        cfg.Model,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  cfg.Temperature,
			PromptBudget: cfg.PromptBudget,
		})
	case ProviderBedrock:
		return NewBedrockFromConfig(ctx, BedrockOptions{
			ModelID:      cfg.Model,
			Region:       cfg.Region,
			Profile:      cfg.Profile,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  cfg.Temperature,
			PromptBudget: cfg.PromptBudget,
		})
	default:
		return nil, fault.Newf(fault.KindInvalidParams, "unknown llm provider: %s", cfg.Provider)
	}
}
