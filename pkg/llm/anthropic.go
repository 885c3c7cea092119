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

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/oneagent-io/oneagent/pkg/fault"
)

const (
	// DefaultAnthropicModel is the Claude model used when none is configured.
	DefaultAnthropicModel = "claude-sonnet-4-5-20250929"
	// DefaultMaxTokens caps completions when the caller does not.
	DefaultMaxTokens = 4096
)

// MessagesClient is the subset of the Anthropic SDK used here. It is
// satisfied by *sdk.MessageService so tests can substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Anthropic implements Client over the Claude Messages API.
type Anthropic struct {
	messages     MessagesClient
	model        string
	maxTokens    int
	temperature  float64
	promptBudget int
}

var _ Client = (*Anthropic)(nil)

// AnthropicOptions configures NewAnthropic.
type AnthropicOptions struct {
	// Model defaults to DefaultAnthropicModel.
	Model string
	// MaxTokens defaults to DefaultMaxTokens.
	MaxTokens int
	// Temperature is the default sampling temperature; zero leaves the
	// provider default in place.
	Temperature float64
	// PromptBudget bounds prompt size in tokens. Defaults to
	// DefaultPromptBudget.
	PromptBudget int
}

// NewAnthropic builds a provider over an existing Messages client.
func NewAnthropic(messages MessagesClient, opts AnthropicOptions) (*Anthropic, error) {
	if messages == nil {
		return nil, fault.New(fault.KindInvalidParams, "anthropic messages client is required")
	}
	model := opts.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	budget := opts.PromptBudget
	if budget <= 0 {
		budget = DefaultPromptBudget
	}
	return &Anthropic{
		messages:     messages,
		model:        model,
		maxTokens:    maxTokens,
		temperature:  opts.Temperature,
		promptBudget: budget,
	}, nil
}

// NewAnthropicFromAPIKey constructs a provider with the SDK's default
// HTTP transport.
func NewAnthropicFromAPIKey(apiKey string, opts AnthropicOptions) (*Anthropic, error) {
	if apiKey == "" {
		return nil, fault.New(fault.KindInvalidParams, "anthropic api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropic(&client.Messages, opts)
}

// Generate sends a single-turn Messages request.
func (a *Anthropic) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if prompt == "" {
		return "", fault.New(fault.KindInvalidParams, "prompt is required")
	}
	prompt = Tokens().Truncate(prompt, a.promptBudget)

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(a.model),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	}
	if opts.System != "" {
		params.System = []sdk.TextBlockParam{{Text: opts.System}}
	}
	if t := a.effectiveTemperature(opts.Temperature); t > 0 {
		params.Temperature = sdk.Float(t)
	}

	msg, err := a.messages.New(ctx, params)
	if err != nil {
		return "", fault.Wrap(fault.KindLLMUnavailable, err, "anthropic messages.new")
	}
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}

// Embed is not offered by the Messages API.
func (a *Anthropic) Embed(context.Context, string) ([]float64, error) {
	return nil, fault.New(fault.KindLLMUnavailable, "anthropic provider does not support embeddings")
}

func (a *Anthropic) effectiveTemperature(requested float64) float64 {
	if requested > 0 {
		return requested
	}
	return a.temperature
}
