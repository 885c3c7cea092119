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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/oneagent-io/oneagent/pkg/fault"
)

const (
	// DefaultBedrockModelID selects Claude on Bedrock via the cross-region
	// inference profile.
	DefaultBedrockModelID = "us.anthropic.claude-sonnet-4-5-20250929-v1:0"
	// DefaultBedrockRegion is used when none is configured.
	DefaultBedrockRegion = "us-east-1"
)

// ConverseAPI is the slice of bedrockruntime.Client used here; tests
// substitute a fake.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Bedrock implements Client over the AWS Bedrock Converse API.
type Bedrock struct {
	api          ConverseAPI
	modelID      string
	maxTokens    int
	temperature  float64
	promptBudget int
}

var _ Client = (*Bedrock)(nil)

// BedrockOptions configures NewBedrock. Credentials resolve through the
// standard AWS chain unless AccessKeyID/SecretAccessKey or Profile is
// set.
type BedrockOptions struct {
	ModelID         string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Profile         string
	MaxTokens       int
	Temperature     float64
	PromptBudget    int
}

// NewBedrock builds a provider over an existing Converse client.
func NewBedrock(api ConverseAPI, opts BedrockOptions) (*Bedrock, error) {
	if api == nil {
		return nil, fault.New(fault.KindInvalidParams, "bedrock converse client is required")
	}
	modelID := opts.ModelID
	if modelID == "" {
		modelID = DefaultBedrockModelID
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	budget := opts.PromptBudget
	if budget <= 0 {
		budget = DefaultPromptBudget
	}
	return &Bedrock{
		api:          api,
		modelID:      modelID,
		maxTokens:    maxTokens,
		temperature:  opts.Temperature,
		promptBudget: budget,
	}, nil
}

// NewBedrockFromConfig resolves AWS credentials and builds a provider
// backed by a real bedrockruntime client.
func NewBedrockFromConfig(ctx context.Context, opts BedrockOptions) (*Bedrock, error) {
	region := opts.Region
	if region == "" {
		region = DefaultBedrockRegion
	}

	var awsCfg aws.Config
	var err error
	switch {
	case opts.AccessKeyID != "" && opts.SecretAccessKey != "":
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken)),
		)
	case opts.Profile != "":
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
			config.WithSharedConfigProfile(opts.Profile),
		)
	default:
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(region))
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindLLMUnavailable, err, "load aws config")
	}
	return NewBedrock(bedrockruntime.NewFromConfig(awsCfg), opts)
}

// Generate sends a single-turn Converse request.
func (b *Bedrock) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if prompt == "" {
		return "", fault.New(fault.KindInvalidParams, "prompt is required")
	}
	prompt = Tokens().Truncate(prompt, b.promptBudget)

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.maxTokens
	}
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = b.temperature
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.modelID),
		Messages: []bedrocktypes.Message{{
			Role: bedrocktypes.ConversationRoleUser,
			Content: []bedrocktypes.ContentBlock{
				&bedrocktypes.ContentBlockMemberText{Value: prompt},
			},
		}},
		InferenceConfig: &bedrocktypes.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(maxTokens)),
		},
	}
	if temperature > 0 {
		input.InferenceConfig.Temperature = aws.Float32(float32(temperature))
	}
	if opts.System != "" {
		input.System = []bedrocktypes.SystemContentBlock{
			&bedrocktypes.SystemContentBlockMemberText{Value: opts.System},
		}
	}

	output, err := b.api.Converse(ctx, input)
	if err != nil {
		return "", fault.Wrap(fault.KindLLMUnavailable, err, "bedrock converse")
	}

	var out string
	if msg, ok := output.Output.(*bedrocktypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if text, ok := block.(*bedrocktypes.ContentBlockMemberText); ok {
				out += text.Value
			}
		}
	}
	return out, nil
}

// Embed is not offered by the Converse API.
func (b *Bedrock) Embed(context.Context, string) ([]float64, error) {
	return nil, fault.New(fault.KindLLMUnavailable, "bedrock provider does not support embeddings")
}
