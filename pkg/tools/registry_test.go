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

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/oneagent-io/oneagent/pkg/backbone"
	"github.com/oneagent-io/oneagent/pkg/fault"
)

func newTestRegistry(t *testing.T) (*Registry, *backbone.Backbone) {
	t.Helper()
	clock := backbone.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	bb, err := backbone.New(backbone.Options{Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, bb.Close()) })
	return NewRegistry(bb, zaptest.NewLogger(t)), bb
}

func echoHandler(_ context.Context, args json.RawMessage) (*Result, error) {
	return TextResult(string(args)), nil
}

var echoSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"text": {"type": "string"}},
	"required": ["text"],
	"additionalProperties": false
}`)

func TestRegisterAndList(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, Descriptor{Name: "echo", InputSchema: echoSchema, Tags: []string{"demo"}}, echoHandler))
	require.NoError(t, reg.Register(ctx, Descriptor{Name: "add"}, echoHandler))

	descs, err := reg.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Equal(t, "add", descs[0].Name)
	assert.Equal(t, "echo", descs[1].Name)
	// A descriptor without a schema gets the permissive default.
	assert.JSONEq(t, `{"type":"object"}`, string(descs[0].InputSchema))

	tagged, err := reg.List(ctx, &Filter{Tags: []string{"demo"}})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, "echo", tagged[0].Name)

	prefixed, err := reg.List(ctx, &Filter{NamePrefix: "ec"})
	require.NoError(t, err)
	require.Len(t, prefixed, 1)
	assert.Equal(t, "echo", prefixed[0].Name)
}

func TestRegisterValidation(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	err := reg.Register(ctx, Descriptor{}, echoHandler)
	assert.Equal(t, fault.KindInvalidParams, fault.KindOf(err))

	err = reg.Register(ctx, Descriptor{Name: "echo"}, nil)
	assert.Equal(t, fault.KindInvalidParams, fault.KindOf(err))

	err = reg.Register(ctx, Descriptor{Name: "echo", InputSchema: json.RawMessage(`{"type": 42}`)}, echoHandler)
	assert.Equal(t, fault.KindInvalidParams, fault.KindOf(err))
}

func TestRegisterIdempotentAndSchemaConflict(t *testing.T) {
	reg, bb := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, Descriptor{Name: "echo", InputSchema: echoSchema}, echoHandler))
	// Same schema with different whitespace and key order is equivalent.
	reordered := json.RawMessage(`{
		"additionalProperties": false,
		"required": ["text"],
		"properties": {"text": {"type": "string"}},
		"type": "object"
	}`)
	require.NoError(t, reg.Register(ctx, Descriptor{Name: "echo", InputSchema: reordered}, echoHandler))

	registered, err := backbone.GetCounter(ctx, bb.Cache(), CounterToolsRegistered)
	require.NoError(t, err)
	assert.Equal(t, int64(1), registered)

	err = reg.Register(ctx, Descriptor{Name: "echo", InputSchema: json.RawMessage(`{"type":"object","properties":{"n":{"type":"number"}}}`)}, echoHandler)
	assert.Equal(t, fault.KindSchemaConflict, fault.KindOf(err))
}

func TestInvokeValidatesArguments(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, reg.Register(ctx, Descriptor{Name: "echo", InputSchema: echoSchema}, echoHandler))

	result, err := reg.Invoke(ctx, "echo", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Contains(t, result.Content[0].Text, "hi")

	_, err = reg.Invoke(ctx, "echo", json.RawMessage(`{"text":7}`))
	assert.Equal(t, fault.KindInvalidParams, fault.KindOf(err))

	_, err = reg.Invoke(ctx, "echo", json.RawMessage(`{"text":"hi","extra":true}`))
	assert.Equal(t, fault.KindInvalidParams, fault.KindOf(err))

	_, err = reg.Invoke(ctx, "missing", nil)
	assert.Equal(t, fault.KindMethodNotFound, fault.KindOf(err))
}

func TestInvokeCountsAndWrapsErrors(t *testing.T) {
	reg, bb := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, Descriptor{Name: "boom"}, func(context.Context, json.RawMessage) (*Result, error) {
		return nil, errors.New("kaput")
	}))

	_, err := reg.Invoke(ctx, "boom", nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindInternal, fault.KindOf(err))

	cache := bb.Cache()
	invoked, err := backbone.GetCounter(ctx, cache, CounterToolsInvoked)
	require.NoError(t, err)
	assert.Equal(t, int64(1), invoked)
	toolErrs, err := backbone.GetCounter(ctx, cache, CounterToolErrors)
	require.NoError(t, err)
	assert.Equal(t, int64(1), toolErrs)
	inf, err := backbone.GetCounter(ctx, cache, LatencyBucketInfKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inf)
}

func TestResourcesRoundTrip(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.RegisterResource(ctx, ResourceDescriptor{
		URI:      "oneagent://status",
		Name:     "status",
		MimeType: "application/json",
	}, func(context.Context) (*ResourceContents, error) {
		return &ResourceContents{URI: "oneagent://status", Text: `{"ok":true}`}, nil
	}))

	list, err := reg.ListResources(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "oneagent://status", list[0].URI)

	contents, err := reg.ReadResource(ctx, "oneagent://status")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, contents.Text)

	_, err = reg.ReadResource(ctx, "oneagent://absent")
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestPromptsRequireArguments(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.RegisterPrompt(ctx, PromptDescriptor{
		Name:      "greet",
		Arguments: []PromptArgument{{Name: "who", Required: true}},
	}, func(_ context.Context, args map[string]string) (*PromptResult, error) {
		return &PromptResult{Messages: []PromptMessage{{Role: "user", Content: TextContent("hello " + args["who"])}}}, nil
	}))

	_, err := reg.GetPrompt(ctx, "greet", nil)
	assert.Equal(t, fault.KindInvalidParams, fault.KindOf(err))

	result, err := reg.GetPrompt(ctx, "greet", map[string]string{"who": "world"})
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "hello world", result.Messages[0].Content.Text)

	_, err = reg.GetPrompt(ctx, "absent", nil)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

type staticStatus struct{}

func (staticStatus) HealthSnapshot(context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"status": "ok"}, nil
}

func (staticStatus) MetricsSnapshot(context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"sessions.active": int64(0)}, nil
}

func TestRegisterBuiltins(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, RegisterBuiltins(ctx, reg, staticStatus{}, zaptest.NewLogger(t)))

	descs, err := reg.List(ctx, nil)
	require.NoError(t, err)
	names := make([]string, 0, len(descs))
	for _, d := range descs {
		names = append(names, d.Name)
	}
	assert.Contains(t, names, "system_health")
	assert.Contains(t, names, "system_metrics")

	result, err := reg.Invoke(ctx, "system_health", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "ok", result.StructuredContent["status"])

	// The builtin schemas reject stray arguments.
	_, err = reg.Invoke(ctx, "system_health", json.RawMessage(`{"verbose":true}`))
	assert.Equal(t, fault.KindInvalidParams, fault.KindOf(err))
}
