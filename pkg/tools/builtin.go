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

	"go.uber.org/zap"

	"github.com/oneagent-io/oneagent/pkg/fault"
)

// StatusSource provides the snapshots behind the built-in system tools.
// The monitoring service implements it.
type StatusSource interface {
	// HealthSnapshot returns the liveness view served on /health.
	HealthSnapshot(ctx context.Context) (map[string]interface{}, error)
	// MetricsSnapshot returns the aggregate counters served on
	// /health/sessions.
	MetricsSnapshot(ctx context.Context) (map[string]interface{}, error)
}

// RegisterBuiltins installs the system tools every server carries:
// system_health and system_metrics. It logs a single aggregate line.
func RegisterBuiltins(ctx context.Context, reg *Registry, src StatusSource, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	err := reg.Register(ctx, Descriptor{
		Name:        "system_health",
		Title:       "System Health",
		Description: "Report server health: status, uptime, transports, and component readiness.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {},
			"additionalProperties": false
		}`),
		Tags: []string{"system"},
	}, func(ctx context.Context, _ json.RawMessage) (*Result, error) {
		snapshot, err := src.HealthSnapshot(ctx)
		if err != nil {
			return nil, fault.Wrap(fault.KindInternal, err, "health snapshot")
		}
		return structuredResult(snapshot)
	})
	if err != nil {
		return err
	}

	err = reg.Register(ctx, Descriptor{
		Name:        "system_metrics",
		Title:       "System Metrics",
		Description: "Report aggregate counters: sessions, events, messages, tools, and origin blocks.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {},
			"additionalProperties": false
		}`),
		Tags: []string{"system"},
	}, func(ctx context.Context, _ json.RawMessage) (*Result, error) {
		snapshot, err := src.MetricsSnapshot(ctx)
		if err != nil {
			return nil, fault.Wrap(fault.KindInternal, err, "metrics snapshot")
		}
		return structuredResult(snapshot)
	})
	if err != nil {
		return err
	}

	count, err := reg.Count(ctx)
	if err != nil {
		return err
	}
	logger.Info("builtin tools registered", zap.Int("total_tools", count))
	return nil
}

// structuredResult renders a snapshot both as JSON text and as
// structured content, so plain-text clients and schema-aware clients
// each get a usable shape.
func structuredResult(snapshot map[string]interface{}) (*Result, error) {
	raw, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "marshal snapshot")
	}
	return &Result{
		Content:           []Content{TextContent(string(raw))},
		StructuredContent: snapshot,
	}, nil
}
