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

// Package memory is the narrow client surface for long-term content
// storage. Handlers call through it; the coordination substrate never
// does. The production backend is an external vector store; the
// cache-backed default here keeps the contract honest in tests and
// single-node deployments.
package memory

import (
	"context"

	"github.com/oneagent-io/oneagent/pkg/backbone"
)

// Record pairs stored content with its canonical metadata descriptor.
type Record struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata backbone.Metadata `json:"metadata"`
}

// Query narrows Search results. Zero value matches everything.
type Query struct {
	// Text is matched against record content by keyword overlap.
	Text string
	// Tags must all be present on a matching record.
	Tags []string
	// AgentID keeps records attributed to this agent.
	AgentID string
	// Limit caps results; 0 means no cap.
	Limit int
}

// Client is the memory collaborator interface. Backend failures
// surface as memory_unavailable faults; missing records as not_found.
type Client interface {
	Store(ctx context.Context, rec *Record) (string, error)
	Search(ctx context.Context, q Query) ([]*Record, error)
	Update(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, id string) error
}
