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

// Package transport carries MCP frames between clients and the protocol
// engine: a newline-framed stdio transport and a streamable HTTP server
// with SSE resumability. Both adapters converge on one engine instance.
package transport

import "context"

// Transport is a bidirectional frame pipe for line-oriented adapters.
type Transport interface {
	// Send writes one frame.
	Send(ctx context.Context, message []byte) error

	// Receive blocks until the next frame arrives.
	Receive(ctx context.Context) ([]byte, error)

	// Close shuts the transport down.
	Close() error
}
