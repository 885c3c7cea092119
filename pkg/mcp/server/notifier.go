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

package server

import (
	"context"

	"github.com/oneagent-io/oneagent/pkg/fault"
	"github.com/oneagent-io/oneagent/pkg/mcp/protocol"
	"github.com/oneagent-io/oneagent/pkg/session"
)

// Notifier lets a tool handler emit server-initiated frames while its
// call is in flight. Frames persist to the event log before any live
// delivery, so a disconnected client recovers them via Last-Event-ID.
type Notifier interface {
	// Notify emits one notification frame on the call's stream.
	Notify(ctx context.Context, method string, params interface{}) error
	// Progress is shorthand for a notifications/progress frame.
	Progress(ctx context.Context, progress, total float64, message string) error
}

type notifierKey struct{}

// withNotifier binds n to the context handed to method handlers.
func withNotifier(ctx context.Context, n Notifier) context.Context {
	return context.WithValue(ctx, notifierKey{}, n)
}

// NotifierFromContext returns the Notifier for the in-flight call. The
// second result is false outside an engine-dispatched handler.
func NotifierFromContext(ctx context.Context) (Notifier, bool) {
	n, ok := ctx.Value(notifierKey{}).(Notifier)
	return n, ok
}

// callNotifier persists frames through the engine's session manager and
// forwards them to the transport sink when one is attached.
type callNotifier struct {
	engine *Engine
	call   *Call
}

var _ Notifier = (*callNotifier)(nil)

func (n *callNotifier) Notify(ctx context.Context, method string, params interface{}) error {
	frame, err := protocol.MarshalNotification(method, params)
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "marshal notification")
	}
	var eventID string
	if id := n.call.sessionID(); id != "" {
		event, err := n.engine.sessions.AddEvent(ctx, id, n.call.streamID(), session.EventNotification, frame)
		if err != nil {
			return err
		}
		eventID = event.ID
	}
	if n.call.Sink != nil {
		return n.call.Sink(eventID, frame)
	}
	return nil
}

func (n *callNotifier) Progress(ctx context.Context, progress, total float64, message string) error {
	return n.Notify(ctx, "notifications/progress", &protocol.ProgressParams{
		Progress: progress,
		Total:    total,
		Message:  message,
	})
}
