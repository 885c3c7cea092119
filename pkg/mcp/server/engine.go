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

// Package server implements the transport-agnostic MCP protocol engine.
// It dispatches JSON-RPC frames to method handlers, issues sessions on
// initialize, and persists every outbound frame to the session event
// log before the transport writes it, which makes streams resumable.
package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oneagent-io/oneagent/pkg/fault"
	"github.com/oneagent-io/oneagent/pkg/mcp/protocol"
	"github.com/oneagent-io/oneagent/pkg/session"
	"github.com/oneagent-io/oneagent/pkg/tools"
)

// DefaultStreamID names the stream used when a transport does not
// distinguish concurrent streams (stdio, plain POST responses).
const DefaultStreamID = "main"

// DefaultRequestTimeout bounds handler execution per inbound request.
const DefaultRequestTimeout = 30 * time.Second

// MethodHandler processes one JSON-RPC method. call carries the
// resolved session and the streaming sink; params is the raw params
// member. Handlers return result values or errors, never frames.
type MethodHandler func(ctx context.Context, call *Call, params json.RawMessage) (interface{}, error)

// Call is the per-request context a transport hands to the engine.
type Call struct {
	// Session is the resolved session, nil until initialize.
	Session *session.Session
	// Origin is the validated Origin header value, empty on stdio.
	Origin string
	// StreamID selects the event stream; empty means DefaultStreamID.
	StreamID string
	// Sink receives server-initiated frames for live delivery together
	// with their persisted event id (empty when no session is bound).
	// A nil Sink still persists frames, so clients recover them by
	// replay.
	Sink func(eventID string, frame []byte) error

	// CreatedSession is set by the engine when initialize issues a new
	// session. Transports echo its ID via the Mcp-Session-Id header.
	CreatedSession *session.Session
}

// streamID returns the effective stream id for the call.
func (c *Call) streamID() string {
	if c.StreamID == "" {
		return DefaultStreamID
	}
	return c.StreamID
}

// sessionID returns the id of the session bound to this call, resolved
// or just created, or empty.
func (c *Call) sessionID() string {
	if c.Session != nil {
		return c.Session.ID
	}
	if c.CreatedSession != nil {
		return c.CreatedSession.ID
	}
	return ""
}

// Engine is the MCP protocol engine shared by the HTTP and stdio
// transports. One engine instance serves both, so tools, sessions, and
// agents are indistinguishable across transports.
type Engine struct {
	info           protocol.Implementation
	capabilities   protocol.ServerCapabilities
	sessions       *session.Manager
	registry       *tools.Registry
	logger         *zap.Logger
	requestTimeout time.Duration

	mu       sync.RWMutex
	handlers map[string]MethodHandler
	shutdown func()
}

// Options configures NewEngine.
type Options struct {
	// Name and Version identify the server in initialize responses.
	Name    string
	Version string
	// Sessions is required: the engine issues and resolves sessions.
	Sessions *session.Manager
	// Registry is required: tools, resources, and prompts dispatch here.
	Registry *tools.Registry
	// RequestTimeout defaults to DefaultRequestTimeout.
	RequestTimeout time.Duration
	// OnShutdown runs when a client sends shutdown. Optional.
	OnShutdown func()
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// NewEngine creates an Engine with the full 2025-06-18 method surface
// registered.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	e := &Engine{
		info: protocol.Implementation{Name: opts.Name, Version: opts.Version},
		capabilities: protocol.ServerCapabilities{
			Tools:     &protocol.ToolsCapability{},
			Resources: &protocol.ResourcesCapability{},
			Prompts:   &protocol.PromptsCapability{},
			Logging:   &protocol.LoggingCapability{},
		},
		sessions:       opts.Sessions,
		registry:       opts.Registry,
		logger:         logger,
		requestTimeout: timeout,
		handlers:       make(map[string]MethodHandler),
		shutdown:       opts.OnShutdown,
	}

	e.RegisterHandler(protocol.MethodInitialize, e.handleInitialize)
	e.RegisterHandler(protocol.MethodInitialized, e.handleInitialized)
	e.RegisterHandler(protocol.MethodPing, e.handlePing)
	e.RegisterHandler(protocol.MethodShutdown, e.handleShutdown)
	e.RegisterHandler(protocol.MethodToolsList, e.handleToolsList)
	e.RegisterHandler(protocol.MethodToolsCall, e.handleToolsCall)
	e.RegisterHandler(protocol.MethodResourcesList, e.handleResourcesList)
	e.RegisterHandler(protocol.MethodResourcesRead, e.handleResourcesRead)
	e.RegisterHandler(protocol.MethodPromptsList, e.handlePromptsList)
	e.RegisterHandler(protocol.MethodPromptsGet, e.handlePromptsGet)
	return e
}

// RegisterHandler installs or replaces the handler for a method.
func (e *Engine) RegisterHandler(method string, handler MethodHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[method] = handler
}

// Sessions exposes the session manager for transports.
func (e *Engine) Sessions() *session.Manager { return e.sessions }

// Reply is the engine's answer to one inbound frame. EventID is the
// persisted event id of the response, empty when no session was bound.
type Reply struct {
	Frame   []byte
	EventID string
}

// Handle processes a single JSON-RPC frame and returns the response, or
// nil for notifications. The response frame is persisted to the session
// event log before it is returned, so persistence, not the transport
// write, is the serialization point.
func (e *Engine) Handle(ctx context.Context, call *Call, msg []byte) (*Reply, error) {
	var req protocol.Request
	if err := json.Unmarshal(msg, &req); err != nil {
		return replyFrame(protocol.MarshalResponse(nil, nil,
			protocol.ErrorFrom(fault.New(fault.KindParseError, "invalid JSON"))))
	}
	if err := protocol.ValidateRequest(&req); err != nil {
		return replyFrame(protocol.MarshalResponse(nil, nil,
			protocol.ErrorFrom(fault.Wrap(fault.KindInvalidRequest, err, "invalid request"))))
	}

	e.logger.Debug("handling request",
		zap.String("method", req.Method),
		zap.String("id", req.ID.String()),
		zap.String("session_id", session.MaskID(call.sessionID())))
	start := time.Now()

	e.mu.RLock()
	handler, ok := e.handlers[req.Method]
	e.mu.RUnlock()
	if !ok {
		if req.ID == nil {
			// Notifications for unknown methods are dropped silently.
			return nil, nil
		}
		frame, err := protocol.MarshalResponse(req.ID, nil,
			protocol.ErrorFrom(fault.Newf(fault.KindMethodNotFound, "method not found: %s", req.Method)))
		if err != nil {
			return nil, err
		}
		return e.persistResponse(ctx, call, frame)
	}

	hctx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()
	hctx = withNotifier(hctx, &callNotifier{engine: e, call: call})

	result, err := handler(hctx, call, req.Params)
	duration := time.Since(start)

	if err != nil {
		e.logger.Warn("handler error",
			zap.String("method", req.Method),
			zap.String("session_id", session.MaskID(call.sessionID())),
			zap.String("error_kind", string(fault.KindOf(err))),
			zap.Duration("duration", duration),
			zap.Error(err))
		if req.ID == nil {
			return nil, nil
		}
		frame, merr := protocol.MarshalResponse(req.ID, nil, protocol.ErrorFrom(err))
		if merr != nil {
			return nil, merr
		}
		return e.persistResponse(ctx, call, frame)
	}

	e.logger.Debug("request handled",
		zap.String("method", req.Method),
		zap.Duration("duration", duration))

	if req.ID == nil {
		return nil, nil
	}
	frame, err := protocol.MarshalResponse(req.ID, result, nil)
	if err != nil {
		return nil, err
	}
	return e.persistResponse(ctx, call, frame)
}

// persistResponse appends the response frame to the session event log
// before handing it back for transport delivery. Calls with no bound
// session (parse errors before initialize) skip persistence.
func (e *Engine) persistResponse(ctx context.Context, call *Call, frame []byte) (*Reply, error) {
	id := call.sessionID()
	if id == "" {
		return &Reply{Frame: frame}, nil
	}
	event, err := e.sessions.AddEvent(ctx, id, call.streamID(), session.EventResponse, frame)
	if err != nil {
		// A session torn down mid-request still gets its response; the
		// frame is just not resumable anymore.
		if !fault.IsKind(err, fault.KindSessionNotFound) && !fault.IsKind(err, fault.KindSessionExpired) {
			return nil, err
		}
		return &Reply{Frame: frame}, nil
	}
	return &Reply{Frame: frame, EventID: event.ID}, nil
}

// replyFrame wraps a bare frame (no persisted event) as a Reply.
func replyFrame(frame []byte, err error) (*Reply, error) {
	if err != nil {
		return nil, err
	}
	return &Reply{Frame: frame}, nil
}
