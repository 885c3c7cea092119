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

package transport

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/oneagent-io/oneagent/pkg/fault"
	"github.com/oneagent-io/oneagent/pkg/mcp/protocol"
	"github.com/oneagent-io/oneagent/pkg/mcp/server"
	"github.com/oneagent-io/oneagent/pkg/origin"
	"github.com/oneagent-io/oneagent/pkg/session"
)

// maxBodyBytes caps inbound POST bodies.
const maxBodyBytes = 10 * 1024 * 1024

// CORS preflight values for the MCP endpoint.
const (
	corsAllowMethods = "GET, POST, DELETE, OPTIONS"
	corsAllowHeaders = "Authorization, Content-Type, Mcp-Session-Id, MCP-Protocol-Version, Last-Event-ID"
	corsMaxAge       = "86400"
)

// HTTPServer is the streamable HTTP transport: a single MCP endpoint
// that answers plain JSON for single requests and switches to SSE when
// the client asks for text/event-stream on an established session.
// Every origin-validated request flows through the shared protocol
// engine, so HTTP and stdio clients see identical sessions and tools.
//
// The transport carries no authentication. Bind it to localhost and let
// WarnIfNotLocalhost flag anything else.
type HTTPServer struct {
	engine  *server.Engine
	origins *origin.Validator
	logger  *zap.Logger
}

// HTTPServerOptions configures NewHTTPServer.
type HTTPServerOptions struct {
	// Engine is required.
	Engine *server.Engine
	// Origins validates the Origin header. Nil allows every origin,
	// which is only sane behind a trusted proxy.
	Origins *origin.Validator
	Logger  *zap.Logger
}

// NewHTTPServer creates the MCP endpoint handler.
func NewHTTPServer(opts HTTPServerOptions) (*HTTPServer, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{engine: opts.Engine, origins: opts.Origins, logger: logger}, nil
}

// ServeHTTP implements http.Handler for the MCP endpoint.
func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	originHeader := r.Header.Get("Origin")
	if s.origins != nil {
		res := s.origins.Validate(r.Context(), originHeader)
		if !res.Allowed {
			kind := fault.KindOriginBlocked
			if res.Reason == "origin_required" {
				kind = fault.KindOriginRequired
			}
			s.writeError(w, fault.Newf(kind, "origin not allowed"))
			return
		}
	}
	if originHeader != "" {
		w.Header().Set("Access-Control-Allow-Origin", originHeader)
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Expose-Headers", protocol.HeaderSessionID)
	}

	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
		w.Header().Set("Access-Control-Max-Age", corsMaxAge)
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPost:
		s.handlePost(w, r, originHeader)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		// GET without an open stream has nothing to serve; server-initiated
		// frames reach clients on the POST response stream or via replay.
		w.Header().Set("Allow", corsAllowMethods)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *HTTPServer) handlePost(w http.ResponseWriter, r *http.Request, originHeader string) {
	defer r.Body.Close()

	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, _ := mime.ParseMediaType(ct)
		if mediaType != "application/json" {
			http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.logger.Error("read request body failed", zap.Error(err))
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	var sess *session.Session
	if id := r.Header.Get(protocol.HeaderSessionID); id != "" {
		sess, err = s.engine.Sessions().Resolve(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if _, err := s.engine.Sessions().Touch(r.Context(), id); err != nil {
			s.logger.Debug("session touch failed",
				zap.String("session_id", session.MaskID(id)), zap.Error(err))
		}
	}

	call := &server.Call{Session: sess, Origin: originHeader}

	// SSE needs headers committed before the first frame, so a request
	// that still has to mint a session (initialize) stays on plain JSON.
	if sess != nil && acceptsSSE(r) {
		s.handleStreaming(w, r, call, body)
		return
	}
	if len(body) == 0 {
		http.Error(w, "empty request body", http.StatusBadRequest)
		return
	}

	reply, err := s.engine.Handle(r.Context(), call, body)
	if err != nil {
		s.logger.Error("engine error", zap.Error(err))
		s.writeError(w, fault.Wrap(fault.KindInternal, err, "request failed"))
		return
	}
	if call.CreatedSession != nil {
		w.Header().Set(protocol.HeaderSessionID, call.CreatedSession.ID)
	}
	if reply == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(reply.Frame)
}

// handleStreaming answers one POST as an SSE stream: replayed events
// first when Last-Event-ID is present, then frames emitted while the
// handler runs, then the response frame. Event ids on the wire are the
// persisted event-log ids, so the next Last-Event-ID resumes cleanly.
func (s *HTTPServer) handleStreaming(w http.ResponseWriter, r *http.Request, call *server.Call, body []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent := func(eventID string, frame []byte) error {
		if eventID != "" {
			if _, err := fmt.Fprintf(w, "id: %s\n", eventID); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	streamID := server.DefaultStreamID
	if lastEventID := r.Header.Get(protocol.HeaderLastEventID); lastEventID != "" {
		events, warnings, err := s.engine.Sessions().ReplayEvents(
			r.Context(), call.Session.ID, streamID, lastEventID)
		if err != nil {
			s.logger.Warn("event replay failed",
				zap.String("session_id", session.MaskID(call.Session.ID)), zap.Error(err))
		}
		for _, warning := range warnings {
			s.logger.Warn("event replay warning",
				zap.String("session_id", session.MaskID(call.Session.ID)),
				zap.String("warning", warning))
		}
		for _, ev := range events {
			if err := writeEvent(ev.ID, ev.Payload); err != nil {
				return
			}
		}
	}

	if len(body) == 0 {
		// Replay-only request: the client reconnected just to catch up.
		return
	}

	call.StreamID = streamID
	call.Sink = writeEvent
	reply, err := s.engine.Handle(r.Context(), call, body)
	if err != nil {
		s.logger.Error("engine error", zap.Error(err))
		return
	}
	if reply != nil {
		_ = writeEvent(reply.EventID, reply.Frame)
	}
}

func (s *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(protocol.HeaderSessionID)
	if id == "" {
		http.Error(w, protocol.HeaderSessionID+" header required", http.StatusBadRequest)
		return
	}
	if err := s.engine.Sessions().Terminate(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError sends a JSON-RPC error frame with the HTTP status mapped
// from the error kind.
func (s *HTTPServer) writeError(w http.ResponseWriter, err error) {
	frame, merr := protocol.MarshalResponse(nil, nil, protocol.ErrorFrom(err))
	if merr != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(fault.HTTPStatus(fault.KindOf(err)))
	_, _ = w.Write(frame)
}

func acceptsSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// WarnIfNotLocalhost logs a warning when the listen address binds a
// non-localhost interface. The transport has no authentication, so a
// public bind exposes every registered tool.
func WarnIfNotLocalhost(logger *zap.Logger, addr string) {
	if logger == nil {
		return
	}
	host := addr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		host = addr[:idx]
	}
	host = strings.Trim(host, "[]")

	switch host {
	case "", "0.0.0.0", "::":
		logger.Warn("MCP HTTP transport binding to all interfaces - this is INSECURE",
			zap.String("addr", addr),
			zap.String("recommendation", "bind to 127.0.0.1 or ::1 for localhost-only access"))
	case "127.0.0.1", "::1", "localhost":
		// Localhost only.
	default:
		logger.Warn("MCP HTTP transport binding to non-localhost address - this is INSECURE",
			zap.String("addr", addr),
			zap.String("recommendation", "bind to 127.0.0.1 or ::1 for localhost-only access"))
	}
}
