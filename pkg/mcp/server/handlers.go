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
	"encoding/json"

	"go.uber.org/zap"

	"github.com/oneagent-io/oneagent/pkg/fault"
	"github.com/oneagent-io/oneagent/pkg/mcp/protocol"
	"github.com/oneagent-io/oneagent/pkg/session"
)

// handleInitialize negotiates the protocol version and binds a session.
// Transports without a bound session get a fresh one (echoed via the
// Mcp-Session-Id header); the stdio transport arrives with its implicit
// session, which is claimed on first initialize. A second initialize
// asking for a different protocol version is rejected.
func (e *Engine) handleInitialize(ctx context.Context, call *Call, params json.RawMessage) (interface{}, error) {
	var initParams protocol.InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &initParams); err != nil {
			return nil, fault.Wrap(fault.KindInvalidParams, err, "invalid initialize params")
		}
	}
	negotiated := protocol.NegotiateVersion(initParams.ProtocolVersion)

	if call.Session != nil {
		// Re-initialize on an existing session: the negotiated version
		// must not change.
		if call.Session.ProtocolVersion != "" && call.Session.ProtocolVersion != negotiated {
			return nil, fault.Newf(fault.KindInvalidRequest,
				"session already negotiated protocol version %s", call.Session.ProtocolVersion)
		}
		clientID := initParams.ClientInfo.Name
		updated, err := e.sessions.Update(ctx, call.Session.ID, session.Patch{
			ClientID:        &clientID,
			ProtocolVersion: &negotiated,
			Capabilities:    initParams.Capabilities,
		})
		if err != nil {
			return nil, err
		}
		call.Session = updated
	} else {
		sess, err := e.sessions.Create(ctx, initParams.ClientInfo.Name, call.Origin,
			negotiated, initParams.Capabilities, nil)
		if err != nil {
			return nil, err
		}
		call.CreatedSession = sess
	}

	if initParams.ClientInfo.Name != "" {
		e.logger.Info("client initialized",
			zap.String("client_name", initParams.ClientInfo.Name),
			zap.String("client_version", initParams.ClientInfo.Version),
			zap.String("protocol_version", negotiated),
			zap.String("session_id", session.MaskID(call.sessionID())))
	}

	return &protocol.InitializeResult{
		ProtocolVersion: negotiated,
		Capabilities:    e.capabilities,
		ServerInfo:      e.info,
	}, nil
}

// handleInitialized accepts the initialized notification.
func (e *Engine) handleInitialized(_ context.Context, _ *Call, _ json.RawMessage) (interface{}, error) {
	e.logger.Debug("client reported initialized")
	return nil, nil
}

// handlePing answers liveness probes.
func (e *Engine) handlePing(_ context.Context, _ *Call, _ json.RawMessage) (interface{}, error) {
	return struct{}{}, nil
}

// handleShutdown terminates the calling session and triggers the
// configured shutdown hook.
func (e *Engine) handleShutdown(ctx context.Context, call *Call, _ json.RawMessage) (interface{}, error) {
	if call.Session != nil {
		if err := e.sessions.Terminate(ctx, call.Session.ID); err != nil {
			if !fault.IsKind(err, fault.KindSessionNotFound) {
				return nil, err
			}
		}
	}
	if e.shutdown != nil {
		e.shutdown()
	}
	return struct{}{}, nil
}

func (e *Engine) handleToolsList(ctx context.Context, _ *Call, _ json.RawMessage) (interface{}, error) {
	descs, err := e.registry.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"tools": descs}, nil
}

// handleToolsCall validates and dispatches a tool invocation on the
// shared registry path. Tool-level failures ride inside a successful
// response as isError content so the model can read them; protocol
// failures (unknown tool, invalid arguments) surface as JSON-RPC errors.
func (e *Engine) handleToolsCall(ctx context.Context, _ *Call, params json.RawMessage) (interface{}, error) {
	var callParams protocol.CallToolParams
	if err := json.Unmarshal(params, &callParams); err != nil {
		return nil, fault.Wrap(fault.KindInvalidParams, err, "invalid tool call params")
	}
	if callParams.Name == "" {
		return nil, fault.New(fault.KindInvalidParams, "tool name is required")
	}

	result, err := e.registry.Invoke(ctx, callParams.Name, callParams.Arguments)
	if err != nil {
		switch fault.KindOf(err) {
		case fault.KindMethodNotFound, fault.KindInvalidParams:
			return nil, err
		}
		return map[string]interface{}{
			"content": []map[string]string{{"type": "text", "text": err.Error()}},
			"isError": true,
		}, nil
	}
	return result, nil
}

func (e *Engine) handleResourcesList(ctx context.Context, _ *Call, _ json.RawMessage) (interface{}, error) {
	resources, err := e.registry.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"resources": resources}, nil
}

func (e *Engine) handleResourcesRead(ctx context.Context, _ *Call, params json.RawMessage) (interface{}, error) {
	var readParams protocol.ReadResourceParams
	if err := json.Unmarshal(params, &readParams); err != nil {
		return nil, fault.Wrap(fault.KindInvalidParams, err, "invalid resource read params")
	}
	if readParams.URI == "" {
		return nil, fault.New(fault.KindInvalidParams, "resource URI is required")
	}
	contents, err := e.registry.ReadResource(ctx, readParams.URI)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"contents": []interface{}{contents}}, nil
}

func (e *Engine) handlePromptsList(ctx context.Context, _ *Call, _ json.RawMessage) (interface{}, error) {
	prompts, err := e.registry.ListPrompts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"prompts": prompts}, nil
}

func (e *Engine) handlePromptsGet(ctx context.Context, _ *Call, params json.RawMessage) (interface{}, error) {
	var getParams protocol.GetPromptParams
	if err := json.Unmarshal(params, &getParams); err != nil {
		return nil, fault.Wrap(fault.KindInvalidParams, err, "invalid prompt get params")
	}
	if getParams.Name == "" {
		return nil, fault.New(fault.KindInvalidParams, "prompt name is required")
	}
	return e.registry.GetPrompt(ctx, getParams.Name, getParams.Arguments)
}
