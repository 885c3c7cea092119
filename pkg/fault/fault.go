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

// Package fault defines the stable error kinds shared by every OneAgent
// component. Errors are values: handlers return them, transports map them
// to JSON-RPC codes or HTTP statuses, and clients see the kind in the
// error data without ever seeing a stack trace.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable, wire-visible error category. Kinds never change once
// released; new failure modes get new kinds.
type Kind string

const (
	// KindParseError indicates malformed JSON at the protocol layer.
	KindParseError Kind = "parse_error"
	// KindInvalidRequest indicates a schema violation at the protocol layer.
	KindInvalidRequest Kind = "invalid_request"
	// KindMethodNotFound indicates an unknown JSON-RPC method or tool name.
	KindMethodNotFound Kind = "method_not_found"
	// KindInvalidParams indicates parameters that fail schema validation.
	KindInvalidParams Kind = "invalid_params"
	// KindOriginBlocked indicates the Origin header matched no allow pattern.
	KindOriginBlocked Kind = "origin_blocked"
	// KindOriginRequired indicates a missing Origin header when one is required.
	KindOriginRequired Kind = "origin_required"
	// KindSessionNotFound indicates an unknown Mcp-Session-Id.
	KindSessionNotFound Kind = "session_not_found"
	// KindSessionExpired indicates a session past its idle timeout.
	KindSessionExpired Kind = "session_expired"
	// KindSequenceContention indicates the event log optimistic lock was
	// exhausted after the bounded retry budget.
	KindSequenceContention Kind = "sequence_contention"
	// KindQueueFull indicates subscriber or session backpressure.
	KindQueueFull Kind = "queue_full"
	// KindSchemaConflict indicates a tool re-registration with a different schema.
	KindSchemaConflict Kind = "schema_conflict"
	// KindLLMUnavailable indicates the LLM collaborator failed or is unreachable.
	KindLLMUnavailable Kind = "llm_unavailable"
	// KindMemoryUnavailable indicates the memory collaborator failed.
	KindMemoryUnavailable Kind = "memory_unavailable"
	// KindInvalidConfidence indicates an insight confidence outside [0,1].
	KindInvalidConfidence Kind = "invalid_confidence"
	// KindUnknownLastEvent is a warning kind: replay was asked to resume from
	// an event id that is no longer (or never was) in the buffer.
	KindUnknownLastEvent Kind = "unknown_last_event"
	// KindNotFound indicates a missing record in a store.
	KindNotFound Kind = "not_found"
	// KindConflict indicates an optimistic concurrency or uniqueness conflict.
	KindConflict Kind = "conflict"
	// KindBackendUnavailable indicates a storage backend that cannot be reached.
	KindBackendUnavailable Kind = "backend_unavailable"
	// KindInternal is the catch-all for unexpected failures.
	KindInternal Kind = "internal"
)

// JSON-RPC error codes. The -32000..-32099 range is reserved for
// implementation-defined server errors; session and origin failures live there.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeOriginBlocked   = -32001
	CodeOriginRequired  = -32002
	CodeSessionNotFound = -32003
	CodeSessionExpired  = -32004
)

// Error is the concrete error type carried across component boundaries.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Err       error // wrapped cause, never serialized
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with the given kind and message. Retryability is
// derived from the kind table and can be overridden with SetRetryable.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: kindRetryable(kind)}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap creates an Error that records err as its cause.
func Wrap(kind Kind, err error, message string) *Error {
	e := New(kind, message)
	e.Err = err
	return e
}

// SetRetryable overrides the kind-derived retryability and returns the error.
func (e *Error) SetRetryable(v bool) *Error {
	e.Retryable = v
	return e
}

// KindOf extracts the Kind from any error. Non-fault errors map to
// KindInternal; nil maps to the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the client may usefully retry the failed call.
func Retryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

func kindRetryable(kind Kind) bool {
	switch kind {
	case KindSequenceContention, KindQueueFull, KindLLMUnavailable,
		KindMemoryUnavailable, KindBackendUnavailable:
		return true
	}
	return false
}

// JSONRPCCode maps a kind to its JSON-RPC error code.
func JSONRPCCode(kind Kind) int {
	switch kind {
	case KindParseError:
		return CodeParseError
	case KindInvalidRequest:
		return CodeInvalidRequest
	case KindMethodNotFound:
		return CodeMethodNotFound
	case KindInvalidParams:
		return CodeInvalidParams
	case KindOriginBlocked:
		return CodeOriginBlocked
	case KindOriginRequired:
		return CodeOriginRequired
	case KindSessionNotFound:
		return CodeSessionNotFound
	case KindSessionExpired:
		return CodeSessionExpired
	default:
		return CodeInternalError
	}
}

// HTTPStatus maps a kind to the HTTP status used when the failure occurs
// before (or outside) JSON-RPC framing. Kinds carried inside a JSON-RPC
// error frame ride on a 200 response and do not use this mapping.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindOriginBlocked, KindOriginRequired:
		return http.StatusForbidden
	case KindSessionNotFound, KindNotFound:
		return http.StatusNotFound
	case KindSessionExpired:
		return http.StatusGone
	case KindParseError, KindInvalidRequest, KindInvalidParams:
		return http.StatusBadRequest
	case KindQueueFull:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
