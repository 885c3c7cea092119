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

// Package protocol implements the JSON-RPC 2.0 framing and the MCP
// 2025-06-18 wire types shared by the engine and both transports.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oneagent-io/oneagent/pkg/fault"
)

// JSONRPCVersion is the required version string for JSON-RPC 2.0.
const JSONRPCVersion = "2.0"

// Request is a JSON-RPC 2.0 request or notification. A nil ID marks a
// notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RequestID is a string or number per JSON-RPC 2.0.
type RequestID struct {
	Str *string
	Num *int64
}

// MarshalJSON implements json.Marshaler.
func (r *RequestID) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	if r.Str != nil {
		return json.Marshal(r.Str)
	}
	if r.Num != nil {
		return json.Marshal(r.Num)
	}
	return []byte("null"), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *RequestID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.Str = &s
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		r.Num = &n
		return nil
	}
	if string(data) == "null" {
		return nil
	}
	return fmt.Errorf("invalid request ID: %s", data)
}

// String renders the ID for logs.
func (r *RequestID) String() string {
	if r == nil {
		return "null"
	}
	if r.Str != nil {
		return *r.Str
	}
	if r.Num != nil {
		return fmt.Sprintf("%d", *r.Num)
	}
	return "null"
}

// NewStringRequestID creates a RequestID from a string.
func NewStringRequestID(s string) *RequestID {
	return &RequestID{Str: &s}
}

// NewNumericRequestID creates a RequestID from a number.
func NewNumericRequestID(n int64) *RequestID {
	return &RequestID{Num: &n}
}

// Response is a JSON-RPC 2.0 response. Exactly one of Result and Error
// is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Standard JSON-RPC error codes. The -32000..-32099 range is reserved
// for implementation-defined server errors; session and origin failures
// live there (see pkg/fault).
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
	ServerError    = -32000
)

// NewError creates a JSON-RPC error with optional structured data.
func NewError(code int, message string, data interface{}) *Error {
	e := &Error{Code: code, Message: message}
	if data != nil {
		raw, err := json.Marshal(data)
		if err == nil {
			e.Data = raw
		}
	}
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("JSON-RPC error %d: %s (data: %s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// ErrorData is the data member carried on error frames. Kind is the
// stable fault kind; Retryable tells the client whether a retry can
// succeed. Stack traces never appear here.
type ErrorData struct {
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ErrorFrom converts any handler error into a JSON-RPC error. Fault
// errors keep their kind-derived code and advertise retryability;
// *Error values pass through unchanged; anything else becomes an
// internal error with no detail beyond its message.
func ErrorFrom(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	var fe *fault.Error
	if errors.As(err, &fe) {
		return NewError(fault.JSONRPCCode(fe.Kind), fe.Message, &ErrorData{
			Kind:      string(fe.Kind),
			Retryable: fe.Retryable,
		})
	}
	return NewError(InternalError, err.Error(), nil)
}

// MarshalResponse builds a response frame for id carrying either result
// or rpcErr.
func MarshalResponse(id *RequestID, result interface{}, rpcErr *Error) ([]byte, error) {
	resp := Response{JSONRPC: JSONRPCVersion, ID: id, Error: rpcErr}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		resp.Result = raw
	}
	return json.Marshal(&resp)
}

// MarshalNotification builds a notification frame (no id).
func MarshalNotification(method string, params interface{}) ([]byte, error) {
	msg := struct {
		JSONRPC string      `json:"jsonrpc"`
		Method  string      `json:"method"`
		Params  interface{} `json:"params,omitempty"`
	}{JSONRPC: JSONRPCVersion, Method: method, Params: params}
	return json.Marshal(msg)
}
