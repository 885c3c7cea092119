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

package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	err := New(KindSessionNotFound, "no such session")
	assert.Equal(t, "session_not_found: no such session", err.Error())

	wrapped := Wrap(KindBackendUnavailable, errors.New("dial tcp: refused"), "redis ping")
	assert.Contains(t, wrapped.Error(), "backend_unavailable")
	assert.Contains(t, wrapped.Error(), "dial tcp: refused")
}

func TestKindOf(t *testing.T) {
	err := Newf(KindSchemaConflict, "tool %q already registered", "echo")
	assert.Equal(t, KindSchemaConflict, KindOf(err))
	assert.True(t, IsKind(err, KindSchemaConflict))

	// Kind survives fmt wrapping.
	outer := fmt.Errorf("register: %w", err)
	assert.Equal(t, KindSchemaConflict, KindOf(outer))

	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestRetryableDefaults(t *testing.T) {
	assert.True(t, Retryable(New(KindSequenceContention, "lock exhausted")))
	assert.True(t, Retryable(New(KindQueueFull, "session queue full")))
	assert.True(t, Retryable(New(KindLLMUnavailable, "provider down")))
	assert.False(t, Retryable(New(KindSchemaConflict, "schema changed")))
	assert.False(t, Retryable(New(KindOriginBlocked, "denied")))

	// Explicit override wins.
	err := New(KindInternal, "transient").SetRetryable(true)
	assert.True(t, Retryable(err))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindBackendUnavailable, cause, "postgres query")
	require.True(t, errors.Is(err, cause))
}

func TestJSONRPCCodeMapping(t *testing.T) {
	assert.Equal(t, CodeParseError, JSONRPCCode(KindParseError))
	assert.Equal(t, CodeInvalidRequest, JSONRPCCode(KindInvalidRequest))
	assert.Equal(t, CodeMethodNotFound, JSONRPCCode(KindMethodNotFound))
	assert.Equal(t, CodeInvalidParams, JSONRPCCode(KindInvalidParams))
	assert.Equal(t, CodeSessionNotFound, JSONRPCCode(KindSessionNotFound))
	assert.Equal(t, CodeSessionExpired, JSONRPCCode(KindSessionExpired))
	assert.Equal(t, CodeInternalError, JSONRPCCode(KindQueueFull))
	assert.Equal(t, CodeInternalError, JSONRPCCode(KindSchemaConflict))
	assert.Equal(t, CodeInternalError, JSONRPCCode(KindInvalidConfidence))
}

func TestHTTPStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, HTTPStatus(KindOriginBlocked))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(KindOriginRequired))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindSessionNotFound))
	assert.Equal(t, http.StatusGone, HTTPStatus(KindSessionExpired))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(KindQueueFull))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindInternal))
}
