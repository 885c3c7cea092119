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

package session

import (
	"context"
	"time"
)

// SessionStorage is the backend-agnostic interface for session records.
// Implementations include the cache-backed default (CacheStore) and the
// SQL store (SQLStore, SQLite or PostgreSQL). All operations must be safe
// for concurrent use. Time always arrives as an argument; storage never
// reads a clock of its own.
type SessionStorage interface {
	// Create persists a new session; a duplicate id is a conflict.
	Create(ctx context.Context, s *Session) error

	// Get returns the session or nil when absent. Absence is not an error.
	Get(ctx context.Context, id string) (*Session, error)

	// Update applies a partial patch and returns the updated record.
	// A missing session is a not_found fault.
	Update(ctx context.Context, id string, patch Patch) (*Session, error)

	// Delete removes the session record. Absent ids are a no-op.
	Delete(ctx context.Context, id string) error

	// ListActive returns sessions currently in StateActive.
	ListActive(ctx context.Context) ([]*Session, error)

	// CleanupExpired transitions ACTIVE sessions whose deadline has passed
	// at now into StateExpired and returns how many it moved.
	CleanupExpired(ctx context.Context, now time.Time) (int, error)

	// Close releases backend resources.
	Close() error
}

// EventLog is the backend-agnostic interface for per-session event
// buffers. AddEvent assigns the sequence number; buffers are circular
// per (session, stream) with the configured capacity, and events age out
// by TTL independent of buffer pressure.
type EventLog interface {
	// AddEvent assigns e.Sequence and persists e. Contention on the
	// sequence counter beyond the bounded retry budget surfaces as a
	// sequence_contention fault.
	AddEvent(ctx context.Context, e *Event) error

	// EventsAfter returns events on (sessionID, streamID) with a sequence
	// strictly greater than that of lastEventID, in sequence order. An
	// empty lastEventID returns the whole buffer. An unknown lastEventID
	// returns the whole buffer plus an "unknown_last_event" warning.
	EventsAfter(ctx context.Context, sessionID, streamID, lastEventID string) ([]*Event, []string, error)

	// ClearSession removes all events and counters for a session.
	ClearSession(ctx context.Context, sessionID string) error

	// CleanupOld drops events older than ttl at now and returns the count.
	CleanupOld(ctx context.Context, ttl time.Duration, now time.Time) (int, error)

	// Close releases backend resources.
	Close() error
}

// Compile-time checks: both backends implement both interfaces.
var (
	_ SessionStorage = (*CacheStore)(nil)
	_ EventLog       = (*CacheEventLog)(nil)
	_ SessionStorage = (*SQLStore)(nil)
	_ EventLog       = (*SQLStore)(nil)
)
