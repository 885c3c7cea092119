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
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oneagent-io/oneagent/pkg/fault"
)

func newTestSQLStore(t *testing.T, maxPerStream int) *SQLStore {
	t.Helper()
	store, err := NewSQLStore("sqlite", filepath.Join(t.TempDir(), "sessions.db"), maxPerStream)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func TestSQLStoreUnsupportedDriver(t *testing.T) {
	_, err := NewSQLStore("oracle", "dsn", 0)
	assert.Equal(t, fault.KindInvalidParams, fault.KindOf(err))
}

func TestSQLStoreSessionRoundTrip(t *testing.T) {
	store := newTestSQLStore(t, 0)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	sess := &Session{
		ID:              "s-1",
		ClientID:        "client-1",
		Origin:          "https://app.example.com",
		ProtocolVersion: "2025-06-18",
		Capabilities:    map[string]interface{}{"tools": map[string]interface{}{"listChanged": true}},
		CreatedAt:       now,
		LastActivity:    now,
		ExpiresAt:       now.Add(30 * time.Minute),
		State:           StateActive,
		Metadata:        map[string]string{"ua": "test"},
	}
	require.NoError(t, store.Create(ctx, sess))

	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sess.ClientID, got.ClientID)
	assert.Equal(t, sess.Origin, got.Origin)
	assert.Equal(t, sess.ProtocolVersion, got.ProtocolVersion)
	assert.Equal(t, sess.CreatedAt, got.CreatedAt)
	assert.Equal(t, sess.ExpiresAt, got.ExpiresAt)
	assert.Equal(t, StateActive, got.State)
	assert.Equal(t, "test", got.Metadata["ua"])
	require.Contains(t, got.Capabilities, "tools")

	missing, err := store.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = store.Create(ctx, sess)
	assert.Equal(t, fault.KindConflict, fault.KindOf(err))
}

func TestSQLStoreUpdate(t *testing.T) {
	store := newTestSQLStore(t, 0)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, store.Create(ctx, activeSession("s-1", now)))

	later := now.Add(5 * time.Minute)
	deadline := later.Add(30 * time.Minute)
	updated, err := store.Update(ctx, "s-1", Patch{
		LastActivity:     &later,
		ExpiresAt:        &deadline,
		BumpEventCounter: true,
		Metadata:         map[string]string{"k": "v"},
	})
	require.NoError(t, err)
	assert.Equal(t, later, updated.LastActivity)
	assert.Equal(t, deadline, updated.ExpiresAt)
	assert.Equal(t, int64(1), updated.EventCounter)
	assert.Equal(t, "v", updated.Metadata["k"])

	_, err = store.Update(ctx, "nope", Patch{})
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestSQLStoreListActiveAndCleanup(t *testing.T) {
	store := newTestSQLStore(t, 0)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	stale := activeSession("stale", now)
	stale.ExpiresAt = now.Add(time.Minute)
	require.NoError(t, store.Create(ctx, stale))

	fresh := activeSession("fresh", now.Add(time.Second))
	fresh.ExpiresAt = now.Add(time.Hour)
	require.NoError(t, store.Create(ctx, fresh))

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "stale", active[0].ID)

	count, err := store.CleanupExpired(ctx, now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	active, err = store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "fresh", active[0].ID)

	got, err := store.Get(ctx, "stale")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StateExpired, got.State)
}

func TestSQLStoreEventLog(t *testing.T) {
	store := newTestSQLStore(t, 3)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	var ids []string
	for i := 0; i < 5; i++ {
		e := &Event{
			ID:        "e-" + string(rune('a'+i)),
			SessionID: "s-1",
			StreamID:  "stream",
			Timestamp: now.Add(time.Duration(i) * time.Second),
			Type:      EventResponse,
			Payload:   json.RawMessage(`{"n":1}`),
		}
		require.NoError(t, store.AddEvent(ctx, e))
		assert.Equal(t, int64(i), e.Sequence)
		ids = append(ids, e.ID)
	}

	// Capacity 3 keeps only the newest three.
	events, warnings, err := store.EventsAfter(ctx, "s-1", "stream", "")
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, events, 3)
	assert.Equal(t, int64(2), events[0].Sequence)
	assert.Equal(t, json.RawMessage(`{"n":1}`), events[0].Payload)

	tail, warnings, err := store.EventsAfter(ctx, "s-1", "stream", ids[3])
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, tail, 1)
	assert.Equal(t, ids[4], tail[0].ID)

	full, warnings, err := store.EventsAfter(ctx, "s-1", "stream", "e-404")
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, "unknown_last_event", warnings[0])
	assert.Len(t, full, 3)
}

func TestSQLStoreClearAndCleanupEvents(t *testing.T) {
	store := newTestSQLStore(t, 0)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.AddEvent(ctx, &Event{
			ID: "a-" + string(rune('0'+i)), SessionID: "s-1", StreamID: "x",
			Timestamp: now, Type: EventResponse,
		}))
	}
	require.NoError(t, store.AddEvent(ctx, &Event{
		ID: "b-0", SessionID: "s-2", StreamID: "x",
		Timestamp: now.Add(2 * time.Hour), Type: EventResponse,
	}))

	dropped, err := store.CleanupOld(ctx, time.Hour, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, dropped)

	require.NoError(t, store.ClearSession(ctx, "s-2"))
	events, _, err := store.EventsAfter(ctx, "s-2", "x", "")
	require.NoError(t, err)
	assert.Empty(t, events)
}
