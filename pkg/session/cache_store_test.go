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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oneagent-io/oneagent/pkg/backbone"
	"github.com/oneagent-io/oneagent/pkg/fault"
)

func newTestCacheStore(t *testing.T) (*CacheStore, *backbone.FakeClock) {
	t.Helper()
	clock := backbone.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	cache, err := backbone.NewMemoryCache(clock, 0)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, cache.Close()) })
	return NewCacheStore(cache), clock
}

func activeSession(id string, now time.Time) *Session {
	return &Session{
		ID:              id,
		ProtocolVersion: "2025-06-18",
		CreatedAt:       now,
		LastActivity:    now,
		ExpiresAt:       now.Add(30 * time.Minute),
		State:           StateActive,
	}
}

func TestCacheStoreCreateDuplicate(t *testing.T) {
	store, clock := newTestCacheStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, activeSession("s-1", clock.Now())))
	err := store.Create(ctx, activeSession("s-1", clock.Now()))
	assert.Equal(t, fault.KindConflict, fault.KindOf(err))
}

func TestCacheStoreUpdateMovesStateSets(t *testing.T) {
	store, clock := newTestCacheStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, activeSession("s-1", clock.Now())))

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	expired := StateExpired
	updated, err := store.Update(ctx, "s-1", Patch{State: &expired})
	require.NoError(t, err)
	assert.Equal(t, StateExpired, updated.State)

	active, err = store.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StateExpired, got.State)
}

func TestCacheStoreUpdateMissing(t *testing.T) {
	store, _ := newTestCacheStore(t)

	state := StateExpired
	_, err := store.Update(context.Background(), "nope", Patch{State: &state})
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestCacheStorePatchMergesMetadata(t *testing.T) {
	store, clock := newTestCacheStore(t)
	ctx := context.Background()

	s := activeSession("s-1", clock.Now())
	s.Metadata = map[string]string{"a": "1"}
	require.NoError(t, store.Create(ctx, s))

	updated, err := store.Update(ctx, "s-1", Patch{Metadata: map[string]string{"b": "2"}})
	require.NoError(t, err)
	assert.Equal(t, "1", updated.Metadata["a"])
	assert.Equal(t, "2", updated.Metadata["b"])
}

func TestCacheStoreDelete(t *testing.T) {
	store, clock := newTestCacheStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, activeSession("s-1", clock.Now())))
	require.NoError(t, store.Delete(ctx, "s-1"))

	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// Deleting an absent session is a no-op.
	require.NoError(t, store.Delete(ctx, "s-1"))
}

func TestCacheStoreCleanupExpired(t *testing.T) {
	store, clock := newTestCacheStore(t)
	ctx := context.Background()

	stale := activeSession("stale", clock.Now())
	stale.ExpiresAt = clock.Now().Add(time.Minute)
	require.NoError(t, store.Create(ctx, stale))

	fresh := activeSession("fresh", clock.Now())
	fresh.ExpiresAt = clock.Now().Add(time.Hour)
	require.NoError(t, store.Create(ctx, fresh))

	count, err := store.CleanupExpired(ctx, clock.Now().Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "fresh", active[0].ID)
}

func newTestEventLog(t *testing.T, maxPerStream int) (*CacheEventLog, *backbone.FakeClock) {
	t.Helper()
	clock := backbone.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	cache, err := backbone.NewMemoryCache(clock, 0)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, cache.Close()) })
	return NewCacheEventLog(cache, maxPerStream), clock
}

func addTestEvent(t *testing.T, log *CacheEventLog, id, sid, stream string, at time.Time) *Event {
	t.Helper()
	e := &Event{
		ID:        id,
		SessionID: sid,
		StreamID:  stream,
		Timestamp: at,
		Type:      EventResponse,
		Payload:   json.RawMessage(`{}`),
	}
	require.NoError(t, log.AddEvent(context.Background(), e))
	return e
}

func TestCacheEventLogSequencesPerStream(t *testing.T) {
	log, clock := newTestEventLog(t, 0)

	a := addTestEvent(t, log, "e-1", "s", "stream-a", clock.Now())
	b := addTestEvent(t, log, "e-2", "s", "stream-a", clock.Now())
	c := addTestEvent(t, log, "e-3", "s", "stream-b", clock.Now())

	assert.Equal(t, int64(0), a.Sequence)
	assert.Equal(t, int64(1), b.Sequence)
	assert.Equal(t, int64(0), c.Sequence)
}

func TestCacheEventLogUnknownLastEvent(t *testing.T) {
	log, clock := newTestEventLog(t, 0)
	ctx := context.Background()

	addTestEvent(t, log, "e-1", "s", "stream", clock.Now())
	addTestEvent(t, log, "e-2", "s", "stream", clock.Now())

	events, warnings, err := log.EventsAfter(ctx, "s", "stream", "e-404")
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, "unknown_last_event", warnings[0])
	assert.Len(t, events, 2)
}

func TestCacheEventLogClearSessionResetsSequence(t *testing.T) {
	log, clock := newTestEventLog(t, 0)
	ctx := context.Background()

	addTestEvent(t, log, "e-1", "s", "stream", clock.Now())
	addTestEvent(t, log, "e-2", "s", "stream", clock.Now())
	require.NoError(t, log.ClearSession(ctx, "s"))

	events, _, err := log.EventsAfter(ctx, "s", "stream", "")
	require.NoError(t, err)
	assert.Empty(t, events)

	e := addTestEvent(t, log, "e-3", "s", "stream", clock.Now())
	assert.Equal(t, int64(0), e.Sequence)
}

func TestCacheEventLogCleanupOld(t *testing.T) {
	log, clock := newTestEventLog(t, 0)
	ctx := context.Background()

	addTestEvent(t, log, "old-1", "s", "stream", clock.Now())
	addTestEvent(t, log, "old-2", "s", "stream", clock.Now())
	clock.Advance(2 * time.Hour)
	keep := addTestEvent(t, log, "new-1", "s", "stream", clock.Now())

	dropped, err := log.CleanupOld(ctx, time.Hour, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, dropped)

	events, _, err := log.EventsAfter(ctx, "s", "stream", "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, keep.ID, events[0].ID)
	// The sequence survives cleanup; ordering never restarts mid-session.
	assert.Equal(t, int64(2), events[0].Sequence)
}
