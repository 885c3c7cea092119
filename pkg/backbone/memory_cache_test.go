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

package backbone

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oneagent-io/oneagent/pkg/fault"
)

func newTestCache(t *testing.T) (*MemoryCache, *FakeClock) {
	t.Helper()
	clock := NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	cache, err := NewMemoryCache(clock, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, clock
}

func TestMemoryCache_SetGetDelete(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	_, found, err := cache.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), 0))
	val, found, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, cache.Delete(ctx, "k"))
	_, found, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting an absent key is a no-op.
	require.NoError(t, cache.Delete(ctx, "k"))
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	cache, clock := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), time.Minute))

	_, found, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)

	clock.Advance(time.Minute + time.Millisecond)
	_, found, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found, "expired key must read as absent")
}

func TestMemoryCache_ExpireUpdatesTTL(t *testing.T) {
	cache, clock := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, cache.Expire(ctx, "k", time.Hour))

	clock.Advance(30 * time.Minute)
	_, found, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found, "extended key must still be live")

	err = cache.Expire(ctx, "nope", time.Minute)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestMemoryCache_GetOrCreate(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	var calls atomic.Int32
	create := func() ([]byte, error) {
		calls.Add(1)
		return []byte("made"), nil
	}

	val, created, err := cache.GetOrCreate(ctx, "k", 0, create)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []byte("made"), val)

	val, created, err = cache.GetOrCreate(ctx, "k", 0, create)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []byte("made"), val)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMemoryCache_GetOrCreateConcurrent(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	var calls atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := cache.GetOrCreate(ctx, "shared", 0, func() ([]byte, error) {
				calls.Add(1)
				return []byte("once"), nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load(), "create must run exactly once")
}

func TestMemoryCache_UpdateIf(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	// nil expected creates when absent.
	swapped, err := cache.UpdateIf(ctx, "cnt", nil, []byte("0"))
	require.NoError(t, err)
	assert.True(t, swapped)

	// nil expected fails when present.
	swapped, err = cache.UpdateIf(ctx, "cnt", nil, []byte("9"))
	require.NoError(t, err)
	assert.False(t, swapped)

	// Wrong expected value fails without error.
	swapped, err = cache.UpdateIf(ctx, "cnt", []byte("5"), []byte("6"))
	require.NoError(t, err)
	assert.False(t, swapped)

	// Matching expected value swaps.
	swapped, err = cache.UpdateIf(ctx, "cnt", []byte("0"), []byte("1"))
	require.NoError(t, err)
	assert.True(t, swapped)

	val, _, err := cache.Get(ctx, "cnt")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), val)

	// Absent key with non-nil expected fails without error.
	swapped, err = cache.UpdateIf(ctx, "other", []byte("x"), []byte("y"))
	require.NoError(t, err)
	assert.False(t, swapped)
}

func TestMemoryCache_UpdateIfPreservesTTL(t *testing.T) {
	cache, clock := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte("a"), time.Hour))
	swapped, err := cache.UpdateIf(ctx, "k", []byte("a"), []byte("b"))
	require.NoError(t, err)
	require.True(t, swapped)

	clock.Advance(59 * time.Minute)
	val, found, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("b"), val)

	clock.Advance(2 * time.Minute)
	_, found, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found, "original expiry must survive the swap")
}

func TestMemoryCache_Sets(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SetAdd(ctx, "s", "a", "b"))
	require.NoError(t, cache.SetAdd(ctx, "s", "b", "c"))

	members, err := cache.SetMembers(ctx, "s")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, members)

	require.NoError(t, cache.SetRemove(ctx, "s", "a"))
	members, err = cache.SetMembers(ctx, "s")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "c"}, members)

	members, err = cache.SetMembers(ctx, "absent")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestMemoryCache_Lists(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, cache.ListAppend(ctx, "l", []byte{byte('a' + i)}, 0))
	}
	n, err := cache.ListLen(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	all, err := cache.ListRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, []byte("a"), all[0])
	assert.Equal(t, []byte("e"), all[4])

	tail, err := cache.ListRange(ctx, "l", -2, -1)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, []byte("d"), tail[0])
}

func TestMemoryCache_ListTrimOldest(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, cache.ListAppend(ctx, "l", []byte(fmt.Sprintf("%d", i)), 3))
	}
	n, err := cache.ListLen(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	vals, err := cache.ListRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("7"), []byte("8"), []byte("9")}, vals)
}

func TestMemoryCache_ListByPrefix(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "session:a", []byte("1"), 0))
	require.NoError(t, cache.Set(ctx, "session:b", []byte("2"), 0))
	require.NoError(t, cache.Set(ctx, "agent:x", []byte("3"), 0))

	got, err := cache.ListByPrefix(ctx, "session:")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, []byte("1"), got["session:a"])
	assert.Equal(t, []byte("2"), got["session:b"])
}

func TestMemoryCache_Namespace(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	ns := cache.Namespace("tenant1")
	require.NoError(t, ns.Set(ctx, "k", []byte("v"), 0))

	// Visible through the parent under the prefixed key only.
	val, found, err := cache.Get(ctx, "tenant1:k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v"), val)

	_, found, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	got, err := ns.ListByPrefix(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got["k"])
}

func TestMemoryCache_CompressionRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	big := bytes.Repeat([]byte("oneagent "), 1024)
	require.GreaterOrEqual(t, len(big), CompressionThreshold)

	require.NoError(t, cache.Set(ctx, "big", big, 0))
	val, found, err := cache.Get(ctx, "big")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, big, val)

	// The stored entry should actually be compressed.
	e, ok := cache.shard("big").data["big"]
	require.True(t, ok)
	assert.True(t, e.val.zstd)
	assert.Less(t, len(e.val.b), len(big))
}

func TestMemoryCache_WrongShapeConflicts(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), 0))
	err := cache.SetAdd(ctx, "k", "m")
	assert.Equal(t, fault.KindConflict, fault.KindOf(err))

	err = cache.ListAppend(ctx, "k", []byte("x"), 0)
	assert.Equal(t, fault.KindConflict, fault.KindOf(err))

	require.NoError(t, cache.SetAdd(ctx, "s", "m"))
	_, _, err = cache.Get(ctx, "s")
	assert.Equal(t, fault.KindConflict, fault.KindOf(err))
}

func TestMemoryCache_Sweep(t *testing.T) {
	cache, clock := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, cache.Set(ctx, "b", []byte("2"), 0))

	clock.Advance(2 * time.Minute)
	cache.sweep()

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Keys)
	assert.GreaterOrEqual(t, stats.Evictions, int64(1))
}

func TestMemoryCache_ClosedIsUnavailable(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	cache, err := NewMemoryCache(clock, time.Hour)
	require.NoError(t, err)
	require.NoError(t, cache.Close())

	_, _, err = cache.Get(context.Background(), "k")
	assert.Equal(t, fault.KindBackendUnavailable, fault.KindOf(err))

	// Double close is safe.
	assert.NoError(t, cache.Close())
}
