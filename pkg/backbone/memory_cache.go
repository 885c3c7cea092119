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
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/oneagent-io/oneagent/pkg/fault"
)

// CompressionThreshold is the minimum value size in bytes that triggers
// transparent zstd compression at rest.
const CompressionThreshold = 1024

const shardCount = 64

type entryKind uint8

const (
	kindValue entryKind = iota
	kindSet
	kindList
)

func (k entryKind) String() string {
	switch k {
	case kindValue:
		return "value"
	case kindSet:
		return "set"
	case kindList:
		return "list"
	}
	return "unknown"
}

// blob is a stored byte value, possibly zstd-compressed.
type blob struct {
	b    []byte
	zstd bool
}

type entry struct {
	kind      entryKind
	val       blob
	set       map[string]struct{}
	list      []blob
	expiresAt time.Time // zero = never
}

type cacheShard struct {
	mu   sync.RWMutex
	data map[string]*entry
}

// MemoryCacheStats are cumulative counters for the in-process cache.
type MemoryCacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Keys      int64
	GCRuns    int64
}

// MemoryCache is the default in-process Cache. Keys are sharded across
// independent locks; values at or above CompressionThreshold are stored
// zstd-compressed when that actually shrinks them. Expiry is lazy on
// access plus a periodic sweep.
type MemoryCache struct {
	clock  Clock
	shards [shardCount]*cacheShard

	// Reusable, thread-safe encoder/decoder.
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	gcRuns    atomic.Int64

	gcInterval time.Duration
	stopGC     chan struct{}
	gcDone     chan struct{}
	closed     atomic.Bool
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates a MemoryCache sweeping expired keys every
// gcInterval (default 1 minute). A nil clock uses the system clock.
func NewMemoryCache(clock Clock, gcInterval time.Duration) (*MemoryCache, error) {
	if clock == nil {
		clock = SystemClock()
	}
	if gcInterval <= 0 {
		gcInterval = time.Minute
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "create zstd encoder")
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "create zstd decoder")
	}

	c := &MemoryCache{
		clock:      clock,
		encoder:    encoder,
		decoder:    decoder,
		gcInterval: gcInterval,
		stopGC:     make(chan struct{}),
		gcDone:     make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &cacheShard{data: make(map[string]*entry)}
	}
	go c.gcLoop()
	return c, nil
}

func (c *MemoryCache) shard(key string) *cacheShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

func (c *MemoryCache) expired(e *entry) bool {
	return !e.expiresAt.IsZero() && !c.clock.Now().Before(e.expiresAt)
}

// live returns the entry at key or nil, deleting it when expired.
// Caller must hold the shard write lock.
func (c *MemoryCache) live(s *cacheShard, key string) *entry {
	e, ok := s.data[key]
	if !ok {
		return nil
	}
	if c.expired(e) {
		delete(s.data, key)
		c.evictions.Add(1)
		return nil
	}
	return e
}

func (c *MemoryCache) compress(value []byte) blob {
	if len(value) >= CompressionThreshold {
		compressed := c.encoder.EncodeAll(value, nil)
		if len(compressed) < len(value) {
			return blob{b: compressed, zstd: true}
		}
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	return blob{b: cp}
}

func (c *MemoryCache) decompress(b blob) ([]byte, error) {
	if !b.zstd {
		cp := make([]byte, len(b.b))
		copy(cp, b.b)
		return cp, nil
	}
	out, err := c.decoder.DecodeAll(b.b, nil)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "zstd decode")
	}
	return out, nil
}

func (c *MemoryCache) checkOpen() error {
	if c.closed.Load() {
		return fault.New(fault.KindBackendUnavailable, "cache is closed")
	}
	return nil
}

func wrongKind(key string, have, want entryKind) error {
	return fault.Newf(fault.KindConflict, "key %q holds a %s, not a %s", key, have, want)
}

// Get implements Cache.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := c.checkOpen(); err != nil {
		return nil, false, err
	}
	s := c.shard(key)
	s.mu.Lock()
	e := c.live(s, key)
	if e == nil {
		s.mu.Unlock()
		c.misses.Add(1)
		return nil, false, nil
	}
	if e.kind != kindValue {
		s.mu.Unlock()
		return nil, false, wrongKind(key, e.kind, kindValue)
	}
	val := e.val
	s.mu.Unlock()

	c.hits.Add(1)
	out, err := c.decompress(val)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	e := &entry{kind: kindValue, val: c.compress(value)}
	if ttl > 0 {
		e.expiresAt = c.clock.Now().Add(ttl)
	}
	s := c.shard(key)
	s.mu.Lock()
	s.data[key] = e
	s.mu.Unlock()
	return nil
}

// Delete implements Cache.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	s := c.shard(key)
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

// GetOrCreate implements Cache. The create function runs under an
// internal lock and must not call back into the cache.
func (c *MemoryCache) GetOrCreate(ctx context.Context, key string, ttl time.Duration, create func() ([]byte, error)) ([]byte, bool, error) {
	if err := c.checkOpen(); err != nil {
		return nil, false, err
	}
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := c.live(s, key); e != nil {
		if e.kind != kindValue {
			return nil, false, wrongKind(key, e.kind, kindValue)
		}
		c.hits.Add(1)
		out, err := c.decompress(e.val)
		return out, false, err
	}

	value, err := create()
	if err != nil {
		return nil, false, err
	}
	e := &entry{kind: kindValue, val: c.compress(value)}
	if ttl > 0 {
		e.expiresAt = c.clock.Now().Add(ttl)
	}
	s.data[key] = e
	c.misses.Add(1)

	cp := make([]byte, len(value))
	copy(cp, value)
	return cp, true, nil
}

// UpdateIf implements Cache.
func (c *MemoryCache) UpdateIf(ctx context.Context, key string, expected, next []byte) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := c.live(s, key)
	if expected == nil {
		if e != nil {
			return false, nil
		}
		s.data[key] = &entry{kind: kindValue, val: c.compress(next)}
		return true, nil
	}
	if e == nil {
		return false, nil
	}
	if e.kind != kindValue {
		return false, wrongKind(key, e.kind, kindValue)
	}
	cur, err := c.decompress(e.val)
	if err != nil {
		return false, err
	}
	if !bytes.Equal(cur, expected) {
		return false, nil
	}
	e.val = c.compress(next)
	return true, nil
}

// Expire implements Cache. A non-positive ttl clears the expiry.
func (c *MemoryCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := c.live(s, key)
	if e == nil {
		return fault.Newf(fault.KindNotFound, "key %q not found", key)
	}
	if ttl > 0 {
		e.expiresAt = c.clock.Now().Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	return nil
}

// ListByPrefix implements Cache.
func (c *MemoryCache) ListByPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	out := make(map[string][]byte)
	for _, s := range c.shards {
		s.mu.Lock()
		for key, e := range s.data {
			if !strings.HasPrefix(key, prefix) || e.kind != kindValue {
				continue
			}
			if c.expired(e) {
				delete(s.data, key)
				c.evictions.Add(1)
				continue
			}
			val, err := c.decompress(e.val)
			if err != nil {
				s.mu.Unlock()
				return nil, err
			}
			out[key] = val
		}
		s.mu.Unlock()
	}
	return out, nil
}

// SetAdd implements Cache.
func (c *MemoryCache) SetAdd(ctx context.Context, key string, members ...string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := c.live(s, key)
	if e == nil {
		e = &entry{kind: kindSet, set: make(map[string]struct{})}
		s.data[key] = e
	}
	if e.kind != kindSet {
		return wrongKind(key, e.kind, kindSet)
	}
	for _, m := range members {
		e.set[m] = struct{}{}
	}
	return nil
}

// SetRemove implements Cache.
func (c *MemoryCache) SetRemove(ctx context.Context, key string, members ...string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := c.live(s, key)
	if e == nil {
		return nil
	}
	if e.kind != kindSet {
		return wrongKind(key, e.kind, kindSet)
	}
	for _, m := range members {
		delete(e.set, m)
	}
	if len(e.set) == 0 {
		delete(s.data, key)
	}
	return nil
}

// SetMembers implements Cache.
func (c *MemoryCache) SetMembers(ctx context.Context, key string) ([]string, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := c.live(s, key)
	if e == nil {
		return nil, nil
	}
	if e.kind != kindSet {
		return nil, wrongKind(key, e.kind, kindSet)
	}
	out := make([]string, 0, len(e.set))
	for m := range e.set {
		out = append(out, m)
	}
	return out, nil
}

// ListAppend implements Cache.
func (c *MemoryCache) ListAppend(ctx context.Context, key string, value []byte, max int) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := c.live(s, key)
	if e == nil {
		e = &entry{kind: kindList}
		s.data[key] = e
	}
	if e.kind != kindList {
		return wrongKind(key, e.kind, kindList)
	}
	e.list = append(e.list, c.compress(value))
	if max > 0 && len(e.list) > max {
		// Drop oldest; copy so the backing array does not pin dropped blobs.
		trimmed := make([]blob, max)
		copy(trimmed, e.list[len(e.list)-max:])
		e.list = trimmed
		c.evictions.Add(1)
	}
	return nil
}

// ListRange implements Cache. Indices follow list conventions where
// negative values count from the end (-1 is the last element).
func (c *MemoryCache) ListRange(ctx context.Context, key string, start, stop int) ([][]byte, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := c.live(s, key)
	if e == nil {
		return nil, nil
	}
	if e.kind != kindList {
		return nil, wrongKind(key, e.kind, kindList)
	}
	n := len(e.list)
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return nil, nil
	}
	out := make([][]byte, 0, stop-start+1)
	for _, b := range e.list[start : stop+1] {
		v, err := c.decompress(b)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ListLen implements Cache.
func (c *MemoryCache) ListLen(ctx context.Context, key string) (int, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := c.live(s, key)
	if e == nil {
		return 0, nil
	}
	if e.kind != kindList {
		return 0, wrongKind(key, e.kind, kindList)
	}
	return len(e.list), nil
}

// Namespace implements Cache.
func (c *MemoryCache) Namespace(prefix string) Cache {
	return NewNamespace(c, prefix)
}

// Close implements Cache.
func (c *MemoryCache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.stopGC)
	<-c.gcDone
	for _, s := range c.shards {
		s.mu.Lock()
		s.data = make(map[string]*entry)
		s.mu.Unlock()
	}
	return nil
}

// Stats returns cumulative counters.
func (c *MemoryCache) Stats() MemoryCacheStats {
	var keys int64
	for _, s := range c.shards {
		s.mu.RLock()
		keys += int64(len(s.data))
		s.mu.RUnlock()
	}
	return MemoryCacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Keys:      keys,
		GCRuns:    c.gcRuns.Load(),
	}
}

func (c *MemoryCache) gcLoop() {
	defer close(c.gcDone)
	ticker := time.NewTicker(c.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopGC:
			return
		}
	}
}

func (c *MemoryCache) sweep() {
	for _, s := range c.shards {
		s.mu.Lock()
		for key, e := range s.data {
			if c.expired(e) {
				delete(s.data, key)
				c.evictions.Add(1)
			}
		}
		s.mu.Unlock()
	}
	c.gcRuns.Add(1)
}
