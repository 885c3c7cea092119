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
	"context"
	"strings"
	"time"
)

// Cache is the namespaced key/value store backing all shared state.
// Keys are hierarchical colon-separated strings ("session:{id}",
// "events:{sessionId}:{streamId}", "mcp:tool:{name}"). Implementations
// must be safe for concurrent use and must translate backend failures
// into fault kinds (not_found, conflict, backend_unavailable) rather
// than leaking driver errors.
//
// Three value shapes exist per key: plain byte values, string sets, and
// ordered byte lists. Using a key with the wrong shape is a conflict.
type Cache interface {
	// Get returns the value at key. The second result is false when the
	// key is absent or expired; absence is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value at key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key regardless of shape. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error

	// GetOrCreate returns the existing value, or atomically stores the
	// result of create and returns it. The bool result is true when this
	// call created the value.
	GetOrCreate(ctx context.Context, key string, ttl time.Duration, create func() ([]byte, error)) ([]byte, bool, error)

	// UpdateIf atomically replaces the value at key with next when the
	// current value equals expected. A nil expected means "key must be
	// absent". It returns false without error when the comparison fails.
	// The existing expiry is preserved on successful swap.
	UpdateIf(ctx context.Context, key string, expected, next []byte) (bool, error)

	// Expire sets or replaces the expiry on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// ListByPrefix returns all live plain values whose key starts with prefix.
	ListByPrefix(ctx context.Context, prefix string) (map[string][]byte, error)

	// SetAdd adds members to the string set at key, creating it if needed.
	SetAdd(ctx context.Context, key string, members ...string) error

	// SetRemove removes members from the set at key.
	SetRemove(ctx context.Context, key string, members ...string) error

	// SetMembers returns the members of the set at key; absent means empty.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// ListAppend appends value to the ordered list at key. When max > 0
	// the list is trimmed to its most recent max elements after the append.
	ListAppend(ctx context.Context, key string, value []byte, max int) error

	// ListRange returns elements [start, stop] of the list at key, with
	// negative indices counted from the end (stop = -1 means last).
	ListRange(ctx context.Context, key string, start, stop int) ([][]byte, error)

	// ListLen returns the length of the list at key; absent means zero.
	ListLen(ctx context.Context, key string) (int, error)

	// Namespace returns a view of this cache with every key prefixed by
	// prefix + ":". Views share the underlying store.
	Namespace(prefix string) Cache

	// Close releases backend resources. The cache is unusable afterwards.
	Close() error
}

// namespaced prefixes every key before delegating to the parent cache.
type namespaced struct {
	parent Cache
	prefix string
}

var _ Cache = (*namespaced)(nil)

// NewNamespace wraps parent so that all keys gain the given prefix.
func NewNamespace(parent Cache, prefix string) Cache {
	return &namespaced{parent: parent, prefix: prefix + ":"}
}

func (n *namespaced) key(k string) string { return n.prefix + k }

func (n *namespaced) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return n.parent.Get(ctx, n.key(key))
}

func (n *namespaced) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return n.parent.Set(ctx, n.key(key), value, ttl)
}

func (n *namespaced) Delete(ctx context.Context, key string) error {
	return n.parent.Delete(ctx, n.key(key))
}

func (n *namespaced) GetOrCreate(ctx context.Context, key string, ttl time.Duration, create func() ([]byte, error)) ([]byte, bool, error) {
	return n.parent.GetOrCreate(ctx, n.key(key), ttl, create)
}

func (n *namespaced) UpdateIf(ctx context.Context, key string, expected, next []byte) (bool, error) {
	return n.parent.UpdateIf(ctx, n.key(key), expected, next)
}

func (n *namespaced) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return n.parent.Expire(ctx, n.key(key), ttl)
}

func (n *namespaced) ListByPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	raw, err := n.parent.ListByPrefix(ctx, n.key(prefix))
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(raw))
	for k, v := range raw {
		out[strings.TrimPrefix(k, n.prefix)] = v
	}
	return out, nil
}

func (n *namespaced) SetAdd(ctx context.Context, key string, members ...string) error {
	return n.parent.SetAdd(ctx, n.key(key), members...)
}

func (n *namespaced) SetRemove(ctx context.Context, key string, members ...string) error {
	return n.parent.SetRemove(ctx, n.key(key), members...)
}

func (n *namespaced) SetMembers(ctx context.Context, key string) ([]string, error) {
	return n.parent.SetMembers(ctx, n.key(key))
}

func (n *namespaced) ListAppend(ctx context.Context, key string, value []byte, max int) error {
	return n.parent.ListAppend(ctx, n.key(key), value, max)
}

func (n *namespaced) ListRange(ctx context.Context, key string, start, stop int) ([][]byte, error) {
	return n.parent.ListRange(ctx, n.key(key), start, stop)
}

func (n *namespaced) ListLen(ctx context.Context, key string) (int, error) {
	return n.parent.ListLen(ctx, n.key(key))
}

func (n *namespaced) Namespace(prefix string) Cache {
	return NewNamespace(n, prefix)
}

// Close on a namespace view is a no-op; the owner closes the parent.
func (n *namespaced) Close() error { return nil }
