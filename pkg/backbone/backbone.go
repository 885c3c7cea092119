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
	"time"
)

// Backbone bundles the canonical services. Components receive a *Backbone
// (or the specific service they need) at construction; nothing constructs
// a second clock, id allocator, or shared store beside it.
type Backbone struct {
	clock    Clock
	ids      *IDService
	cache    Cache
	metadata *MetadataService

	ownsCache bool
}

// Options configures New. Zero values select the system clock and a fresh
// in-process MemoryCache.
type Options struct {
	// Clock overrides the time source (tests use FakeClock).
	Clock Clock
	// Cache overrides the shared store (for example a RedisCache).
	// When nil a MemoryCache is created and owned by the Backbone.
	Cache Cache
	// GCInterval is the expiry sweep interval of an owned MemoryCache.
	GCInterval time.Duration
}

// New creates a Backbone.
func New(opts Options) (*Backbone, error) {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock()
	}
	ids := NewIDService()

	cache := opts.Cache
	owns := false
	if cache == nil {
		mc, err := NewMemoryCache(clock, opts.GCInterval)
		if err != nil {
			return nil, err
		}
		cache = mc
		owns = true
	}

	return &Backbone{
		clock:     clock,
		ids:       ids,
		cache:     cache,
		metadata:  NewMetadataService(cache, clock, ids),
		ownsCache: owns,
	}, nil
}

// Now returns the current instant from the single clock.
func (b *Backbone) Now() time.Time { return b.clock.Now() }

// Clock exposes the time source for components that defer reads.
func (b *Backbone) Clock() Clock { return b.clock }

// NewID allocates an identifier tagged with kind.
func (b *Backbone) NewID(kind string) string { return b.ids.NewID(kind) }

// IDs exposes the allocator for stats.
func (b *Backbone) IDs() *IDService { return b.ids }

// Cache returns the shared store.
func (b *Backbone) Cache() Cache { return b.cache }

// Metadata returns the content descriptor service.
func (b *Backbone) Metadata() *MetadataService { return b.metadata }

// Close releases an owned cache. Injected caches stay open for their owner.
func (b *Backbone) Close() error {
	if b.ownsCache {
		return b.cache.Close()
	}
	return nil
}
