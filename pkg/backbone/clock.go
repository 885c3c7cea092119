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

// Package backbone provides the canonical time, ID, cache, and metadata
// services every other OneAgent component consumes. Nothing outside this
// package reads the wall clock or allocates identifiers for domain
// decisions, and the cache is the only in-process shared state store.
package backbone

import (
	"sync"
	"time"
)

// Clock is the single time source for the core. Go's time.Time carries a
// monotonic reading alongside the wall projection, so expiry comparisons
// made through one Clock stay consistent under wall-clock jumps.
type Clock interface {
	// Now returns the current instant.
	Now() time.Time
}

// systemClock reads the process clock.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the real process clock.
func SystemClock() Clock { return systemClock{} }

// FakeClock is a manually advanced Clock for tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a FakeClock pinned at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the pinned instant.
func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set pins the clock at t.
func (f *FakeClock) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// UnixMilli converts t to epoch milliseconds, the unit used for all
// externally configured durations.
func UnixMilli(t time.Time) int64 { return t.UnixMilli() }
