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
	"strconv"

	"github.com/oneagent-io/oneagent/pkg/fault"
)

// counterAttempts bounds the optimistic retry loop on contended counters.
const counterAttempts = 16

// AddCounter atomically adds delta to the integer at key and returns the
// new value. Counters are plain cache values so every metric surface can
// derive from the shared store.
func AddCounter(ctx context.Context, cache Cache, key string, delta int64) (int64, error) {
	for attempt := 0; attempt < counterAttempts; attempt++ {
		raw, found, err := cache.Get(ctx, key)
		if err != nil {
			return 0, err
		}
		var cur int64
		var expected []byte
		if found {
			cur, err = strconv.ParseInt(string(raw), 10, 64)
			if err != nil {
				return 0, fault.Wrap(fault.KindConflict, err, "counter "+key+" holds a non-integer")
			}
			expected = raw
		}
		next := strconv.FormatInt(cur+delta, 10)
		swapped, err := cache.UpdateIf(ctx, key, expected, []byte(next))
		if err != nil {
			return 0, err
		}
		if swapped {
			return cur + delta, nil
		}
	}
	return 0, fault.Newf(fault.KindSequenceContention, "counter %s contended after %d attempts", key, counterAttempts)
}

// IncrCounter adds one to the counter at key.
func IncrCounter(ctx context.Context, cache Cache, key string) (int64, error) {
	return AddCounter(ctx, cache, key, 1)
}

// GetCounter reads the counter at key; absent counters read as zero.
func GetCounter(ctx context.Context, cache Cache, key string) (int64, error) {
	raw, found, err := cache.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fault.Wrap(fault.KindConflict, err, "counter "+key+" holds a non-integer")
	}
	return n, nil
}
