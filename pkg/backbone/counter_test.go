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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterIncrement(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	n, err := GetCounter(ctx, cache, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = IncrCounter(ctx, cache, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = AddCounter(ctx, cache, "c", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	n, err = GetCounter(ctx, cache, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
}

func TestCounterConcurrent(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				// Contention can exhaust a single bounded attempt; retry the
				// whole increment like real callers do.
				for {
					if _, err := IncrCounter(ctx, cache, "shared"); err == nil {
						break
					}
				}
			}
		}()
	}
	wg.Wait()

	n, err := GetCounter(ctx, cache, "shared")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), n)
}
