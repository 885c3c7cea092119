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

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oneagent-io/oneagent/pkg/backbone"
	"github.com/oneagent-io/oneagent/pkg/fault"
)

func newTestClient(t *testing.T) (*CacheClient, *backbone.FakeClock) {
	t.Helper()
	clock := backbone.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	bb, err := backbone.New(backbone.Options{Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, bb.Close()) })
	return NewCacheClient(bb), clock
}

func TestStoreAssignsIDAndTimestamps(t *testing.T) {
	client, clock := newTestClient(t)
	ctx := context.Background()

	id, err := client.Store(ctx, &Record{
		Content:  "postgres connection pooling guidance",
		Metadata: backbone.Metadata{Tags: []string{"db"}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	results, err := client.Search(ctx, Query{Text: "postgres"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
	assert.Equal(t, id, results[0].Metadata.ID)
	assert.Equal(t, clock.Now(), results[0].Metadata.Created)

	_, err = client.Store(ctx, &Record{})
	assert.Equal(t, fault.KindInvalidParams, fault.KindOf(err))
}

func TestSearchFiltersAndRanks(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.Store(ctx, &Record{
		Content:  "redis cache eviction tuning",
		Metadata: backbone.Metadata{Tags: []string{"cache"}, Agent: &backbone.AgentRef{ID: "a1"}},
	})
	require.NoError(t, err)
	best, err := client.Store(ctx, &Record{
		Content:  "redis cache eviction tuning for hot keys in redis cluster",
		Metadata: backbone.Metadata{Tags: []string{"cache", "prod"}, Agent: &backbone.AgentRef{ID: "a2"}},
	})
	require.NoError(t, err)
	_, err = client.Store(ctx, &Record{Content: "unrelated meeting notes"})
	require.NoError(t, err)

	results, err := client.Search(ctx, Query{Text: "redis eviction hot keys"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, best, results[0].ID, "higher keyword overlap ranks first")

	tagged, err := client.Search(ctx, Query{Tags: []string{"cache", "prod"}})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, best, tagged[0].ID)

	byAgent, err := client.Search(ctx, Query{AgentID: "a1"})
	require.NoError(t, err)
	require.Len(t, byAgent, 1)

	limited, err := client.Search(ctx, Query{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestUpdateAndDelete(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	id, err := client.Store(ctx, &Record{Content: "first draft"})
	require.NoError(t, err)

	require.NoError(t, client.Update(ctx, &Record{ID: id, Content: "second draft"}))
	results, err := client.Search(ctx, Query{Text: "second draft"})
	require.NoError(t, err)
	require.Len(t, results, 1)

	err = client.Update(ctx, &Record{ID: "missing", Content: "x"})
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))

	require.NoError(t, client.Delete(ctx, id))
	results, err = client.Search(ctx, Query{})
	require.NoError(t, err)
	assert.Empty(t, results)

	err = client.Delete(ctx, id)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}
