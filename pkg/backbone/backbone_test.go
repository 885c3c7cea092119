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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oneagent-io/oneagent/pkg/fault"
)

func TestBackboneDefaults(t *testing.T) {
	b, err := New(Options{})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	assert.NotNil(t, b.Cache())
	assert.NotNil(t, b.Metadata())
	assert.False(t, b.Now().IsZero())
}

func TestIDServiceUniqueAndTagged(t *testing.T) {
	ids := NewIDService()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := ids.NewID("session")
		assert.True(t, ValidID(id))
		assert.False(t, seen[id], "ids must be unique")
		seen[id] = true
	}
	ids.NewID("event")

	counts := ids.Counts()
	assert.Equal(t, int64(100), counts["session"])
	assert.Equal(t, int64(1), counts["event"])
}

func TestFakeClock(t *testing.T) {
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)
	assert.Equal(t, start, clock.Now())

	clock.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), clock.Now())
}

func TestMetadataLifecycle(t *testing.T) {
	clock := NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	b, err := New(Options{Clock: clock})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	ctx := context.Background()
	meta := b.Metadata()

	id, err := meta.Create(ctx, &Metadata{
		Kind:        "document",
		ContentType: "text/markdown",
		Agent:       &AgentRef{ID: "agent-1", Name: "triage"},
		Extra:       map[string]string{"source": "upload"},
	})
	require.NoError(t, err)
	require.True(t, ValidID(id))

	clock.Advance(time.Minute)
	got, err := meta.Retrieve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "document", got.Kind)
	assert.Equal(t, "agent-1", got.Agent.ID)
	assert.True(t, got.Accessed.After(got.Created), "retrieve must bump accessed")

	got.Tags = []string{"reviewed"}
	clock.Advance(time.Minute)
	require.NoError(t, meta.Update(ctx, got))

	again, err := meta.Retrieve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"reviewed"}, again.Tags)
	assert.True(t, again.Updated.After(again.Created))

	_, err = meta.Retrieve(ctx, "00000000-0000-0000-0000-000000000000")
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestMetadataCreateDuplicate(t *testing.T) {
	b, err := New(Options{})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	ctx := context.Background()
	md := &Metadata{ID: "fixed-id", Kind: "test"}
	_, err = b.Metadata().Create(ctx, md)
	require.NoError(t, err)

	_, err = b.Metadata().Create(ctx, &Metadata{ID: "fixed-id"})
	assert.Equal(t, fault.KindConflict, fault.KindOf(err))
}
