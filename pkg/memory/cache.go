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
	"encoding/json"
	"sort"
	"strings"

	"github.com/oneagent-io/oneagent/pkg/backbone"
	"github.com/oneagent-io/oneagent/pkg/fault"
)

const (
	recordKeyPrefix = "memory:"
	recordIDsKey    = "memory:ids"
)

// CacheClient is the default Client over the backbone cache.
type CacheClient struct {
	bb *backbone.Backbone
}

var _ Client = (*CacheClient)(nil)

// NewCacheClient builds the cache-backed client.
func NewCacheClient(bb *backbone.Backbone) *CacheClient {
	return &CacheClient{bb: bb}
}

// Store persists a record, allocating an id when absent.
func (c *CacheClient) Store(ctx context.Context, rec *Record) (string, error) {
	if rec == nil || rec.Content == "" {
		return "", fault.New(fault.KindInvalidParams, "record content is required")
	}
	if rec.ID == "" {
		rec.ID = c.bb.NewID("memory")
	}
	rec.Metadata.ID = rec.ID
	now := c.bb.Now()
	if rec.Metadata.Created.IsZero() {
		rec.Metadata.Created = now
	}
	rec.Metadata.Updated = now
	rec.Metadata.Accessed = now

	if err := c.save(ctx, rec); err != nil {
		return "", err
	}
	if err := c.bb.Cache().SetAdd(ctx, recordIDsKey, rec.ID); err != nil {
		return "", fault.Wrap(fault.KindMemoryUnavailable, err, "index memory record")
	}
	return rec.ID, nil
}

// Search returns records matching the query, best keyword overlap
// first.
func (c *CacheClient) Search(ctx context.Context, q Query) ([]*Record, error) {
	ids, err := c.bb.Cache().SetMembers(ctx, recordIDsKey)
	if err != nil {
		return nil, fault.Wrap(fault.KindMemoryUnavailable, err, "list memory records")
	}
	terms := tokenize(q.Text)

	type scored struct {
		rec   *Record
		score int
	}
	var matches []scored
	for _, id := range ids {
		rec, err := c.get(ctx, id)
		if err != nil {
			if fault.IsKind(err, fault.KindNotFound) {
				continue
			}
			return nil, err
		}
		if q.AgentID != "" && (rec.Metadata.Agent == nil || rec.Metadata.Agent.ID != q.AgentID) {
			continue
		}
		if !hasAllTags(rec.Metadata.Tags, q.Tags) {
			continue
		}
		score := overlap(terms, tokenize(rec.Content))
		if len(terms) > 0 && score == 0 {
			continue
		}
		matches = append(matches, scored{rec: rec, score: score})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].rec.ID < matches[j].rec.ID
	})
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	out := make([]*Record, len(matches))
	for i, m := range matches {
		out[i] = m.rec
	}
	return out, nil
}

// Update replaces a stored record, bumping the updated timestamp.
func (c *CacheClient) Update(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return fault.New(fault.KindInvalidParams, "record id is required")
	}
	if _, err := c.get(ctx, rec.ID); err != nil {
		return err
	}
	rec.Metadata.ID = rec.ID
	rec.Metadata.Updated = c.bb.Now()
	return c.save(ctx, rec)
}

// Delete removes a record; deleting an unknown id is a not_found
// fault.
func (c *CacheClient) Delete(ctx context.Context, id string) error {
	if _, err := c.get(ctx, id); err != nil {
		return err
	}
	cache := c.bb.Cache()
	if err := cache.SetRemove(ctx, recordIDsKey, id); err != nil {
		return fault.Wrap(fault.KindMemoryUnavailable, err, "unindex memory record")
	}
	if err := cache.Delete(ctx, recordKeyPrefix+id); err != nil {
		return fault.Wrap(fault.KindMemoryUnavailable, err, "delete memory record")
	}
	return nil
}

func (c *CacheClient) get(ctx context.Context, id string) (*Record, error) {
	raw, ok, err := c.bb.Cache().Get(ctx, recordKeyPrefix+id)
	if err != nil {
		return nil, fault.Wrap(fault.KindMemoryUnavailable, err, "load memory record")
	}
	if !ok {
		return nil, fault.Newf(fault.KindNotFound, "memory record not found: %s", id)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "decode memory record")
	}
	return &rec, nil
}

func (c *CacheClient) save(ctx context.Context, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "encode memory record")
	}
	if err := c.bb.Cache().Set(ctx, recordKeyPrefix+rec.ID, raw, 0); err != nil {
		return fault.Wrap(fault.KindMemoryUnavailable, err, "store memory record")
	}
	return nil
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	seen := map[string]struct{}{}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()")
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func overlap(a, b []string) int {
	inB := make(map[string]struct{}, len(b))
	for _, t := range b {
		inB[t] = struct{}{}
	}
	n := 0
	for _, t := range a {
		if _, ok := inB[t]; ok {
			n++
		}
	}
	return n
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
