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
	"encoding/json"
	"time"

	"github.com/oneagent-io/oneagent/pkg/fault"
)

// AgentRef identifies the agent associated with a piece of content. It is
// the tagged replacement for fields that historically held either a bare
// agent id string or a nested object.
type AgentRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Metadata is the canonical content descriptor. Unknown forward-looking
// attributes ride in Extra rather than widening the struct.
type Metadata struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Created     time.Time         `json:"created"`
	Updated     time.Time         `json:"updated"`
	Accessed    time.Time         `json:"accessed"`
	Agent       *AgentRef         `json:"agent,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// MetadataService stores content descriptors under "meta:{id}".
type MetadataService struct {
	cache Cache
	clock Clock
	ids   *IDService
}

// NewMetadataService creates a MetadataService on the given cache.
func NewMetadataService(cache Cache, clock Clock, ids *IDService) *MetadataService {
	return &MetadataService{cache: cache, clock: clock, ids: ids}
}

func metadataKey(id string) string { return "meta:" + id }

// Create persists md, allocating an id when absent, and returns the id.
func (s *MetadataService) Create(ctx context.Context, md *Metadata) (string, error) {
	if md.ID == "" {
		md.ID = s.ids.NewID("metadata")
	}
	now := s.clock.Now()
	md.Created = now
	md.Updated = now
	md.Accessed = now

	raw, err := json.Marshal(md)
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, err, "marshal metadata")
	}
	swapped, err := s.cache.UpdateIf(ctx, metadataKey(md.ID), nil, raw)
	if err != nil {
		return "", err
	}
	if !swapped {
		return "", fault.Newf(fault.KindConflict, "metadata %q already exists", md.ID)
	}
	return md.ID, nil
}

// Update replaces the stored descriptor, bumping Updated.
func (s *MetadataService) Update(ctx context.Context, md *Metadata) error {
	if md.ID == "" {
		return fault.New(fault.KindInvalidParams, "metadata id is required")
	}
	_, found, err := s.cache.Get(ctx, metadataKey(md.ID))
	if err != nil {
		return err
	}
	if !found {
		return fault.Newf(fault.KindNotFound, "metadata %q not found", md.ID)
	}
	md.Updated = s.clock.Now()
	raw, err := json.Marshal(md)
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "marshal metadata")
	}
	return s.cache.Set(ctx, metadataKey(md.ID), raw, 0)
}

// Retrieve loads a descriptor and records the access time.
func (s *MetadataService) Retrieve(ctx context.Context, id string) (*Metadata, error) {
	raw, found, err := s.cache.Get(ctx, metadataKey(id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fault.Newf(fault.KindNotFound, "metadata %q not found", id)
	}
	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "unmarshal metadata")
	}

	md.Accessed = s.clock.Now()
	if updated, err := json.Marshal(&md); err == nil {
		_ = s.cache.Set(ctx, metadataKey(id), updated, 0)
	}
	return &md, nil
}
