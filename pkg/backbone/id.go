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
	"sync"

	"github.com/google/uuid"
)

// IDService is the single identifier allocator. Every id in the system is
// a UUIDv4 string; kind is an advisory tag recorded for allocation stats.
type IDService struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewIDService creates an IDService.
func NewIDService() *IDService {
	return &IDService{counts: make(map[string]int64)}
}

// NewID allocates a fresh UUIDv4 tagged with kind. Well-known kinds:
// "session", "event", "agent", "conversation", "message", "thread",
// "insight", "metadata".
func (s *IDService) NewID(kind string) string {
	s.mu.Lock()
	s.counts[kind]++
	s.mu.Unlock()
	return uuid.NewString()
}

// Counts returns a copy of per-kind allocation counts.
func (s *IDService) Counts() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// ValidID reports whether id parses as a UUID.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
