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

package session

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/oneagent-io/oneagent/pkg/backbone"
	"github.com/oneagent-io/oneagent/pkg/fault"
)

// casAttempts bounds every optimistic update loop in this file.
const casAttempts = 16

// DefaultMaxEventsPerSession is the circular buffer capacity per
// (session, stream) pair.
const DefaultMaxEventsPerSession = 1000

func sessionKey(id string) string         { return "session:" + id }
func stateKey(st State) string            { return "session:state:" + string(st) }
func eventsKey(sid, stream string) string { return "events:" + sid + ":" + stream }
func eventCounterKey(sid, stream string) string {
	return "events:counter:" + sid + ":" + stream
}
func streamsKey(sid string) string { return "events:streams:" + sid }

// eventSessionsKey indexes sessions that have event buffers, so cleanup
// can enumerate them without scanning the whole keyspace.
const eventSessionsKey = "events:sessions"

// CacheStore is the default SessionStorage, holding records in the
// backbone cache under "session:{id}" with per-state membership sets.
type CacheStore struct {
	cache backbone.Cache
}

// NewCacheStore creates a CacheStore on the given cache.
func NewCacheStore(cache backbone.Cache) *CacheStore {
	return &CacheStore{cache: cache}
}

// Create implements SessionStorage.
func (c *CacheStore) Create(ctx context.Context, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "marshal session")
	}
	swapped, err := c.cache.UpdateIf(ctx, sessionKey(s.ID), nil, raw)
	if err != nil {
		return err
	}
	if !swapped {
		return fault.Newf(fault.KindConflict, "session %s already exists", MaskID(s.ID))
	}
	return c.cache.SetAdd(ctx, stateKey(s.State), s.ID)
}

// Get implements SessionStorage.
func (c *CacheStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, found, err := c.cache.Get(ctx, sessionKey(id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "unmarshal session")
	}
	return &s, nil
}

// Update implements SessionStorage with a bounded optimistic loop.
func (c *CacheStore) Update(ctx context.Context, id string, patch Patch) (*Session, error) {
	key := sessionKey(id)
	for attempt := 0; attempt < casAttempts; attempt++ {
		raw, found, err := c.cache.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fault.Newf(fault.KindNotFound, "session %s not found", MaskID(id))
		}
		var s Session
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fault.Wrap(fault.KindInternal, err, "unmarshal session")
		}

		oldState := s.State
		applyPatch(&s, patch)

		next, err := json.Marshal(&s)
		if err != nil {
			return nil, fault.Wrap(fault.KindInternal, err, "marshal session")
		}
		swapped, err := c.cache.UpdateIf(ctx, key, raw, next)
		if err != nil {
			return nil, err
		}
		if !swapped {
			continue
		}
		if s.State != oldState {
			if err := c.cache.SetRemove(ctx, stateKey(oldState), id); err != nil {
				return nil, err
			}
			if err := c.cache.SetAdd(ctx, stateKey(s.State), id); err != nil {
				return nil, err
			}
		}
		return &s, nil
	}
	return nil, fault.Newf(fault.KindConflict, "session %s update contended after %d attempts", MaskID(id), casAttempts)
}

func applyPatch(s *Session, patch Patch) {
	if patch.ClientID != nil {
		s.ClientID = *patch.ClientID
	}
	if patch.ProtocolVersion != nil {
		s.ProtocolVersion = *patch.ProtocolVersion
	}
	if patch.Capabilities != nil {
		s.Capabilities = patch.Capabilities
	}
	if patch.LastActivity != nil {
		s.LastActivity = *patch.LastActivity
	}
	if patch.ExpiresAt != nil {
		s.ExpiresAt = *patch.ExpiresAt
	}
	if patch.State != nil {
		s.State = *patch.State
	}
	if patch.BumpEventCounter {
		s.EventCounter++
	}
	if len(patch.Metadata) > 0 {
		if s.Metadata == nil {
			s.Metadata = make(map[string]string, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			s.Metadata[k] = v
		}
	}
}

// Delete implements SessionStorage.
func (c *CacheStore) Delete(ctx context.Context, id string) error {
	if err := c.cache.Delete(ctx, sessionKey(id)); err != nil {
		return err
	}
	for _, st := range []State{StateActive, StateExpired, StateTerminated} {
		if err := c.cache.SetRemove(ctx, stateKey(st), id); err != nil {
			return err
		}
	}
	return nil
}

// ListActive implements SessionStorage.
func (c *CacheStore) ListActive(ctx context.Context) ([]*Session, error) {
	ids, err := c.cache.SetMembers(ctx, stateKey(StateActive))
	if err != nil {
		return nil, err
	}
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		s, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if s == nil {
			// Membership can lag a record deletion; self-heal the set.
			_ = c.cache.SetRemove(ctx, stateKey(StateActive), id)
			continue
		}
		if s.State == StateActive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CleanupExpired implements SessionStorage.
func (c *CacheStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	active, err := c.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	expired := StateExpired
	count := 0
	for _, s := range active {
		if !s.ExpiredAt(now) {
			continue
		}
		if _, err := c.Update(ctx, s.ID, Patch{State: &expired}); err != nil {
			if fault.IsKind(err, fault.KindNotFound) {
				continue
			}
			return count, err
		}
		count++
	}
	return count, nil
}

// Close implements SessionStorage. The cache belongs to the backbone.
func (c *CacheStore) Close() error { return nil }

// CacheEventLog is the default EventLog on the backbone cache. Events
// live in "events:{sessionId}:{streamId}" lists bounded to maxPerStream;
// sequence numbers come from an UpdateIf counter at
// "events:counter:{sessionId}:{streamId}".
type CacheEventLog struct {
	cache        backbone.Cache
	maxPerStream int
}

// NewCacheEventLog creates a CacheEventLog. maxPerStream defaults to
// DefaultMaxEventsPerSession when non-positive.
func NewCacheEventLog(cache backbone.Cache, maxPerStream int) *CacheEventLog {
	if maxPerStream <= 0 {
		maxPerStream = DefaultMaxEventsPerSession
	}
	return &CacheEventLog{cache: cache, maxPerStream: maxPerStream}
}

// AddEvent implements EventLog.
func (l *CacheEventLog) AddEvent(ctx context.Context, e *Event) error {
	counter := eventCounterKey(e.SessionID, e.StreamID)

	assigned := false
	for attempt := 0; attempt < casAttempts; attempt++ {
		raw, found, err := l.cache.Get(ctx, counter)
		if err != nil {
			return err
		}
		var next int64
		var expected []byte
		if found {
			cur, err := strconv.ParseInt(string(raw), 10, 64)
			if err != nil {
				return fault.Wrap(fault.KindConflict, err, "event counter holds a non-integer")
			}
			next = cur + 1
			expected = raw
		}
		swapped, err := l.cache.UpdateIf(ctx, counter, expected, []byte(strconv.FormatInt(next, 10)))
		if err != nil {
			return err
		}
		if swapped {
			e.Sequence = next
			assigned = true
			break
		}
	}
	if !assigned {
		return fault.Newf(fault.KindSequenceContention,
			"sequence counter for session %s stream %s contended after %d attempts",
			MaskID(e.SessionID), e.StreamID, casAttempts)
	}

	raw, err := json.Marshal(e)
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "marshal event")
	}
	if err := l.cache.ListAppend(ctx, eventsKey(e.SessionID, e.StreamID), raw, l.maxPerStream); err != nil {
		return err
	}
	if err := l.cache.SetAdd(ctx, streamsKey(e.SessionID), e.StreamID); err != nil {
		return err
	}
	return l.cache.SetAdd(ctx, eventSessionsKey, e.SessionID)
}

// EventsAfter implements EventLog.
func (l *CacheEventLog) EventsAfter(ctx context.Context, sessionID, streamID, lastEventID string) ([]*Event, []string, error) {
	events, err := l.load(ctx, sessionID, streamID)
	if err != nil {
		return nil, nil, err
	}
	if lastEventID == "" {
		return events, nil, nil
	}

	lastSeq := int64(-1)
	known := false
	for _, e := range events {
		if e.ID == lastEventID {
			lastSeq = e.Sequence
			known = true
			break
		}
	}
	if !known {
		return events, []string{string(fault.KindUnknownLastEvent)}, nil
	}

	after := make([]*Event, 0, len(events))
	for _, e := range events {
		if e.Sequence > lastSeq {
			after = append(after, e)
		}
	}
	return after, nil, nil
}

func (l *CacheEventLog) load(ctx context.Context, sessionID, streamID string) ([]*Event, error) {
	raws, err := l.cache.ListRange(ctx, eventsKey(sessionID, streamID), 0, -1)
	if err != nil {
		return nil, err
	}
	events := make([]*Event, 0, len(raws))
	for _, raw := range raws {
		var e Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fault.Wrap(fault.KindInternal, err, "unmarshal event")
		}
		events = append(events, &e)
	}
	// Concurrent appends can land slightly out of order; sequence is the
	// source of truth.
	sort.Slice(events, func(i, j int) bool { return events[i].Sequence < events[j].Sequence })
	return events, nil
}

// ClearSession implements EventLog.
func (l *CacheEventLog) ClearSession(ctx context.Context, sessionID string) error {
	streams, err := l.cache.SetMembers(ctx, streamsKey(sessionID))
	if err != nil {
		return err
	}
	for _, stream := range streams {
		if err := l.cache.Delete(ctx, eventsKey(sessionID, stream)); err != nil {
			return err
		}
		if err := l.cache.Delete(ctx, eventCounterKey(sessionID, stream)); err != nil {
			return err
		}
	}
	if err := l.cache.Delete(ctx, streamsKey(sessionID)); err != nil {
		return err
	}
	return l.cache.SetRemove(ctx, eventSessionsKey, sessionID)
}

// CleanupOld implements EventLog. Only the janitor calls this; it may
// rewrite buffers non-atomically with respect to concurrent appends, in
// which case the next sweep catches what this one missed.
func (l *CacheEventLog) CleanupOld(ctx context.Context, ttl time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-ttl)
	sessions, err := l.cache.SetMembers(ctx, eventSessionsKey)
	if err != nil {
		return 0, err
	}

	dropped := 0
	for _, sid := range sessions {
		streams, err := l.cache.SetMembers(ctx, streamsKey(sid))
		if err != nil {
			return dropped, err
		}
		for _, stream := range streams {
			events, err := l.load(ctx, sid, stream)
			if err != nil {
				return dropped, err
			}
			keep := make([]*Event, 0, len(events))
			for _, e := range events {
				if e.Timestamp.After(cutoff) {
					keep = append(keep, e)
				}
			}
			if len(keep) == len(events) {
				continue
			}
			dropped += len(events) - len(keep)

			key := eventsKey(sid, stream)
			if err := l.cache.Delete(ctx, key); err != nil {
				return dropped, err
			}
			for _, e := range keep {
				raw, err := json.Marshal(e)
				if err != nil {
					return dropped, fault.Wrap(fault.KindInternal, err, "marshal event")
				}
				if err := l.cache.ListAppend(ctx, key, raw, l.maxPerStream); err != nil {
					return dropped, err
				}
			}
		}
	}
	return dropped, nil
}

// Close implements EventLog.
func (l *CacheEventLog) Close() error { return nil }
