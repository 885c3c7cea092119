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
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	// SQL drivers selected by name in NewSQLStore.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/oneagent-io/oneagent/pkg/fault"
)

// SQLStore persists sessions and events in a relational database. It
// implements both SessionStorage and EventLog so a single handle backs
// the whole session layer. Supported drivers are "sqlite"
// (modernc.org/sqlite) and "postgres" (lib/pq).
type SQLStore struct {
	db           *sql.DB
	driver       string
	maxPerStream int
}

// NewSQLStore opens the database, applies driver pragmas, and creates
// the schema. maxPerStream defaults to DefaultMaxEventsPerSession when
// non-positive.
func NewSQLStore(driver, dsn string, maxPerStream int) (*SQLStore, error) {
	switch driver {
	case "sqlite", "postgres":
	default:
		return nil, fault.Newf(fault.KindInvalidParams, "unsupported session store driver: %s", driver)
	}
	if maxPerStream <= 0 {
		maxPerStream = DefaultMaxEventsPerSession
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fault.Wrap(fault.KindBackendUnavailable, err, "open session database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fault.Wrap(fault.KindBackendUnavailable, err, "ping session database")
	}

	if driver == "sqlite" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fault.Wrap(fault.KindBackendUnavailable, err, "enable WAL mode")
		}
		// modernc.org/sqlite serializes writes; more conns just contend.
		db.SetMaxOpenConns(1)
	}

	store := &SQLStore{db: db, driver: driver, maxPerStream: maxPerStream}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		client_id TEXT,
		origin TEXT,
		protocol_version TEXT NOT NULL,
		capabilities_json TEXT,
		created_at BIGINT NOT NULL,
		last_activity BIGINT NOT NULL,
		expires_at BIGINT NOT NULL,
		state TEXT NOT NULL,
		event_counter BIGINT NOT NULL DEFAULT 0,
		metadata_json TEXT
	);

	CREATE TABLE IF NOT EXISTS session_events (
		event_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		stream_id TEXT NOT NULL,
		seq BIGINT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (session_id, stream_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
	CREATE INDEX IF NOT EXISTS idx_events_created ON session_events(created_at);
	CREATE INDEX IF NOT EXISTS idx_events_event_id ON session_events(session_id, stream_id, event_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fault.Wrap(fault.KindBackendUnavailable, err, "initialize session schema")
	}
	return nil
}

// rebind rewrites "?" placeholders into "$N" for postgres. Queries in
// this file are written in sqlite form.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isUniqueViolation sniffs driver errors for primary key conflicts.
// lib/pq reports SQLSTATE 23505, modernc.org/sqlite reports a
// "UNIQUE constraint failed" message.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "23505")
}

// Create implements SessionStorage.
func (s *SQLStore) Create(ctx context.Context, sess *Session) error {
	caps, meta, err := marshalSessionJSON(sess)
	if err != nil {
		return err
	}
	query := s.rebind(`
		INSERT INTO sessions (id, client_id, origin, protocol_version, capabilities_json,
			created_at, last_activity, expires_at, state, event_counter, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query,
		sess.ID,
		nullableString(sess.ClientID),
		nullableString(sess.Origin),
		sess.ProtocolVersion,
		caps,
		sess.CreatedAt.UnixMilli(),
		sess.LastActivity.UnixMilli(),
		sess.ExpiresAt.UnixMilli(),
		string(sess.State),
		sess.EventCounter,
		meta,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fault.Newf(fault.KindConflict, "session %s already exists", MaskID(sess.ID))
		}
		return fault.Wrap(fault.KindBackendUnavailable, err, "insert session")
	}
	return nil
}

func marshalSessionJSON(sess *Session) (caps, meta interface{}, err error) {
	if len(sess.Capabilities) > 0 {
		raw, err := json.Marshal(sess.Capabilities)
		if err != nil {
			return nil, nil, fault.Wrap(fault.KindInternal, err, "marshal capabilities")
		}
		caps = string(raw)
	}
	if len(sess.Metadata) > 0 {
		raw, err := json.Marshal(sess.Metadata)
		if err != nil {
			return nil, nil, fault.Wrap(fault.KindInternal, err, "marshal session metadata")
		}
		meta = string(raw)
	}
	return caps, meta, nil
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

const sessionColumns = `id, client_id, origin, protocol_version, capabilities_json,
	created_at, last_activity, expires_at, state, event_counter, metadata_json`

func scanSession(row interface{ Scan(...interface{}) error }) (*Session, error) {
	var (
		sess                      Session
		clientID, origin          sql.NullString
		capsJSON, metaJSON        sql.NullString
		created, activity, expiry int64
		state                     string
	)
	err := row.Scan(
		&sess.ID,
		&clientID,
		&origin,
		&sess.ProtocolVersion,
		&capsJSON,
		&created,
		&activity,
		&expiry,
		&state,
		&sess.EventCounter,
		&metaJSON,
	)
	if err != nil {
		return nil, err
	}
	sess.ClientID = clientID.String
	sess.Origin = origin.String
	sess.CreatedAt = time.UnixMilli(created).UTC()
	sess.LastActivity = time.UnixMilli(activity).UTC()
	sess.ExpiresAt = time.UnixMilli(expiry).UTC()
	sess.State = State(state)
	if capsJSON.Valid && capsJSON.String != "" {
		if err := json.Unmarshal([]byte(capsJSON.String), &sess.Capabilities); err != nil {
			return nil, fault.Wrap(fault.KindInternal, err, "unmarshal capabilities")
		}
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &sess.Metadata); err != nil {
			return nil, fault.Wrap(fault.KindInternal, err, "unmarshal session metadata")
		}
	}
	return &sess, nil
}

// Get implements SessionStorage.
func (s *SQLStore) Get(ctx context.Context, id string) (*Session, error) {
	query := s.rebind(`SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`)
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		if _, ok := err.(*fault.Error); ok {
			return nil, err
		}
		return nil, fault.Wrap(fault.KindBackendUnavailable, err, "load session")
	}
	return sess, nil
}

// Update implements SessionStorage. The event counter bump happens in
// SQL so concurrent updates never lose increments; other fields are
// last write wins, matching the cache store.
func (s *SQLStore) Update(ctx context.Context, id string, patch Patch) (*Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fault.Wrap(fault.KindBackendUnavailable, err, "begin session update")
	}
	defer tx.Rollback()

	query := s.rebind(`SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`)
	sess, err := scanSession(tx.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fault.Newf(fault.KindNotFound, "session %s not found", MaskID(id))
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindBackendUnavailable, err, "load session for update")
	}

	applyPatch(sess, patch)
	caps, meta, err := marshalSessionJSON(sess)
	if err != nil {
		return nil, err
	}

	bump := 0
	if patch.BumpEventCounter {
		bump = 1
	}
	update := s.rebind(`
		UPDATE sessions
		SET client_id = ?, protocol_version = ?, last_activity = ?, expires_at = ?,
			state = ?, event_counter = event_counter + ?, capabilities_json = ?, metadata_json = ?
		WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, update,
		nullableString(sess.ClientID),
		sess.ProtocolVersion,
		sess.LastActivity.UnixMilli(),
		sess.ExpiresAt.UnixMilli(),
		string(sess.State),
		bump,
		caps,
		meta,
		id,
	); err != nil {
		return nil, fault.Wrap(fault.KindBackendUnavailable, err, "update session")
	}

	updated, err := scanSession(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fault.Wrap(fault.KindBackendUnavailable, err, "reload session")
	}
	if err := tx.Commit(); err != nil {
		return nil, fault.Wrap(fault.KindBackendUnavailable, err, "commit session update")
	}
	return updated, nil
}

// Delete implements SessionStorage.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	query := s.rebind(`DELETE FROM sessions WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fault.Wrap(fault.KindBackendUnavailable, err, "delete session")
	}
	return nil
}

// ListActive implements SessionStorage.
func (s *SQLStore) ListActive(ctx context.Context) ([]*Session, error) {
	query := s.rebind(`SELECT ` + sessionColumns + ` FROM sessions WHERE state = ? ORDER BY created_at ASC`)
	rows, err := s.db.QueryContext(ctx, query, string(StateActive))
	if err != nil {
		return nil, fault.Wrap(fault.KindBackendUnavailable, err, "query active sessions")
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fault.Wrap(fault.KindBackendUnavailable, err, "scan session")
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(fault.KindBackendUnavailable, err, "iterate sessions")
	}
	return out, nil
}

// CleanupExpired implements SessionStorage.
func (s *SQLStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	query := s.rebind(`UPDATE sessions SET state = ? WHERE state = ? AND expires_at <= ?`)
	res, err := s.db.ExecContext(ctx, query, string(StateExpired), string(StateActive), now.UnixMilli())
	if err != nil {
		return 0, fault.Wrap(fault.KindBackendUnavailable, err, "expire sessions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fault.Wrap(fault.KindBackendUnavailable, err, "count expired sessions")
	}
	return int(n), nil
}

// AddEvent implements EventLog. The sequence is MAX(seq)+1 inside a
// transaction; the (session, stream, seq) primary key turns a lost race
// into a unique violation, which gets retried up to casAttempts times.
func (s *SQLStore) AddEvent(ctx context.Context, e *Event) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		err := s.tryAddEvent(ctx, e)
		if err == nil {
			return nil
		}
		if isUniqueViolation(err) {
			continue
		}
		return err
	}
	return fault.Newf(fault.KindSequenceContention,
		"sequence counter for session %s stream %s contended after %d attempts",
		MaskID(e.SessionID), e.StreamID, casAttempts)
}

func (s *SQLStore) tryAddEvent(ctx context.Context, e *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fault.Wrap(fault.KindBackendUnavailable, err, "begin event insert")
	}
	defer tx.Rollback()

	var seq int64
	next := s.rebind(`SELECT COALESCE(MAX(seq), -1) + 1 FROM session_events WHERE session_id = ? AND stream_id = ?`)
	if err := tx.QueryRowContext(ctx, next, e.SessionID, e.StreamID).Scan(&seq); err != nil {
		return fault.Wrap(fault.KindBackendUnavailable, err, "next event sequence")
	}

	insert := s.rebind(`
		INSERT INTO session_events (event_id, session_id, stream_id, seq, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insert,
		e.ID, e.SessionID, e.StreamID, seq, string(e.Type), string(e.Payload), e.Timestamp.UnixMilli(),
	); err != nil {
		if isUniqueViolation(err) {
			return err
		}
		return fault.Wrap(fault.KindBackendUnavailable, err, "insert event")
	}

	// Sequences are gapless per stream, so the newest maxPerStream
	// events are exactly those with seq > newSeq - maxPerStream.
	trim := s.rebind(`DELETE FROM session_events WHERE session_id = ? AND stream_id = ? AND seq <= ?`)
	if _, err := tx.ExecContext(ctx, trim, e.SessionID, e.StreamID, seq-int64(s.maxPerStream)); err != nil {
		return fault.Wrap(fault.KindBackendUnavailable, err, "trim event buffer")
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return err
		}
		return fault.Wrap(fault.KindBackendUnavailable, err, "commit event insert")
	}
	e.Sequence = seq
	return nil
}

const eventColumns = `event_id, session_id, stream_id, seq, event_type, payload, created_at`

func scanEvent(row interface{ Scan(...interface{}) error }) (*Event, error) {
	var (
		e       Event
		typ     string
		payload sql.NullString
		created int64
	)
	if err := row.Scan(&e.ID, &e.SessionID, &e.StreamID, &e.Sequence, &typ, &payload, &created); err != nil {
		return nil, err
	}
	e.Type = EventType(typ)
	if payload.Valid {
		e.Payload = json.RawMessage(payload.String)
	}
	e.Timestamp = time.UnixMilli(created).UTC()
	return &e, nil
}

// EventsAfter implements EventLog.
func (s *SQLStore) EventsAfter(ctx context.Context, sessionID, streamID, lastEventID string) ([]*Event, []string, error) {
	var warnings []string
	afterSeq := int64(-1)

	if lastEventID != "" {
		lookup := s.rebind(`SELECT seq FROM session_events WHERE session_id = ? AND stream_id = ? AND event_id = ?`)
		err := s.db.QueryRowContext(ctx, lookup, sessionID, streamID, lastEventID).Scan(&afterSeq)
		if err == sql.ErrNoRows {
			afterSeq = -1
			warnings = append(warnings, string(fault.KindUnknownLastEvent))
		} else if err != nil {
			return nil, nil, fault.Wrap(fault.KindBackendUnavailable, err, "look up last event")
		}
	}

	query := s.rebind(`SELECT ` + eventColumns + ` FROM session_events
		WHERE session_id = ? AND stream_id = ? AND seq > ? ORDER BY seq ASC`)
	rows, err := s.db.QueryContext(ctx, query, sessionID, streamID, afterSeq)
	if err != nil {
		return nil, nil, fault.Wrap(fault.KindBackendUnavailable, err, "query events")
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, nil, fault.Wrap(fault.KindBackendUnavailable, err, "scan event")
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fault.Wrap(fault.KindBackendUnavailable, err, "iterate events")
	}
	return events, warnings, nil
}

// ClearSession implements EventLog.
func (s *SQLStore) ClearSession(ctx context.Context, sessionID string) error {
	query := s.rebind(`DELETE FROM session_events WHERE session_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, sessionID); err != nil {
		return fault.Wrap(fault.KindBackendUnavailable, err, "clear session events")
	}
	return nil
}

// CleanupOld implements EventLog.
func (s *SQLStore) CleanupOld(ctx context.Context, ttl time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-ttl).UnixMilli()
	query := s.rebind(`DELETE FROM session_events WHERE created_at <= ?`)
	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fault.Wrap(fault.KindBackendUnavailable, err, "delete old events")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fault.Wrap(fault.KindBackendUnavailable, err, "count deleted events")
	}
	return int(n), nil
}

// Close closes the database handle. SQLStore backs both interfaces, so
// Close is safe to call once through either.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
