// Package sqlite provides a single-file transcript archive backed by the
// pure-Go modernc.org/sqlite driver. It needs no external database and is
// the default archive for small deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/MrWong99/scribe/pkg/memory"
)

var _ memory.Archive = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS scribe_sessions (
    id                TEXT     PRIMARY KEY,
    owner_id          TEXT     NOT NULL,
    guild_id          TEXT     NOT NULL DEFAULT '',
    voice_channel_id  TEXT     NOT NULL DEFAULT '',
    text_channel_id   TEXT     NOT NULL DEFAULT '',
    participants      TEXT     NOT NULL DEFAULT '{}',
    started_at        INTEGER  NOT NULL,
    ended_at          INTEGER
);

CREATE TABLE IF NOT EXISTS scribe_entries (
    id            TEXT     PRIMARY KEY,
    session_id    TEXT     NOT NULL REFERENCES scribe_sessions (id) ON DELETE CASCADE,
    speaker_id    TEXT     NOT NULL DEFAULT '',
    speaker_name  TEXT     NOT NULL DEFAULT '',
    text          TEXT     NOT NULL,
    raw_text      TEXT     NOT NULL DEFAULT '',
    timestamp     INTEGER  NOT NULL,
    duration_ns   INTEGER  NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_scribe_entries_session_timestamp
    ON scribe_entries (session_id, timestamp);

CREATE TABLE IF NOT EXISTS scribe_summaries (
    id          INTEGER  PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT     NOT NULL REFERENCES scribe_sessions (id) ON DELETE CASCADE,
    kind        TEXT     NOT NULL,
    text        TEXT     NOT NULL,
    created_at  INTEGER  NOT NULL
);
`

// Store is the SQLite-backed transcript archive.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the archive at path and applies the
// schema. Use ":memory:" for a throwaway archive.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// SQLite serialises writers anyway, and an in-memory database exists
	// only on the connection that created it.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// BeginSession implements [memory.Archive].
func (s *Store) BeginSession(ctx context.Context, rec memory.SessionRecord) error {
	participants := rec.Participants
	if participants == nil {
		participants = map[string]string{}
	}
	raw, err := json.Marshal(participants)
	if err != nil {
		return fmt.Errorf("sqlite store: encode participants: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scribe_sessions
		    (id, owner_id, guild_id, voice_channel_id, text_channel_id, participants, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET participants = excluded.participants`,
		rec.ID.String(), rec.OwnerID, rec.GuildID, rec.VoiceChannelID, rec.TextChannelID,
		string(raw), rec.StartedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: begin session: %w", err)
	}
	return nil
}

// WriteEntry implements [memory.Archive].
func (s *Store) WriteEntry(ctx context.Context, entry memory.TranscriptEntry) error {
	id := entry.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scribe_entries
		    (id, session_id, speaker_id, speaker_name, text, raw_text, timestamp, duration_ns)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM scribe_sessions WHERE id = ?)`,
		id.String(), entry.SessionID.String(), entry.SpeakerID, entry.SpeakerName,
		entry.Text, entry.RawText, entry.Timestamp.UnixNano(), entry.Duration.Nanoseconds(),
		entry.SessionID.String(),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: write entry: %w", err)
	}
	return requireRow(res, "write entry", entry.SessionID)
}

// WriteSummary implements [memory.Archive].
func (s *Store) WriteSummary(ctx context.Context, rec memory.SummaryRecord) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scribe_summaries (session_id, kind, text, created_at)
		SELECT ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM scribe_sessions WHERE id = ?)`,
		rec.SessionID.String(), string(rec.Kind), rec.Text, rec.CreatedAt.UnixNano(),
		rec.SessionID.String(),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: write summary: %w", err)
	}
	return requireRow(res, "write summary", rec.SessionID)
}

// EndSession implements [memory.Archive].
func (s *Store) EndSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE scribe_sessions SET ended_at = ? WHERE id = ?`, at.UnixNano(), id.String())
	if err != nil {
		return fmt.Errorf("sqlite store: end session: %w", err)
	}
	return requireRow(res, "end session", id)
}

// Session implements [memory.Archive].
func (s *Store) Session(ctx context.Context, id uuid.UUID) (memory.SessionRecord, error) {
	var (
		rec          memory.SessionRecord
		rawID, parts string
		started      int64
		ended        sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, guild_id, voice_channel_id, text_channel_id, participants, started_at, ended_at
		FROM scribe_sessions
		WHERE id = ?`, id.String()).Scan(
		&rawID, &rec.OwnerID, &rec.GuildID, &rec.VoiceChannelID, &rec.TextChannelID, &parts, &started, &ended,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.SessionRecord{}, fmt.Errorf("sqlite store: session %s: %w", id, memory.ErrUnknownSession)
	}
	if err != nil {
		return memory.SessionRecord{}, fmt.Errorf("sqlite store: session: %w", err)
	}
	if rec.ID, err = uuid.Parse(rawID); err != nil {
		return memory.SessionRecord{}, fmt.Errorf("sqlite store: session id: %w", err)
	}
	if err := json.Unmarshal([]byte(parts), &rec.Participants); err != nil {
		return memory.SessionRecord{}, fmt.Errorf("sqlite store: decode participants: %w", err)
	}
	rec.StartedAt = time.Unix(0, started)
	if ended.Valid {
		rec.EndedAt = time.Unix(0, ended.Int64)
	}
	return rec, nil
}

// Entries implements [memory.Archive].
func (s *Store) Entries(ctx context.Context, id uuid.UUID) ([]memory.TranscriptEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, speaker_id, speaker_name, text, raw_text, timestamp, duration_ns
		FROM scribe_entries
		WHERE session_id = ?
		ORDER BY timestamp, rowid`, id.String())
	if err != nil {
		return nil, fmt.Errorf("sqlite store: entries: %w", err)
	}
	defer rows.Close()

	entries := []memory.TranscriptEntry{}
	for rows.Next() {
		var (
			e         memory.TranscriptEntry
			rawID     string
			ts, durNS int64
		)
		if err := rows.Scan(&rawID, &e.SpeakerID, &e.SpeakerName, &e.Text, &e.RawText, &ts, &durNS); err != nil {
			return nil, fmt.Errorf("sqlite store: scan entry: %w", err)
		}
		if e.ID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("sqlite store: entry id: %w", err)
		}
		e.SessionID = id
		e.Timestamp = time.Unix(0, ts)
		e.Duration = time.Duration(durNS)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summaries implements [memory.Archive].
func (s *Store) Summaries(ctx context.Context, id uuid.UUID) ([]memory.SummaryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, text, created_at
		FROM scribe_summaries
		WHERE session_id = ?
		ORDER BY id`, id.String())
	if err != nil {
		return nil, fmt.Errorf("sqlite store: summaries: %w", err)
	}
	defer rows.Close()

	out := []memory.SummaryRecord{}
	for rows.Next() {
		var (
			r       memory.SummaryRecord
			kind    string
			created int64
		)
		if err := rows.Scan(&kind, &r.Text, &created); err != nil {
			return nil, fmt.Errorf("sqlite store: scan summary: %w", err)
		}
		r.SessionID = id
		r.Kind = memory.SummaryKind(kind)
		r.CreatedAt = time.Unix(0, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ping implements [memory.Archive].
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func requireRow(res sql.Result, op string, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite store: %s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite store: %s %s: %w", op, id, memory.ErrUnknownSession)
	}
	return nil
}
