// Package postgres provides a PostgreSQL-backed implementation of the
// transcript archive.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.BeginSession(ctx, rec)
//	_ = store.WriteEntry(ctx, entry)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS scribe_sessions (
    id                UUID         PRIMARY KEY,
    owner_id          TEXT         NOT NULL,
    guild_id          TEXT         NOT NULL DEFAULT '',
    voice_channel_id  TEXT         NOT NULL DEFAULT '',
    text_channel_id   TEXT         NOT NULL DEFAULT '',
    participants      JSONB        NOT NULL DEFAULT '{}',
    started_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at          TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_scribe_sessions_owner
    ON scribe_sessions (owner_id);
`

const ddlEntries = `
CREATE TABLE IF NOT EXISTS scribe_entries (
    id            UUID         PRIMARY KEY,
    session_id    UUID         NOT NULL REFERENCES scribe_sessions (id) ON DELETE CASCADE,
    speaker_id    TEXT         NOT NULL DEFAULT '',
    speaker_name  TEXT         NOT NULL DEFAULT '',
    text          TEXT         NOT NULL,
    raw_text      TEXT         NOT NULL DEFAULT '',
    timestamp     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    duration_ns   BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_scribe_entries_session_timestamp
    ON scribe_entries (session_id, timestamp);

CREATE INDEX IF NOT EXISTS idx_scribe_entries_fts
    ON scribe_entries USING GIN (to_tsvector('english', text));
`

const ddlSummaries = `
CREATE TABLE IF NOT EXISTS scribe_summaries (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  UUID         NOT NULL REFERENCES scribe_sessions (id) ON DELETE CASCADE,
    kind        TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_scribe_summaries_session
    ON scribe_summaries (session_id, id);
`

// Migrate creates or ensures all required database tables exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlSessions, ddlEntries, ddlSummaries} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
