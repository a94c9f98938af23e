package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/scribe/pkg/memory"
)

var _ memory.Archive = (*Store)(nil)

// foreignKeyViolation is the SQLSTATE raised when an entry or summary
// references a session that does not exist.
const foreignKeyViolation = "23503"

// Store is the PostgreSQL-backed transcript archive. It holds a single
// [pgxpool.Pool]. All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// BeginSession implements [memory.Archive].
func (s *Store) BeginSession(ctx context.Context, rec memory.SessionRecord) error {
	const q = `
		INSERT INTO scribe_sessions
		    (id, owner_id, guild_id, voice_channel_id, text_channel_id, participants, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET participants = EXCLUDED.participants`

	participants := rec.Participants
	if participants == nil {
		participants = map[string]string{}
	}
	_, err := s.pool.Exec(ctx, q,
		rec.ID,
		rec.OwnerID,
		rec.GuildID,
		rec.VoiceChannelID,
		rec.TextChannelID,
		participants,
		rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: begin session: %w", err)
	}
	return nil
}

// WriteEntry implements [memory.Archive].
func (s *Store) WriteEntry(ctx context.Context, entry memory.TranscriptEntry) error {
	const q = `
		INSERT INTO scribe_entries
		    (id, session_id, speaker_id, speaker_name, text, raw_text, timestamp, duration_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	id := entry.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := s.pool.Exec(ctx, q,
		id,
		entry.SessionID,
		entry.SpeakerID,
		entry.SpeakerName,
		entry.Text,
		entry.RawText,
		entry.Timestamp,
		entry.Duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("postgres store: write entry: %w", mapErr(err))
	}
	return nil
}

// WriteSummary implements [memory.Archive].
func (s *Store) WriteSummary(ctx context.Context, rec memory.SummaryRecord) error {
	const q = `
		INSERT INTO scribe_summaries (session_id, kind, text, created_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.pool.Exec(ctx, q, rec.SessionID, string(rec.Kind), rec.Text, rec.CreatedAt); err != nil {
		return fmt.Errorf("postgres store: write summary: %w", mapErr(err))
	}
	return nil
}

// EndSession implements [memory.Archive].
func (s *Store) EndSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE scribe_sessions SET ended_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("postgres store: end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: end session %s: %w", id, memory.ErrUnknownSession)
	}
	return nil
}

// Session implements [memory.Archive].
func (s *Store) Session(ctx context.Context, id uuid.UUID) (memory.SessionRecord, error) {
	const q = `
		SELECT id, owner_id, guild_id, voice_channel_id, text_channel_id, participants, started_at, ended_at
		FROM   scribe_sessions
		WHERE  id = $1`

	var (
		rec   memory.SessionRecord
		ended *time.Time
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&rec.ID,
		&rec.OwnerID,
		&rec.GuildID,
		&rec.VoiceChannelID,
		&rec.TextChannelID,
		&rec.Participants,
		&rec.StartedAt,
		&ended,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return memory.SessionRecord{}, fmt.Errorf("postgres store: session %s: %w", id, memory.ErrUnknownSession)
	}
	if err != nil {
		return memory.SessionRecord{}, fmt.Errorf("postgres store: session: %w", err)
	}
	if ended != nil {
		rec.EndedAt = *ended
	}
	return rec, nil
}

// Entries implements [memory.Archive].
func (s *Store) Entries(ctx context.Context, id uuid.UUID) ([]memory.TranscriptEntry, error) {
	const q = `
		SELECT id, session_id, speaker_id, speaker_name, text, raw_text, timestamp, duration_ns
		FROM   scribe_entries
		WHERE  session_id = $1
		ORDER  BY timestamp, id`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("postgres store: entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.TranscriptEntry, error) {
		var (
			e          memory.TranscriptEntry
			durationNS int64
		)
		if err := row.Scan(
			&e.ID,
			&e.SessionID,
			&e.SpeakerID,
			&e.SpeakerName,
			&e.Text,
			&e.RawText,
			&e.Timestamp,
			&durationNS,
		); err != nil {
			return memory.TranscriptEntry{}, err
		}
		e.Duration = time.Duration(durationNS)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan entries: %w", err)
	}
	if entries == nil {
		entries = []memory.TranscriptEntry{}
	}
	return entries, nil
}

// Summaries implements [memory.Archive].
func (s *Store) Summaries(ctx context.Context, id uuid.UUID) ([]memory.SummaryRecord, error) {
	const q = `
		SELECT session_id, kind, text, created_at
		FROM   scribe_summaries
		WHERE  session_id = $1
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("postgres store: summaries: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.SummaryRecord, error) {
		var (
			r    memory.SummaryRecord
			kind string
		)
		if err := row.Scan(&r.SessionID, &kind, &r.Text, &r.CreatedAt); err != nil {
			return memory.SummaryRecord{}, err
		}
		r.Kind = memory.SummaryKind(kind)
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan summaries: %w", err)
	}
	if out == nil {
		out = []memory.SummaryRecord{}
	}
	return out, nil
}

// Ping implements [memory.Archive].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// mapErr translates a foreign key violation into [memory.ErrUnknownSession].
func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return memory.ErrUnknownSession
	}
	return err
}
