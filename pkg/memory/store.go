// Package memory defines the transcript archive: a write-mostly history of
// every recording session, the utterances transcribed during it and the
// summaries generated from them.
//
// The archive is history, not resumable state. A process restart never reads
// it back into a live session; it exists so an operator can look up what was
// said and what the model made of it.
//
// All interfaces are public so that external packages can supply alternative
// storage backends. Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownSession is returned by [Archive.WriteEntry], [Archive.WriteSummary]
// and [Archive.EndSession] when the session was never begun.
var ErrUnknownSession = errors.New("memory: unknown session")

// SummaryKind distinguishes the summaries a session produces.
type SummaryKind string

const (
	// SummaryInterim is posted when a session is paused.
	SummaryInterim SummaryKind = "interim"

	// SummaryFinal is posted when a session is stopped.
	SummaryFinal SummaryKind = "final"

	// SummaryRevision is a reply to a revision request.
	SummaryRevision SummaryKind = "revision"
)

// SessionRecord is the header row written when a session starts.
type SessionRecord struct {
	// ID is the archive key generated at start.
	ID uuid.UUID

	// OwnerID is the platform user id of the session owner.
	OwnerID string

	GuildID        string
	VoiceChannelID string
	TextChannelID  string

	// Participants maps speaker ids to display names.
	Participants map[string]string

	StartedAt time.Time

	// EndedAt is zero while the session is still open.
	EndedAt time.Time
}

// TranscriptEntry is one transcribed utterance.
type TranscriptEntry struct {
	// ID identifies the utterance job the entry was produced from.
	ID uuid.UUID

	SessionID uuid.UUID

	// SpeakerID identifies who spoke.
	SpeakerID string

	// SpeakerName is the display name used in the chat log.
	SpeakerName string

	// Text is the cleaned and corrected transcript text.
	Text string

	// RawText is the original STT output. Preserved for debugging.
	RawText string

	// Timestamp is when the utterance started.
	Timestamp time.Time

	// Duration is the length of the utterance.
	Duration time.Duration
}

// SummaryRecord is one generated summary or revision reply.
type SummaryRecord struct {
	SessionID uuid.UUID
	Kind      SummaryKind
	Text      string
	CreatedAt time.Time
}

// Archive persists session history.
type Archive interface {
	// BeginSession writes the session header. Calling it twice for the same
	// id overwrites the participants.
	BeginSession(ctx context.Context, rec SessionRecord) error

	// WriteEntry appends a transcribed utterance.
	WriteEntry(ctx context.Context, entry TranscriptEntry) error

	// WriteSummary appends a summary.
	WriteSummary(ctx context.Context, rec SummaryRecord) error

	// EndSession stamps the session's end time.
	EndSession(ctx context.Context, id uuid.UUID, at time.Time) error

	// Session returns the header of a session.
	Session(ctx context.Context, id uuid.UUID) (SessionRecord, error)

	// Entries returns every entry of a session ordered by timestamp.
	Entries(ctx context.Context, id uuid.UUID) ([]TranscriptEntry, error)

	// Summaries returns every summary of a session in creation order.
	Summaries(ctx context.Context, id uuid.UUID) ([]SummaryRecord, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
