package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/scribe/pkg/memory"
)

// ArchiveGuard wraps a [memory.Archive] and makes every write non-fatal. If
// the underlying archive fails, the error is logged and swallowed so that a
// database outage never interrupts a recording. IsDegraded reports whether
// the most recent write failed.
//
// A nil archive turns every method into a no-op. All methods are safe for
// concurrent use.
type ArchiveGuard struct {
	archive  memory.Archive
	degraded atomic.Bool
}

// NewArchiveGuard creates a guard around archive, which may be nil.
func NewArchiveGuard(archive memory.Archive) *ArchiveGuard {
	return &ArchiveGuard{archive: archive}
}

// BeginSession writes the session header.
func (g *ArchiveGuard) BeginSession(ctx context.Context, rec memory.SessionRecord) {
	if g.archive == nil {
		return
	}
	g.observe(g.archive.BeginSession(ctx, rec), "BeginSession", rec.ID)
}

// WriteEntry appends a transcribed utterance.
func (g *ArchiveGuard) WriteEntry(ctx context.Context, entry memory.TranscriptEntry) {
	if g.archive == nil {
		return
	}
	g.observe(g.archive.WriteEntry(ctx, entry), "WriteEntry", entry.SessionID)
}

// WriteSummary appends a summary.
func (g *ArchiveGuard) WriteSummary(ctx context.Context, rec memory.SummaryRecord) {
	if g.archive == nil {
		return
	}
	g.observe(g.archive.WriteSummary(ctx, rec), "WriteSummary", rec.SessionID)
}

// EndSession stamps the session's end time.
func (g *ArchiveGuard) EndSession(ctx context.Context, id uuid.UUID, at time.Time) {
	if g.archive == nil {
		return
	}
	g.observe(g.archive.EndSession(ctx, id, at), "EndSession", id)
}

// IsDegraded reports whether the most recent write failed.
func (g *ArchiveGuard) IsDegraded() bool {
	return g.degraded.Load()
}

func (g *ArchiveGuard) observe(err error, op string, id uuid.UUID) {
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("archive guard: write failed, swallowing error",
			"op", op,
			"archive_id", id,
			"error", err,
		)
		return
	}
	g.degraded.Store(false)
}
