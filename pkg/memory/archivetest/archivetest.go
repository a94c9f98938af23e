// Package archivetest holds a behavioural test suite shared by every
// [memory.Archive] implementation.
package archivetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/scribe/pkg/memory"
)

// Run exercises the archive returned by newArchive. newArchive is called once
// per subtest and must return an empty archive.
func Run(t *testing.T, newArchive func(t *testing.T) memory.Archive) {
	t.Helper()

	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newArchive(t)) })
	t.Run("EntriesOrdered", func(t *testing.T) { testEntriesOrdered(t, newArchive(t)) })
	t.Run("UnknownSession", func(t *testing.T) { testUnknownSession(t, newArchive(t)) })
	t.Run("BeginTwiceUpdatesParticipants", func(t *testing.T) { testBeginTwice(t, newArchive(t)) })
	t.Run("EmptySession", func(t *testing.T) { testEmptySession(t, newArchive(t)) })
}

// base is a fixed reference time truncated to what every backend stores
// losslessly.
var base = time.Date(2026, 3, 14, 19, 30, 0, 0, time.UTC)

func newRecord() memory.SessionRecord {
	return memory.SessionRecord{
		ID:             uuid.New(),
		OwnerID:        "owner",
		GuildID:        "guild",
		VoiceChannelID: "voice",
		TextChannelID:  "text",
		Participants:   map[string]string{"u1": "Alice", "u2": "Bob"},
		StartedAt:      base,
	}
}

func testRoundTrip(t *testing.T, a memory.Archive) {
	ctx := context.Background()
	rec := newRecord()
	if err := a.BeginSession(ctx, rec); err != nil {
		t.Fatalf("BeginSession: %v", err)
	}

	entry := memory.TranscriptEntry{
		ID:          uuid.New(),
		SessionID:   rec.ID,
		SpeakerID:   "u1",
		SpeakerName: "Alice",
		Text:        "The Eldrinax appears!",
		RawText:     "The elder nacks appears!",
		Timestamp:   base.Add(time.Minute),
		Duration:    1500 * time.Millisecond,
	}
	if err := a.WriteEntry(ctx, entry); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	if err := a.WriteSummary(ctx, memory.SummaryRecord{SessionID: rec.ID, Kind: memory.SummaryFinal, Text: "A dragon.", CreatedAt: base.Add(time.Hour)}); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	if err := a.EndSession(ctx, rec.ID, base.Add(2*time.Hour)); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	got, err := a.Session(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if got.OwnerID != "owner" || got.GuildID != "guild" || got.TextChannelID != "text" {
		t.Errorf("Session header = %+v", got)
	}
	if got.Participants["u2"] != "Bob" {
		t.Errorf("Participants = %v", got.Participants)
	}
	if !got.StartedAt.Equal(base) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, base)
	}
	if !got.EndedAt.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("EndedAt = %v", got.EndedAt)
	}

	entries, err := a.Entries(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.ID != entry.ID || e.Text != entry.Text || e.RawText != entry.RawText || e.SpeakerName != "Alice" {
		t.Errorf("entry = %+v, want %+v", e, entry)
	}
	if e.Duration != entry.Duration {
		t.Errorf("Duration = %v, want %v", e.Duration, entry.Duration)
	}
	if !e.Timestamp.Equal(entry.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", e.Timestamp, entry.Timestamp)
	}

	sums, err := a.Summaries(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Summaries: %v", err)
	}
	if len(sums) != 1 || sums[0].Kind != memory.SummaryFinal || sums[0].Text != "A dragon." {
		t.Errorf("summaries = %+v", sums)
	}
}

func testEntriesOrdered(t *testing.T, a memory.Archive) {
	ctx := context.Background()
	rec := newRecord()
	if err := a.BeginSession(ctx, rec); err != nil {
		t.Fatalf("BeginSession: %v", err)
	}
	// Written out of order; read back by timestamp.
	for _, off := range []int{3, 1, 2} {
		err := a.WriteEntry(ctx, memory.TranscriptEntry{
			ID:        uuid.New(),
			SessionID: rec.ID,
			Text:      string(rune('a' + off)),
			Timestamp: base.Add(time.Duration(off) * time.Second),
		})
		if err != nil {
			t.Fatalf("WriteEntry: %v", err)
		}
	}
	entries, err := a.Entries(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	var got string
	for _, e := range entries {
		got += e.Text
	}
	if got != "bcd" {
		t.Errorf("order = %q, want %q", got, "bcd")
	}
}

func testUnknownSession(t *testing.T, a memory.Archive) {
	ctx := context.Background()
	missing := uuid.New()

	if err := a.WriteEntry(ctx, memory.TranscriptEntry{ID: uuid.New(), SessionID: missing, Text: "x", Timestamp: base}); !errors.Is(err, memory.ErrUnknownSession) {
		t.Errorf("WriteEntry err = %v, want ErrUnknownSession", err)
	}
	if err := a.WriteSummary(ctx, memory.SummaryRecord{SessionID: missing, Kind: memory.SummaryInterim, Text: "x", CreatedAt: base}); !errors.Is(err, memory.ErrUnknownSession) {
		t.Errorf("WriteSummary err = %v, want ErrUnknownSession", err)
	}
	if err := a.EndSession(ctx, missing, base); !errors.Is(err, memory.ErrUnknownSession) {
		t.Errorf("EndSession err = %v, want ErrUnknownSession", err)
	}
	if _, err := a.Session(ctx, missing); !errors.Is(err, memory.ErrUnknownSession) {
		t.Errorf("Session err = %v, want ErrUnknownSession", err)
	}
}

func testBeginTwice(t *testing.T, a memory.Archive) {
	ctx := context.Background()
	rec := newRecord()
	if err := a.BeginSession(ctx, rec); err != nil {
		t.Fatalf("BeginSession: %v", err)
	}
	rec.Participants = map[string]string{"u3": "Carol"}
	if err := a.BeginSession(ctx, rec); err != nil {
		t.Fatalf("BeginSession (again): %v", err)
	}
	got, err := a.Session(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if len(got.Participants) != 1 || got.Participants["u3"] != "Carol" {
		t.Errorf("Participants = %v, want only u3", got.Participants)
	}
}

func testEmptySession(t *testing.T, a memory.Archive) {
	ctx := context.Background()
	rec := newRecord()
	if err := a.BeginSession(ctx, rec); err != nil {
		t.Fatalf("BeginSession: %v", err)
	}
	entries, err := a.Entries(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("Entries = %#v, want empty non-nil slice", entries)
	}
	got, err := a.Session(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if !got.EndedAt.IsZero() {
		t.Errorf("EndedAt = %v, want zero", got.EndedAt)
	}
	if err := a.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
