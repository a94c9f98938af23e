// Package mock provides an in-memory test double for [memory.Archive].
//
// The mock behaves like a real archive (it stores what it is given) and
// additionally records every method call and lets tests inject errors. It is
// safe for concurrent use.
//
// Typical usage:
//
//	archive := mock.NewArchive()
//	archive.WriteEntryErr = errors.New("disk full")
//
//	// inject archive into the system under test …
//
//	if got := archive.CallCount("WriteEntry"); got != 1 {
//	    t.Errorf("expected 1 WriteEntry call, got %d", got)
//	}
package mock

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/scribe/pkg/memory"
)

var _ memory.Archive = (*Archive)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Archive is a configurable in-memory [memory.Archive]. All exported *Err
// fields default to nil (success).
type Archive struct {
	mu sync.Mutex

	calls     []Call
	sessions  map[uuid.UUID]memory.SessionRecord
	entries   map[uuid.UUID][]memory.TranscriptEntry
	summaries map[uuid.UUID][]memory.SummaryRecord
	closed    bool

	BeginSessionErr error
	WriteEntryErr   error
	WriteSummaryErr error
	EndSessionErr   error
	PingErr         error
}

// NewArchive returns an empty Archive.
func NewArchive() *Archive {
	return &Archive{
		sessions:  make(map[uuid.UUID]memory.SessionRecord),
		entries:   make(map[uuid.UUID][]memory.TranscriptEntry),
		summaries: make(map[uuid.UUID][]memory.SummaryRecord),
	}
}

func (a *Archive) record(method string, args ...any) {
	a.calls = append(a.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded method invocations.
func (a *Archive) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.calls)
}

// CallCount returns how many times the named method was invoked.
func (a *Archive) CallCount(method string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// SessionIDs returns the ids of every begun session.
func (a *Archive) SessionIDs() []uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Collect(maps.Keys(a.sessions))
}

// Closed reports whether Close was called.
func (a *Archive) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// BeginSession implements [memory.Archive].
func (a *Archive) BeginSession(_ context.Context, rec memory.SessionRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("BeginSession", rec)
	if a.BeginSessionErr != nil {
		return a.BeginSessionErr
	}
	if prev, ok := a.sessions[rec.ID]; ok {
		prev.Participants = maps.Clone(rec.Participants)
		a.sessions[rec.ID] = prev
		return nil
	}
	rec.Participants = maps.Clone(rec.Participants)
	a.sessions[rec.ID] = rec
	return nil
}

// WriteEntry implements [memory.Archive].
func (a *Archive) WriteEntry(_ context.Context, entry memory.TranscriptEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("WriteEntry", entry)
	if a.WriteEntryErr != nil {
		return a.WriteEntryErr
	}
	if _, ok := a.sessions[entry.SessionID]; !ok {
		return fmt.Errorf("mock archive: %w", memory.ErrUnknownSession)
	}
	a.entries[entry.SessionID] = append(a.entries[entry.SessionID], entry)
	return nil
}

// WriteSummary implements [memory.Archive].
func (a *Archive) WriteSummary(_ context.Context, rec memory.SummaryRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("WriteSummary", rec)
	if a.WriteSummaryErr != nil {
		return a.WriteSummaryErr
	}
	if _, ok := a.sessions[rec.SessionID]; !ok {
		return fmt.Errorf("mock archive: %w", memory.ErrUnknownSession)
	}
	a.summaries[rec.SessionID] = append(a.summaries[rec.SessionID], rec)
	return nil
}

// EndSession implements [memory.Archive].
func (a *Archive) EndSession(_ context.Context, id uuid.UUID, at time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("EndSession", id, at)
	if a.EndSessionErr != nil {
		return a.EndSessionErr
	}
	rec, ok := a.sessions[id]
	if !ok {
		return fmt.Errorf("mock archive: %w", memory.ErrUnknownSession)
	}
	rec.EndedAt = at
	a.sessions[id] = rec
	return nil
}

// Session implements [memory.Archive].
func (a *Archive) Session(_ context.Context, id uuid.UUID) (memory.SessionRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("Session", id)
	rec, ok := a.sessions[id]
	if !ok {
		return memory.SessionRecord{}, fmt.Errorf("mock archive: %w", memory.ErrUnknownSession)
	}
	rec.Participants = maps.Clone(rec.Participants)
	return rec, nil
}

// Entries implements [memory.Archive]. Entries are returned in timestamp
// order.
func (a *Archive) Entries(_ context.Context, id uuid.UUID) ([]memory.TranscriptEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("Entries", id)
	out := slices.Clone(a.entries[id])
	if out == nil {
		out = []memory.TranscriptEntry{}
	}
	slices.SortStableFunc(out, func(x, y memory.TranscriptEntry) int {
		return x.Timestamp.Compare(y.Timestamp)
	})
	return out, nil
}

// Summaries implements [memory.Archive].
func (a *Archive) Summaries(_ context.Context, id uuid.UUID) ([]memory.SummaryRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("Summaries", id)
	out := slices.Clone(a.summaries[id])
	if out == nil {
		out = []memory.SummaryRecord{}
	}
	return out, nil
}

// Ping implements [memory.Archive].
func (a *Archive) Ping(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("Ping")
	return a.PingErr
}

// Close implements [memory.Archive].
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("Close")
	a.closed = true
	return nil
}
