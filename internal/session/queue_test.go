package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func jobFor(speaker string, n int) UtteranceJob {
	return UtteranceJob{SpeakerID: speaker, PCM: make([]byte, n)}
}

func TestTranscriptionQueue_FIFOUnderVariableLatency(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		order    []string
		inFlight atomic.Int32
		maxSeen  atomic.Int32
	)
	// Earlier jobs take longer, so any concurrency would reorder them.
	delays := map[string]time.Duration{
		"a": 30 * time.Millisecond,
		"b": 20 * time.Millisecond,
		"c": 10 * time.Millisecond,
		"d": 0,
	}
	q := NewTranscriptionQueue(func(_ context.Context, job UtteranceJob) {
		n := inFlight.Add(1)
		for {
			old := maxSeen.Load()
			if n <= old || maxSeen.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(delays[job.SpeakerID])
		mu.Lock()
		order = append(order, job.SpeakerID)
		mu.Unlock()
		inFlight.Add(-1)
	}, nil)
	q.Start(t.Context())

	for _, s := range []string{"a", "b", "c", "d"} {
		if !q.Enqueue(jobFor(s, 2)) {
			t.Fatalf("Enqueue(%s) rejected", s)
		}
	}
	if err := q.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"a", "b", "c", "d"}
	if len(order) != len(want) {
		t.Fatalf("handled %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("handled %v, want %v", order, want)
		}
	}
	if maxSeen.Load() != 1 {
		t.Errorf("max concurrent jobs = %d, want 1", maxSeen.Load())
	}
}

func TestTranscriptionQueue_DrainWaitsForInFlightJob(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var handled atomic.Int32
	q := NewTranscriptionQueue(func(context.Context, UtteranceJob) {
		<-release
		handled.Add(1)
	}, nil)
	q.Start(t.Context())

	for range 3 {
		q.Enqueue(jobFor("a", 2))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Drain(ctx)
	if !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("Drain error = %v, want ErrDrainTimeout", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Drain error = %v, want it to wrap DeadlineExceeded", err)
	}

	close(release)
	if err := q.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if handled.Load() != 3 {
		t.Errorf("handled = %d, want 3", handled.Load())
	}
	if !q.Idle() || q.Len() != 0 {
		t.Error("queue should be idle after Drain")
	}
}

func TestTranscriptionQueue_DrainEmptyReturnsImmediately(t *testing.T) {
	t.Parallel()

	q := NewTranscriptionQueue(func(context.Context, UtteranceJob) {}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Drain(ctx); err != nil {
		t.Fatalf("Drain on unstarted empty queue: %v", err)
	}
}

func TestTranscriptionQueue_CloseFinishesQueuedJobs(t *testing.T) {
	t.Parallel()

	var handled atomic.Int32
	q := NewTranscriptionQueue(func(context.Context, UtteranceJob) {
		time.Sleep(time.Millisecond)
		handled.Add(1)
	}, nil)
	q.Start(t.Context())

	for range 5 {
		q.Enqueue(jobFor("a", 2))
	}
	q.Close()

	if handled.Load() != 5 {
		t.Errorf("handled = %d, want 5", handled.Load())
	}
	if q.Enqueue(jobFor("a", 2)) {
		t.Error("Enqueue after Close should be rejected")
	}
	q.Close()
}

func TestTranscriptionQueue_CancelAbandonsPendingJobs(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 1)
	q := NewTranscriptionQueue(func(ctx context.Context, _ UtteranceJob) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
	}, nil)
	q.Start(ctx)

	for range 3 {
		q.Enqueue(jobFor("a", 2))
	}
	<-started
	cancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Second)
	defer drainCancel()
	if err := q.Drain(drainCtx); err != nil {
		t.Fatalf("Drain after cancel: %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0", q.Len())
	}
	if q.Enqueue(jobFor("a", 2)) {
		t.Error("Enqueue after the worker stopped should be rejected")
	}
}
