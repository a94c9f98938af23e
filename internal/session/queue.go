package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/scribe/internal/observe"
)

// JobHandler transcribes one job. It owns every outcome of the job: a
// handler that fails logs and returns, the queue never retries.
type JobHandler func(ctx context.Context, job UtteranceJob)

// TranscriptionQueue is a FIFO of [UtteranceJob] values served by a single
// worker goroutine. At most one job is handled at any time and jobs are
// handled in enqueue order.
//
// All methods are safe for concurrent use.
type TranscriptionQueue struct {
	handle  JobHandler
	metrics *observe.Metrics

	mu     sync.Mutex
	jobs   []UtteranceJob
	busy   bool
	closed bool
	// changed is closed and replaced on every state change.
	changed chan struct{}

	startOnce sync.Once
	started   bool
	done      chan struct{}
}

// NewTranscriptionQueue returns a stopped queue that hands jobs to handle.
func NewTranscriptionQueue(handle JobHandler, metrics *observe.Metrics) *TranscriptionQueue {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &TranscriptionQueue{
		handle:  handle,
		metrics: metrics,
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the worker. It returns immediately; the worker runs until
// Close is called or ctx ends. Calls after the first are no-ops.
func (q *TranscriptionQueue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		q.mu.Lock()
		q.started = true
		q.mu.Unlock()
		go q.run(ctx)
	})
}

// Enqueue appends job. It reports false, dropping the job, once the queue is
// closed.
func (q *TranscriptionQueue) Enqueue(job UtteranceJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, job)
	q.metrics.QueueDepth.Add(context.Background(), 1)
	q.notifyLocked()
	return true
}

// Drain blocks until no job is queued and the worker is idle. When ctx ends
// first it returns an error wrapping [ErrDrainTimeout] and ctx.Err().
func (q *TranscriptionQueue) Drain(ctx context.Context) error {
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 && !q.busy {
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		pending := len(q.jobs)
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return fmt.Errorf("%w with %d jobs pending: %w", ErrDrainTimeout, pending, ctx.Err())
		}
	}
}

// Len returns the number of queued jobs, not counting one in progress.
func (q *TranscriptionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Idle reports whether the queue is empty and the worker is not busy.
func (q *TranscriptionQueue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs) == 0 && !q.busy
}

// Close stops accepting jobs and waits for the worker to finish what is
// already queued. Safe to call more than once.
func (q *TranscriptionQueue) Close() {
	q.mu.Lock()
	q.closed = true
	started := q.started
	q.notifyLocked()
	q.mu.Unlock()

	if started {
		<-q.done
	}
}

func (q *TranscriptionQueue) run(ctx context.Context) {
	defer close(q.done)
	for {
		job, ok := q.next(ctx)
		if !ok {
			return
		}
		q.handle(ctx, job)

		q.mu.Lock()
		q.busy = false
		q.notifyLocked()
		q.mu.Unlock()
	}
}

// next blocks for the next job. It returns false once the queue is closed
// and empty, or when ctx ends; in the latter case pending jobs are dropped
// so that Drain does not wait on a worker that is gone.
func (q *TranscriptionQueue) next(ctx context.Context) (UtteranceJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.jobs) == 0 || ctx.Err() != nil {
		if ctx.Err() != nil {
			q.abandonLocked()
			return UtteranceJob{}, false
		}
		if q.closed {
			return UtteranceJob{}, false
		}
		wait := q.changed
		q.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
		}
		q.mu.Lock()
	}

	job := q.jobs[0]
	q.jobs[0] = UtteranceJob{} // release the PCM buffer with the slot
	q.jobs = q.jobs[1:]
	q.busy = true
	q.metrics.QueueDepth.Add(context.Background(), -1)
	q.notifyLocked()
	return job, true
}

func (q *TranscriptionQueue) abandonLocked() {
	if n := len(q.jobs); n > 0 {
		slog.Warn("session: transcription worker stopped, dropping queued utterances", "count", n)
		q.metrics.QueueDepth.Add(context.Background(), -int64(n))
	}
	q.jobs = nil
	q.closed = true
	q.busy = false
	q.notifyLocked()
}

func (q *TranscriptionQueue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
