package session

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/scribe/internal/observe"
	audiomock "github.com/MrWong99/scribe/pkg/audio/mock"
)

type captureHarness struct {
	conn *audiomock.Connection
	cap  *capture
	jobs chan UtteranceJob
}

func newCaptureHarness(t *testing.T, silence time.Duration, speakers ...string) *captureHarness {
	t.Helper()
	allowed := make(map[string]bool, len(speakers))
	for _, s := range speakers {
		allowed[s] = true
	}
	h := &captureHarness{
		conn: audiomock.NewConnection(),
		jobs: make(chan UtteranceJob, 16),
	}
	h.cap = newCapture(captureConfig{
		sessionID: "owner",
		conn:      h.conn,
		silence:   silence,
		decoders:  audiomock.NewDecoder,
		routes:    func(id string) bool { return allowed[id] },
		emit:      func(j UtteranceJob) { h.jobs <- j },
		metrics:   observe.DefaultMetrics(),
		log:       slog.Default(),
	})
	h.conn.OnSpeakingStart(h.cap.onSpeechStart)
	t.Cleanup(h.cap.stop)
	return h
}

func (h *captureHarness) nextJob(t *testing.T) UtteranceJob {
	t.Helper()
	select {
	case j := <-h.jobs:
		return j
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for utterance job")
		return UtteranceJob{}
	}
}

func (h *captureHarness) noJob(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case j := <-h.jobs:
		t.Fatalf("unexpected job for %s with %d bytes", j.SpeakerID, len(j.PCM))
	case <-time.After(wait):
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCapture_SpeechStartIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newCaptureHarness(t, time.Hour, "alice")
	h.conn.StartSpeaking("alice")
	h.conn.StartSpeaking("alice")
	h.conn.StartSpeaking("alice")

	if n := len(h.conn.SubscribeCalls); n != 1 {
		t.Errorf("Subscribe called %d times, want 1", n)
	}
	if h.cap.active() != 1 {
		t.Errorf("active = %d, want 1", h.cap.active())
	}
	if st, ok := h.cap.streamState("alice"); !ok || st != streamCapturing {
		t.Errorf("streamState = %v, %v; want capturing", st, ok)
	}
}

func TestCapture_IgnoresUnroutedSpeakers(t *testing.T) {
	t.Parallel()

	h := newCaptureHarness(t, time.Hour, "alice")
	h.conn.StartSpeaking("mallory")

	if len(h.conn.SubscribeCalls) != 0 {
		t.Error("unrouted speaker must not be subscribed")
	}
}

func TestCapture_SilenceEndsUtterance(t *testing.T) {
	t.Parallel()

	h := newCaptureHarness(t, 30*time.Millisecond, "alice")
	h.conn.StartSpeaking("alice")
	h.conn.Send("alice", []byte{1, 2})
	h.conn.Send("alice", []byte{3, 4})

	job := h.nextJob(t)
	if job.SpeakerID != "alice" || job.SessionID != "owner" {
		t.Errorf("job = %s/%s, want owner/alice", job.SessionID, job.SpeakerID)
	}
	if !bytes.Equal(job.PCM, []byte{1, 2, 3, 4}) {
		t.Errorf("PCM = %v, want [1 2 3 4]", job.PCM)
	}
	if job.End.Before(job.Start) {
		t.Errorf("End %v before Start %v", job.End, job.Start)
	}
	waitUntil(t, func() bool { return h.cap.active() == 0 })

	// Speaking again opens a new utterance.
	h.conn.StartSpeaking("alice")
	h.conn.Send("alice", []byte{5, 6})
	second := h.nextJob(t)
	if !bytes.Equal(second.PCM, []byte{5, 6}) {
		t.Errorf("second PCM = %v, want [5 6]", second.PCM)
	}
	if second.ID == job.ID {
		t.Error("utterances must get distinct ids")
	}
}

// steppedClock returns times in order and repeats the last one.
func steppedClock(times ...time.Time) func() time.Time {
	var mu sync.Mutex
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := times[0]
		if len(times) > 1 {
			times = times[1:]
		}
		return t
	}
}

func TestCapture_EndCompensatesSilence(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		silence time.Duration
		stop    bool
		wantEnd time.Time
	}{
		// Three seconds of speech, then the silence timer fires 600ms later.
		{name: "silence", silence: 600 * time.Millisecond, wantEnd: t0.Add(3 * time.Second)},
		{name: "stop", silence: time.Hour, stop: true, wantEnd: t0.Add(3600 * time.Millisecond)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newCaptureHarness(t, tt.silence, "alice")
			h.cap.now = steppedClock(t0, t0.Add(3600*time.Millisecond))
			h.conn.StartSpeaking("alice")
			h.conn.Send("alice", []byte{1, 2})
			if tt.stop {
				waitUntil(t, func() bool { return h.cap.active() == 1 })
				h.cap.stop()
			}

			job := h.nextJob(t)
			if !job.Start.Equal(t0) {
				t.Errorf("Start = %v, want %v", job.Start, t0)
			}
			if !job.End.Equal(tt.wantEnd) {
				t.Errorf("End = %v, want %v", job.End, tt.wantEnd)
			}
		})
	}
}

func TestCapture_StopFinalizesOpenStreams(t *testing.T) {
	t.Parallel()

	h := newCaptureHarness(t, time.Hour, "alice", "bob")
	h.conn.StartSpeaking("alice")
	h.conn.StartSpeaking("bob")
	h.conn.Send("alice", []byte{1, 2})
	h.conn.Send("bob", []byte{3, 4})
	waitUntil(t, func() bool { return h.cap.active() == 2 })

	h.cap.stop()

	got := map[string]bool{}
	for range 2 {
		select {
		case j := <-h.jobs:
			got[j.SpeakerID] = true
		default:
			t.Fatal("stop must emit every pending utterance before returning")
		}
	}
	if !got["alice"] || !got["bob"] {
		t.Errorf("jobs for %v, want alice and bob", got)
	}
	if h.cap.active() != 0 {
		t.Errorf("active = %d after stop", h.cap.active())
	}

	h.conn.StartSpeaking("alice")
	if n := len(h.conn.SubscribeCalls); n != 2 {
		t.Errorf("speech start after stop subscribed again (%d calls)", n)
	}
}

func TestCapture_EmptyStreamEmitsNothing(t *testing.T) {
	t.Parallel()

	h := newCaptureHarness(t, 10*time.Millisecond, "alice")
	h.conn.StartSpeaking("alice")

	h.noJob(t, 60*time.Millisecond)
	waitUntil(t, func() bool { return h.cap.active() == 0 })
}

func TestCapture_DecodeFailureDropsUtterance(t *testing.T) {
	t.Parallel()

	h := newCaptureHarness(t, time.Hour, "alice")
	h.conn.StartSpeaking("alice")
	h.conn.Send("alice", []byte{1, 2})
	h.conn.Send("alice", audiomock.BadPacket)

	waitUntil(t, func() bool { return h.cap.active() == 0 })
	h.noJob(t, 20*time.Millisecond)

	// The speaker can be captured again.
	h.conn.StartSpeaking("alice")
	if !h.conn.Subscribed("alice") {
		t.Error("expected a fresh stream after a decode failure")
	}
}

func TestCapture_StreamFailureDropsUtterance(t *testing.T) {
	t.Parallel()

	h := newCaptureHarness(t, time.Hour, "alice")
	h.conn.StartSpeaking("alice")
	h.conn.Send("alice", []byte{1, 2})
	h.conn.Fail("alice", errors.New("udp read failed"))

	waitUntil(t, func() bool { return h.cap.active() == 0 })
	h.noJob(t, 20*time.Millisecond)
}

func TestCapture_SubscribeFailure(t *testing.T) {
	t.Parallel()

	h := newCaptureHarness(t, time.Hour, "alice")
	h.conn.SubscribeError = errors.New("no ssrc yet")
	h.conn.StartSpeaking("alice")

	if h.cap.active() != 0 {
		t.Error("failed subscribe must not leave an active stream")
	}
}
