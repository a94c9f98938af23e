package session

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/pkg/audio"
)

// UtteranceJob is one finished utterance waiting for transcription.
type UtteranceJob struct {
	ID        uuid.UUID
	SessionID string
	SpeakerID string

	// Start is when capture began; End is when the speaker stopped talking.
	Start time.Time
	End   time.Time

	// PCM holds the utterance in Format.
	PCM    []byte
	Format audio.Format
}

// Duration returns the length of the captured audio.
func (j UtteranceJob) Duration() time.Duration {
	return j.Format.Duration(len(j.PCM))
}

type streamState int

const (
	streamCapturing streamState = iota
	streamFinalizing
	streamClosed
)

func (s streamState) String() string {
	switch s {
	case streamCapturing:
		return "capturing"
	case streamFinalizing:
		return "finalizing"
	case streamClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// activeStream is one speaker's open subscription. state is guarded by
// capture.mu; pcm is owned by the stream's goroutine.
type activeStream struct {
	speakerID string
	stream    audio.Stream
	decode    *decodeStage
	start     time.Time
	state     streamState
	pcm       bytes.Buffer
}

// captureConfig wires a capture to its collaborators.
type captureConfig struct {
	sessionID string
	conn      audio.Connection
	silence   time.Duration
	decoders  audio.DecoderFactory

	// routes reports whether a speaker belongs to this session.
	routes func(speakerID string) bool

	// emit receives every finished, non-empty utterance.
	emit func(UtteranceJob)

	now     func() time.Time
	metrics *observe.Metrics
	log     *slog.Logger
}

// capture keeps at most one [activeStream] per speaker on a voice
// connection and turns each finished stream into an [UtteranceJob].
type capture struct {
	captureConfig

	mu       sync.Mutex
	streams  map[string]*activeStream
	stopping bool
	wg       sync.WaitGroup
}

func newCapture(cfg captureConfig) *capture {
	if cfg.silence <= 0 {
		cfg.silence = audio.DefaultSilence
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &capture{
		captureConfig: cfg,
		streams:       make(map[string]*activeStream),
	}
}

// onSpeechStart opens a stream for speakerID. It does nothing while the
// speaker already has a stream, for speakers of other sessions and after
// stop.
func (c *capture) onSpeechStart(speakerID string) {
	if !c.routes(speakerID) {
		return
	}

	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return
	}
	if _, ok := c.streams[speakerID]; ok {
		c.mu.Unlock()
		return
	}

	dec, err := newDecodeStage(c.decoders)
	if err != nil {
		c.mu.Unlock()
		c.fail(speakerID, "decoder", err)
		return
	}
	stream, err := c.conn.Subscribe(speakerID, audio.AfterSilence(c.silence))
	if err != nil {
		c.mu.Unlock()
		c.fail(speakerID, "subscribe", err)
		return
	}

	as := &activeStream{
		speakerID: speakerID,
		stream:    stream,
		decode:    dec,
		start:     c.now(),
		state:     streamCapturing,
	}
	c.streams[speakerID] = as
	c.wg.Add(1)
	c.mu.Unlock()

	c.metrics.ActiveStreams.Add(context.Background(), 1)
	c.log.Debug("session: capture started", "speaker_id", speakerID)
	go c.run(as)
}

// run accumulates decoded audio until the stream ends, then finalizes it.
func (c *capture) run(as *activeStream) {
	defer c.wg.Done()

	var (
		failure error
		stage   string
	)
	for pkt := range as.stream.Packets() {
		pcm, err := as.decode.process(pkt)
		if err != nil {
			failure, stage = err, "decode"
			as.stream.Close()
			audio.Discard(as.stream.Packets())
			break
		}
		as.pcm.Write(pcm)
	}
	end := c.now()
	if failure == nil {
		if err := as.stream.Err(); err != nil {
			failure, stage = err, "stream"
		}
	}

	c.mu.Lock()
	as.state = streamFinalizing
	forced := c.stopping
	c.mu.Unlock()

	switch {
	case failure != nil:
		c.fail(as.speakerID, stage, failure)
	case as.pcm.Len() > 0:
		// A silence-terminated stream ended silence ago; a stream closed by
		// stop ended now.
		if !forced {
			end = end.Add(-c.silence)
		}
		if end.Before(as.start) {
			end = as.start
		}
		job := UtteranceJob{
			ID:        uuid.New(),
			SessionID: c.sessionID,
			SpeakerID: as.speakerID,
			Start:     as.start,
			End:       end,
			PCM:       as.pcm.Bytes(),
			Format:    audio.SpeechFormat,
		}
		c.metrics.UtteranceLength.Record(context.Background(), job.Duration().Seconds())
		c.emit(job)
	}

	c.mu.Lock()
	as.state = streamClosed
	if c.streams[as.speakerID] == as {
		delete(c.streams, as.speakerID)
	}
	c.mu.Unlock()
	c.metrics.ActiveStreams.Add(context.Background(), -1)
}

func (c *capture) fail(speakerID, stage string, err error) {
	c.log.Warn("session: capture stream failed", "speaker_id", speakerID, "stage", stage, "error", err)
	c.metrics.RecordCaptureError(context.Background(), stage)
}

// stop closes every stream and waits until each has been finalized. Audio
// captured so far is still emitted. Later speech starts are ignored.
func (c *capture) stop() {
	c.mu.Lock()
	c.stopping = true
	open := make([]*activeStream, 0, len(c.streams))
	for _, as := range c.streams {
		open = append(open, as)
	}
	c.mu.Unlock()

	for _, as := range open {
		as.stream.Close()
	}
	c.wg.Wait()
}

// active returns the number of open streams.
func (c *capture) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

// streamState returns the state of speakerID's stream and whether one exists.
func (c *capture) streamState(speakerID string) (streamState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	as, ok := c.streams[speakerID]
	if !ok {
		return streamClosed, false
	}
	return as.state, true
}
