// Package session records a voice channel into a running transcript and
// turns it into narrative summaries.
//
// A [Session] belongs to one owner. While Active it captures every
// participant's speech as separate utterances, transcribes them one at a time
// through a [TranscriptionQueue] and appends each line to its [ChatLog].
// Pause summarizes the chapter and starts a new epoch; stop posts the final
// summary and opens a revision window in which only the owner may ask the
// model for changes.
//
// Lifecycle:
//
//	Uninitialized --Start--> Active --Pause--> Paused --Unpause--> Active
//	Active|Paused --Stop--> Reviewing --window expires--> Closed
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/internal/transcript"
	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/MrWong99/scribe/pkg/memory"
	"github.com/MrWong99/scribe/pkg/provider/llm"
	"github.com/MrWong99/scribe/pkg/provider/stt"
)

// DefaultRevisionWindow is how long the owner may request summary revisions
// after stop.
const DefaultRevisionWindow = 30 * time.Minute

// DefaultSystemPrompt seeds every epoch of the chat log.
const DefaultSystemPrompt = `You are the chronicler of a tabletop role-playing session. ` +
	`Each user message is one transcribed line of speech, wrapped in a tag named after the speaker. ` +
	`Transcription is imperfect, so infer what was meant. ` +
	`When you answer, write a narrative summary in past tense of everything that happened so far, ` +
	`naming the characters involved. Leave out table talk that is not part of the story.`

// DefaultReplyPrompt is appended after the final summary. The owner's
// revision requests follow it.
const DefaultReplyPrompt = `The session is over. The game master may now ask for changes to the summary above. ` +
	`Answer every request with the complete revised summary and nothing else.`

// Messages posted to the output channel.
const (
	noticeJoinFailed      = "I could not join the voice channel, so nothing is being recorded. Try `/scribe pause` and `/scribe unpause`."
	noticeSummaryFailed   = "I could not write a summary this time. The transcript is kept and will be part of the next one."
	noticeRevisionFailed  = "I could not revise the summary. Please try again."
	noticeRevisionWindow  = "Reply in this thread within %s to request changes to the summary."
	noticeRevisionsLocked = "🔒 The revision window has closed. The summary is final."
	noticeBudgetWarning   = "⚠️ This chapter's transcript is at %d%% of the token budget. Use `/scribe pause` to summarize it and start a new chapter."

	ackEmoji           = "📝"
	defaultMaxTokens   = 128_000
	revisionThreadName = "Summary revisions"
	keywordBoost       = 2
)

// Config describes one session.
type Config struct {
	// ID is the owner's platform user id. It identifies the session.
	ID string

	GuildID        string
	VoiceChannelID string
	TextChannelID  string

	// Participants maps speaker ids to display names. Only their speech is
	// recorded.
	Participants map[string]string

	// SystemPrompt seeds every epoch. Defaults to [DefaultSystemPrompt].
	SystemPrompt string

	// ReplyPrompt is appended after the final summary. Defaults to
	// [DefaultReplyPrompt].
	ReplyPrompt string

	// Language is the transcription language hint. Empty lets the provider
	// decide.
	Language string

	// MaxTokens is the token budget of one epoch. Zero uses the language
	// model's context window.
	MaxTokens int

	// WarnRatio and ForceRatio are the budget thresholds as fractions of
	// MaxTokens. Defaults: [DefaultWarnRatio], [DefaultForceRatio].
	WarnRatio  float64
	ForceRatio float64

	// BudgetPolicy runs when ForceRatio is reached. Defaults to [DetectOnly].
	BudgetPolicy BudgetPolicy

	// Silence ends an utterance. Defaults to [audio.DefaultSilence].
	Silence time.Duration

	// RevisionWindow is how long revisions are accepted after stop.
	// Defaults to [DefaultRevisionWindow].
	RevisionWindow time.Duration

	// DrainTimeout bounds how long pause and stop wait for pending
	// transcriptions. Zero waits indefinitely.
	DrainTimeout time.Duration
}

// Deps are the collaborators of a session.
type Deps struct {
	// Joiner joins the voice channel. Required.
	Joiner *VoiceJoiner

	// Decoders creates one codec decoder per stream. Required.
	Decoders audio.DecoderFactory

	STT    stt.Provider
	LLM    llm.Provider
	Output Output

	// Registry routes speakers to sessions. Required; shared by all
	// sessions of the process.
	Registry *Registry

	// Pipeline cleans and corrects transcripts. Defaults to a pipeline that
	// only cleans.
	Pipeline *transcript.Pipeline

	// Archive receives the session history. Optional.
	Archive memory.Archive

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Session is one owner's recording. All methods are safe for concurrent
// use; lifecycle operations are serialized.
type Session struct {
	cfg        Config
	archiveID  uuid.UUID
	speakerIDs []string
	names      []string

	joiner    *VoiceJoiner
	decoders  audio.DecoderFactory
	stt       stt.Provider
	output    Output
	registry  *Registry
	pipeline  *transcript.Pipeline
	archive   *ArchiveGuard
	summaries *SummaryCoordinator
	queue     *TranscriptionQueue
	metrics   *observe.Metrics
	log       *slog.Logger
	now       func() time.Time

	runCtx context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	// transMu serializes lifecycle operations.
	transMu sync.Mutex

	mu           sync.Mutex
	state        State
	chat         *ChatLog
	budget       budget
	createdAt    time.Time
	lastActivity time.Time
	conn         audio.Connection
	capture      *capture
	started      bool
	closing      bool

	// finalizing keeps Reviewing open for transcript lines until stop has
	// taken the final summary snapshot.
	finalizing bool
	review     Output

	done     chan struct{}
	doneOnce sync.Once
}

// New validates cfg and deps and returns an uninitialized session.
func New(cfg Config, deps Deps) (*Session, error) {
	var errs []error
	if cfg.ID == "" {
		errs = append(errs, errors.New("session: ID must not be empty"))
	}
	if cfg.GuildID == "" || cfg.VoiceChannelID == "" {
		errs = append(errs, errors.New("session: GuildID and VoiceChannelID must not be empty"))
	}
	if len(cfg.Participants) == 0 {
		errs = append(errs, errors.New("session: at least one participant is required"))
	}
	if cfg.WarnRatio < 0 || cfg.ForceRatio < 0 || (cfg.WarnRatio > 0 && cfg.ForceRatio > 0 && cfg.WarnRatio >= cfg.ForceRatio) {
		errs = append(errs, fmt.Errorf("session: budget ratios must satisfy 0 < warn < force, got %.2f and %.2f", cfg.WarnRatio, cfg.ForceRatio))
	}
	if deps.Joiner == nil || deps.Decoders == nil || deps.STT == nil || deps.LLM == nil || deps.Output == nil || deps.Registry == nil {
		errs = append(errs, errors.New("session: Joiner, Decoders, STT, LLM, Output and Registry are required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.ReplyPrompt == "" {
		cfg.ReplyPrompt = DefaultReplyPrompt
	}
	if cfg.WarnRatio == 0 {
		cfg.WarnRatio = DefaultWarnRatio
	}
	if cfg.ForceRatio == 0 {
		cfg.ForceRatio = DefaultForceRatio
	}
	if cfg.BudgetPolicy == nil {
		cfg.BudgetPolicy = DetectOnly
	}
	if cfg.Silence <= 0 {
		cfg.Silence = audio.DefaultSilence
	}
	if cfg.RevisionWindow <= 0 {
		cfg.RevisionWindow = DefaultRevisionWindow
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = deps.LLM.Capabilities().ContextWindow
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	cfg.Participants = maps.Clone(cfg.Participants)

	metrics := deps.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	pipeline := deps.Pipeline
	if pipeline == nil {
		pipeline = transcript.NewPipeline()
	}

	speakerIDs := slices.Sorted(maps.Keys(cfg.Participants))
	names := make([]string, 0, len(speakerIDs))
	for _, id := range speakerIDs {
		names = append(names, cfg.Participants[id])
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:        cfg,
		archiveID:  uuid.New(),
		speakerIDs: speakerIDs,
		names:      names,
		joiner:     deps.Joiner,
		decoders:   deps.Decoders,
		stt:        deps.STT,
		output:     deps.Output,
		registry:   deps.Registry,
		pipeline:   pipeline,
		archive:    NewArchiveGuard(deps.Archive),
		summaries:  NewSummaryCoordinator(deps.LLM, metrics),
		metrics:    metrics,
		log:        observe.SessionLogger(context.Background(), cfg.ID),
		now:        time.Now,
		runCtx:     runCtx,
		cancel:     cancel,
		state:      StateUninitialized,
		chat:       NewChatLog(cfg.SystemPrompt),
		budget: budget{
			max:        cfg.MaxTokens,
			warnRatio:  cfg.WarnRatio,
			forceRatio: cfg.ForceRatio,
		},
		done: make(chan struct{}),
	}
	s.queue = NewTranscriptionQueue(s.transcribe, metrics)
	return s, nil
}

// ID returns the owner id identifying the session.
func (s *Session) ID() string { return s.cfg.ID }

// ArchiveID returns the key of the session in the transcript archive.
func (s *Session) ArchiveID() uuid.UUID { return s.archiveID }

// VoiceChannelID returns the recorded voice channel.
func (s *Session) VoiceChannelID() string { return s.cfg.VoiceChannelID }

// TextChannelID returns the channel receiving notices and summaries.
func (s *Session) TextChannelID() string { return s.cfg.TextChannelID }

// GuildID returns the guild the session records in.
func (s *Session) GuildID() string { return s.cfg.GuildID }

// Participants returns a copy of the speaker id to display name map.
func (s *Session) Participants() map[string]string { return maps.Clone(s.cfg.Participants) }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tokens returns the token estimate of the current epoch.
func (s *Session) Tokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chat.Tokens()
}

// MaxTokens returns the token budget of one epoch.
func (s *Session) MaxTokens() int { return s.cfg.MaxTokens }

// Messages returns a copy of the chat log.
func (s *Session) Messages() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chat.Messages()
}

// CreatedAt returns when the session started; zero before Start.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// LastActivity returns when the session last changed state or appended a
// transcript line.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// ActiveStreams returns the number of speakers currently being captured.
func (s *Session) ActiveStreams() int {
	s.mu.Lock()
	c := s.capture
	s.mu.Unlock()
	if c == nil {
		return 0
	}
	return c.active()
}

// Done is closed once the session reaches [StateClosed].
func (s *Session) Done() <-chan struct{} { return s.done }

// Start joins voice and begins recording. A failed voice join is reported to
// the output channel but still leaves the session Active.
func (s *Session) Start(ctx context.Context) error {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	if st := s.State(); st != StateUninitialized {
		return fmt.Errorf("session: start from %s: %w", st, ErrInvalidTransition)
	}
	if err := s.registry.Register(s.cfg.ID, s.speakerIDs); err != nil {
		return fmt.Errorf("session: start: %w", err)
	}
	if _, err := s.transition(StateActive, StateUninitialized); err != nil {
		s.registry.Unregister(s.cfg.ID)
		return err
	}

	s.mu.Lock()
	s.started = true
	s.createdAt = s.lastActivity
	s.mu.Unlock()
	s.metrics.ActiveSessions.Add(ctx, 1)

	s.queue.Start(s.runCtx)
	s.archive.BeginSession(ctx, memory.SessionRecord{
		ID:             s.archiveID,
		OwnerID:        s.cfg.ID,
		GuildID:        s.cfg.GuildID,
		VoiceChannelID: s.cfg.VoiceChannelID,
		TextChannelID:  s.cfg.TextChannelID,
		Participants:   s.Participants(),
		StartedAt:      s.CreatedAt(),
	})
	s.joinVoice(ctx)
	return nil
}

// Pause leaves voice, waits for pending transcriptions, posts an interim
// summary with the transcript and starts a new epoch from the summary.
func (s *Session) Pause(ctx context.Context) error {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	if _, err := s.transition(StatePaused, StateActive); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)

	s.registry.Unregister(s.cfg.ID)
	if err := s.leaveVoice(); err != nil {
		s.log.Warn("session: leave voice failed", "error", err)
	}
	s.drain(ctx)

	s.mu.Lock()
	history := s.chat.Messages()
	lines := s.chat.UserContents()
	s.mu.Unlock()

	summary, err := s.summarize(ctx, s.output, history)
	if err != nil {
		s.log.Error("session: interim summary failed", "error", err)
		s.notify(ctx, s.output, noticeSummaryFailed)
		return nil
	}
	s.postSummary(ctx, summary, lines)
	s.archive.WriteSummary(ctx, memory.SummaryRecord{
		SessionID: s.archiveID,
		Kind:      memory.SummaryInterim,
		Text:      summary,
		CreatedAt: s.now(),
	})

	// Lines transcribed after the snapshot open the next chapter.
	s.mu.Lock()
	late := s.chat.Since(len(history))
	s.chat.Reset(s.cfg.SystemPrompt, summary)
	for _, m := range late {
		s.chat.Append(m.Role, m.Content)
	}
	s.budget.reset()
	s.mu.Unlock()
	return nil
}

// Unpause rejoins the voice channel and resumes recording.
func (s *Session) Unpause(ctx context.Context) error {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	if st := s.State(); st != StatePaused {
		return fmt.Errorf("session: unpause from %s: %w", st, ErrInvalidTransition)
	}
	if err := s.registry.Register(s.cfg.ID, s.speakerIDs); err != nil {
		return fmt.Errorf("session: unpause: %w", err)
	}
	if _, err := s.transition(StateActive, StatePaused); err != nil {
		s.registry.Unregister(s.cfg.ID)
		return err
	}
	s.joinVoice(ctx)
	return nil
}

// Stop leaves voice, waits for pending transcriptions and posts the final
// summary with the transcript. It then opens a revision thread in which the
// owner may request changes until the revision window expires, after which
// the session is Closed.
func (s *Session) Stop(ctx context.Context) error {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	s.mu.Lock()
	s.finalizing = true
	s.mu.Unlock()
	prev, err := s.transition(StateReviewing, StateActive, StatePaused)
	if err != nil {
		s.mu.Lock()
		s.finalizing = false
		s.mu.Unlock()
		return err
	}
	ctx = context.WithoutCancel(ctx)

	s.registry.Unregister(s.cfg.ID)
	if prev == StateActive {
		if err := s.leaveVoice(); err != nil {
			s.log.Warn("session: leave voice failed", "error", err)
		}
	}
	s.drain(ctx)

	s.mu.Lock()
	history := s.chat.Messages()
	lines := s.chat.UserContents()
	s.finalizing = false
	s.mu.Unlock()

	summary, err := s.summarize(ctx, s.output, history)
	if err != nil {
		s.log.Error("session: final summary failed", "error", err)
		s.notify(ctx, s.output, noticeSummaryFailed)
	} else {
		s.postSummary(ctx, summary, lines)
		s.archive.WriteSummary(ctx, memory.SummaryRecord{
			SessionID: s.archiveID,
			Kind:      memory.SummaryFinal,
			Text:      summary,
			CreatedAt: s.now(),
		})
	}

	thread, err := s.output.StartThread(ctx, revisionThreadName, s.cfg.RevisionWindow)
	if err != nil {
		s.log.Warn("session: start revision thread failed, using channel", "error", err)
		thread = s.output
	}
	s.notify(ctx, thread, fmt.Sprintf(noticeRevisionWindow, s.cfg.RevisionWindow))

	s.mu.Lock()
	if summary != "" {
		s.chat.Append(llm.RoleAssistant, summary)
	}
	s.chat.Append(llm.RoleSystem, s.cfg.ReplyPrompt)
	s.review = thread
	s.mu.Unlock()

	requests, end := thread.Collect(s.runCtx, s.fromOwner, s.cfg.RevisionWindow)
	s.goBackground(func() { s.reviewLoop(s.runCtx, thread, requests, end) })
	return nil
}

// EndReview closes the revision window early. The owner sees the same
// locked notice as when the window expires, then the session is closed.
func (s *Session) EndReview(ctx context.Context) error {
	err := func() error {
		s.transMu.Lock()
		defer s.transMu.Unlock()

		s.mu.Lock()
		st, thread := s.state, s.review
		s.mu.Unlock()
		if st != StateReviewing || thread == nil {
			return fmt.Errorf("session: end review from %s: %w", st, ErrInvalidTransition)
		}
		s.finishReview(context.WithoutCancel(ctx), thread)
		return nil
	}()
	if err != nil {
		return err
	}
	return s.Close()
}

// Close tears the session down from any state without posting summaries. It
// is used on process shutdown. Safe to call more than once.
func (s *Session) Close() error {
	s.cancel()

	err := func() error {
		s.transMu.Lock()
		defer s.transMu.Unlock()

		s.mu.Lock()
		s.closing = true
		prev := s.state
		s.state = StateClosed
		s.mu.Unlock()

		// Only an Active session holds routes. A newer session of the same
		// owner may own them otherwise.
		if prev == StateActive {
			s.registry.Unregister(s.cfg.ID)
		}
		err := s.leaveVoice()
		s.queue.Close()

		if prev != StateClosed && prev != StateUninitialized {
			s.metrics.RecordTransition(context.Background(), StateClosed.String())
			s.archive.EndSession(context.Background(), s.archiveID, s.now())
		}
		return err
	}()

	s.bg.Wait()
	s.markDone()
	return err
}

// transition moves the session to `to` if it is in one of from. It returns
// the previous state.
func (s *Session) transition(to State, from ...State) (State, error) {
	s.mu.Lock()
	prev := s.state
	if !slices.Contains(from, prev) || !CanTransition(prev, to) {
		s.mu.Unlock()
		return prev, fmt.Errorf("session: %s to %s: %w", prev, to, ErrInvalidTransition)
	}
	s.state = to
	s.lastActivity = s.now()
	s.mu.Unlock()

	s.log.Info("session: state changed", "from", prev.String(), "to", to.String())
	s.metrics.RecordTransition(context.Background(), to.String())
	return prev, nil
}

// joinVoice connects to the voice channel and starts capturing. Failures are
// logged and reported; the session stays in its new state.
func (s *Session) joinVoice(ctx context.Context) {
	conn, err := s.joiner.Join(ctx, s.cfg.GuildID, s.cfg.VoiceChannelID)
	if err != nil {
		s.log.Error("session: join voice failed", "channel_id", s.cfg.VoiceChannelID, "error", err)
		s.notify(ctx, s.output, noticeJoinFailed)
		return
	}

	c := newCapture(captureConfig{
		sessionID: s.cfg.ID,
		conn:      conn,
		silence:   s.cfg.Silence,
		decoders:  s.decoders,
		routes: func(speakerID string) bool {
			return s.registry.Routes(s.cfg.ID, speakerID)
		},
		emit:    s.enqueue,
		now:     s.now,
		metrics: s.metrics,
		log:     s.log,
	})

	s.mu.Lock()
	s.conn = conn
	s.capture = c
	s.mu.Unlock()

	conn.OnSpeakingStart(c.onSpeechStart)
	s.log.Info("session: recording voice", "channel_id", s.cfg.VoiceChannelID, "participants", len(s.speakerIDs))
}

// leaveVoice finalizes every open stream and disconnects.
func (s *Session) leaveVoice() error {
	s.mu.Lock()
	c, conn := s.capture, s.conn
	s.capture, s.conn = nil, nil
	s.mu.Unlock()

	if c != nil {
		c.stop()
	}
	if conn != nil {
		if err := conn.Disconnect(); err != nil {
			return fmt.Errorf("session: disconnect: %w", err)
		}
	}
	return nil
}

func (s *Session) enqueue(job UtteranceJob) {
	if !s.queue.Enqueue(job) {
		s.log.Warn("session: queue closed, dropping utterance", "job_id", job.ID, "speaker_id", job.SpeakerID)
		s.metrics.RecordDropped(context.Background(), observe.DropClosed)
	}
}

// drain waits for the transcription queue, bounded by DrainTimeout when set.
func (s *Session) drain(ctx context.Context) {
	if s.cfg.DrainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DrainTimeout)
		defer cancel()
	}
	start := time.Now()
	err := s.queue.Drain(ctx)
	s.metrics.DrainDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.log.Warn("session: transcription queue not drained", "error", err)
	}
}

// postSummary posts summary followed by the transcript attachment.
func (s *Session) postSummary(ctx context.Context, summary string, lines []string) {
	s.notify(ctx, s.output, summary)
	if len(lines) == 0 {
		return
	}
	name := transcriptFileName(s.now())
	if err := s.output.SendFile(ctx, "", name, transcriptAttachment(lines)); err != nil {
		s.log.Warn("session: post transcript failed", "file", name, "error", err)
	}
}

// notify posts text and logs failures.
func (s *Session) notify(ctx context.Context, out Output, text string) {
	if err := out.Send(ctx, text); err != nil {
		s.log.Warn("session: post message failed", "error", err)
	}
}

func (s *Session) fromOwner(m Message) bool {
	return m.AuthorID == s.cfg.ID
}

// goBackground runs fn on a goroutine that Close waits for. It does nothing
// once Close has begun.
func (s *Session) goBackground(fn func()) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.bg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.bg.Done()
		fn()
	}()
}

func (s *Session) markDone() {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if started {
			s.metrics.ActiveSessions.Add(context.Background(), -1)
		}
		close(s.done)
	})
}

func (s *Session) speakerName(id string) string {
	if name, ok := s.cfg.Participants[id]; ok && name != "" {
		return name
	}
	return id
}
