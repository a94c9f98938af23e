package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/scribe/internal/config"
	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/internal/session"
	"github.com/MrWong99/scribe/internal/transcript"
	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/MrWong99/scribe/pkg/memory"
	"github.com/MrWong99/scribe/pkg/provider/llm"
	"github.com/MrWong99/scribe/pkg/provider/stt"
)

// SessionInfo is a snapshot of one session.
type SessionInfo struct {
	OwnerID        string            `json:"owner_id"`
	ArchiveID      string            `json:"archive_id"`
	GuildID        string            `json:"guild_id"`
	VoiceChannelID string            `json:"voice_channel_id"`
	TextChannelID  string            `json:"text_channel_id"`
	State          string            `json:"state"`
	Participants   map[string]string `json:"participants"`
	Tokens         int               `json:"tokens"`
	MaxTokens      int               `json:"max_tokens"`
	ActiveStreams  int               `json:"active_streams"`
	StartedAt      time.Time         `json:"started_at"`
	LastActivity   time.Time         `json:"last_activity"`
}

// StartRequest describes a session to start.
type StartRequest struct {
	// OwnerID is the platform user starting the session. Only the owner can
	// pause, stop and revise it.
	OwnerID string

	GuildID        string
	VoiceChannelID string

	// TextChannelID receives notices, summaries and the revision thread.
	TextChannelID string

	// Participants maps speaker ids to display names.
	Participants map[string]string
}

// SessionManager owns every session of the process, keyed by owner. It is
// the only way commands reach a session. All exported methods are safe for
// concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	defaults config.SessionConfig
	closed   bool

	deps    SessionManagerConfig
	metrics *observe.Metrics
	wg      sync.WaitGroup
}

// SessionManagerConfig holds the collaborators shared by all sessions.
type SessionManagerConfig struct {
	Joiner   *session.VoiceJoiner
	Decoders audio.DecoderFactory
	STT      stt.Provider
	LLM      llm.Provider

	// Registry routes speakers to sessions. Defaults to a new registry.
	Registry *session.Registry

	Pipeline *transcript.Pipeline
	Archive  memory.Archive
	Metrics  *observe.Metrics

	// Outputs returns the output for a text channel.
	Outputs func(textChannelID string) session.Output

	// Defaults configures new sessions. See [SessionManager.SetDefaults].
	Defaults config.SessionConfig
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Registry == nil {
		cfg.Registry = session.NewRegistry()
	}
	if cfg.Pipeline == nil {
		cfg.Pipeline = transcript.NewPipeline(transcript.WithGlossary(cfg.Defaults.Glossary))
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &SessionManager{
		sessions: make(map[string]*session.Session),
		defaults: cfg.Defaults,
		deps:     cfg,
		metrics:  metrics,
	}
}

// Start creates and starts a session for req.OwnerID. An owner whose
// previous session is still in its revision window gets a new session; the
// old window is locked once the new session has started, and survives a
// failed start. Any other existing session fails with
// [session.ErrSessionExists].
func (sm *SessionManager) Start(ctx context.Context, req StartRequest) (SessionInfo, error) {
	sm.mu.Lock()
	if sm.closed {
		sm.mu.Unlock()
		return SessionInfo{}, errors.New("app: start session: manager is shut down")
	}
	previous := sm.sessions[req.OwnerID]
	if previous != nil && previous.State() != session.StateReviewing {
		sm.mu.Unlock()
		return SessionInfo{}, fmt.Errorf("app: start session: %w", session.ErrSessionExists)
	}

	sess, err := sm.newSession(req, sm.defaults)
	if err != nil {
		sm.mu.Unlock()
		return SessionInfo{}, fmt.Errorf("app: start session: %w", err)
	}
	// Reserve the owner's slot before any network call.
	sm.sessions[req.OwnerID] = sess
	sm.mu.Unlock()

	if err := sess.Start(ctx); err != nil {
		restored := false
		sm.mu.Lock()
		if sm.sessions[req.OwnerID] == sess {
			delete(sm.sessions, req.OwnerID)
			// A review that outlived the failed start keeps its slot.
			if previous != nil && !sm.closed && previous.State() == session.StateReviewing {
				sm.sessions[req.OwnerID] = previous
				restored = true
			}
		}
		sm.mu.Unlock()
		_ = sess.Close()
		if previous != nil && !restored {
			_ = previous.Close()
		}
		return SessionInfo{}, fmt.Errorf("app: start session: %w", err)
	}

	if previous != nil {
		slog.Info("app: ending review for new start", "owner_id", req.OwnerID)
		if err := previous.EndReview(ctx); err != nil {
			// The window closed on its own meanwhile.
			slog.Debug("app: end previous review", "owner_id", req.OwnerID, "error", err)
			_ = previous.Close()
		}
	}

	sm.wg.Add(1)
	go sm.forget(req.OwnerID, sess)

	slog.Info("app: session started",
		"owner_id", req.OwnerID,
		"archive_id", sess.ArchiveID(),
		"guild_id", req.GuildID,
		"voice_channel_id", req.VoiceChannelID,
		"participants", len(req.Participants),
	)
	return infoOf(sess), nil
}

func (sm *SessionManager) newSession(req StartRequest, defaults config.SessionConfig) (*session.Session, error) {
	policy, err := session.BudgetPolicyByName(string(defaults.BudgetPolicy))
	if err != nil {
		return nil, err
	}
	var out session.Output
	if sm.deps.Outputs != nil {
		out = sm.deps.Outputs(req.TextChannelID)
	}
	return session.New(session.Config{
		ID:             req.OwnerID,
		GuildID:        req.GuildID,
		VoiceChannelID: req.VoiceChannelID,
		TextChannelID:  req.TextChannelID,
		Participants:   maps.Clone(req.Participants),
		SystemPrompt:   defaults.SystemPrompt,
		ReplyPrompt:    defaults.ReplyPrompt,
		Language:       defaults.Language,
		MaxTokens:      defaults.MaxTokens,
		WarnRatio:      defaults.WarnRatio,
		ForceRatio:     defaults.ForceRatio,
		BudgetPolicy:   policy,
		Silence:        defaults.Silence,
		RevisionWindow: defaults.RevisionWindow,
		DrainTimeout:   defaults.DrainTimeout,
	}, session.Deps{
		Joiner:   sm.deps.Joiner,
		Decoders: sm.deps.Decoders,
		STT:      sm.deps.STT,
		LLM:      sm.deps.LLM,
		Output:   out,
		Registry: sm.deps.Registry,
		Pipeline: sm.deps.Pipeline,
		Archive:  sm.deps.Archive,
		Metrics:  sm.metrics,
	})
}

// forget removes sess from the map once it is closed.
func (sm *SessionManager) forget(ownerID string, sess *session.Session) {
	defer sm.wg.Done()
	<-sess.Done()

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.sessions[ownerID] == sess {
		delete(sm.sessions, ownerID)
		slog.Info("app: session closed", "owner_id", ownerID, "archive_id", sess.ArchiveID())
	}
}

func (sm *SessionManager) lookup(ownerID string) (*session.Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sess, ok := sm.sessions[ownerID]
	if !ok {
		return nil, session.ErrNoSession
	}
	return sess, nil
}

// Pause pauses the owner's session. It blocks until the chapter summary is
// posted.
func (sm *SessionManager) Pause(ctx context.Context, ownerID string) error {
	sess, err := sm.lookup(ownerID)
	if err != nil {
		return fmt.Errorf("app: pause session: %w", err)
	}
	if err := sess.Pause(ctx); err != nil {
		return fmt.Errorf("app: pause session: %w", err)
	}
	return nil
}

// Unpause resumes the owner's paused session.
func (sm *SessionManager) Unpause(ctx context.Context, ownerID string) error {
	sess, err := sm.lookup(ownerID)
	if err != nil {
		return fmt.Errorf("app: unpause session: %w", err)
	}
	if err := sess.Unpause(ctx); err != nil {
		return fmt.Errorf("app: unpause session: %w", err)
	}
	return nil
}

// Stop stops the owner's session and opens its revision window. The session
// stays known to the manager until the window closes.
func (sm *SessionManager) Stop(ctx context.Context, ownerID string) error {
	sess, err := sm.lookup(ownerID)
	if err != nil {
		return fmt.Errorf("app: stop session: %w", err)
	}
	if err := sess.Stop(ctx); err != nil {
		return fmt.Errorf("app: stop session: %w", err)
	}
	return nil
}

// Info returns a snapshot of the owner's session.
func (sm *SessionManager) Info(ownerID string) (SessionInfo, error) {
	sess, err := sm.lookup(ownerID)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("app: session info: %w", err)
	}
	return infoOf(sess), nil
}

// Sessions returns snapshots of all sessions, ordered by owner.
func (sm *SessionManager) Sessions() []SessionInfo {
	sm.mu.Lock()
	owners := slices.Sorted(maps.Keys(sm.sessions))
	sessions := make([]*session.Session, 0, len(owners))
	for _, o := range owners {
		sessions = append(sessions, sm.sessions[o])
	}
	sm.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, infoOf(s))
	}
	return infos
}

// Len returns the number of sessions, including those in review.
func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// SetDefaults replaces the configuration of future sessions and the
// glossary used by every session. Running sessions keep their budget and
// prompts.
func (sm *SessionManager) SetDefaults(cfg config.SessionConfig) {
	sm.mu.Lock()
	sm.defaults = cfg
	sm.mu.Unlock()
	sm.deps.Pipeline.SetGlossary(cfg.Glossary)
	slog.Info("app: session defaults updated", "glossary_terms", len(cfg.Glossary), "budget_policy", cfg.BudgetPolicy)
}

// Defaults returns the configuration used for new sessions.
func (sm *SessionManager) Defaults() config.SessionConfig {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.defaults
}

// Shutdown closes every session without posting summaries and refuses new
// ones. It waits for the sessions to finish or ctx to end.
func (sm *SessionManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	sm.closed = true
	sessions := slices.Collect(maps.Values(sm.sessions))
	sm.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("app: close session %s: %w", s.ID(), err))
		}
	}

	done := make(chan struct{})
	go func() {
		sm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("app: shutdown sessions: %w", ctx.Err()))
	}
	if len(sessions) > 0 {
		slog.Info("app: sessions closed", "count", len(sessions))
	}
	return errors.Join(errs...)
}

func infoOf(s *session.Session) SessionInfo {
	return SessionInfo{
		OwnerID:        s.ID(),
		ArchiveID:      s.ArchiveID().String(),
		GuildID:        s.GuildID(),
		VoiceChannelID: s.VoiceChannelID(),
		TextChannelID:  s.TextChannelID(),
		State:          s.State().String(),
		Participants:   s.Participants(),
		Tokens:         s.Tokens(),
		MaxTokens:      s.MaxTokens(),
		ActiveStreams:  s.ActiveStreams(),
		StartedAt:      s.CreatedAt(),
		LastActivity:   s.LastActivity(),
	}
}
