package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/pkg/memory"
	"github.com/MrWong99/scribe/pkg/provider/llm"
)

// summaryTemperature keeps summaries close to the transcript.
const summaryTemperature = 0.3

// ErrEmptySummary is returned when the model answers with no text.
var ErrEmptySummary = errors.New("session: model returned an empty summary")

// SummaryCoordinator sends a chat log to the language model and returns its
// reply. The chat log is passed as is; it already starts with the system
// prompt.
type SummaryCoordinator struct {
	llm     llm.Provider
	metrics *observe.Metrics
}

// NewSummaryCoordinator creates a [SummaryCoordinator] backed by provider.
func NewSummaryCoordinator(provider llm.Provider, metrics *observe.Metrics) *SummaryCoordinator {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &SummaryCoordinator{llm: provider, metrics: metrics}
}

// Complete returns the model's reply to messages.
func (c *SummaryCoordinator) Complete(ctx context.Context, messages []llm.Message) (_ string, err error) {
	ctx, span := observe.StartSpan(ctx, "session.summarize")
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		Messages:    messages,
		Temperature: summaryTemperature,
	})
	c.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	c.metrics.RecordProviderCall(ctx, "llm", "complete", err)
	if err != nil {
		return "", fmt.Errorf("session: summarize: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", ErrEmptySummary
	}
	return text, nil
}

// summarize shows a typing indicator on out while the model works.
func (s *Session) summarize(ctx context.Context, out Output, messages []llm.Message) (string, error) {
	if err := out.SendTyping(ctx); err != nil {
		s.log.Debug("session: typing indicator failed", "error", err)
	}
	return s.summaries.Complete(ctx, messages)
}

// reviewLoop answers the owner's revision requests until end is closed.
func (s *Session) reviewLoop(ctx context.Context, out Output, requests <-chan Message, end <-chan struct{}) {
	for {
		// A closed window wins over a queued request.
		select {
		case <-end:
			s.finishReview(ctx, out)
			return
		default:
		}
		select {
		case <-end:
			s.finishReview(ctx, out)
			return
		case <-ctx.Done():
			return
		case m := <-requests:
			s.revise(ctx, out, m)
		}
	}
}

// revise asks the model for a revised summary. The request and the reply
// join the chat log only when the model answers.
func (s *Session) revise(ctx context.Context, out Output, m Message) {
	log := s.log.With("message_id", m.ID)
	if err := out.React(ctx, m.ID, ackEmoji); err != nil {
		log.Debug("session: acknowledge revision request failed", "error", err)
	}

	s.mu.Lock()
	history := append(s.chat.Messages(), llm.Message{Role: llm.RoleUser, Content: m.Content})
	s.mu.Unlock()

	reply, err := s.summarize(ctx, out, history)
	if err != nil {
		log.Warn("session: revision failed", "error", err)
		s.notify(ctx, out, noticeRevisionFailed)
		return
	}
	s.notify(ctx, out, reply)

	s.mu.Lock()
	s.chat.Append(llm.RoleUser, m.Content)
	s.chat.Append(llm.RoleAssistant, reply)
	s.lastActivity = s.now()
	s.mu.Unlock()

	s.metrics.Revisions.Add(ctx, 1)
	s.archive.WriteSummary(ctx, memory.SummaryRecord{
		SessionID: s.archiveID,
		Kind:      memory.SummaryRevision,
		Text:      reply,
		CreatedAt: s.now(),
	})
	log.Info("session: summary revised")
}

// finishReview closes the session once the revision window has expired. It
// does nothing when Close got there first.
func (s *Session) finishReview(ctx context.Context, out Output) {
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	if s.state != StateReviewing {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.lastActivity = s.now()
	s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	s.log.Info("session: state changed", "from", StateReviewing.String(), "to", StateClosed.String())
	s.metrics.RecordTransition(ctx, StateClosed.String())
	s.notify(ctx, out, noticeRevisionsLocked)
	s.archive.EndSession(ctx, s.archiveID, s.now())
	s.markDone()
}
