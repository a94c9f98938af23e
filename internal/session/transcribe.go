package session

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/MrWong99/scribe/pkg/memory"
	"github.com/MrWong99/scribe/pkg/provider/llm"
	"github.com/MrWong99/scribe/pkg/provider/stt"
)

// transcribe is the [JobHandler] of the session's queue. It transcribes one
// utterance, corrects it and appends it to the chat log as
// <Name>text</Name>. Failed and empty transcriptions are dropped.
func (s *Session) transcribe(ctx context.Context, job UtteranceJob) {
	ctx, span := observe.StartSpan(ctx, "session.transcribe")
	var spanErr error
	defer func() { observe.EndSpan(span, spanErr) }()
	log := s.log.With("job_id", job.ID, "speaker_id", job.SpeakerID)

	start := time.Now()
	res, err := s.stt.Transcribe(ctx, stt.Request{
		Audio:    audio.EncodeWAV(job.PCM, job.Format),
		Language: s.cfg.Language,
		Keywords: s.keywords(),
	})
	s.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	s.metrics.RecordProviderCall(ctx, "stt", "transcribe", err)
	if err != nil {
		spanErr = err
		log.Warn("session: transcription failed, dropping utterance", "error", err)
		s.metrics.RecordDropped(ctx, observe.DropSTTError)
		return
	}

	name := s.speakerName(job.SpeakerID)
	out := s.pipeline.Process(res.Text, s.names)
	if out.Text == "" {
		log.Debug("session: empty transcription, dropping utterance")
		s.metrics.RecordDropped(ctx, observe.DropEmpty)
		return
	}
	for _, c := range out.Corrections {
		log.Debug("session: transcript corrected", "original", c.Original, "corrected", c.Corrected, "confidence", c.Confidence)
	}

	ev, ok := s.appendTranscript(fmt.Sprintf("<%s>%s</%s>", name, out.Text, name))
	if !ok {
		log.Info("session: transcript arrived after stop, dropping utterance")
		s.metrics.RecordDropped(ctx, observe.DropLate)
		return
	}
	s.metrics.Utterances.Add(ctx, 1)
	s.archive.WriteEntry(ctx, memory.TranscriptEntry{
		ID:          job.ID,
		SessionID:   s.archiveID,
		SpeakerID:   job.SpeakerID,
		SpeakerName: name,
		Text:        out.Text,
		RawText:     res.Text,
		Timestamp:   job.Start,
		Duration:    job.Duration(),
	})
	s.handleBudget(ctx, ev)
}

// appendTranscript adds a transcript line while the session is Active or
// Paused, and during stop until the final summary snapshot. The budget is
// only checked while Active.
func (s *Session) appendTranscript(line string) (budgetEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == StateActive, s.state == StatePaused:
	case s.state == StateReviewing && s.finalizing:
	default:
		return budgetEvent{}, false
	}
	tokens := s.chat.Append(llm.RoleUser, line)
	s.lastActivity = s.now()
	if s.state != StateActive {
		return budgetEvent{tokens: tokens, max: s.budget.max}, true
	}
	return s.budget.check(tokens), true
}

func (s *Session) handleBudget(ctx context.Context, ev budgetEvent) {
	switch {
	case ev.warn:
		s.log.Info("session: token budget warning", "tokens", ev.tokens, "max_tokens", ev.max)
		s.metrics.BudgetWarnings.Add(ctx, 1)
		s.notify(ctx, s.output, fmt.Sprintf(noticeBudgetWarning, ev.percent()))
	case ev.exceeded:
		s.log.Warn("session: token budget exceeded", "tokens", ev.tokens, "max_tokens", ev.max)
		s.metrics.BudgetExceeded.Add(ctx, 1)
		s.cfg.BudgetPolicy.BudgetExceeded(ctx, s)
	}
}

// keywords returns participant names and glossary terms as recognition hints.
func (s *Session) keywords() []stt.KeywordBoost {
	glossary := s.pipeline.Glossary()
	kw := make([]stt.KeywordBoost, 0, len(s.names)+len(glossary))
	for _, n := range s.names {
		kw = append(kw, stt.KeywordBoost{Keyword: n, Boost: keywordBoost})
	}
	for _, g := range glossary {
		kw = append(kw, stt.KeywordBoost{Keyword: g, Boost: keywordBoost})
	}
	return kw
}
