package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Default token budget thresholds as fractions of the maximum.
const (
	DefaultWarnRatio  = 0.75
	DefaultForceRatio = 0.85
)

// BudgetPolicy decides what happens when a session's chat log goes above the
// force threshold. It is called at most once per epoch, from the
// transcription worker, and must not block.
type BudgetPolicy interface {
	BudgetExceeded(ctx context.Context, s *Session)
}

// BudgetPolicyFunc adapts a function to [BudgetPolicy].
type BudgetPolicyFunc func(ctx context.Context, s *Session)

// BudgetExceeded implements [BudgetPolicy].
func (f BudgetPolicyFunc) BudgetExceeded(ctx context.Context, s *Session) { f(ctx, s) }

// DetectOnly leaves the session running. The exceedance is still logged and
// counted.
var DetectOnly BudgetPolicy = BudgetPolicyFunc(func(context.Context, *Session) {})

// AutoPause pauses the session in the background, which summarizes the
// epoch and starts a new one.
var AutoPause BudgetPolicy = BudgetPolicyFunc(func(ctx context.Context, s *Session) {
	s.goBackground(func() {
		err := s.Pause(context.WithoutCancel(ctx))
		if err != nil && !errors.Is(err, ErrInvalidTransition) {
			slog.Error("session: auto pause failed", "session_id", s.ID(), "error", err)
		}
	})
})

// BudgetPolicyByName resolves a configured policy name. The empty string and
// "none" select [DetectOnly]; "auto_pause" selects [AutoPause].
func BudgetPolicyByName(name string) (BudgetPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return DetectOnly, nil
	case "auto_pause":
		return AutoPause, nil
	default:
		return nil, fmt.Errorf("session: unknown budget policy %q", name)
	}
}

// budgetEvent is the outcome of one budget check.
type budgetEvent struct {
	warn     bool
	exceeded bool
	tokens   int
	max      int
}

func (e budgetEvent) percent() int {
	if e.max <= 0 {
		return 0
	}
	return e.tokens * 100 / e.max
}

// budget tracks the one-time warning and exceedance of an epoch. It is
// guarded by the owning session's mutex.
type budget struct {
	max        int
	warnRatio  float64
	forceRatio float64

	warned   bool
	exceeded bool
}

// check classifies tokens. The warning fires once when tokens first lands in
// [warn, force]; exceedance fires once when tokens first goes above force.
func (b *budget) check(tokens int) budgetEvent {
	ev := budgetEvent{tokens: tokens, max: b.max}
	if b.max <= 0 {
		return ev
	}
	ratio := float64(tokens) / float64(b.max)
	switch {
	case ratio > b.forceRatio:
		if !b.exceeded {
			b.exceeded = true
			ev.exceeded = true
		}
	case ratio >= b.warnRatio:
		if !b.warned {
			b.warned = true
			ev.warn = true
		}
	}
	return ev
}

// reset starts a new epoch.
func (b *budget) reset() {
	b.warned = false
	b.exceeded = false
}
