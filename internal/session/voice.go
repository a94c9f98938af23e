package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/scribe/pkg/audio"
)

// Default voice join parameters.
const (
	defaultJoinAttempts   = 3
	defaultJoinBackoff    = 1 * time.Second
	defaultJoinMaxBackoff = 10 * time.Second
)

// VoiceJoinerConfig configures a [VoiceJoiner].
type VoiceJoinerConfig struct {
	// Platform is the audio platform used to join voice channels.
	Platform audio.Platform

	// Attempts is the maximum number of join attempts. Defaults to 3 if zero.
	Attempts int

	// Backoff is the wait after the first failed attempt. It doubles after
	// each failure up to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on the wait. Defaults to 10s if zero.
	MaxBackoff time.Duration
}

// VoiceJoiner joins voice channels, retrying failed joins with exponential
// backoff. Discord voice handshakes fail transiently often enough that a
// single attempt is not worth surfacing to the user.
type VoiceJoiner struct {
	platform   audio.Platform
	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
}

// NewVoiceJoiner creates a new [VoiceJoiner] with the given configuration.
func NewVoiceJoiner(cfg VoiceJoinerConfig) *VoiceJoiner {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = defaultJoinAttempts
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultJoinBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultJoinMaxBackoff
	}
	return &VoiceJoiner{
		platform:   cfg.Platform,
		attempts:   attempts,
		backoff:    backoff,
		maxBackoff: maxBackoff,
	}
}

// Join joins channelID in guildID. It returns the last error once every
// attempt has failed, or ctx's error if ctx ends while waiting.
func (j *VoiceJoiner) Join(ctx context.Context, guildID, channelID string) (audio.Connection, error) {
	currentBackoff := j.backoff
	var lastErr error

	for attempt := 1; attempt <= j.attempts; attempt++ {
		conn, err := j.platform.Join(ctx, guildID, channelID)
		if err == nil {
			if attempt > 1 {
				slog.Info("session: voice join succeeded after retry",
					"channel_id", channelID,
					"attempt", attempt,
				)
			}
			return conn, nil
		}
		lastErr = err

		slog.Warn("session: voice join attempt failed",
			"guild_id", guildID,
			"channel_id", channelID,
			"attempt", attempt,
			"max_attempts", j.attempts,
			"error", err,
		)
		if attempt == j.attempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("session: join voice: %w", ctx.Err())
		case <-time.After(currentBackoff):
		}

		currentBackoff = min(currentBackoff*2, j.maxBackoff)
	}

	return nil, fmt.Errorf("session: join voice after %d attempts: %w", j.attempts, lastErr)
}
