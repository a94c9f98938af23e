package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/scribe/pkg/audio"
	audiomock "github.com/MrWong99/scribe/pkg/audio/mock"
)

// flakyPlatform fails the first failures joins.
type flakyPlatform struct {
	mu       sync.Mutex
	failures int
	calls    int
	conn     audio.Connection
}

func (p *flakyPlatform) Join(context.Context, string, string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return nil, errors.New("voice handshake timed out")
	}
	return p.conn, nil
}

func TestVoiceJoiner_Join(t *testing.T) {
	t.Run("first attempt succeeds", func(t *testing.T) {
		conn := audiomock.NewConnection()
		platform := &audiomock.Platform{JoinResult: conn}
		j := NewVoiceJoiner(VoiceJoinerConfig{Platform: platform})

		got, err := j.Join(context.Background(), "guild-1", "voice-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != conn {
			t.Error("expected returned connection to match mock")
		}
		if len(platform.JoinCalls) != 1 {
			t.Fatalf("expected 1 join call, got %d", len(platform.JoinCalls))
		}
		if platform.JoinCalls[0].GuildID != "guild-1" || platform.JoinCalls[0].ChannelID != "voice-1" {
			t.Errorf("unexpected join call %+v", platform.JoinCalls[0])
		}
	})

	t.Run("retries until success", func(t *testing.T) {
		platform := &flakyPlatform{failures: 2, conn: audiomock.NewConnection()}
		j := NewVoiceJoiner(VoiceJoinerConfig{
			Platform:   platform,
			Attempts:   3,
			Backoff:    time.Millisecond,
			MaxBackoff: 2 * time.Millisecond,
		})

		if _, err := j.Join(context.Background(), "g", "v"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if platform.calls != 3 {
			t.Errorf("expected 3 join calls, got %d", platform.calls)
		}
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		platform := &audiomock.Platform{JoinError: errors.New("forbidden")}
		j := NewVoiceJoiner(VoiceJoinerConfig{
			Platform: platform,
			Attempts: 2,
			Backoff:  time.Millisecond,
		})

		_, err := j.Join(context.Background(), "g", "v")
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !errors.Is(err, platform.JoinError) {
			t.Errorf("error %v should wrap the last join error", err)
		}
		if len(platform.JoinCalls) != 2 {
			t.Errorf("expected 2 join calls, got %d", len(platform.JoinCalls))
		}
	})

	t.Run("context cancelled while waiting", func(t *testing.T) {
		platform := &audiomock.Platform{JoinError: errors.New("forbidden")}
		j := NewVoiceJoiner(VoiceJoinerConfig{
			Platform: platform,
			Attempts: 5,
			Backoff:  time.Hour,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := j.Join(ctx, "g", "v")
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("error = %v, want DeadlineExceeded", err)
		}
	})
}

func TestVoiceJoiner_Defaults(t *testing.T) {
	j := NewVoiceJoiner(VoiceJoinerConfig{Platform: &audiomock.Platform{}})

	if j.attempts != 3 {
		t.Errorf("expected default attempts=3, got %d", j.attempts)
	}
	if j.backoff != time.Second {
		t.Errorf("expected default backoff=1s, got %v", j.backoff)
	}
	if j.maxBackoff != 10*time.Second {
		t.Errorf("expected default maxBackoff=10s, got %v", j.maxBackoff)
	}
}
