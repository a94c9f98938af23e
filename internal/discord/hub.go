package discord

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/scribe/internal/session"
)

// collectBuffer is how many undelivered messages one collector holds before
// further messages are dropped.
const collectBuffer = 32

type collector struct {
	channelID string
	filter    func(session.Message) bool
	msgs      chan session.Message
	end       chan struct{}
}

// Hub fans incoming channel messages out to active collectors. It is fed by
// the gateway's MessageCreate handler and is safe for concurrent use.
type Hub struct {
	mu         sync.Mutex
	collectors map[*collector]struct{}
}

// NewHub returns an empty [Hub].
func NewHub() *Hub {
	return &Hub{collectors: make(map[*collector]struct{})}
}

// Collect registers a collector for messages posted to channelID that
// satisfy filter. The end channel closes after timeout or when ctx ends;
// nothing is delivered after that.
func (h *Hub) Collect(ctx context.Context, channelID string, filter func(session.Message) bool, timeout time.Duration) (<-chan session.Message, <-chan struct{}) {
	c := &collector{
		channelID: channelID,
		filter:    filter,
		msgs:      make(chan session.Message, collectBuffer),
		end:       make(chan struct{}),
	}
	h.mu.Lock()
	h.collectors[c] = struct{}{}
	h.mu.Unlock()

	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		h.mu.Lock()
		delete(h.collectors, c)
		close(c.end)
		h.mu.Unlock()
	}()
	return c.msgs, c.end
}

// Dispatch offers m to every collector of its channel.
func (h *Hub) Dispatch(m session.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.collectors {
		if c.channelID != m.ChannelID || (c.filter != nil && !c.filter(m)) {
			continue
		}
		select {
		case c.msgs <- m:
		default:
			slog.Warn("discord: collector full, dropping message", "channel_id", m.ChannelID, "message_id", m.ID)
		}
	}
}

// Len returns the number of active collectors.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.collectors)
}
