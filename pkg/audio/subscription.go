package audio

import (
	"sync"
	"time"
)

// Compile-time interface assertion.
var _ Stream = (*Subscription)(nil)

// Subscription is a reusable [Stream] implementation for platform adapters.
// The adapter feeds packets with [Subscription.Push]; the subscription closes
// itself once its [EndCondition] is met.
//
// Subscription is safe for concurrent use.
type Subscription struct {
	packets chan []byte
	end     EndCondition

	mu     sync.Mutex
	closed bool
	err    error
	timer  *time.Timer

	onClose func()
}

// NewSubscription returns an open Subscription with a packet buffer of size
// buffer. onClose, if non-nil, runs exactly once after the subscription
// closes; adapters use it to unregister the stream.
func NewSubscription(end EndCondition, buffer int, onClose func()) *Subscription {
	s := &Subscription{
		packets: make(chan []byte, buffer),
		end:     end,
		onClose: onClose,
	}
	if end.Silence > 0 {
		// The timer may fire before AfterFunc returns; close waits on mu.
		s.mu.Lock()
		s.timer = time.AfterFunc(end.Silence, s.Close)
		s.mu.Unlock()
	}
	return s
}

// Packets implements [Stream].
func (s *Subscription) Packets() <-chan []byte { return s.packets }

// Err implements [Stream].
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Push delivers pkt to the consumer and restarts the silence timer. It never
// blocks: if the buffer is full the packet is dropped and false is returned.
// Pushing to a closed subscription is a no-op.
func (s *Subscription) Push(pkt []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.timer != nil {
		s.timer.Reset(s.end.Silence)
	}
	select {
	case s.packets <- pkt:
		return true
	default:
		return false
	}
}

// Fail closes the subscription and records err as its terminal error.
func (s *Subscription) Fail(err error) {
	s.close(err)
}

// Close implements [Stream].
func (s *Subscription) Close() {
	s.close(nil)
}

func (s *Subscription) close(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	if s.timer != nil {
		s.timer.Stop()
	}
	close(s.packets)
	s.mu.Unlock()

	if s.onClose != nil {
		s.onClose()
	}
}

// Closed reports whether the subscription has ended.
func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Discard empties ch until it is closed. Call it after abandoning a [Stream]
// so a producer blocked on a full buffer can finish.
func Discard[T any](ch <-chan T) {
	for range ch {
	}
}
