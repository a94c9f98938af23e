// Package mock provides a test double for [session.Output].
//
// Output records everything posted to it. Threads started on it are Outputs
// themselves. Collected messages are fed in with Deliver, and Expire closes
// every open collection window.
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/scribe/internal/session"
)

var _ session.Output = (*Output)(nil)

// File is one recorded SendFile call.
type File struct {
	Text    string
	Name    string
	Content []byte
}

// Reaction is one recorded React call.
type Reaction struct {
	MessageID string
	Emoji     string
}

// CollectCall records the arguments of a Collect call.
type CollectCall struct {
	Timeout time.Duration
}

type collector struct {
	filter func(session.Message) bool
	msgs   chan session.Message
	end    chan struct{}
	ended  bool
}

// Output is a mock implementation of [session.Output]. All methods are safe
// for concurrent use.
type Output struct {
	mu sync.Mutex

	// Name and TTL are set on threads created by StartThread.
	Name string
	TTL  time.Duration

	// SendErr, SendFileErr and ThreadErr are returned by the matching
	// methods when non-nil.
	SendErr     error
	SendFileErr error
	ThreadErr   error

	sent         []string
	files        []File
	reactions    []Reaction
	typing       int
	threads      []*Output
	collectCalls []CollectCall
	collectors   []*collector
}

// Send implements [session.Output].
func (o *Output) Send(_ context.Context, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.SendErr != nil {
		return o.SendErr
	}
	o.sent = append(o.sent, text)
	return nil
}

// SendFile implements [session.Output].
func (o *Output) SendFile(_ context.Context, text, name string, content []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.SendFileErr != nil {
		return o.SendFileErr
	}
	o.files = append(o.files, File{Text: text, Name: name, Content: slices.Clone(content)})
	return nil
}

// SendTyping implements [session.Output].
func (o *Output) SendTyping(context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.typing++
	return nil
}

// StartThread implements [session.Output].
func (o *Output) StartThread(_ context.Context, name string, ttl time.Duration) (session.Output, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ThreadErr != nil {
		return nil, o.ThreadErr
	}
	t := &Output{Name: name, TTL: ttl}
	o.threads = append(o.threads, t)
	return t, nil
}

// React implements [session.Output].
func (o *Output) React(_ context.Context, messageID, emoji string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reactions = append(o.reactions, Reaction{MessageID: messageID, Emoji: emoji})
	return nil
}

// Collect implements [session.Output]. The window ends after timeout, when
// ctx ends or on Expire.
func (o *Output) Collect(ctx context.Context, filter func(session.Message) bool, timeout time.Duration) (<-chan session.Message, <-chan struct{}) {
	c := &collector{
		filter: filter,
		msgs:   make(chan session.Message, 16),
		end:    make(chan struct{}),
	}
	o.mu.Lock()
	o.collectCalls = append(o.collectCalls, CollectCall{Timeout: timeout})
	o.collectors = append(o.collectors, c)
	o.mu.Unlock()

	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		case <-c.end:
			return
		}
		o.mu.Lock()
		o.endLocked(c)
		o.mu.Unlock()
	}()
	return c.msgs, c.end
}

// Deliver offers m to every open collection window and returns how many
// accepted it.
func (o *Output) Deliver(m session.Message) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, c := range o.collectors {
		if c.ended || (c.filter != nil && !c.filter(m)) {
			continue
		}
		c.msgs <- m
		n++
	}
	return n
}

// Expire ends every open collection window.
func (o *Output) Expire() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range o.collectors {
		o.endLocked(c)
	}
}

func (o *Output) endLocked(c *collector) {
	if !c.ended {
		c.ended = true
		close(c.end)
	}
}

// Sent returns every posted text, in order.
func (o *Output) Sent() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.sent)
}

// Files returns every posted attachment, in order.
func (o *Output) Files() []File {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.files)
}

// Reactions returns every reaction added, in order.
func (o *Output) Reactions() []Reaction {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.reactions)
}

// Typing returns how often a typing indicator was shown.
func (o *Output) Typing() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.typing
}

// Threads returns the threads started on this output.
func (o *Output) Threads() []*Output {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.threads)
}

// CollectCalls returns the recorded Collect calls.
func (o *Output) CollectCalls() []CollectCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.collectCalls)
}
