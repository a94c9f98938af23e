// Package mock provides a test double for the llm.Provider interface.
//
// Responses are consumed in order from Responses; once exhausted, Default is
// returned. Every request is recorded with a deep copy of its message list so
// tests can assert on the exact chat log the provider saw.
//
// Example:
//
//	p := &mock.Provider{Default: mock.Response{Content: "Hello!"}}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/scribe/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Response scripts one Complete result.
type Response struct {
	// Content is returned as CompletionResponse.Content when Err is nil.
	Content string

	// Err, if non-nil, is returned instead of a response.
	Err error

	// Delay blocks the call for this long (or until ctx is done).
	Delay time.Duration
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Responses are returned by successive Complete calls.
	Responses []Response

	// Default is returned once Responses is exhausted.
	Default Response

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// Calls records every CompletionRequest passed to Complete, in order.
	Calls []llm.CompletionRequest

	next     int
	inFlight int
	maxSeen  int
}

// Complete records the call and returns the next scripted response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	req.Messages = slices.Clone(req.Messages)
	p.Calls = append(p.Calls, req)
	r := p.Default
	if p.next < len(p.Responses) {
		r = p.Responses[p.next]
		p.next++
	}
	p.inFlight++
	p.maxSeen = max(p.maxSeen, p.inFlight)
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &llm.CompletionResponse{Content: r.Content}, nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// CallCount returns the number of Complete calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastCall returns the most recent request, or false if none was made.
func (p *Provider) LastCall() (llm.CompletionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return llm.CompletionRequest{}, false
	}
	return p.Calls[len(p.Calls)-1], true
}

// MaxInFlight returns the highest number of concurrent Complete calls observed.
func (p *Provider) MaxInFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxSeen
}

// Reset clears recorded calls and rewinds Responses.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
	p.next = 0
	p.maxSeen = 0
}
