// Package mock provides a test double for the stt.Provider interface.
//
// Responses are served in order from Results; once exhausted, Default is
// returned. Delay and Hook let tests control latency and observe in-flight
// calls.
//
// Example:
//
//	p := &mock.Provider{Results: []mock.Response{{Text: "hello"}, {Err: errBoom}}}
//	res, _ := p.Transcribe(ctx, stt.Request{Audio: wav})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/scribe/pkg/provider/stt"
)

// Response is one canned answer for [Provider.Transcribe].
type Response struct {
	Text string
	Err  error

	// Delay postpones the answer; ctx cancellation aborts the wait.
	Delay time.Duration
}

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results are consumed one per call, in order.
	Results []Response

	// Default is returned once Results is exhausted.
	Default Response

	// Hook, if non-nil, is called at the start of every Transcribe call with
	// the request. Tests use it to track concurrency.
	Hook func(req stt.Request)

	// Calls records every call to Transcribe.
	Calls []TranscribeCall

	inFlight    int
	maxInFlight int
}

// Transcribe records the call and returns the next canned response.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, TranscribeCall{Req: req})
	resp := p.Default
	if len(p.Results) > 0 {
		resp = p.Results[0]
		p.Results = p.Results[1:]
	}
	p.inFlight++
	if p.inFlight > p.maxInFlight {
		p.maxInFlight = p.inFlight
	}
	hook := p.Hook
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	if hook != nil {
		hook(req)
	}
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-ctx.Done():
			return stt.Result{}, ctx.Err()
		}
	}
	if resp.Err != nil {
		return stt.Result{}, resp.Err
	}
	return stt.Result{Text: resp.Text}, nil
}

// CallCount returns the number of Transcribe calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// MaxInFlight returns the highest number of concurrent Transcribe calls seen.
func (p *Provider) MaxInFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxInFlight
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
	p.maxInFlight = 0
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
