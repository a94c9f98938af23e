// Package mock provides test doubles for the Discord REST API.
package mock

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Responder records what a handler answers. It satisfies
// discord.Interactor. Read the exported slices only after the handler
// returned.
type Responder struct {
	mu sync.Mutex

	Responses []*discordgo.InteractionResponse
	FollowUps []*discordgo.WebhookParams

	// Err makes every call fail.
	Err error
}

func (r *Responder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Responses = append(r.Responses, resp)
	return r.Err
}

func (r *Responder) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, params *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FollowUps = append(r.FollowUps, params)
	if r.Err != nil {
		return nil, r.Err
	}
	return &discordgo.Message{ID: "followup"}, nil
}

// LastResponse returns the newest initial response, or nil.
func (r *Responder) LastResponse() *discordgo.InteractionResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	return last(r.Responses)
}

// LastText is the content the user saw last: the newest follow-up, else
// the newest initial response.
func (r *Responder) LastText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f := last(r.FollowUps); f != nil {
		return f.Content
	}
	if resp := last(r.Responses); resp != nil && resp.Data != nil {
		return resp.Data.Content
	}
	return ""
}

func last[T any](s []*T) *T {
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1]
}
