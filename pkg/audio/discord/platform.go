// Package discord provides an [audio.Platform] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library. It turns
// Discord's SSRC-tagged Opus packets into per-user [audio.Stream] values and
// supplies an Opus [audio.Decoder].
//
// The platform requires an active *discordgo.Session owned by the bot layer.
package discord

import (
	"context"
	"fmt"

	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// Platform implements [audio.Platform] using discordgo voice connections.
//
// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session

	// join is session.ChannelVoiceJoin; overridden in tests.
	join func(guildID, channelID string, mute, deaf bool) (*discordgo.VoiceConnection, error)
}

// New creates a Discord Platform for the given session.
func New(session *discordgo.Session) *Platform {
	return &Platform{
		session: session,
		join:    session.ChannelVoiceJoin,
	}
}

// Join joins the voice channel and returns a receive-only [audio.Connection].
// The bot joins muted because it never transmits. If ctx ends before Discord
// reports the connection ready, the half-open connection is torn down.
func (p *Platform) Join(ctx context.Context, guildID, channelID string) (audio.Connection, error) {
	type result struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	ch := make(chan result, 1)
	go func() {
		vc, err := p.join(guildID, channelID, true, false)
		ch <- result{vc, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, r.err)
		}
		return newConnection(r.vc), nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.vc != nil {
				_ = r.vc.Disconnect()
			}
		}()
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, ctx.Err())
	}
}
