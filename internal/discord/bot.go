// Package discord is the Discord side of scribe: the gateway session, the
// slash command router with its role gate, and a [session.Output] that posts
// to text channels and threads.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/scribe/internal/session"
	"github.com/MrWong99/scribe/pkg/audio"
	discordaudio "github.com/MrWong99/scribe/pkg/audio/discord"
)

// Intents the bot identifies with. Message content is read by the revision
// collector.
const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildVoiceStates |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsMessageContent

// Config holds the bot credentials and command scope.
type Config struct {
	// Token is the bot token, without the "Bot " prefix.
	Token string
	// GuildID registers commands in one guild only. Empty means global.
	GuildID string
	// RecorderRoleID restricts the session commands. Empty allows everyone.
	RecorderRoleID string
}

// Bot is a connected gateway session.
type Bot struct {
	session  *discordgo.Session
	platform *discordaudio.Platform
	router   *CommandRouter
	gate     *RoleGate
	hub      *Hub
	guildID  string

	connected atomic.Bool

	mu         sync.Mutex
	registered []*discordgo.ApplicationCommand
	closeOnce  sync.Once
	closeErr   error
}

// New opens the gateway connection. Commands are registered later by Run,
// once handlers have been routed.
func New(_ context.Context, cfg Config) (*Bot, error) {
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	s.Identify.Intents = intents

	b := &Bot{
		session:  s,
		platform: discordaudio.New(s),
		router:   NewCommandRouter(),
		gate:     NewRoleGate(cfg.RecorderRoleID),
		hub:      NewHub(),
		guildID:  cfg.GuildID,
	}
	s.AddHandler(b.onInteraction)
	s.AddHandler(b.onMessage)
	s.AddHandler(b.onConnect)
	s.AddHandler(b.onDisconnect)

	if err := s.Open(); err != nil {
		return nil, fmt.Errorf("discord: open gateway: %w", err)
	}
	b.connected.Store(true)
	return b, nil
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	b.router.Dispatch(s, i)
}

// onMessage feeds human messages to the collectors waiting on their channel.
func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}
	b.hub.Dispatch(session.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		AuthorID:  m.Author.ID,
		Content:   m.Content,
	})
}

func (b *Bot) onConnect(*discordgo.Session, *discordgo.Connect) {
	b.connected.Store(true)
	slog.Info("discord: gateway connected")
}

func (b *Bot) onDisconnect(*discordgo.Session, *discordgo.Disconnect) {
	b.connected.Store(false)
	slog.Warn("discord: gateway disconnected")
}

// Platform is the voice side of the bot.
func (b *Bot) Platform() audio.Platform { return b.platform }

// Output posts to the text channel channelID.
func (b *Bot) Output(channelID string) session.Output {
	return NewChannelOutput(b.session, b.hub, channelID)
}

// Connected reports the last known gateway state. The readiness check uses it.
func (b *Bot) Connected() bool { return b.connected.Load() }

func (b *Bot) Session() *discordgo.Session { return b.session }

func (b *Bot) Router() *CommandRouter { return b.router }

// Gate guards the session commands.
func (b *Bot) Gate() *RoleGate { return b.gate }

// Run overwrites the application commands with the router's definitions and
// then waits for ctx to end.
func (b *Bot) Run(ctx context.Context) error {
	if defs := b.router.Definitions(); len(defs) > 0 {
		cmds, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.guildID, defs)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.registered = cmds
		b.mu.Unlock()
		slog.Info("discord: commands registered", "count", len(cmds), "guild_id", b.guildID)
	}
	<-ctx.Done()
	return ctx.Err()
}

// Close removes guild commands and closes the gateway. Global commands stay
// registered.
func (b *Bot) Close() error {
	b.closeOnce.Do(func() {
		var errs []error
		b.mu.Lock()
		cmds := b.registered
		b.mu.Unlock()
		if b.guildID != "" {
			for _, cmd := range cmds {
				if err := b.session.ApplicationCommandDelete(b.session.State.User.ID, b.guildID, cmd.ID); err != nil {
					errs = append(errs, fmt.Errorf("discord: delete command %s: %w", cmd.Name, err))
				}
			}
		}
		b.connected.Store(false)
		if err := b.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("discord: close gateway: %w", err))
		}
		b.closeErr = errors.Join(errs...)
		slog.Info("discord: bot closed")
	})
	return b.closeErr
}
