package discord

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/scribe/internal/session"
)

// MessageLimit is the maximum length of a Discord message in characters.
const MessageLimit = 2000

// Allowed thread auto-archive durations in minutes.
var archiveDurations = []int{60, 1440, 4320, 10080}

// Messenger is the subset of the discordgo REST API used by [ChannelOutput].
// *discordgo.Session implements it.
type Messenger interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	MessageThreadStartComplex(channelID, messageID string, data *discordgo.ThreadStart, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ThreadStartComplex(channelID string, data *discordgo.ThreadStart, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
}

var _ session.Output = (*ChannelOutput)(nil)

// ChannelOutput posts to one text channel or thread. Text longer than
// [MessageLimit] is split across several messages.
type ChannelOutput struct {
	api       Messenger
	hub       *Hub
	channelID string

	mu     sync.Mutex
	lastID string // last message posted, threads hang off it
}

// NewChannelOutput returns an output for channelID. Messages collected
// through it are read from hub.
func NewChannelOutput(api Messenger, hub *Hub, channelID string) *ChannelOutput {
	return &ChannelOutput{api: api, hub: hub, channelID: channelID}
}

// ChannelID returns the channel or thread the output posts to.
func (o *ChannelOutput) ChannelID() string { return o.channelID }

// Send implements [session.Output].
func (o *ChannelOutput) Send(ctx context.Context, text string) error {
	for _, chunk := range SplitMessage(text, MessageLimit) {
		if err := o.send(ctx, &discordgo.MessageSend{Content: chunk}); err != nil {
			return err
		}
	}
	return nil
}

// SendFile implements [session.Output]. The file is attached to the last
// chunk of text.
func (o *ChannelOutput) SendFile(ctx context.Context, text, name string, content []byte) error {
	chunks := SplitMessage(text, MessageLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	for _, chunk := range chunks[:len(chunks)-1] {
		if err := o.send(ctx, &discordgo.MessageSend{Content: chunk}); err != nil {
			return err
		}
	}
	return o.send(ctx, &discordgo.MessageSend{
		Content: chunks[len(chunks)-1],
		Files: []*discordgo.File{{
			Name:        name,
			ContentType: "text/plain; charset=utf-8",
			Reader:      bytes.NewReader(content),
		}},
	})
}

func (o *ChannelOutput) send(ctx context.Context, msg *discordgo.MessageSend) error {
	m, err := o.api.ChannelMessageSendComplex(o.channelID, msg, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: send to %s: %w", o.channelID, err)
	}
	o.mu.Lock()
	o.lastID = m.ID
	o.mu.Unlock()
	return nil
}

// SendTyping implements [session.Output].
func (o *ChannelOutput) SendTyping(ctx context.Context) error {
	if err := o.api.ChannelTyping(o.channelID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: typing in %s: %w", o.channelID, err)
	}
	return nil
}

// StartThread implements [session.Output]. The thread is attached to the
// last message this output posted, or created standalone if there is none.
func (o *ChannelOutput) StartThread(ctx context.Context, name string, ttl time.Duration) (session.Output, error) {
	data := &discordgo.ThreadStart{
		Name:                name,
		AutoArchiveDuration: archiveDuration(ttl),
		Type:                discordgo.ChannelTypeGuildPublicThread,
	}
	o.mu.Lock()
	lastID := o.lastID
	o.mu.Unlock()

	var (
		ch  *discordgo.Channel
		err error
	)
	if lastID != "" {
		ch, err = o.api.MessageThreadStartComplex(o.channelID, lastID, data, discordgo.WithContext(ctx))
	} else {
		ch, err = o.api.ThreadStartComplex(o.channelID, data, discordgo.WithContext(ctx))
	}
	if err != nil {
		return nil, fmt.Errorf("discord: start thread in %s: %w", o.channelID, err)
	}
	return NewChannelOutput(o.api, o.hub, ch.ID), nil
}

// React implements [session.Output].
func (o *ChannelOutput) React(ctx context.Context, messageID, emoji string) error {
	if err := o.api.MessageReactionAdd(o.channelID, messageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: react to %s: %w", messageID, err)
	}
	return nil
}

// Collect implements [session.Output].
func (o *ChannelOutput) Collect(ctx context.Context, filter func(session.Message) bool, timeout time.Duration) (<-chan session.Message, <-chan struct{}) {
	return o.hub.Collect(ctx, o.channelID, filter, timeout)
}

// archiveDuration returns the shortest allowed auto-archive duration that
// covers ttl.
func archiveDuration(ttl time.Duration) int {
	for _, d := range archiveDurations {
		if time.Duration(d)*time.Minute >= ttl {
			return d
		}
	}
	return archiveDurations[len(archiveDurations)-1]
}

// SplitMessage splits text into chunks of at most limit characters. It cuts
// at the last line break inside the limit, then at the last space, and only
// then mid-word. Empty text yields no chunks.
func SplitMessage(text string, limit int) []string {
	var chunks []string
	for utf8.RuneCountInString(text) > limit {
		cut := byteOffset(text, limit)
		head := text[:cut]
		if i := strings.LastIndexByte(head, '\n'); i > 0 {
			cut = i
		} else if i := strings.LastIndexByte(head, ' '); i > 0 {
			cut = i
		}
		if chunk := strings.TrimRight(text[:cut], " \n"); chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimLeft(text[cut:], " \n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// byteOffset returns the byte index of the n-th rune of s.
func byteOffset(s string, n int) int {
	i := 0
	for pos := range s {
		if i == n {
			return pos
		}
		i++
	}
	return len(s)
}
