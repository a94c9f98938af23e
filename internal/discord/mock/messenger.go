package mock

import (
	"fmt"
	"io"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// SentMessage is one recorded ChannelMessageSendComplex call.
type SentMessage struct {
	ID        string
	ChannelID string
	Content   string
	Files     map[string]string
}

// StartedThread is one recorded thread creation.
type StartedThread struct {
	ID                  string
	ParentID            string
	MessageID           string
	Name                string
	AutoArchiveDuration int
}

// Messenger is a mock of the discordgo REST calls used to post messages.
// It implements discord.Messenger and is safe for concurrent use.
type Messenger struct {
	mu sync.Mutex

	// SendErr and ThreadErr are returned by the matching calls when non-nil.
	SendErr   error
	ThreadErr error

	seq       int
	sent      []SentMessage
	threads   []StartedThread
	typing    []string
	reactions []string
}

func (m *Messenger) nextIDLocked(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

// ChannelMessageSendComplex records the message. File contents are read
// completely.
func (m *Messenger) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return nil, m.SendErr
	}
	msg := SentMessage{ID: m.nextIDLocked("msg"), ChannelID: channelID, Content: data.Content}
	for _, f := range data.Files {
		b, err := io.ReadAll(f.Reader)
		if err != nil {
			return nil, err
		}
		if msg.Files == nil {
			msg.Files = make(map[string]string)
		}
		msg.Files[f.Name] = string(b)
	}
	m.sent = append(m.sent, msg)
	return &discordgo.Message{ID: msg.ID, ChannelID: channelID, Content: data.Content}, nil
}

// ChannelTyping records the typing indicator.
func (m *Messenger) ChannelTyping(channelID string, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing = append(m.typing, channelID)
	return nil
}

// MessageThreadStartComplex records a thread attached to messageID.
func (m *Messenger) MessageThreadStartComplex(channelID, messageID string, data *discordgo.ThreadStart, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return m.startThread(channelID, messageID, data)
}

// ThreadStartComplex records a standalone thread.
func (m *Messenger) ThreadStartComplex(channelID string, data *discordgo.ThreadStart, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return m.startThread(channelID, "", data)
}

func (m *Messenger) startThread(channelID, messageID string, data *discordgo.ThreadStart) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ThreadErr != nil {
		return nil, m.ThreadErr
	}
	th := StartedThread{
		ID:                  m.nextIDLocked("thread"),
		ParentID:            channelID,
		MessageID:           messageID,
		Name:                data.Name,
		AutoArchiveDuration: data.AutoArchiveDuration,
	}
	m.threads = append(m.threads, th)
	return &discordgo.Channel{ID: th.ID, ParentID: channelID, Name: data.Name}, nil
}

// MessageReactionAdd records the reaction as "channel/message/emoji".
func (m *Messenger) MessageReactionAdd(channelID, messageID, emojiID string, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, channelID+"/"+messageID+"/"+emojiID)
	return nil
}

// Sent returns the recorded messages in order.
func (m *Messenger) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// Threads returns the recorded threads in order.
func (m *Messenger) Threads() []StartedThread {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StartedThread(nil), m.threads...)
}

// Typing returns the channels a typing indicator was shown in.
func (m *Messenger) Typing() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.typing...)
}

// Reactions returns the recorded reactions.
func (m *Messenger) Reactions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.reactions...)
}
