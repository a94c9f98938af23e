package session

import (
	"context"
	"time"
)

// Message is a chat message observed by [Output.Collect].
type Message struct {
	ID        string
	ChannelID string
	AuthorID  string
	Content   string
}

// Output is the text channel a session reports to. Implementations split
// text that exceeds the platform's message size limit across several
// messages.
//
// Implementations must be safe for concurrent use.
type Output interface {
	// Send posts text.
	Send(ctx context.Context, text string) error

	// SendFile posts text with a file attachment named name.
	SendFile(ctx context.Context, text, name string, content []byte) error

	// SendTyping shows a typing indicator.
	SendTyping(ctx context.Context) error

	// StartThread opens a thread below the channel and returns an Output
	// writing into it. ttl is how long the thread is expected to stay in use.
	StartThread(ctx context.Context, name string, ttl time.Duration) (Output, error)

	// React adds emoji to the message messageID.
	React(ctx context.Context, messageID, emoji string) error

	// Collect delivers messages posted to this output that satisfy filter.
	// The returned end channel is closed once timeout elapses or ctx ends;
	// no message is delivered after that. The message channel is never
	// closed.
	Collect(ctx context.Context, filter func(Message) bool, timeout time.Duration) (<-chan Message, <-chan struct{})
}
