// Package audio defines the interfaces and types for receiving per-speaker
// voice audio from a chat platform.
//
// The primary abstractions are:
//
//   - [Platform]: joins a voice channel and returns a [Connection].
//   - [Connection]: an active voice session that reports when a participant
//     starts speaking and lets callers subscribe to that participant's raw
//     codec packets until an [EndCondition] is met.
//   - [Decoder]: turns raw codec packets into PCM [AudioFrame] values.
//
// Implementations live in platform-specific adapter packages (e.g.
// audio/discord). The interfaces are narrow so the session pipeline stays
// decoupled from SDK details.
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDisconnected is returned by [Connection.Subscribe] after the
	// connection has been torn down.
	ErrDisconnected = errors.New("audio: connection closed")

	// ErrAlreadySubscribed is returned by [Connection.Subscribe] when the user
	// already has an open stream on the connection.
	ErrAlreadySubscribed = errors.New("audio: user already subscribed")
)

// DefaultSilence is the trailing-silence duration that ends an utterance when
// callers do not configure one.
const DefaultSilence = 500 * time.Millisecond

// EndCondition describes when a [Stream] closes on its own.
type EndCondition struct {
	// Silence closes the stream once no packet has arrived for this long.
	// Zero means the stream stays open until closed explicitly.
	Silence time.Duration
}

// AfterSilence returns an [EndCondition] that ends a stream after d without
// new audio.
func AfterSilence(d time.Duration) EndCondition {
	return EndCondition{Silence: d}
}

// Stream delivers one speaker's raw codec packets in arrival order.
//
// The Packets channel is closed when the end condition fires, when the stream
// fails, when [Stream.Close] is called, or when the owning [Connection]
// disconnects. After the channel is closed, [Stream.Err] reports why the
// stream failed, or nil for a normal end.
type Stream interface {
	// Packets returns the channel of raw codec packets.
	Packets() <-chan []byte

	// Err returns the terminal error, if any. Only meaningful after Packets
	// is closed.
	Err() error

	// Close ends the stream early. Safe to call more than once.
	Close()
}

// Connection represents an active session on a voice channel.
//
// A Connection is obtained from [Platform.Join] and remains valid until
// [Connection.Disconnect] is called. Disconnect closes every open [Stream].
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// OnSpeakingStart registers cb to be invoked whenever a participant begins
	// speaking. Only one callback may be registered; subsequent calls replace
	// the previous one. The callback runs on an internal goroutine and must
	// not block.
	OnSpeakingStart(cb func(userID string))

	// Subscribe opens a [Stream] for userID's packets that ends according to
	// end.
	Subscribe(userID string, end EndCondition) (Stream, error)

	// Disconnect leaves the voice channel and closes all streams. It is safe
	// to call more than once; subsequent calls return nil.
	Disconnect() error
}

// Platform is the entry point for a voice-channel provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Join joins the voice channel channelID in guildID. ctx bounds the join
	// attempt only; the returned Connection lives until Disconnect.
	Join(ctx context.Context, guildID, channelID string) (Connection, error)
}

// Decoder converts raw codec packets of a single stream into PCM frames.
// Decoders keep inter-frame state and must not be shared between streams.
type Decoder interface {
	Decode(packet []byte) (AudioFrame, error)
}

// DecoderFactory creates a fresh [Decoder] for a new stream.
type DecoderFactory func() (Decoder, error)
