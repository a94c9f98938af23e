// Package mock provides in-memory mock implementations of the [audio.Platform],
// [audio.Connection] and [audio.Decoder] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	conn := mock.NewConnection()
//	platform := &mock.Platform{JoinResult: conn}
//	// ... start the session under test ...
//	conn.StartSpeaking("user-1")
//	conn.Send("user-1", []byte{1, 2, 3, 4})
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/scribe/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// SubscribeCall records the arguments of a single [Connection.Subscribe] invocation.
type SubscribeCall struct {
	UserID string
	End    audio.EndCondition
}

// Connection is a mock implementation of [audio.Connection]. Streams it hands
// out are real [audio.Subscription] values, so silence end conditions behave
// exactly as they do against a live platform.
type Connection struct {
	mu sync.Mutex

	// SubscribeError, when set, is returned by every Subscribe call.
	SubscribeError error

	// DisconnectError is returned by [Connection.Disconnect].
	DisconnectError error

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	// SubscribeCalls records all Subscribe invocations, including failed ones.
	SubscribeCalls []SubscribeCall

	speakingCb   func(string)
	subs         map[string]*audio.Subscription
	disconnected bool
}

// NewConnection returns an empty mock connection.
func NewConnection() *Connection {
	return &Connection{subs: make(map[string]*audio.Subscription)}
}

// OnSpeakingStart implements [audio.Connection].
func (c *Connection) OnSpeakingStart(cb func(userID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speakingCb = cb
}

// Subscribe implements [audio.Connection].
func (c *Connection) Subscribe(userID string, end audio.EndCondition) (audio.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SubscribeCalls = append(c.SubscribeCalls, SubscribeCall{UserID: userID, End: end})
	if c.SubscribeError != nil {
		return nil, c.SubscribeError
	}
	if c.disconnected {
		return nil, audio.ErrDisconnected
	}
	if c.subs == nil {
		c.subs = make(map[string]*audio.Subscription)
	}
	if _, ok := c.subs[userID]; ok {
		return nil, audio.ErrAlreadySubscribed
	}
	var sub *audio.Subscription
	sub = audio.NewSubscription(end, 256, func() {
		c.mu.Lock()
		if c.subs[userID] == sub {
			delete(c.subs, userID)
		}
		c.mu.Unlock()
	})
	c.subs[userID] = sub
	return sub, nil
}

// Disconnect implements [audio.Connection]. Closes every open stream and
// returns DisconnectError.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.CallCountDisconnect++
	c.disconnected = true
	open := make([]*audio.Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		open = append(open, s)
	}
	err := c.DisconnectError
	c.mu.Unlock()

	for _, s := range open {
		s.Close()
	}
	return err
}

// StartSpeaking invokes the registered speech-start callback for userID.
func (c *Connection) StartSpeaking(userID string) {
	c.mu.Lock()
	cb := c.speakingCb
	c.mu.Unlock()
	if cb != nil {
		cb(userID)
	}
}

// Send pushes a packet into userID's open stream. Returns false if the user
// has no open stream or its buffer is full.
func (c *Connection) Send(userID string, pkt []byte) bool {
	c.mu.Lock()
	sub := c.subs[userID]
	c.mu.Unlock()
	if sub == nil {
		return false
	}
	return sub.Push(pkt)
}

// Fail terminates userID's open stream with err.
func (c *Connection) Fail(userID string, err error) {
	c.mu.Lock()
	sub := c.subs[userID]
	c.mu.Unlock()
	if sub != nil {
		sub.Fail(err)
	}
}

// Close ends userID's open stream as if the silence timer had fired.
func (c *Connection) Close(userID string) {
	c.mu.Lock()
	sub := c.subs[userID]
	c.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

// OpenStreams returns the number of streams currently open.
func (c *Connection) OpenStreams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Subscribed reports whether userID currently has an open stream.
func (c *Connection) Subscribed(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[userID]
	return ok
}

// Disconnected reports whether Disconnect has been called.
func (c *Connection) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// JoinCall records the arguments of a single [Platform.Join] invocation.
type JoinCall struct {
	GuildID   string
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// JoinResult is the [audio.Connection] returned by Join. When nil, Join
	// returns a fresh [Connection] each time (see Connections).
	JoinResult audio.Connection

	// JoinError is the error returned by Join.
	JoinError error

	// JoinCalls records all Join invocations.
	JoinCalls []JoinCall

	// Connections lists connections created by Join when JoinResult is nil.
	Connections []*Connection
}

// Join implements [audio.Platform].
func (p *Platform) Join(_ context.Context, guildID, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.JoinCalls = append(p.JoinCalls, JoinCall{GuildID: guildID, ChannelID: channelID})
	if p.JoinError != nil {
		return nil, p.JoinError
	}
	if p.JoinResult != nil {
		return p.JoinResult, nil
	}
	c := NewConnection()
	p.Connections = append(p.Connections, c)
	return c, nil
}

// Last returns the most recently created connection, or nil.
func (p *Platform) Last() *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Connections) == 0 {
		return nil
	}
	return p.Connections[len(p.Connections)-1]
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

// ErrBadPacket is returned by [Decoder] for packets equal to BadPacket.
var ErrBadPacket = errors.New("mock: undecodable packet")

// BadPacket is a sentinel packet that [Decoder] refuses to decode.
var BadPacket = []byte{0xDE, 0xAD}

// Decoder is a pass-through [audio.Decoder]: every packet is treated as PCM
// in Format (16 kHz mono when zero).
type Decoder struct {
	Format audio.Format
}

// Decode implements [audio.Decoder].
func (d *Decoder) Decode(packet []byte) (audio.AudioFrame, error) {
	if len(packet) == len(BadPacket) && packet[0] == BadPacket[0] && packet[1] == BadPacket[1] {
		return audio.AudioFrame{}, ErrBadPacket
	}
	f := d.Format
	if f.SampleRate == 0 {
		f = audio.SpeechFormat
	}
	return audio.AudioFrame{Data: packet, SampleRate: f.SampleRate, Channels: f.Channels}, nil
}

// NewDecoder satisfies [audio.DecoderFactory] with a 16 kHz mono pass-through
// [Decoder].
func NewDecoder() (audio.Decoder, error) {
	return &Decoder{}, nil
}
