package discord

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

const (
	// subscriptionBuffer holds roughly one second of 20 ms Opus packets.
	subscriptionBuffer = 64

	// speakingGap is the minimum pause between two packets of the same SSRC
	// before the next packet counts as a new start of speech.
	speakingGap = 100 * time.Millisecond
)

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface. Discord identifies voice packets by SSRC only;
// VoiceSpeakingUpdate events supply the SSRC to user mapping, after which
// packets are routed to the user's open [audio.Subscription].
//
// Connection is safe for concurrent use.
type Connection struct {
	vc *discordgo.VoiceConnection

	mu         sync.Mutex
	ssrcUser   map[uint32]string
	lastPacket map[uint32]time.Time
	subs       map[string]*audio.Subscription

	speakingCb func(userID string)
	speakingMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once

	// disconnectVC is called during Disconnect to tear down the voice connection.
	// Defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error

	now func() time.Time
}

// newConnection initialises a Connection for an already-joined voice channel
// and starts the receive loop.
func newConnection(vc *discordgo.VoiceConnection) *Connection {
	c := &Connection{
		vc:           vc,
		ssrcUser:     make(map[uint32]string),
		lastPacket:   make(map[uint32]time.Time),
		subs:         make(map[string]*audio.Subscription),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
		now:          time.Now,
	}
	vc.AddHandler(c.handleSpeakingUpdate)
	go c.recvLoop()
	return c
}

// OnSpeakingStart registers cb as the speech-start callback. The callback runs
// on the receive goroutine before the triggering packet is routed, so a
// subscription opened inside cb still receives that packet. cb must not block.
func (c *Connection) OnSpeakingStart(cb func(userID string)) {
	c.speakingMu.Lock()
	defer c.speakingMu.Unlock()
	c.speakingCb = cb
}

// Subscribe opens a stream of raw Opus packets for userID.
func (c *Connection) Subscribe(userID string, end audio.EndCondition) (audio.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return nil, audio.ErrDisconnected
	default:
	}
	if _, ok := c.subs[userID]; ok {
		return nil, audio.ErrAlreadySubscribed
	}

	var sub *audio.Subscription
	sub = audio.NewSubscription(end, subscriptionBuffer, func() {
		c.mu.Lock()
		if c.subs[userID] == sub {
			delete(c.subs, userID)
		}
		c.mu.Unlock()
	})
	c.subs[userID] = sub
	return sub, nil
}

// Disconnect leaves the voice channel and closes every open stream. It is safe
// to call more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}

		c.mu.Lock()
		open := make([]*audio.Subscription, 0, len(c.subs))
		for _, sub := range c.subs {
			open = append(open, sub)
		}
		c.mu.Unlock()

		// Close outside the lock: onClose re-acquires c.mu.
		for _, sub := range open {
			sub.Close()
		}
	})
	return err
}

// recvLoop reads Opus packets from the voice connection, detects the start of
// speech per SSRC, and routes each packet to its user's subscription.
func (c *Connection) recvLoop() {
	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil || len(pkt.Opus) == 0 {
				continue
			}
			c.route(pkt)
		}
	}
}

func (c *Connection) route(pkt *discordgo.Packet) {
	now := c.now()

	c.mu.Lock()
	userID, known := c.ssrcUser[pkt.SSRC]
	last, seen := c.lastPacket[pkt.SSRC]
	c.lastPacket[pkt.SSRC] = now
	_, subscribed := c.subs[userID]
	c.mu.Unlock()

	if !known {
		// The speaking update that names this SSRC has not arrived yet.
		return
	}

	if !subscribed && (!seen || now.Sub(last) > speakingGap) {
		c.emitSpeaking(userID)
	}

	c.mu.Lock()
	sub := c.subs[userID]
	c.mu.Unlock()
	if sub == nil {
		return
	}

	// The consumer holds the packet past this iteration.
	opus := make([]byte, len(pkt.Opus))
	copy(opus, pkt.Opus)
	if !sub.Push(opus) {
		slog.Debug("discord: dropped voice packet", "user_id", userID, "ssrc", pkt.SSRC)
	}
}

// handleSpeakingUpdate records the SSRC of a user so later packets can be
// attributed to them.
func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	c.mu.Lock()
	c.ssrcUser[uint32(vs.SSRC)] = vs.UserID
	c.mu.Unlock()
}

func (c *Connection) emitSpeaking(userID string) {
	c.speakingMu.Lock()
	cb := c.speakingCb
	c.speakingMu.Unlock()
	if cb != nil {
		cb(userID)
	}
}
