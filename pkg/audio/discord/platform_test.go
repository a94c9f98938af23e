package discord

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// ─── test helpers ─────────────────────────────────────────────────────────────

// newTestConnection creates a Connection suitable for unit testing without
// a real Discord voice connection. It wires up a fake OpusRecv channel.
func newTestConnection(t *testing.T) *Connection {
	t.Helper()
	vc := &discordgo.VoiceConnection{
		OpusRecv: make(chan *discordgo.Packet, 16),
	}
	c := &Connection{
		vc:           vc,
		ssrcUser:     make(map[uint32]string),
		lastPacket:   make(map[uint32]time.Time),
		subs:         make(map[string]*audio.Subscription),
		done:         make(chan struct{}),
		disconnectVC: func() error { return nil },
		now:          time.Now,
	}
	go c.recvLoop()
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

// silenceOpus is a valid Opus silence frame.
var silenceOpus = []byte{0xF8, 0xFF, 0xFE}

// ─── Platform tests ──────────────────────────────────────────────────────────

func TestPlatform_JoinError(t *testing.T) {
	t.Parallel()

	p := &Platform{join: func(_, _ string, _, _ bool) (*discordgo.VoiceConnection, error) {
		return nil, errors.New("no permission")
	}}
	if _, err := p.Join(context.Background(), "g", "c"); err == nil {
		t.Fatal("expected error from failed join")
	}
}

func TestPlatform_JoinMutedNotDeaf(t *testing.T) {
	t.Parallel()

	var gotMute, gotDeaf bool
	p := &Platform{join: func(_, _ string, mute, deaf bool) (*discordgo.VoiceConnection, error) {
		gotMute, gotDeaf = mute, deaf
		return nil, errors.New("stop here")
	}}
	_, _ = p.Join(context.Background(), "g", "c")
	if !gotMute || gotDeaf {
		t.Errorf("join(mute=%v, deaf=%v), want mute=true deaf=false", gotMute, gotDeaf)
	}
}

func TestPlatform_JoinContextCancelled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	p := &Platform{join: func(_, _ string, _, _ bool) (*discordgo.VoiceConnection, error) {
		<-release
		return nil, errors.New("late")
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Join(ctx, "g", "c")
	close(release)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// ─── Connection tests ─────────────────────────────────────────────────────────

func TestConnection_DisconnectIdempotent(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	for i := range 3 {
		if err := c.Disconnect(); err != nil {
			t.Fatalf("Disconnect[%d]: unexpected error: %v", i, err)
		}
	}
}

func TestConnection_SpeakingStartAndRouting(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	c.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "alice", SSRC: 100, Speaking: true})

	streams := make(chan audio.Stream, 1)
	c.OnSpeakingStart(func(userID string) {
		if userID != "alice" {
			t.Errorf("speaking start for %q, want alice", userID)
			return
		}
		s, err := c.Subscribe(userID, audio.AfterSilence(50*time.Millisecond))
		if err != nil {
			t.Errorf("Subscribe: %v", err)
			return
		}
		streams <- s
	})

	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 100, Opus: silenceOpus}
	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 100, Opus: silenceOpus}
	// Unknown SSRC is ignored.
	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 999, Opus: silenceOpus}

	var s audio.Stream
	select {
	case s = <-streams:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for speaking start")
	}

	var n int
	for range s.Packets() {
		n++
	}
	if n != 2 {
		t.Errorf("received %d packets, want 2 (including the triggering packet)", n)
	}
	if s.Err() != nil {
		t.Errorf("Err = %v, want nil", s.Err())
	}
}

func TestConnection_SubscribeTwice(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	if _, err := c.Subscribe("bob", audio.EndCondition{}); err != nil {
		t.Fatalf("first Subscribe: %v", err)
	}
	if _, err := c.Subscribe("bob", audio.EndCondition{}); !errors.Is(err, audio.ErrAlreadySubscribed) {
		t.Errorf("second Subscribe err = %v, want ErrAlreadySubscribed", err)
	}
}

func TestConnection_DisconnectClosesStreams(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	s, err := c.Subscribe("bob", audio.EndCondition{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	select {
	case _, ok := <-s.Packets():
		if ok {
			t.Error("expected closed packet channel")
		}
	case <-time.After(time.Second):
		t.Fatal("stream not closed by Disconnect")
	}
	if _, err := c.Subscribe("carol", audio.EndCondition{}); !errors.Is(err, audio.ErrDisconnected) {
		t.Errorf("Subscribe after Disconnect err = %v, want ErrDisconnected", err)
	}
}

func TestConnection_ConcurrentDisconnect(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	for i := range 5 {
		if _, err := c.Subscribe(string(rune('a'+i)), audio.EndCondition{}); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			_ = c.Disconnect()
		})
	}
	wg.Wait()
}

func TestOpusDecoder_Silence(t *testing.T) {
	t.Parallel()

	dec, err := NewOpusDecoder()
	if err != nil {
		t.Fatalf("NewOpusDecoder: %v", err)
	}
	frame, err := dec.Decode(silenceOpus)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame.SampleRate != voiceRate || frame.Channels != voiceChannels {
		t.Errorf("format = %dHz %dch, want %dHz %dch", frame.SampleRate, frame.Channels, voiceRate, voiceChannels)
	}
	if len(frame.Data) == 0 {
		t.Error("decoded frame is empty")
	}
}
