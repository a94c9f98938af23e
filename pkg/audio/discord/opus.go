package discord

import (
	"encoding/binary"
	"fmt"

	"github.com/MrWong99/scribe/pkg/audio"
	"layeh.com/gopus"
)

// Discord sends 20 ms Opus frames of 48 kHz stereo.
const (
	voiceRate     = 48000
	voiceChannels = 2
	frameSamples  = voiceRate / 50
)

var _ audio.Decoder = (*OpusDecoder)(nil)

// OpusDecoder turns one speaker's Opus packets into PCM. Opus keeps state
// between frames, so streams never share a decoder.
type OpusDecoder struct {
	dec *gopus.Decoder
}

// NewOpusDecoder is the [audio.DecoderFactory] for Discord voice.
func NewOpusDecoder() (audio.Decoder, error) {
	dec, err := gopus.NewDecoder(voiceRate, voiceChannels)
	if err != nil {
		return nil, fmt.Errorf("discord: new opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec}, nil
}

// Decode returns the interleaved 16-bit little-endian PCM of packet.
func (d *OpusDecoder) Decode(packet []byte) (audio.AudioFrame, error) {
	samples, err := d.dec.Decode(packet, frameSamples, false)
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("discord: decode opus: %w", err)
	}
	data := make([]byte, 0, 2*len(samples))
	for _, s := range samples {
		data = binary.LittleEndian.AppendUint16(data, uint16(s))
	}
	return audio.AudioFrame{Data: data, SampleRate: voiceRate, Channels: voiceChannels}, nil
}
