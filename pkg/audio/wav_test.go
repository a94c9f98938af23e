package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/scribe/pkg/audio"
)

func TestEncodeWAV_Header(t *testing.T) {
	pcm := pcm16(1, 2, 3, 4)
	wav := audio.EncodeWAV(pcm, audio.SpeechFormat)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad magic: %q %q", wav[0:4], wav[8:12])
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
}

func TestDecodeWAV_RoundTrip(t *testing.T) {
	pcm := pcm16(-5, 7, 300)
	f := audio.Format{SampleRate: 48000, Channels: 1}

	got, gotFormat, err := audio.DecodeWAV(audio.EncodeWAV(pcm, f))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if gotFormat != f {
		t.Errorf("format = %+v, want %+v", gotFormat, f)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("pcm = %v, want %v", got, pcm)
	}
}

func TestDecodeWAV_Rejects(t *testing.T) {
	t.Parallel()

	corrupt := func(off int, b ...byte) []byte {
		wav := audio.EncodeWAV(pcm16(1), audio.SpeechFormat)
		copy(wav[off:], b)
		return wav
	}
	tests := map[string][]byte{
		"short":     []byte("RIFF"),
		"container": corrupt(8, []byte("AVI ")...),
		"float":     corrupt(20, 3, 0),
		"8 bit":     corrupt(34, 8, 0),
		"no data":   corrupt(36, []byte("LIST")...),
	}
	for name, wav := range tests {
		if _, _, err := audio.DecodeWAV(wav); !errors.Is(err, audio.ErrInvalidWAV) {
			t.Errorf("%s: err = %v, want ErrInvalidWAV", name, err)
		}
	}
}
