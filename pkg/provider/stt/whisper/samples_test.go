package whisper

import (
	"encoding/binary"
	"testing"
)

func pcm16(values ...int16) []byte {
	b := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(v))
	}
	return b
}

func TestFloatSamples(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		pcm      []byte
		channels int
		want     []float32
	}{
		{"empty", nil, 1, []float32{}},
		{"mono", pcm16(0, 16384, -32768), 1, []float32{0, 0.5, -1}},
		{"odd byte", append(pcm16(16384), 0xFF), 1, []float32{0.5}},
		{"stereo averaged", pcm16(16384, 0, -16384, -16384), 2, []float32{0.25, -0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := floatSamples(tt.pcm, tt.channels)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("sample %d = %f, want %f", i, got[i], tt.want[i])
				}
			}
		})
	}
}
