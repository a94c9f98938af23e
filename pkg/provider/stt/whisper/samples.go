package whisper

import (
	"encoding/binary"

	"github.com/MrWong99/scribe/pkg/audio"
)

// floatSamples downmixes interleaved int16 PCM to mono and scales it to
// [-1, 1), the input format of whisper.cpp. A trailing odd byte is ignored.
func floatSamples(pcm []byte, channels int) []float32 {
	mono := audio.DownmixToMono(pcm, channels)
	out := make([]float32, len(mono)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(mono[2*i:]))) / 32768
	}
	return out
}
