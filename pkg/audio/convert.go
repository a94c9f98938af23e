package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	}
	return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
}

// ErrMisalignedPCM is returned for a buffer that does not hold whole frames
// of int16 samples.
var ErrMisalignedPCM = errors.New("audio: misaligned PCM data")

// FormatConverter brings frames of any layout to Target. Channels are
// reduced before resampling and expanded after it so the resampler always
// works on the narrower layout. Use one converter per stream.
type FormatConverter struct {
	Target Format

	logOnce sync.Once
}

// Convert returns frame in the target format. A frame already in that
// format is returned as is, sharing its buffer.
func (c *FormatConverter) Convert(frame AudioFrame) (AudioFrame, error) {
	src := Format{SampleRate: frame.SampleRate, Channels: frame.Channels}
	if src.SampleRate <= 0 || src.Channels <= 0 {
		return AudioFrame{}, fmt.Errorf("audio: convert: invalid source format %s", src)
	}
	if len(frame.Data)%(2*src.Channels) != 0 {
		return AudioFrame{}, fmt.Errorf("audio: convert %d bytes of %s: %w", len(frame.Data), src, ErrMisalignedPCM)
	}
	if src == c.Target {
		return frame, nil
	}
	if c.Target.Channels > 1 && src.Channels > 1 && src.Channels != c.Target.Channels {
		return AudioFrame{}, fmt.Errorf("audio: convert: no channel mapping from %s to %s", src, c.Target)
	}
	c.logOnce.Do(func() {
		slog.Debug("audio: converting stream", "from", src.String(), "to", c.Target.String())
	})

	pcm, ch := frame.Data, src.Channels
	if c.Target.Channels == 1 && ch > 1 {
		pcm, ch = DownmixToMono(pcm, ch), 1
	}
	pcm = Resample(pcm, ch, src.SampleRate, c.Target.SampleRate)
	if ch == 1 && c.Target.Channels > 1 {
		pcm, ch = upmix(pcm, c.Target.Channels), c.Target.Channels
	}

	return AudioFrame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   ch,
		Timestamp:  frame.Timestamp,
	}, nil
}

func sampleAt(pcm []byte, i int) int32 {
	return int32(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
}

func putSample(pcm []byte, i int, v int32) {
	binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(v)))
}

// DownmixToMono averages the channels of interleaved int16 PCM.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, 2*frames)
	for f := range frames {
		var sum int32
		for c := range channels {
			sum += sampleAt(pcm, f*channels+c)
		}
		// The mean of int16 values always fits an int16.
		putSample(out, f, sum/int32(channels))
	}
	return out
}

// upmix copies every mono sample into channels slots.
func upmix(pcm []byte, channels int) []byte {
	n := len(pcm) / 2
	out := make([]byte, 2*n*channels)
	for i := range n {
		for c := range channels {
			copy(out[2*(i*channels+c):], pcm[2*i:2*i+2])
		}
	}
	return out
}

// Resample converts interleaved int16 PCM with the given channel count from
// srcRate to dstRate by linear interpolation. Equal or invalid rates return
// pcm unchanged.
func Resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (2 * channels)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, 2*dstFrames*channels)
	step := float64(srcRate) / float64(dstRate)
	for f := range dstFrames {
		pos := float64(f) * step
		i := int(pos)
		frac := pos - float64(i)
		next := min(i+1, srcFrames-1)
		for c := range channels {
			a := float64(sampleAt(pcm, i*channels+c))
			b := float64(sampleAt(pcm, next*channels+c))
			putSample(out, f*channels+c, int32(math.Round(a+(b-a)*frac)))
		}
	}
	return out
}
