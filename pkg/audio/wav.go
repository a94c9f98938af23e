package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	wavHeaderSize = 44
	bitsPerSample = 16
)

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container.
func EncodeWAV(pcm []byte, f Format) []byte {
	byteRate := f.SampleRate * f.Channels * bitsPerSample / 8
	blockAlign := f.Channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, wavHeaderSize+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// ErrInvalidWAV is wrapped by every [DecodeWAV] failure.
var ErrInvalidWAV = errors.New("audio: invalid wav")

// DecodeWAV parses a canonical 44-byte-header PCM WAV file produced by
// [EncodeWAV] and returns its samples and format. Extended headers and
// compressed encodings are rejected.
func DecodeWAV(wav []byte) ([]byte, Format, error) {
	if len(wav) < wavHeaderSize {
		return nil, Format{}, fmt.Errorf("%w: short header", ErrInvalidWAV)
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[12:16]) != "fmt " {
		return nil, Format{}, fmt.Errorf("%w: not RIFF/WAVE", ErrInvalidWAV)
	}
	if enc := binary.LittleEndian.Uint16(wav[20:22]); enc != 1 {
		return nil, Format{}, fmt.Errorf("%w: unsupported encoding %d", ErrInvalidWAV, enc)
	}
	if bps := binary.LittleEndian.Uint16(wav[34:36]); bps != bitsPerSample {
		return nil, Format{}, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, bps)
	}
	if string(wav[36:40]) != "data" {
		return nil, Format{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
	}
	f := Format{
		Channels:   int(binary.LittleEndian.Uint16(wav[22:24])),
		SampleRate: int(binary.LittleEndian.Uint32(wav[24:28])),
	}
	size := int(binary.LittleEndian.Uint32(wav[40:44]))
	if size > len(wav)-wavHeaderSize {
		size = len(wav) - wavHeaderSize
	}
	return wav[wavHeaderSize : wavHeaderSize+size], f, nil
}
