package session

import (
	"fmt"

	"github.com/MrWong99/scribe/pkg/audio"
)

// decodeStage turns one stream's raw codec packets into PCM in
// [audio.SpeechFormat]. Each stream gets its own stage because decoders keep
// inter-frame state.
type decodeStage struct {
	dec  audio.Decoder
	conv audio.FormatConverter
}

func newDecodeStage(factory audio.DecoderFactory) (*decodeStage, error) {
	dec, err := factory()
	if err != nil {
		return nil, fmt.Errorf("session: create decoder: %w", err)
	}
	return &decodeStage{
		dec:  dec,
		conv: audio.FormatConverter{Target: audio.SpeechFormat},
	}, nil
}

// process decodes pkt and converts it to speech format.
func (d *decodeStage) process(pkt []byte) ([]byte, error) {
	frame, err := d.dec.Decode(pkt)
	if err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	out, err := d.conv.Convert(frame)
	if err != nil {
		return nil, fmt.Errorf("session: convert: %w", err)
	}
	return out.Data, nil
}
