// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider turns one finished utterance, delivered as a WAV file, into
// text. Transcription is batch-only: callers accumulate a speaker's audio
// until the trailing silence and submit it in one request.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned when a request carries no audio samples.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Request is a single transcription call.
type Request struct {
	// Audio is a RIFF/WAV file containing 16-bit PCM.
	Audio []byte

	// Language is the BCP-47 language tag for recognition (e.g., "en", "de").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// Keywords lists vocabulary hints such as participant names and glossary
	// terms. Providers that cannot use hints ignore them.
	Keywords []KeywordBoost
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe returns the text spoken in req.Audio. A successful call may
	// return an empty Text when the audio holds no recognisable speech.
	Transcribe(ctx context.Context, req Request) (Result, error)
}
