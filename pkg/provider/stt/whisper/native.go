package whisper

// Building this file needs libwhisper.a and whisper.h on LIBRARY_PATH and
// C_INCLUDE_PATH.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/MrWong99/scribe/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider runs whisper.cpp in process through its cgo bindings. One
// model is loaded for the provider's lifetime; every Transcribe call gets a
// fresh inference context because contexts cannot be shared.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	minRMS   float64

	closeOnce sync.Once
	closeErr  error
}

// NativeOption configures a [NativeProvider].
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language used when a request names none.
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeMinRMS sets the energy below which inference is skipped and an
// empty transcript returned.
func WithNativeMinRMS(rms float64) NativeOption {
	return func(p *NativeProvider) { p.minRMS = rms }
}

// NewNative loads the ggml model at modelPath. Call Close to free it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path is required")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{model: model, language: defaultLanguage, minRMS: defaultRMSThreshold}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Close frees the model. Later calls return the first result.
func (p *NativeProvider) Close() error {
	p.closeOnce.Do(func() {
		if p.model != nil {
			p.closeErr = p.model.Close()
		}
	})
	return p.closeErr
}

// Transcribe decodes the WAV in req, brings it to 16 kHz mono and runs one
// inference pass. Quiet audio returns an empty Result without inference.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: %w", err)
	}
	pcm, format, err := audio.DecodeWAV(req.Audio)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: %w", err)
	}
	if len(pcm) == 0 {
		return stt.Result{}, stt.ErrEmptyAudio
	}

	res := stt.Result{Language: req.Language, Duration: format.Duration(len(pcm))}
	if res.Language == "" {
		res.Language = p.language
	}

	mono := audio.DownmixToMono(pcm, format.Channels)
	mono = audio.Resample(mono, 1, format.SampleRate, audio.SpeechFormat.SampleRate)
	if computeRMS(mono) < p.minRMS {
		return res, nil
	}

	res.Text, err = p.infer(floatSamples(mono, 1), res.Language, stt.PromptFromKeywords(req.Keywords))
	if err != nil {
		return stt.Result{}, err
	}
	return res, nil
}

func (p *NativeProvider) infer(samples []float32, lang, prompt string) (string, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: new context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: language rejected, model default applies", "language", lang, "err", err)
	}
	if prompt != "" {
		wctx.SetInitialPrompt(prompt)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process: %w", err)
	}

	var b strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("whisper: next segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
}
