// Package whisper transcribes utterances with whisper.cpp.
//
// [Provider] posts WAV files to a whisper-server at /inference. [NativeProvider]
// runs the model in process through the cgo bindings. Both skip near-silent
// audio, on which whisper tends to invent text.
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/MrWong99/scribe/pkg/provider/stt"
)

const (
	// defaultRMSThreshold is in 16-bit sample units.
	defaultRMSThreshold = 300.0
	defaultLanguage     = "en"
	defaultTimeout      = time.Minute
)

var _ stt.Provider = (*Provider)(nil)

// Provider is an [stt.Provider] for a whisper-server.
type Provider struct {
	baseURL  string
	model    string
	language string
	minRMS   float64
	client   *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel names the model the server should use. Empty keeps the model the
// server was started with.
func WithModel(model string) Option { return func(p *Provider) { p.model = model } }

// WithLanguage sets the language used when a request names none.
func WithLanguage(lang string) Option { return func(p *Provider) { p.language = lang } }

// WithMinRMS sets the energy gate; zero sends everything to the server.
func WithMinRMS(rms float64) Option { return func(p *Provider) { p.minRMS = rms } }

func WithHTTPClient(c *http.Client) Option { return func(p *Provider) { p.client = c } }

// New returns a Provider for the server at baseURL, e.g.
// "http://localhost:8080".
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("whisper: server url is required")
	}
	p := &Provider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		language: defaultLanguage,
		minRMS:   defaultRMSThreshold,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Transcribe uploads req.Audio unchanged. Audio under the energy gate returns
// an empty Result without a request.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
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
	if computeRMS(pcm) < p.minRMS {
		return res, nil
	}

	body, contentType, err := p.form(req.Audio, res.Language, stt.PromptFromKeywords(req.Keywords))
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: build form: %w", err)
	}
	res.Text, err = p.post(ctx, body, contentType)
	if err != nil {
		return stt.Result{}, err
	}
	return res, nil
}

// form encodes the /inference multipart body. Empty fields are left out.
func (p *Provider) form(wav []byte, lang, prompt string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	file, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := file.Write(wav); err != nil {
		return nil, "", err
	}
	for _, f := range [][2]string{
		{"response_format", "json"},
		{"language", lang},
		{"model", p.model},
		{"prompt", prompt},
	} {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func (p *Provider) post(ctx context.Context, body io.Reader, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/inference", body)
	if err != nil {
		return "", fmt.Errorf("whisper: new request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: inference: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: inference: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

// computeRMS is the root mean square of 16-bit little-endian PCM, or 0 for
// less than one sample.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
