// Package deepgram transcribes utterances with the Deepgram live API. Every
// utterance gets its own WebSocket: the PCM is streamed in 100 ms chunks,
// CloseStream is sent, and final results are read until Deepgram closes the
// socket.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/MrWong99/scribe/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	// DefaultEndpoint is the hosted live transcription endpoint.
	DefaultEndpoint = "wss://api.deepgram.com/v1/listen"

	defaultModel    = "nova-3"
	defaultLanguage = "en"

	chunkBytes = 3200 // 100 ms of 16 kHz mono linear16
)

var _ stt.Provider = (*Provider)(nil)

// Provider is a Deepgram [stt.Provider].
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the Deepgram model, for example "nova-3".
func WithModel(model string) Option { return func(p *Provider) { p.model = model } }

// WithLanguage sets the BCP-47 code used when a request names none.
func WithLanguage(lang string) Option { return func(p *Provider) { p.language = lang } }

// WithEndpoint points the provider at a self-hosted deployment.
func WithEndpoint(endpoint string) Option { return func(p *Provider) { p.endpoint = endpoint } }

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: api key is required")
	}
	p := &Provider{apiKey: apiKey, model: defaultModel, language: defaultLanguage, endpoint: DefaultEndpoint}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Transcribe streams the PCM of req.Audio and joins the final transcripts.
// Confidence is the mean over the final segments.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	pcm, format, err := audio.DecodeWAV(req.Audio)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: %w", err)
	}
	if len(pcm) == 0 {
		return stt.Result{}, stt.ErrEmptyAudio
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	target, err := p.listenURL(format, lang, req.Keywords)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: listen url: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Token " + p.apiKey}},
	})
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	// Results are read concurrently so neither side stalls on a full buffer.
	finals := make(chan readOutcome, 1)
	go func() { finals <- readFinals(ctx, conn) }()

	if err := stream(ctx, conn, pcm); err != nil {
		return stt.Result{}, err
	}
	out := <-finals
	if out.err != nil {
		return stt.Result{}, out.err
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")

	res := stt.Result{
		Text:     strings.Join(out.texts, " "),
		Language: lang,
		Duration: format.Duration(len(pcm)),
	}
	if n := len(out.texts); n > 0 {
		res.Confidence = out.confidence / float64(n)
	}
	return res, nil
}

func stream(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for len(pcm) > 0 {
		n := min(chunkBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[:n]); err != nil {
			return fmt.Errorf("deepgram: send audio: %w", err)
		}
		pcm = pcm[n:]
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: send close stream: %w", err)
	}
	return nil
}

type readOutcome struct {
	texts      []string
	confidence float64
	err        error
}

// readFinals collects final segments until the server closes the socket.
func readFinals(ctx context.Context, conn *websocket.Conn) readOutcome {
	var out readOutcome
	for {
		_, msg, err := conn.Read(ctx)
		if websocket.CloseStatus(err) != -1 {
			return out
		}
		if err != nil {
			return readOutcome{err: fmt.Errorf("deepgram: read: %w", err)}
		}
		seg, ok := decodeSegment(msg)
		if ok && seg.final && seg.text != "" {
			out.texts = append(out.texts, seg.text)
			out.confidence += seg.confidence
		}
	}
}

func (p *Provider) listenURL(f audio.Format, lang string, keywords []stt.KeywordBoost) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(f.SampleRate))
	q.Set("channels", strconv.Itoa(f.Channels))
	for _, kw := range keywords {
		q.Add("keywords", kw.Keyword+":"+strconv.FormatFloat(kw.Boost, 'g', -1, 64))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// message is the subset of a Deepgram event scribe reads.
type message struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type segment struct {
	text       string
	final      bool
	confidence float64
}

// decodeSegment returns the best alternative of a Results event. Other event
// types and malformed JSON report false.
func decodeSegment(data []byte) (segment, bool) {
	var m message
	if json.Unmarshal(data, &m) != nil || m.Type != "Results" || len(m.Channel.Alternatives) == 0 {
		return segment{}, false
	}
	best := m.Channel.Alternatives[0]
	return segment{text: strings.TrimSpace(best.Transcript), final: m.IsFinal, confidence: best.Confidence}, true
}
