package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/MrWong99/scribe/pkg/provider/stt"
	"github.com/coder/websocket"
)

func TestListenURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		opts   []Option
		format audio.Format
		lang   string
		kws    []stt.KeywordBoost
		want   url.Values
	}{
		{
			name:   "defaults",
			format: audio.SpeechFormat,
			lang:   defaultLanguage,
			want: url.Values{
				"model": {"nova-3"}, "language": {"en"}, "punctuate": {"true"},
				"encoding": {"linear16"}, "sample_rate": {"16000"}, "channels": {"1"},
			},
		},
		{
			name:   "model and keywords",
			opts:   []Option{WithModel("base")},
			format: audio.Format{SampleRate: 48000, Channels: 2},
			lang:   "fr",
			kws:    []stt.KeywordBoost{{Keyword: "Eldrinax", Boost: 5}, {Keyword: "Thornwood", Boost: 2.5}},
			want: url.Values{
				"model": {"base"}, "language": {"fr"}, "punctuate": {"true"},
				"encoding": {"linear16"}, "sample_rate": {"48000"}, "channels": {"2"},
				"keywords": {"Eldrinax:5", "Thornwood:2.5"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := New("key", tt.opts...)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			raw, err := p.listenURL(tt.format, tt.lang, tt.kws)
			if err != nil {
				t.Fatalf("listenURL: %v", err)
			}
			u, _ := url.Parse(raw)
			if got := u.Query().Encode(); got != tt.want.Encode() {
				t.Errorf("query = %s\nwant    %s", got, tt.want.Encode())
			}
		})
	}
}

func TestDecodeSegment(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		raw  string
		ok   bool
		want segment
	}{
		"final": {
			raw:  `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" Roll for initiative ","confidence":0.95}]}}`,
			ok:   true,
			want: segment{text: "Roll for initiative", final: true, confidence: 0.95},
		},
		"interim": {
			raw:  `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"Roll","confidence":0.7}]}}`,
			ok:   true,
			want: segment{text: "Roll", confidence: 0.7},
		},
		"metadata":        {raw: `{"type":"Metadata","request_id":"abc"}`},
		"no alternatives": {raw: `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`},
		"malformed":       {raw: `{"type":`},
	}
	for name, tt := range tests {
		got, ok := decodeSegment([]byte(tt.raw))
		if ok != tt.ok || got != tt.want {
			t.Errorf("%s: decodeSegment = %+v, %v; want %+v, %v", name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("New accepted an empty api key")
	}
	p, err := New("key", WithLanguage("de-DE"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel || p.language != "de-DE" || p.endpoint != DefaultEndpoint {
		t.Errorf("provider = %+v", p)
	}
}

// newFakeDeepgram accepts one WebSocket per request, counts binary bytes until
// CloseStream, replies with the given messages and closes normally.
func newFakeDeepgram(t *testing.T, replies []string, gotBytes *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			typ, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				gotBytes.Add(int64(len(msg)))
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				break
			}
		}
		for _, reply := range replies {
			if err := conn.Write(ctx, websocket.MessageText, []byte(reply)); err != nil {
				return
			}
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}))
}

func TestTranscribe_CollectsFinals(t *testing.T) {
	t.Parallel()

	var gotBytes atomic.Int64
	srv := newFakeDeepgram(t, []string{
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"the","confidence":0.5}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"the dragon","confidence":0.9}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"wakes up","confidence":0.7}]}}`,
		`{"type":"Metadata"}`,
	}, &gotBytes)
	defer srv.Close()

	p, err := New("key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pcm := make([]byte, 16000) // 0.5 s of 16 kHz mono
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := p.Transcribe(ctx, stt.Request{Audio: audio.EncodeWAV(pcm, audio.SpeechFormat)})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	assertEqual(t, "text", "the dragon wakes up", res.Text)
	if gotBytes.Load() != int64(len(pcm)) {
		t.Errorf("server received %d bytes, want %d", gotBytes.Load(), len(pcm))
	}
	if res.Duration != 500*time.Millisecond {
		t.Errorf("Duration = %v, want 500ms", res.Duration)
	}
	assertEqual(t, "language", "en", res.Language)
	if res.Confidence < 0.79 || res.Confidence > 0.81 {
		t.Errorf("Confidence = %f, want 0.8", res.Confidence)
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	p, _ := New("key")
	_, err := p.Transcribe(context.Background(), stt.Request{Audio: audio.EncodeWAV(nil, audio.SpeechFormat)})
	if !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("err = %v, want ErrEmptyAudio", err)
	}
}

func TestTranscribe_DialFailure(t *testing.T) {
	var gotBytes atomic.Int64
	srv := newFakeDeepgram(t, nil, &gotBytes)
	defer srv.Close()

	p, _ := New("wrong", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	_, err := p.Transcribe(context.Background(), stt.Request{Audio: audio.EncodeWAV(make([]byte, 320), audio.SpeechFormat)})
	if err == nil {
		t.Fatal("expected dial error for rejected credentials")
	}
}

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
