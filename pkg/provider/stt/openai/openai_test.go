package openai_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/MrWong99/scribe/pkg/provider/stt"
	"github.com/MrWong99/scribe/pkg/provider/stt/openai"
)

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := openai.New("", ""); err == nil {
		t.Error("New accepted an empty key")
	}
	if _, err := openai.New("sk-test", "", openai.WithLanguage("de")); err != nil {
		t.Fatalf("New: %v", err)
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		fields = map[string]string{}
		auth   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		auth = r.Header.Get("Authorization")
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": "  Roll for initiative.  "}`))
	}))
	defer srv.Close()

	p, err := openai.New("sk-test", "", openai.WithBaseURL(srv.URL), openai.WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Transcribe(context.Background(), stt.Request{
		Audio:    audio.EncodeWAV(make([]byte, 3200), audio.SpeechFormat),
		Keywords: []stt.KeywordBoost{{Keyword: "Eldrinax"}},
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "Roll for initiative." || res.Language != "en" {
		t.Errorf("result = %+v", res)
	}

	mu.Lock()
	defer mu.Unlock()
	if auth != "Bearer sk-test" {
		t.Errorf("auth = %q", auth)
	}
	for k, v := range map[string]string{"model": string(openai.DefaultModel), "language": "en", "prompt": "Eldrinax"} {
		if fields[k] != v {
			t.Errorf("field %s = %q, want %q", k, fields[k], v)
		}
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	t.Parallel()

	p, _ := openai.New("sk-test", "")
	_, err := p.Transcribe(context.Background(), stt.Request{Audio: audio.EncodeWAV(nil, audio.SpeechFormat)})
	if !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
}
