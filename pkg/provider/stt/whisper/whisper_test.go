package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/MrWong99/scribe/pkg/provider/stt"
	"github.com/MrWong99/scribe/pkg/provider/stt/whisper"
)

// inferenceServer answers POST /inference with text and remembers the last
// form it received.
type inferenceServer struct {
	*httptest.Server
	text  string
	calls atomic.Int32

	mu     sync.Mutex
	fields map[string]string
	upload []byte
}

func newInferenceServer(t *testing.T, text string) *inferenceServer {
	t.Helper()
	s := &inferenceServer{text: text}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *inferenceServer) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/inference" {
		http.NotFound(w, r)
		return
	}
	s.calls.Add(1)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fields := map[string]string{}
	for k, v := range r.MultipartForm.Value {
		fields[k] = v[0]
	}
	var upload []byte
	if f, _, err := r.FormFile("file"); err == nil {
		upload, _ = io.ReadAll(f)
		_ = f.Close()
	}
	s.mu.Lock()
	s.fields, s.upload = fields, upload
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"text": s.text})
}

func (s *inferenceServer) lastForm() (map[string]string, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fields, s.upload
}

// makeSpeechPCM returns a 440 Hz tone at 16 kHz, loud enough to pass the
// energy gate.
func makeSpeechPCM(samples int) []byte {
	buf := make([]byte, 0, 2*samples)
	for i := range samples {
		v := int16(10_000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		buf = binary.LittleEndian.AppendUint16(buf, uint16(v))
	}
	return buf
}

func speechWAV(samples int) []byte {
	return audio.EncodeWAV(makeSpeechPCM(samples), audio.SpeechFormat)
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := whisper.New(""); err == nil {
		t.Error("New accepted an empty url")
	}
	_, err := whisper.New("http://localhost:8080",
		whisper.WithModel("small"),
		whisper.WithLanguage("de"),
		whisper.WithMinRMS(100),
		whisper.WithHTTPClient(&http.Client{Timeout: time.Second}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	srv := newInferenceServer(t, "  the party enters the tavern  ")
	p, _ := whisper.New(srv.URL+"/", whisper.WithModel("small"))
	wav := speechWAV(16000)

	res, err := p.Transcribe(context.Background(), stt.Request{
		Audio:    wav,
		Language: "de",
		Keywords: []stt.KeywordBoost{{Keyword: "Eldrinax"}, {Keyword: "Thornwood"}},
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	want := stt.Result{Text: "the party enters the tavern", Language: "de", Duration: time.Second}
	if res != want {
		t.Errorf("result = %+v, want %+v", res, want)
	}

	fields, upload := srv.lastForm()
	for k, v := range map[string]string{
		"language":        "de",
		"model":           "small",
		"prompt":          "Eldrinax, Thornwood",
		"response_format": "json",
	} {
		if fields[k] != v {
			t.Errorf("field %s = %q, want %q", k, fields[k], v)
		}
	}
	if len(upload) != len(wav) {
		t.Errorf("uploaded %d bytes, want %d", len(upload), len(wav))
	}
}

func TestTranscribe_Rejected(t *testing.T) {
	t.Parallel()

	srv := newInferenceServer(t, "phantom text")
	p, _ := whisper.New(srv.URL)

	tests := map[string]struct {
		audio   []byte
		wantErr error
	}{
		"silence":   {audio: audio.EncodeWAV(make([]byte, 3200), audio.SpeechFormat)},
		"no pcm":    {audio: audio.EncodeWAV(nil, audio.SpeechFormat), wantErr: stt.ErrEmptyAudio},
		"not a wav": {audio: []byte("not a wav"), wantErr: audio.ErrInvalidWAV},
	}
	for name, tt := range tests {
		res, err := p.Transcribe(context.Background(), stt.Request{Audio: tt.audio})
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("%s: err = %v, want %v", name, err, tt.wantErr)
			}
			continue
		}
		if err != nil || res.Text != "" {
			t.Errorf("%s: Transcribe = %+v, %v; want empty text", name, res, err)
		}
	}
	if n := srv.calls.Load(); n != 0 {
		t.Errorf("server called %d times, want 0", n)
	}
}

func TestTranscribe_ServerFailures(t *testing.T) {
	t.Parallel()

	t.Run("status", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
		}))
		defer srv.Close()

		p, _ := whisper.New(srv.URL)
		_, err := p.Transcribe(context.Background(), stt.Request{Audio: speechWAV(1600)})
		if err == nil || !strings.Contains(err.Error(), "model not loaded") {
			t.Fatalf("err = %v, want the server message", err)
		}
	})

	t.Run("deadline", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		defer srv.Close()

		p, _ := whisper.New(srv.URL)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		if _, err := p.Transcribe(ctx, stt.Request{Audio: speechWAV(1600)}); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want deadline exceeded", err)
		}
	})
}

func TestTranscribe_Concurrent(t *testing.T) {
	t.Parallel()

	srv := newInferenceServer(t, "hello")
	p, _ := whisper.New(srv.URL)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			if _, err := p.Transcribe(context.Background(), stt.Request{Audio: speechWAV(1600)}); err != nil {
				t.Errorf("Transcribe: %v", err)
			}
		})
	}
	wg.Wait()
	if n := srv.calls.Load(); n != 8 {
		t.Errorf("server calls = %d, want 8", n)
	}
}
