package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/scribe/internal/app"
	"github.com/MrWong99/scribe/internal/config"
	"github.com/MrWong99/scribe/internal/health"
	"github.com/MrWong99/scribe/internal/resilience"
	"github.com/MrWong99/scribe/internal/session"
	sessionmock "github.com/MrWong99/scribe/internal/session/mock"
	audiomock "github.com/MrWong99/scribe/pkg/audio/mock"
	memorymock "github.com/MrWong99/scribe/pkg/memory/mock"
	llmmock "github.com/MrWong99/scribe/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/scribe/pkg/provider/stt/mock"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Session: config.SessionConfig{
			MaxTokens: 2000,
			Silence:   20 * time.Millisecond,
			Glossary:  []string{"Eldrinax"},
		},
	}
}

func testProviders() *app.Providers {
	return &app.Providers{
		LLM:      &llmmock.Provider{Default: llmmock.Response{Content: "A summary."}},
		STT:      &sttmock.Provider{Default: sttmock.Response{Text: "hello"}},
		Audio:    &audiomock.Platform{},
		Decoders: audiomock.NewDecoder,
	}
}

func mockOutputs(string) session.Output { return &sessionmock.Output{} }

func newTestApp(t *testing.T, opts ...app.Option) (*app.App, *memorymock.Archive) {
	t.Helper()
	archive := memorymock.NewArchive()
	opts = append([]app.Option{app.WithArchive(archive), app.WithOutputs(mockOutputs)}, opts...)
	a, err := app.New(context.Background(), testConfig(), testProviders(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a, archive
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	t.Run("missing providers", func(t *testing.T) {
		t.Parallel()
		p := testProviders()
		p.STT = nil
		if _, err := app.New(context.Background(), testConfig(), p, app.WithOutputs(mockOutputs)); err == nil {
			t.Fatal("expected an error without an STT provider")
		}
	})

	t.Run("missing outputs", func(t *testing.T) {
		t.Parallel()
		if _, err := app.New(context.Background(), testConfig(), testProviders()); err == nil {
			t.Fatal("expected an error without an output factory")
		}
	})

	t.Run("unknown archive driver", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.Archive = config.ArchiveConfig{Driver: "mongo", DSN: "x"}
		_, err := app.New(context.Background(), cfg, testProviders(), app.WithOutputs(mockOutputs))
		if err == nil || !strings.Contains(err.Error(), "mongo") {
			t.Fatalf("New = %v, want unknown driver error", err)
		}
	})
}

func TestNew_SQLiteArchive(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Archive = config.ArchiveConfig{
		Driver: config.ArchiveSQLite,
		DSN:    filepath.Join(t.TempDir(), "scribe.db"),
	}
	a, err := app.New(context.Background(), cfg, testProviders(), app.WithOutputs(mockOutputs))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec := get(t, a.Handler(), "/readyz")
	if rec.Code != http.StatusOK {
		t.Errorf("/readyz = %d, body %s", rec.Code, rec.Body)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestNew_GlossaryFromConfig(t *testing.T) {
	t.Parallel()

	a, _ := newTestApp(t)
	if got := a.Pipeline().Glossary(); len(got) != 1 || got[0] != "Eldrinax" {
		t.Errorf("glossary = %v", got)
	}
	if got := a.Sessions().Defaults().MaxTokens; got != 2000 {
		t.Errorf("default MaxTokens = %d, want 2000", got)
	}
}

func TestOps_Health(t *testing.T) {
	t.Parallel()

	a, archive := newTestApp(t, app.WithHealthCheck(health.Flag("discord", func() bool { return true }, "gateway disconnected")))

	if rec := get(t, a.Handler(), "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("/healthz = %d", rec.Code)
	}

	rec := get(t, a.Handler(), "/readyz")
	if rec.Code != http.StatusOK {
		t.Fatalf("/readyz = %d, body %s", rec.Code, rec.Body)
	}
	var body health.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Checks["archive"].Status != "ok" || body.Checks["discord"].Status != "ok" {
		t.Errorf("checks = %v", body.Checks)
	}

	archive.PingErr = errors.New("database is locked")
	if rec := get(t, a.Handler(), "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz with failing archive = %d, want 503", rec.Code)
	}
}

func TestOps_BreakerChecks(t *testing.T) {
	t.Parallel()

	p := testProviders()
	p.STT = resilience.NewSTTFallback(&sttmock.Provider{}, "whisper", resilience.FallbackConfig{})
	p.LLM = resilience.NewLLMFallback(&llmmock.Provider{}, "openai", resilience.FallbackConfig{})
	a, err := app.New(context.Background(), testConfig(), p,
		app.WithArchive(memorymock.NewArchive()), app.WithOutputs(mockOutputs))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec := get(t, a.Handler(), "/readyz")
	if !strings.Contains(rec.Body.String(), `"stt":{"status":"ok"`) || !strings.Contains(rec.Body.String(), `"llm":{"status":"ok"`) {
		t.Errorf("/readyz body = %s", rec.Body)
	}
}

func TestOps_Sessions(t *testing.T) {
	t.Parallel()

	a, _ := newTestApp(t)
	_, err := a.Sessions().Start(context.Background(), app.StartRequest{
		OwnerID:        "dm-1",
		GuildID:        "guild-1",
		VoiceChannelID: "voice-1",
		TextChannelID:  "text-1",
		Participants:   map[string]string{"dm-1": "GM", "alice": "Alice"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec := get(t, a.Handler(), "/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("/sessions = %d", rec.Code)
	}
	var infos []app.SessionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &infos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(infos) != 1 || infos[0].OwnerID != "dm-1" || infos[0].State != "active" {
		t.Errorf("sessions = %+v", infos)
	}

	if rec := get(t, a.Handler(), "/sessions/dm-1"); rec.Code != http.StatusOK {
		t.Errorf("/sessions/dm-1 = %d", rec.Code)
	}
	if rec := get(t, a.Handler(), "/sessions/nobody"); rec.Code != http.StatusNotFound {
		t.Errorf("/sessions/nobody = %d, want 404", rec.Code)
	}
}

func TestOps_Metrics(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("scribe_utterances_total 3\n"))
	})
	a, _ := newTestApp(t, app.WithMetricsHandler(metrics))

	rec := get(t, a.Handler(), "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "scribe_utterances_total") {
		t.Errorf("/metrics = %d %q", rec.Code, rec.Body)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	a, archive := newTestApp(t, app.WithRunner("bot", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("runner did not start")
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	// Injected archives belong to the caller.
	if archive.Closed() {
		t.Error("Shutdown closed an injected archive")
	}
	// Idempotent.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestApp_RunnerFailureStopsRun(t *testing.T) {
	t.Parallel()

	boom := errors.New("gateway refused token")
	a, _ := newTestApp(t,
		app.WithRunner("bot", func(context.Context) error { return boom }),
		app.WithRunner("other", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	)

	err := a.Run(context.Background())
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "bot") {
		t.Fatalf("Run = %v, want wrapped runner error", err)
	}
}
