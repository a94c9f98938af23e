package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/scribe/internal/config"
	"github.com/MrWong99/scribe/internal/resilience"
)

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	for kind, names := range config.ValidProviderNames {
		got := reg.Names(kind)
		for _, name := range names {
			if !slices.Contains(got, name) {
				t.Errorf("%s provider %q is valid but not registered", kind, name)
			}
		}
	}
}

func TestBuildSTT_SkipsBrokenFallback(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	cfg := &config.Config{Providers: config.ProvidersConfig{
		STT:         config.ProviderEntry{Name: "whisper", BaseURL: "http://localhost:8080"},
		STTFallback: []config.ProviderEntry{{Name: "does-not-exist"}},
	}}

	p, err := buildSTT(cfg, reg)
	if err != nil {
		t.Fatalf("buildSTT: %v", err)
	}
	group, ok := p.(*resilience.STTFallback)
	if !ok {
		t.Fatalf("provider type = %T, want *resilience.STTFallback", p)
	}
	if states := group.States(); len(states) != 1 || states["whisper"] != resilience.StateClosed {
		t.Errorf("breaker states = %v, want only a closed whisper breaker", states)
	}
}

func TestOptHelpers(t *testing.T) {
	t.Parallel()

	opts := map[string]any{"language": "de", "timeout": "30s", "bad": 3, "broken": "soon"}
	if got := optString(opts, "language"); got != "de" {
		t.Errorf("optString(language) = %q", got)
	}
	if got := optString(opts, "bad"); got != "" {
		t.Errorf("optString(bad) = %q, want empty", got)
	}
	if got := optString(nil, "language"); got != "" {
		t.Errorf("optString(nil) = %q, want empty", got)
	}
	if got := optDuration(opts, "timeout"); got != 30*time.Second {
		t.Errorf("optDuration(timeout) = %v", got)
	}
	if got := optDuration(opts, "broken"); got != 0 {
		t.Errorf("optDuration(broken) = %v, want 0", got)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := slogLevel(in); got != want {
			t.Errorf("slogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, ".env")
	if err := os.WriteFile(env, []byte("SCRIBE_TEST_TOKEN=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := `
discord:
  token: ${SCRIBE_TEST_TOKEN}
providers:
  llm: {name: openai, model: gpt-4o-mini}
  stt: {name: whisper, base_url: "http://localhost:8080"}
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SCRIBE_TEST_TOKEN", "")
	os.Unsetenv("SCRIBE_TEST_TOKEN")

	cfg, err := loadConfig(env, cfgPath)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Discord.Token != "from-dotenv" {
		t.Errorf("token = %q, want the .env value", cfg.Discord.Token)
	}

	_, err = loadConfig(filepath.Join(dir, "none.env"), filepath.Join(dir, "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "configs/example.yaml") {
		t.Errorf("missing config error = %v", err)
	}
}
