package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/scribe/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{LogLevel: config.LogInfo, ListenAddr: ":9090"},
		Discord: config.DiscordConfig{Token: "t"},
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o", Options: map[string]any{"x": 1}},
			STT: config.ProviderEntry{Name: "whisper"},
		},
		Session: config.SessionConfig{
			Language: "en",
			Glossary: []string{"Vaelor"},
			Silence:  time.Second,
		},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(*config.Config)
		wantSession bool
		wantGloss   bool
		wantLog     bool
		wantRestart []string
	}{
		{
			name:    "log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			wantLog: true,
		},
		{
			name:        "prompt",
			mutate:      func(c *config.Config) { c.Session.SystemPrompt = "be brief" },
			wantSession: true,
		},
		{
			name:        "glossary",
			mutate:      func(c *config.Config) { c.Session.Glossary = append(c.Session.Glossary, "Brindlemark") },
			wantSession: true,
			wantGloss:   true,
		},
		{
			name:        "budget policy",
			mutate:      func(c *config.Config) { c.Session.BudgetPolicy = config.BudgetAutoPause },
			wantSession: true,
		},
		{
			name:        "drain timeout",
			mutate:      func(c *config.Config) { c.Session.DrainTimeout = 5 * time.Second },
			wantSession: true,
		},
		{
			name:        "revision window",
			mutate:      func(c *config.Config) { c.Session.RevisionWindow = time.Minute },
			wantSession: true,
		},
		{
			name:        "glossary reordered",
			mutate:      func(c *config.Config) { c.Session.Glossary = append([]string{"Brindlemark"}, c.Session.Glossary...) },
			wantSession: true,
			wantGloss:   true,
		},
		{
			name:        "provider model",
			mutate:      func(c *config.Config) { c.Providers.LLM.Model = "gpt-4o-mini" },
			wantRestart: []string{"providers"},
		},
		{
			name:        "provider options",
			mutate:      func(c *config.Config) { c.Providers.LLM.Options = map[string]any{"x": 2} },
			wantRestart: []string{"providers"},
		},
		{
			name: "stt fallback added",
			mutate: func(c *config.Config) {
				c.Providers.STTFallback = []config.ProviderEntry{{Name: "deepgram"}}
			},
			wantRestart: []string{"providers"},
		},
		{
			name: "discord and archive",
			mutate: func(c *config.Config) {
				c.Discord.RecorderRoleID = "role"
				c.Archive = config.ArchiveConfig{Driver: config.ArchiveSQLite, DSN: "scribe.db"}
			},
			wantRestart: []string{"discord", "archive"},
		},
		{
			name:        "listen addr",
			mutate:      func(c *config.Config) { c.Server.ListenAddr = ":9191" },
			wantRestart: []string{"server.listen_addr"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			next := baseConfig()
			tc.mutate(next)
			d := config.Diff(baseConfig(), next)
			if d.SessionChanged != tc.wantSession {
				t.Errorf("SessionChanged = %v, want %v", d.SessionChanged, tc.wantSession)
			}
			if d.GlossaryChanged != tc.wantGloss {
				t.Errorf("GlossaryChanged = %v, want %v", d.GlossaryChanged, tc.wantGloss)
			}
			if d.LogLevelChanged != tc.wantLog {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tc.wantLog)
			}
			if !slices.Equal(d.RestartRequired, tc.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tc.wantRestart)
			}
		})
	}
}
