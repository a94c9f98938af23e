package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames are the provider names the scribe binary registers, by
// kind. [Validate] warns about any other name.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram", "whisper", "whisper-native", "openai"},
}

// LoadEnv exports the variables of each .env file that exists. Variables
// already present in the environment win. Without arguments ".env" is read.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		err := godotenv.Load(f)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return fmt.Errorf("config: load env %q: %w", f, err)
		default:
			slog.Debug("config: env file loaded", "path", f)
		}
	}
	return nil
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands environment references in r, decodes the YAML and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// problems collects validation failures keyed by their YAML path.
type problems []error

func (p *problems) add(field, format string, args ...any) {
	*p = append(*p, fmt.Errorf("%s: %s", field, fmt.Sprintf(format, args...)))
}

// Validate reports every problem in cfg at once, joined into one error.
// Unknown provider names are only logged because a build may register more.
func Validate(cfg *Config) error {
	var errs problems

	if lvl := cfg.Server.LogLevel; lvl != "" && !lvl.IsValid() {
		errs.add("server.log_level", "%q is not one of debug, info, warn, error", lvl)
	}
	if cfg.Discord.Token == "" {
		errs.add("discord.token", "required")
	}
	errs.chain("llm", cfg.Providers.LLMChain())
	errs.chain("stt", cfg.Providers.STTChain())

	s := cfg.Session
	if s.MaxTokens < 0 {
		errs.add("session.max_tokens", "%d is negative", s.MaxTokens)
	}
	if s.WarnRatio < 0 || s.WarnRatio >= 1 {
		errs.add("session.warn_ratio", "%.2f is outside [0, 1)", s.WarnRatio)
	}
	if s.ForceRatio < 0 || s.ForceRatio >= 1 {
		errs.add("session.force_ratio", "%.2f is outside [0, 1)", s.ForceRatio)
	}
	if s.WarnRatio > 0 && s.ForceRatio > 0 && s.WarnRatio >= s.ForceRatio {
		errs.add("session.warn_ratio", "%.2f must be below force_ratio %.2f", s.WarnRatio, s.ForceRatio)
	}
	if !s.BudgetPolicy.IsValid() {
		errs.add("session.budget_policy", "%q is not one of none, auto_pause", s.BudgetPolicy)
	}
	if s.Silence < 0 || s.RevisionWindow < 0 || s.DrainTimeout < 0 {
		errs.add("session", "durations must not be negative")
	}

	switch a := cfg.Archive; {
	case !a.Driver.IsValid():
		errs.add("archive.driver", "%q is not one of postgres, sqlite", a.Driver)
	case a.Driver == "":
		slog.Warn("config: archive disabled, transcripts are not kept")
	case a.DSN == "":
		errs.add("archive.dsn", "required for driver %q", a.Driver)
	}

	return errors.Join(errs...)
}

func (p *problems) chain(kind string, entries []ProviderEntry) {
	for i, e := range entries {
		field := "providers." + kind
		if i > 0 {
			field = fmt.Sprintf("providers.%s_fallback[%d]", kind, i-1)
		}
		if e.Name == "" {
			p.add(field+".name", "required")
			continue
		}
		if known := ValidProviderNames[kind]; !slices.Contains(known, e.Name) {
			slog.Warn("config: unknown provider name", "field", field, "name", e.Name, "known", known)
		}
	}
}
