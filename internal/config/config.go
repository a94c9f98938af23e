// Package config provides the configuration schema, loader, and provider
// registry for the scribe bot.
//
// Configuration is read from a YAML file. Values may reference environment
// variables as ${VAR}; variables from .env files loaded with [LoadEnv] are
// visible to the expansion.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// BudgetPolicy names what happens when a chapter's transcript reaches the
// force threshold of the token budget.
type BudgetPolicy string

const (
	// BudgetDetectOnly logs and counts the exceedance. It is the default.
	BudgetDetectOnly BudgetPolicy = "none"

	// BudgetAutoPause pauses the session, which summarizes the chapter.
	BudgetAutoPause BudgetPolicy = "auto_pause"
)

// IsValid reports whether p is a recognised policy. The empty string selects
// [BudgetDetectOnly].
func (p BudgetPolicy) IsValid() bool {
	switch p {
	case "", BudgetDetectOnly, BudgetAutoPause:
		return true
	}
	return false
}

// ArchiveDriver selects the transcript archive backend.
type ArchiveDriver string

const (
	ArchivePostgres ArchiveDriver = "postgres"
	ArchiveSQLite   ArchiveDriver = "sqlite"
)

// IsValid reports whether d is a recognised driver. The empty string
// disables the archive.
func (d ArchiveDriver) IsValid() bool {
	switch d {
	case "", ArchivePostgres, ArchiveSQLite:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Discord   DiscordConfig   `yaml:"discord"`
	Providers ProvidersConfig `yaml:"providers"`
	Session   SessionConfig   `yaml:"session"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

// ServerConfig holds the ops endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the ops endpoint serving /healthz,
	// /readyz and /metrics (e.g., ":9090"). Empty disables it.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// DiscordConfig holds the bot credentials and command scope.
type DiscordConfig struct {
	// Token is the bot token. Usually given as ${DISCORD_TOKEN}.
	Token string `yaml:"token"`

	// GuildID registers the slash commands in one guild only. Empty
	// registers them globally.
	GuildID string `yaml:"guild_id"`

	// RecorderRoleID restricts the session commands to members holding this role.
	// Empty allows every member.
	RecorderRoleID string `yaml:"recorder_role_id"`
}

// ProvidersConfig declares the transcription and language model backends.
// Each entry selects a named provider registered in the [Registry]. The
// fallback lists are tried in order when the primary fails.
type ProvidersConfig struct {
	LLM         ProviderEntry   `yaml:"llm"`
	LLMFallback []ProviderEntry `yaml:"llm_fallback"`
	STT         ProviderEntry   `yaml:"stt"`
	STTFallback []ProviderEntry `yaml:"stt_fallback"`
}

// LLMChain returns the primary LLM entry followed by its fallbacks.
func (p ProvidersConfig) LLMChain() []ProviderEntry {
	return append([]ProviderEntry{p.LLM}, p.LLMFallback...)
}

// STTChain returns the primary STT entry followed by its fallbacks.
func (p ProvidersConfig) STTChain() []ProviderEntry {
	return append([]ProviderEntry{p.STT}, p.STTFallback...)
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-2").
	// For whisper-native it is the path of the model file.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// SessionConfig holds the defaults applied to every new session. All of it
// is hot-reloadable; running sessions keep the values they started with.
type SessionConfig struct {
	// SystemPrompt seeds every chapter of the chat log. Empty uses the
	// built-in chronicler prompt.
	SystemPrompt string `yaml:"system_prompt"`

	// ReplyPrompt follows the final summary and introduces the revision
	// requests.
	ReplyPrompt string `yaml:"reply_prompt"`

	// Language is the transcription language hint (e.g., "en").
	Language string `yaml:"language"`

	// MaxTokens is the token budget of one chapter. Zero uses the context
	// window of the language model.
	MaxTokens int `yaml:"max_tokens"`

	// WarnRatio and ForceRatio are fractions of MaxTokens. Defaults: 0.75
	// and 0.85.
	WarnRatio  float64 `yaml:"warn_ratio"`
	ForceRatio float64 `yaml:"force_ratio"`

	// BudgetPolicy runs at ForceRatio.
	BudgetPolicy BudgetPolicy `yaml:"budget_policy"`

	// Silence ends an utterance (e.g., "1s").
	Silence time.Duration `yaml:"silence"`

	// RevisionWindow is how long the owner may request revisions after stop.
	RevisionWindow time.Duration `yaml:"revision_window"`

	// DrainTimeout bounds how long pause and stop wait for pending
	// transcriptions. Zero waits indefinitely.
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// Glossary lists proper nouns of the campaign. They are sent to the
	// transcription provider as hints and used to correct misheard words.
	Glossary []string `yaml:"glossary"`
}

// ArchiveConfig selects where session transcripts and summaries are kept.
type ArchiveConfig struct {
	// Driver is "postgres", "sqlite" or empty to disable archiving.
	Driver ArchiveDriver `yaml:"driver"`

	// DSN is the PostgreSQL connection string or the SQLite file path.
	DSN string `yaml:"dsn"`
}
