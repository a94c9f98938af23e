package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// SessionChanged is true if any session default changed. New sessions
	// pick up the new values.
	SessionChanged bool

	// GlossaryChanged is true if the glossary changed. It applies to running
	// sessions as well.
	GlossaryChanged bool

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the changed sections that only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.SessionChanged && !d.GlossaryChanged && !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Session.Glossary, new.Session.Glossary) {
		d.GlossaryChanged = true
	}
	if !sessionEqual(old.Session, new.Session) {
		d.SessionChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Discord != new.Discord {
		d.RestartRequired = append(d.RestartRequired, "discord")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Archive != new.Archive {
		d.RestartRequired = append(d.RestartRequired, "archive")
	}

	return d
}

func sessionEqual(a, b SessionConfig) bool {
	return a.SystemPrompt == b.SystemPrompt && a.ReplyPrompt == b.ReplyPrompt &&
		a.Language == b.Language && a.MaxTokens == b.MaxTokens &&
		a.WarnRatio == b.WarnRatio && a.ForceRatio == b.ForceRatio &&
		a.BudgetPolicy == b.BudgetPolicy && a.Silence == b.Silence &&
		a.RevisionWindow == b.RevisionWindow && a.DrainTimeout == b.DrainTimeout &&
		slices.Equal(a.Glossary, b.Glossary)
}

func providersEqual(a, b ProvidersConfig) bool {
	return slices.EqualFunc(a.LLMChain(), b.LLMChain(), entryEqual) &&
		slices.EqualFunc(a.STTChain(), b.STTChain(), entryEqual)
}

func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && reflect.DeepEqual(a.Options, b.Options)
}
