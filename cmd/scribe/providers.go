package main

import (
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/scribe/internal/config"
	"github.com/MrWong99/scribe/internal/resilience"
	"github.com/MrWong99/scribe/pkg/provider/llm"
	"github.com/MrWong99/scribe/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/scribe/pkg/provider/llm/openai"
	"github.com/MrWong99/scribe/pkg/provider/stt"
	"github.com/MrWong99/scribe/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/scribe/pkg/provider/stt/openai"
	"github.com/MrWong99/scribe/pkg/provider/stt/whisper"
)

// registerBuiltinProviders binds every provider name accepted by the config
// validator to its constructor.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", newOpenAILLM)
	// any-llm serves the remaining backends. Its openai backend is left out
	// in favor of the native client, which knows organizations and timeouts.
	for _, backend := range anyllm.Backends() {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(backend, e.Model, opts...)
		})
	}

	reg.RegisterSTT("whisper", newWhisper)
	reg.RegisterSTT("whisper-native", newWhisperNative)
	reg.RegisterSTT("deepgram", newDeepgram)
	reg.RegisterSTT("openai", newOpenAISTT)

	slog.Debug("providers registered", "llm", reg.Names("llm"), "stt", reg.Names("stt"))
}

func newOpenAILLM(e config.ProviderEntry) (llm.Provider, error) {
	var opts []oallm.Option
	if e.BaseURL != "" {
		opts = append(opts, oallm.WithBaseURL(e.BaseURL))
	}
	if org := optString(e.Options, "organization"); org != "" {
		opts = append(opts, oallm.WithOrganization(org))
	}
	if d := optDuration(e.Options, "timeout"); d > 0 {
		opts = append(opts, oallm.WithTimeout(d))
	}
	return oallm.New(e.APIKey, e.Model, opts...)
}

func newWhisper(e config.ProviderEntry) (stt.Provider, error) {
	var opts []whisper.Option
	if e.Model != "" {
		opts = append(opts, whisper.WithModel(e.Model))
	}
	if lang := optString(e.Options, "language"); lang != "" {
		opts = append(opts, whisper.WithLanguage(lang))
	}
	return whisper.New(e.BaseURL, opts...)
}

// newWhisperNative reads the model file from Model, or from the model_path
// option when Model is empty.
func newWhisperNative(e config.ProviderEntry) (stt.Provider, error) {
	path := e.Model
	if path == "" {
		path = optString(e.Options, "model_path")
	}
	var opts []whisper.NativeOption
	if lang := optString(e.Options, "language"); lang != "" {
		opts = append(opts, whisper.WithNativeLanguage(lang))
	}
	return whisper.NewNative(path, opts...)
}

func newDeepgram(e config.ProviderEntry) (stt.Provider, error) {
	var opts []deepgram.Option
	if e.Model != "" {
		opts = append(opts, deepgram.WithModel(e.Model))
	}
	if lang := optString(e.Options, "language"); lang != "" {
		opts = append(opts, deepgram.WithLanguage(lang))
	}
	if e.BaseURL != "" {
		opts = append(opts, deepgram.WithEndpoint(e.BaseURL))
	}
	return deepgram.New(e.APIKey, opts...)
}

func newOpenAISTT(e config.ProviderEntry) (stt.Provider, error) {
	var opts []oastt.Option
	if e.BaseURL != "" {
		opts = append(opts, oastt.WithBaseURL(e.BaseURL))
	}
	if lang := optString(e.Options, "language"); lang != "" {
		opts = append(opts, oastt.WithLanguage(lang))
	}
	if d := optDuration(e.Options, "timeout"); d > 0 {
		opts = append(opts, oastt.WithTimeout(d))
	}
	return oastt.New(e.APIKey, e.Model, opts...)
}

type named[P any] struct {
	name     string
	provider P
}

// chain creates the first entry and every fallback that can be created. Only
// a broken primary is fatal.
func chain[P any](kind string, entries []config.ProviderEntry, create func(config.ProviderEntry) (P, error)) ([]named[P], error) {
	out := make([]named[P], 0, len(entries))
	for i, e := range entries {
		p, err := create(e)
		switch {
		case err != nil && i == 0:
			return nil, fmt.Errorf("create %s provider %q: %w", kind, e.Name, err)
		case err != nil:
			slog.Warn("fallback provider skipped", "kind", kind, "name", e.Name, "err", err)
			continue
		}
		out = append(out, named[P]{e.Name, p})
		slog.Info("provider created", "kind", kind, "name", e.Name, "model", e.Model, "fallback", i > 0)
	}
	return out, nil
}

// buildLLM puts the configured language models behind circuit breakers.
func buildLLM(cfg *config.Config, reg *config.Registry) (llm.Provider, error) {
	ps, err := chain("llm", cfg.Providers.LLMChain(), reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	group := resilience.NewLLMFallback(ps[0].provider, ps[0].name, resilience.FallbackConfig{})
	for _, p := range ps[1:] {
		group.AddFallback(p.name, p.provider)
	}
	return group, nil
}

// buildSTT puts the configured transcription backends behind circuit
// breakers.
func buildSTT(cfg *config.Config, reg *config.Registry) (stt.Provider, error) {
	ps, err := chain("stt", cfg.Providers.STTChain(), reg.CreateSTT)
	if err != nil {
		return nil, err
	}
	group := resilience.NewSTTFallback(ps[0].provider, ps[0].name, resilience.FallbackConfig{})
	for _, p := range ps[1:] {
		group.AddFallback(p.name, p.provider)
	}
	return group, nil
}

func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration parses an option such as "30s". Missing or malformed values
// yield 0.
func optDuration(opts map[string]any, key string) time.Duration {
	d, _ := time.ParseDuration(optString(opts, key))
	return d
}
