// Command scribe is the Discord bot that records voice sessions and writes
// their summaries.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/scribe/internal/app"
	"github.com/MrWong99/scribe/internal/config"
	discordbot "github.com/MrWong99/scribe/internal/discord"
	"github.com/MrWong99/scribe/internal/discord/commands"
	"github.com/MrWong99/scribe/internal/health"
	"github.com/MrWong99/scribe/internal/observe"
	discordaudio "github.com/MrWong99/scribe/pkg/audio/discord"
)

// version is stamped with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "YAML configuration file")
	envPath := flag.String("env", ".env", "optional .env file")
	flag.Parse()

	cfg, err := loadConfig(*envPath, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scribe: %v\n", err)
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	slog.Info("scribe: starting", "version", version, "config", *configPath, "listen_addr", cfg.Server.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "scribe", ServiceVersion: version})
	if err != nil {
		slog.Error("scribe: telemetry", "err", err)
		return 1
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	llmProvider, err := buildLLM(cfg, reg)
	if err != nil {
		slog.Error("scribe: llm provider", "err", err)
		return 1
	}
	sttProvider, err := buildSTT(cfg, reg)
	if err != nil {
		slog.Error("scribe: stt provider", "err", err)
		return 1
	}

	bot, err := discordbot.New(ctx, discordbot.Config{
		Token:          cfg.Discord.Token,
		GuildID:        cfg.Discord.GuildID,
		RecorderRoleID: cfg.Discord.RecorderRoleID,
	})
	if err != nil {
		slog.Error("scribe: discord", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg,
		&app.Providers{
			LLM:      llmProvider,
			STT:      sttProvider,
			Audio:    bot.Platform(),
			Decoders: discordaudio.NewOpusDecoder,
		},
		app.WithOutputs(bot.Output),
		app.WithHealthCheck(health.Flag("discord", bot.Connected, "gateway disconnected")),
		app.WithRunner("discord", bot.Run),
	)
	if err != nil {
		slog.Error("scribe: init", "err", err)
		_ = bot.Close()
		return 1
	}
	commands.NewScribeCommands(application.Sessions(), bot.Session(), bot.Gate()).Register(bot.Router())

	watcher, err := config.NewWatcher(*configPath, func(_, next *config.Config, diff config.ConfigDiff) {
		if diff.LogLevelChanged {
			level.Set(slogLevel(diff.NewLogLevel))
		}
		if diff.SessionChanged || diff.GlossaryChanged {
			application.Sessions().SetDefaults(next.Session)
		}
	})
	if err != nil {
		slog.Warn("scribe: config reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("scribe: run", "err", err)
		code = 1
	}

	slog.Info("scribe: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Sessions leave voice before the gateway closes.
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("scribe: shutdown", "err", err)
		code = 1
	}
	if err := bot.Close(); err != nil {
		slog.Warn("scribe: close discord", "err", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("scribe: telemetry shutdown", "err", err)
	}
	return code
}

// loadConfig reads the optional .env file first so the YAML can reference
// its variables.
func loadConfig(envPath, configPath string) (*config.Config, error) {
	if err := config.LoadEnv(envPath); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found; start from configs/example.yaml", configPath)
	}
	return cfg, err
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
