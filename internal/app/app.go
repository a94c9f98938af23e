// Package app wires the scribe subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the transcript archive
// and builds the session manager, Run serves the ops endpoint next to any
// registered runners (the Discord bot), and Shutdown closes sessions and
// resources in order.
//
// For testing, inject doubles via functional options (WithArchive,
// WithOutputs, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scribe/internal/config"
	"github.com/MrWong99/scribe/internal/health"
	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/internal/resilience"
	"github.com/MrWong99/scribe/internal/session"
	"github.com/MrWong99/scribe/internal/transcript"
	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/MrWong99/scribe/pkg/memory"
	"github.com/MrWong99/scribe/pkg/memory/postgres"
	"github.com/MrWong99/scribe/pkg/memory/sqlite"
	"github.com/MrWong99/scribe/pkg/provider/llm"
	"github.com/MrWong99/scribe/pkg/provider/stt"
)

// Voice join retry defaults.
const (
	joinAttempts   = 3
	joinBackoff    = time.Second
	joinMaxBackoff = 8 * time.Second
)

// Providers holds the external collaborators. Populated by main.go via the
// config registry and the Discord bot.
type Providers struct {
	LLM      llm.Provider
	STT      stt.Provider
	Audio    audio.Platform
	Decoders audio.DecoderFactory
}

// runner is a named long-running component started by Run.
type runner struct {
	name string
	run  func(ctx context.Context) error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	archive  memory.Archive
	metrics  *observe.Metrics
	pipeline *transcript.Pipeline
	manager  *SessionManager
	outputs  func(textChannelID string) session.Output
	checks   []health.Checker
	runners  []runner

	metricsHandler http.Handler
	handler        http.Handler
	server         *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithArchive injects the transcript archive instead of opening the
// configured one.
func WithArchive(a memory.Archive) Option {
	return func(app *App) { app.archive = a }
}

// WithOutputs sets the factory for session output channels.
func WithOutputs(fn func(textChannelID string) session.Output) Option {
	return func(app *App) { app.outputs = fn }
}

// WithHealthCheck adds a readiness check.
func WithHealthCheck(c health.Checker) Option {
	return func(app *App) { app.checks = append(app.checks, c) }
}

// WithRunner adds a component that Run starts and stops with the app. A
// runner returning an error other than [context.Canceled] stops the app.
func WithRunner(name string, run func(ctx context.Context) error) Option {
	return func(app *App) { app.runners = append(app.runners, runner{name: name, run: run}) }
}

// WithMetrics sets the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(app *App) { app.metrics = m }
}

// WithMetricsHandler replaces the /metrics handler. Defaults to
// promhttp.Handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(app *App) { app.metricsHandler = h }
}

// New creates a new App from the given configuration and providers.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Audio == nil || providers.STT == nil || providers.LLM == nil {
		return nil, errors.New("app: audio, stt and llm providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}
	if a.outputs == nil {
		return nil, errors.New("app: an output factory is required")
	}

	if err := a.initArchive(ctx); err != nil {
		return nil, err
	}
	a.initHealth()

	a.pipeline = transcript.NewPipeline(transcript.WithGlossary(cfg.Session.Glossary))
	a.manager = NewSessionManager(SessionManagerConfig{
		Joiner: session.NewVoiceJoiner(session.VoiceJoinerConfig{
			Platform:   providers.Audio,
			Attempts:   joinAttempts,
			Backoff:    joinBackoff,
			MaxBackoff: joinMaxBackoff,
		}),
		Decoders: providers.Decoders,
		STT:      providers.STT,
		LLM:      providers.LLM,
		Pipeline: a.pipeline,
		Archive:  a.archive,
		Metrics:  a.metrics,
		Outputs:  a.outputs,
		Defaults: cfg.Session,
	})

	a.handler = a.opsRouter()
	if cfg.Server.ListenAddr != "" {
		a.server = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           a.handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return a, nil
}

// initArchive opens the configured transcript archive unless one was
// injected. An empty driver disables archiving.
func (a *App) initArchive(ctx context.Context) error {
	if a.archive != nil {
		return nil
	}
	switch a.cfg.Archive.Driver {
	case "":
		slog.Info("app: transcript archive disabled")
		return nil
	case config.ArchivePostgres:
		store, err := postgres.NewStore(ctx, a.cfg.Archive.DSN)
		if err != nil {
			return fmt.Errorf("app: open postgres archive: %w", err)
		}
		a.archive = store
		a.closers = append(a.closers, store.Close)
	case config.ArchiveSQLite:
		store, err := sqlite.Open(ctx, a.cfg.Archive.DSN)
		if err != nil {
			return fmt.Errorf("app: open sqlite archive: %w", err)
		}
		a.archive = store
		a.closers = append(a.closers, store.Close)
	default:
		return fmt.Errorf("app: unknown archive driver %q", a.cfg.Archive.Driver)
	}
	slog.Info("app: transcript archive opened", "driver", a.cfg.Archive.Driver)
	return nil
}

type breakerGroup interface {
	States() map[string]resilience.State
}

func (a *App) initHealth() {
	if p, ok := a.archive.(health.Pinger); ok {
		a.checks = append(a.checks, health.Ping("archive", p))
	}
	if g, ok := a.providers.STT.(breakerGroup); ok {
		a.checks = append(a.checks, health.Breakers("stt", g.States))
	}
	if g, ok := a.providers.LLM.(breakerGroup); ok {
		a.checks = append(a.checks, health.Breakers("llm", g.States))
	}
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.manager }

// Handler returns the ops HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Pipeline returns the transcript pipeline shared by all sessions.
func (a *App) Pipeline() *transcript.Pipeline { return a.pipeline }

// Run serves the ops endpoint and starts every runner. It blocks until ctx
// is cancelled or a component fails. When ctx is done, Run returns
// context.Canceled (or the underlying cause).
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			slog.Info("app: ops server listening", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	for _, r := range a.runners {
		g.Go(func() error {
			slog.Info("app: starting", "component", r.name)
			if err := r.run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("app: %s: %w", r.name, err)
			}
			return nil
		})
	}

	slog.Info("app: running", "components", len(a.runners))
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Shutdown closes every session and then the app's resources. Safe to call
// more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "sessions", a.manager.Len(), "closers", len(a.closers))

		errs := []error{a.manager.Shutdown(ctx)}
		for i, closer := range a.closers {
			if ctx.Err() != nil {
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, ctx.Err())
				break
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "error", err)
				errs = append(errs, err)
			}
		}
		shutdownErr = errors.Join(errs...)
		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}
