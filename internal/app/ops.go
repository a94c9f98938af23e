package app

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrWong99/scribe/internal/health"
	"github.com/MrWong99/scribe/internal/observe"
)

// opsRouter serves health probes, Prometheus metrics and a read-only view
// of the running sessions.
func (a *App) opsRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(a.metrics))

	health.New(a.checks...).Register(r)
	r.Method(http.MethodGet, "/metrics", a.metricsHandler)
	r.Get("/sessions", a.listSessions)
	r.Get("/sessions/{owner}", a.getSession)
	return r
}

func (a *App) listSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.manager.Sessions())
}

func (a *App) getSession(w http.ResponseWriter, r *http.Request) {
	info, err := a.manager.Info(chi.URLParam(r, "owner"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no session for owner"})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("app: encode response", "error", err)
	}
}
