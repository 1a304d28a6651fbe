package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/tiergate"
	"github.com/MrEthical07/tiergate/directory"
	"github.com/MrEthical07/tiergate/internal/appconfig"
	promexport "github.com/MrEthical07/tiergate/metrics/export/prometheus"
	"github.com/MrEthical07/tiergate/middleware"
	"github.com/go-chi/chi/v5"
)

// gatedRoutes are the patterns served behind the rate limiter. The engine registers
// each one as a route template, so every concrete path shares its route's bucket
// whether or not the policy file lists it.
var gatedRoutes = []string{
	"/items/search",
	"/items/{id}",
}

// newRouter builds the HTTP API. otelMetrics is mounted at /metrics/otel when non-nil.
func newRouter(engine *tiergate.Engine, dir directoryStore, cfg appconfig.Config, otelMetrics http.Handler, logger *slog.Logger) http.Handler {
	opts := middleware.Options{
		APIKeyHeader:      cfg.APIKeyHeader,
		TrustForwardedFor: cfg.TrustForwardedFor,
	}

	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":      "ok",
			"environment": cfg.Environment,
			"version":     cfg.AppVersion,
		})
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		report := engine.Health(r.Context())
		status := http.StatusOK
		if !report.Healthy() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{
			"status":     report.Status,
			"checks":     report.Checks,
			"checked_at": report.CheckedAt.Format(time.RFC3339),
		})
	})
	if cfg.Engine.Metrics.Enabled {
		r.Method(http.MethodGet, "/metrics", promexport.NewPrometheusExporter(engine).Handler())
	}
	if otelMetrics != nil {
		r.Method(http.MethodGet, "/metrics/otel", otelMetrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(engine, opts))
		r.Get(gatedRoutes[0], func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"query": r.URL.Query().Get("q"), "items": []string{}})
		})
		r.Get(gatedRoutes[1], func(w http.ResponseWriter, r *http.Request) {
			res, ok := tiergate.GateResultFromContext(r.Context())
			if !ok || res.Identity == nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "missing gate result"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"id":           chi.URLParam(r, "id"),
				"caller":       res.Identity.Key(),
				"quota_source": res.Quota.Source,
			})
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireSuperuser(engine, opts))
		r.Post("/tokens/revoke", func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Token string `json:"token"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Token) == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token is required"})
				return
			}
			if err := dir.RevokeToken(r.Context(), strings.TrimSpace(body.Token)); err != nil {
				logger.Error("revoke token failed", "error", err)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "revoke failed"})
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
		r.Delete("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
				return
			}
			switch err := dir.SoftDeleteUser(r.Context(), id); {
			case errors.Is(err, directory.ErrUnknownUser):
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown user"})
			case err != nil:
				logger.Error("delete user failed", "user_id", id, "error", err)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "delete failed"})
			default:
				w.WriteHeader(http.StatusNoContent)
			}
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
