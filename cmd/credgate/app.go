package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/credgate/pkg/auth"
	"github.com/rhuss/credgate/pkg/auth/apikey"
	"github.com/rhuss/credgate/pkg/auth/cache"
	"github.com/rhuss/credgate/pkg/auth/signature"
	"github.com/rhuss/credgate/pkg/auth/validator"
	"github.com/rhuss/credgate/pkg/config"
	"github.com/rhuss/credgate/pkg/observability"
	"github.com/rhuss/credgate/pkg/storage"
	"github.com/rhuss/credgate/pkg/storage/factory"
)

// app is the composition root: it owns the registry, the store and the
// resolver chain built from one Config.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *apikey.Registry
	backend  storage.Backend // nil when storage.type is "none"
	resolver auth.Resolver
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	clk := clock.WallClock
	v := validator.New(cfg.Auth.ValidatorOptions(), clk)

	registry := apikey.NewRegistry()
	if err := registry.Register(cfg.Auth.Entries()...); err != nil {
		return nil, fmt.Errorf("registering api keys: %w", err)
	}

	backend, err := factory.Open(ctx, cfg.Storage, cfg.Auth.Headers.ClientID)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, registry: registry, backend: backend}

	// Configuration keys come first; a key unknown there falls through to
	// the store.
	resolvers := []auth.Resolver{apikey.NewStaticResolver(registry, v)}

	if backend != nil {
		var keys auth.Resolver = apikey.NewResolver(cfg.Storage.Type, []string{cfg.Auth.Headers.APIKey}, backend, v, logger)
		if cfg.Auth.Cache.Enabled {
			keys = cache.New(keys, cfg.Auth.CacheOptions(), clk)
		}
		resolvers = append(resolvers, keys)

		// Signature results are never cached.
		if cfg.Auth.Signature.Enabled {
			resolvers = append(resolvers, signature.NewResolver(cfg.Storage.Type, cfg.Auth.SignatureHeaders(), backend, v, logger))
		}
	}

	a.resolver = auth.NewChain(resolvers...)
	return a, nil
}

// Handler returns the routed, authenticated and instrumented handler.
func (a *app) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /readyz", a.handleReady)
	if m := a.cfg.Observability.Metrics; m.Enabled {
		mux.Handle("GET "+m.Path, promhttp.Handler())
	}
	mux.HandleFunc("GET /v1/whoami", handleWhoami)

	authn := auth.Middleware(a.resolver, auth.MiddlewareConfig{
		Bypass:          a.cfg.Auth.Bypass,
		Limiter:         auth.NewFailureLimiter(a.cfg.Auth.RateLimits(), clock.WallClock),
		SignatureHeader: a.cfg.Auth.Headers.Signature,
		MaxBodyBytes:    a.cfg.Auth.Signature.MaxBodyBytes,
	})
	return observability.MetricsMiddleware(authn(mux))
}

func (a *app) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.backend != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := a.backend.HealthCheck(ctx); err != nil {
			a.logger.Warn("readiness check failed", "storage", a.cfg.Storage.Type, "error", err)
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// whoami is the /v1/whoami response body.
type whoami struct {
	ClientID     string            `json:"client_id"`
	DisplayName  string            `json:"display_name,omitempty"`
	Scheme       string            `json:"scheme"`
	Source       string            `json:"source"`
	Roles        []string          `json:"roles,omitempty"`
	Claims       map[string]string `json:"claims,omitempty"`
	CredentialID string            `json:"credential_id,omitempty"`
	ValidUntil   *time.Time        `json:"valid_until,omitempty"`
}

func handleWhoami(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		http.Error(w, "no identity", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(whoami{
		ClientID:     id.ClientID,
		DisplayName:  id.DisplayName,
		Scheme:       id.Scheme,
		Source:       id.Source,
		Roles:        id.Roles,
		Claims:       id.Claims,
		CredentialID: id.CredentialID,
		ValidUntil:   id.ValidUntil,
	})
}

// applyReload swaps in the api_keys of a reloaded config. Other sections
// need a restart.
func (a *app) applyReload(cfg *config.Config) error {
	if err := a.registry.Replace(cfg.Auth.Entries()); err != nil {
		return err
	}
	a.logger.Info("api keys reloaded", "count", a.registry.Len())
	return nil
}

// Close releases the store.
func (a *app) Close() error {
	if a.backend == nil {
		return nil
	}
	return a.backend.Close()
}
