package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rhuss/credgate/pkg/auth/apikey"
)

// Validate checks the configuration for required fields and valid values.
// All problems are reported together, each with its field path.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}

	errs = append(errs, c.Auth.validate()...)

	switch c.Storage.Type {
	case "none", "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			errs = append(errs, fmt.Errorf("storage.sqlite.path is required when storage.type is \"sqlite\""))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"none\", \"memory\", \"postgres\" or \"sqlite\", got %q", c.Storage.Type))
	}

	if c.Storage.QueryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("storage.query_timeout must be > 0, got %s", c.Storage.QueryTimeout))
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("observability.metrics.path must start with /, got %q", c.Observability.Metrics.Path))
	}

	return errors.Join(errs...)
}

func (a *AuthConfig) validate() []error {
	var errs []error

	headers := []struct{ field, name string }{
		{"auth.headers.api_key", a.Headers.APIKey},
		{"auth.headers.client_id", a.Headers.ClientID},
		{"auth.headers.signature", a.Headers.Signature},
		{"auth.headers.timestamp", a.Headers.Timestamp},
	}
	for _, h := range headers {
		if h.name == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", h.field))
		}
	}
	if a.Signature.Enabled && http.CanonicalHeaderKey(a.Headers.Signature) == http.CanonicalHeaderKey(a.Headers.APIKey) {
		errs = append(errs, fmt.Errorf("auth.headers.signature and auth.headers.api_key must differ"))
	}

	v := a.Validation
	if v.MinKeyLength < 1 {
		errs = append(errs, fmt.Errorf("auth.validation.min_key_length must be > 0, got %d", v.MinKeyLength))
	}
	if v.MaxKeyLength < v.MinKeyLength {
		errs = append(errs, fmt.Errorf("auth.validation.max_key_length (%d) must be >= min_key_length (%d)", v.MaxKeyLength, v.MinKeyLength))
	}
	if v.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("auth.validation.grace_period must not be negative"))
	}

	s := a.Signature
	if s.PastTolerance <= 0 || s.FutureTolerance < 0 {
		errs = append(errs, fmt.Errorf("auth.signature tolerances must be positive, got past=%s future=%s", s.PastTolerance, s.FutureTolerance))
	}
	if s.Enabled && len(s.AllowedVersions) == 0 {
		errs = append(errs, fmt.Errorf("auth.signature.allowed_versions must not be empty"))
	}
	if s.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("auth.signature.max_body_bytes must be > 0, got %d", s.MaxBodyBytes))
	}

	if a.Cache.Enabled && a.Cache.MaxEntries <= 0 {
		errs = append(errs, fmt.Errorf("auth.cache.max_entries must be > 0, got %d", a.Cache.MaxEntries))
	}
	if a.RateLimit.UnknownClient < 0 || a.RateLimit.BadCredential < 0 {
		errs = append(errs, fmt.Errorf("auth.rate_limit values must not be negative"))
	}

	for i, k := range a.APIKeys {
		if k.ClientID == "" {
			errs = append(errs, fmt.Errorf("auth.api_keys[%d].client_id is required", i))
		}
		if k.Key == "" && k.KeyFile == "" {
			errs = append(errs, fmt.Errorf("auth.api_keys[%d].key or key_file is required", i))
		}
	}
	if len(a.APIKeys) > 0 {
		// Same duplicate rules the running registry enforces.
		if err := apikey.NewRegistry().Register(a.Entries()...); err != nil {
			errs = append(errs, fmt.Errorf("auth.api_keys: %w", err))
		}
	}

	return errs
}
