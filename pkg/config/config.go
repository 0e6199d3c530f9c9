// Package config provides unified configuration for the credgate server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (CREDGATE_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import (
	"slices"
	"time"

	"github.com/rhuss/credgate/pkg/auth"
	"github.com/rhuss/credgate/pkg/auth/apikey"
	"github.com/rhuss/credgate/pkg/auth/cache"
	"github.com/rhuss/credgate/pkg/auth/signature"
	"github.com/rhuss/credgate/pkg/auth/validator"
)

// Config holds all configuration for the credgate server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 10s
}

// AuthConfig holds credential resolution settings.
type AuthConfig struct {
	Headers    HeadersConfig    `yaml:"headers"`
	Validation ValidationConfig `yaml:"validation"`
	Signature  SignatureConfig  `yaml:"signature"`
	Cache      CacheConfig      `yaml:"cache"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	APIKeys    []APIKeyConfig   `yaml:"api_keys"`

	// Bypass lists paths served without a credential.
	// default: /healthz, /readyz, /metrics
	Bypass []string `yaml:"bypass"`

	// Watch reloads api_keys when the config file changes.
	Watch bool `yaml:"watch"`
}

// HeadersConfig names the credential headers.
type HeadersConfig struct {
	APIKey    string `yaml:"api_key"`   // default: X-Api-Key
	ClientID  string `yaml:"client_id"` // default: X-Client-Id
	Signature string `yaml:"signature"` // default: X-Signature
	Timestamp string `yaml:"timestamp"` // default: X-Timestamp
}

// ValidationConfig holds API key format policy.
type ValidationConfig struct {
	MinKeyLength   int           `yaml:"min_key_length"`  // default: 32
	MaxKeyLength   int           `yaml:"max_key_length"`  // default: 512
	EnforceCharset bool          `yaml:"enforce_charset"` // default: true
	AllowedChars   string        `yaml:"allowed_chars"`
	AllowExpired   bool          `yaml:"allow_expired"`
	GracePeriod    time.Duration `yaml:"grace_period"`
}

// SignatureConfig holds signed-request settings.
type SignatureConfig struct {
	Enabled         bool          `yaml:"enabled"`          // default: true
	PastTolerance   time.Duration `yaml:"past_tolerance"`   // default: 2m
	FutureTolerance time.Duration `yaml:"future_tolerance"` // default: 30s
	AllowedVersions []string      `yaml:"allowed_versions"` // default: [v1]
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`   // default: 1 MiB
}

// CacheConfig holds settings for the API key result cache.
type CacheConfig struct {
	Enabled         bool          `yaml:"enabled"`          // default: true
	SuccessTTL      time.Duration `yaml:"success_ttl"`      // default: 5m
	NotFoundTTL     time.Duration `yaml:"not_found_ttl"`    // default: 30s
	MaxEntries      int           `yaml:"max_entries"`      // default: 10000
	NegativeCaching bool          `yaml:"negative_caching"` // default: true
}

// RateLimitConfig caps failed attempts per source address per minute.
// Zero disables a class.
type RateLimitConfig struct {
	UnknownClient int `yaml:"unknown_client"` // default: 30
	BadCredential int `yaml:"bad_credential"` // default: 10
}

// APIKeyConfig describes a single configuration-backed API key.
type APIKeyConfig struct {
	ClientID    string            `yaml:"client_id" json:"client_id"`
	DisplayName string            `yaml:"display_name" json:"display_name"`
	Key         string            `yaml:"key" json:"key"`
	KeyFile     string            `yaml:"key_file" json:"key_file"` // _file variant for key
	Header      string            `yaml:"header" json:"header"`
	Roles       []string          `yaml:"roles" json:"roles"`
	Claims      map[string]string `yaml:"claims" json:"claims"`
	ExpiresAt   *time.Time        `yaml:"expires_at" json:"expires_at"`
}

// StorageConfig selects the credential store for dynamic resolution.
type StorageConfig struct {
	Type string `yaml:"type"` // "none", "memory", "postgres" or "sqlite", default: "none"

	// QueryTimeout bounds a single credential lookup. default: 2s
	QueryTimeout time.Duration `yaml:"query_timeout"`

	Postgres PostgresConfig `yaml:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"` // default: 5s
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// LoggingConfig holds log output settings. CREDGATE_LOG_LEVEL and
// CREDGATE_DEBUG take precedence.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // default: INFO
	Format string `yaml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	v := validator.DefaultOptions()
	c := cache.DefaultOptions()
	h := signature.DefaultHeaders()

	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			Headers: HeadersConfig{
				APIKey:    auth.HeaderAPIKey,
				ClientID:  h.ClientID,
				Signature: h.Signature,
				Timestamp: h.Timestamp,
			},
			Validation: ValidationConfig{
				MinKeyLength:   v.MinKeyLength,
				MaxKeyLength:   v.MaxKeyLength,
				EnforceCharset: v.EnforceCharset,
				AllowedChars:   v.AllowedChars,
			},
			Signature: SignatureConfig{
				Enabled:         true,
				PastTolerance:   v.PastTolerance,
				FutureTolerance: v.FutureTolerance,
				AllowedVersions: v.AllowedVersions,
				MaxBodyBytes:    1 << 20,
			},
			Cache: CacheConfig{
				Enabled:         true,
				SuccessTTL:      c.SuccessTTL,
				NotFoundTTL:     c.NotFoundTTL,
				MaxEntries:      c.MaxEntries,
				NegativeCaching: c.NegativeCaching,
			},
			RateLimit: RateLimitConfig{
				UnknownClient: 30,
				BadCredential: 10,
			},
			Bypass: slices.Clone(auth.DefaultBypassEndpoints),
		},
		Storage: StorageConfig{
			Type:         "none",
			QueryTimeout: 2 * time.Second,
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
			SQLite: SQLiteConfig{
				BusyTimeout: 5 * time.Second,
			},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// ValidatorOptions converts the validation and signature sections.
func (a AuthConfig) ValidatorOptions() validator.Options {
	return validator.Options{
		MinKeyLength:    a.Validation.MinKeyLength,
		MaxKeyLength:    a.Validation.MaxKeyLength,
		EnforceCharset:  a.Validation.EnforceCharset,
		AllowedChars:    a.Validation.AllowedChars,
		AllowExpired:    a.Validation.AllowExpired,
		GracePeriod:     a.Validation.GracePeriod,
		PastTolerance:   a.Signature.PastTolerance,
		FutureTolerance: a.Signature.FutureTolerance,
		AllowedVersions: a.Signature.AllowedVersions,
	}
}

// CacheOptions converts the cache section. Entries vary on the client id
// header, the same one stores narrow key lookups by.
func (a AuthConfig) CacheOptions() cache.Options {
	return cache.Options{
		SuccessTTL:      a.Cache.SuccessTTL,
		NotFoundTTL:     a.Cache.NotFoundTTL,
		MaxEntries:      a.Cache.MaxEntries,
		NegativeCaching: a.Cache.NegativeCaching,
		VaryHeaders:     []string{a.Headers.ClientID},
	}
}

// SignatureHeaders converts the header names used by signed requests.
func (a AuthConfig) SignatureHeaders() signature.Headers {
	return signature.Headers{
		Signature: a.Headers.Signature,
		ClientID:  a.Headers.ClientID,
		Timestamp: a.Headers.Timestamp,
	}
}

// RateLimits converts the rate_limit section.
func (a AuthConfig) RateLimits() map[auth.FailureClass]int {
	return map[auth.FailureClass]int{
		auth.ClassUnknownClient: a.RateLimit.UnknownClient,
		auth.ClassBadCredential: a.RateLimit.BadCredential,
	}
}

// Entries converts api_keys into registry entries. Keys without an
// explicit header use the configured API key header.
func (a AuthConfig) Entries() []apikey.Entry {
	entries := make([]apikey.Entry, 0, len(a.APIKeys))
	for _, k := range a.APIKeys {
		header := k.Header
		if header == "" {
			header = a.Headers.APIKey
		}
		entries = append(entries, apikey.Entry{
			ClientID:    k.ClientID,
			DisplayName: k.DisplayName,
			Key:         k.Key,
			Header:      header,
			Roles:       k.Roles,
			Claims:      k.Claims,
			ExpiresAt:   k.ExpiresAt,
		})
	}
	return entries
}
