package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/credgate/pkg/auth"
	"github.com/rhuss/credgate/pkg/auth/apikey"
)

const testKey = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAB"

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != 8080 {
		t.Errorf("default server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Auth.Validation.MinKeyLength != 32 || cfg.Auth.Validation.MaxKeyLength != 512 {
		t.Errorf("default key length = %d..%d, want 32..512", cfg.Auth.Validation.MinKeyLength, cfg.Auth.Validation.MaxKeyLength)
	}
	if !cfg.Auth.Validation.EnforceCharset {
		t.Error("default auth.validation.enforce_charset = false, want true")
	}
	if cfg.Auth.Signature.PastTolerance != 2*time.Minute || cfg.Auth.Signature.FutureTolerance != 30*time.Second {
		t.Errorf("default tolerances = %v/%v, want 2m/30s", cfg.Auth.Signature.PastTolerance, cfg.Auth.Signature.FutureTolerance)
	}
	if cfg.Auth.Cache.SuccessTTL != 5*time.Minute || cfg.Auth.Cache.NotFoundTTL != 30*time.Second {
		t.Errorf("default cache TTLs = %v/%v, want 5m/30s", cfg.Auth.Cache.SuccessTTL, cfg.Auth.Cache.NotFoundTTL)
	}
	if cfg.Auth.Cache.MaxEntries != 10000 {
		t.Errorf("default auth.cache.max_entries = %d, want 10000", cfg.Auth.Cache.MaxEntries)
	}
	if cfg.Auth.Headers.APIKey != "X-Api-Key" || cfg.Auth.Headers.Signature != "X-Signature" {
		t.Errorf("default headers = %+v", cfg.Auth.Headers)
	}
	if cfg.Storage.Type != "none" {
		t.Errorf("default storage.type = %q, want \"none\"", cfg.Storage.Type)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestDefaults_BypassIsACopy(t *testing.T) {
	cfg := Defaults()
	cfg.Auth.Bypass[0] = "/changed"
	if auth.DefaultBypassEndpoints[0] == "/changed" {
		t.Error("Defaults shares the package bypass slice")
	}
}

func TestLoadFromYAML(t *testing.T) {
	yamlContent := `
server:
  port: 9090
  read_timeout: 60s
auth:
  headers:
    api_key: X-Service-Key
  validation:
    min_key_length: 24
    enforce_charset: false
  signature:
    past_tolerance: 5m
    allowed_versions: [v1, v2]
  cache:
    success_ttl: 1m
    negative_caching: false
  rate_limit:
    unknown_client: 5
  bypass: [/healthz]
  watch: true
  api_keys:
    - client_id: svc-1
      display_name: Service One
      key: ` + testKey + `
      roles: [App.System]
      claims:
        team: payments
      expires_at: 2027-01-01T00:00:00Z
    - client_id: admin
      key: ` + testKey + `
      header: X-Admin-Key
storage:
  type: sqlite
  sqlite:
    path: /var/lib/credgate/credentials.db
logging:
  format: json
`
	cfg, err := Load(writeTemp(t, "config-*.yaml", yamlContent))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.ReadTimeout != time.Minute {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("server.write_timeout = %v, want default 30s", cfg.Server.WriteTimeout)
	}
	if cfg.Auth.Headers.APIKey != "X-Service-Key" {
		t.Errorf("auth.headers.api_key = %q", cfg.Auth.Headers.APIKey)
	}
	if cfg.Auth.Headers.ClientID != "X-Client-Id" {
		t.Errorf("auth.headers.client_id = %q, want default", cfg.Auth.Headers.ClientID)
	}
	if cfg.Auth.Validation.MinKeyLength != 24 || cfg.Auth.Validation.EnforceCharset {
		t.Errorf("auth.validation = %+v", cfg.Auth.Validation)
	}
	if cfg.Auth.Signature.PastTolerance != 5*time.Minute || len(cfg.Auth.Signature.AllowedVersions) != 2 {
		t.Errorf("auth.signature = %+v", cfg.Auth.Signature)
	}
	if cfg.Auth.Cache.SuccessTTL != time.Minute || cfg.Auth.Cache.NegativeCaching {
		t.Errorf("auth.cache = %+v", cfg.Auth.Cache)
	}
	if cfg.Auth.RateLimit.UnknownClient != 5 || cfg.Auth.RateLimit.BadCredential != 10 {
		t.Errorf("auth.rate_limit = %+v", cfg.Auth.RateLimit)
	}
	if len(cfg.Auth.Bypass) != 1 || !cfg.Auth.Watch {
		t.Errorf("bypass = %v, watch = %v", cfg.Auth.Bypass, cfg.Auth.Watch)
	}
	if cfg.Storage.Type != "sqlite" || cfg.Storage.SQLite.Path != "/var/lib/credgate/credentials.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("logging.format = %q", cfg.Logging.Format)
	}

	if len(cfg.Auth.APIKeys) != 2 {
		t.Fatalf("len(api_keys) = %d, want 2", len(cfg.Auth.APIKeys))
	}
	k := cfg.Auth.APIKeys[0]
	if k.ClientID != "svc-1" || k.Claims["team"] != "payments" || len(k.Roles) != 1 {
		t.Errorf("api_keys[0] = %+v", k)
	}
	want := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	if k.ExpiresAt == nil || !k.ExpiresAt.Equal(want) {
		t.Errorf("api_keys[0].expires_at = %v, want %v", k.ExpiresAt, want)
	}
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	_, err := Load(writeTemp(t, "config-*.yaml", "auth:\n  cache:\n    succes_ttl: 1m\n"))
	if err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeTemp(t, "config-*.yaml", ""))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want default", cfg.Server.Port)
	}
}

func TestEntries(t *testing.T) {
	a := Defaults().Auth
	a.Headers.APIKey = "X-Service-Key"
	a.APIKeys = []APIKeyConfig{
		{ClientID: "svc-1", Key: testKey},
		{ClientID: "svc-2", Key: testKey, Header: "X-Admin-Key"},
	}

	entries := a.Entries()
	if entries[0].Header != "X-Service-Key" {
		t.Errorf("entries[0].Header = %q, want configured api key header", entries[0].Header)
	}
	if entries[1].Header != "X-Admin-Key" {
		t.Errorf("entries[1].Header = %q", entries[1].Header)
	}

	reg := apikey.NewRegistry()
	if err := reg.Register(entries...); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if reg.Len() != 2 {
		t.Errorf("registry size = %d, want 2", reg.Len())
	}
}

func TestConversions(t *testing.T) {
	a := Defaults().Auth
	a.Validation.GracePeriod = time.Hour
	a.Cache.MaxEntries = 50

	v := a.ValidatorOptions()
	if v.GracePeriod != time.Hour || v.PastTolerance != 2*time.Minute || v.MinKeyLength != 32 {
		t.Errorf("ValidatorOptions = %+v", v)
	}
	if c := a.CacheOptions(); c.MaxEntries != 50 || !c.NegativeCaching {
		t.Errorf("CacheOptions = %+v", c)
	}
	if c := a.CacheOptions(); len(c.VaryHeaders) != 1 || c.VaryHeaders[0] != a.Headers.ClientID {
		t.Errorf("CacheOptions.VaryHeaders = %v, want [%s]", c.VaryHeaders, a.Headers.ClientID)
	}
	if h := a.SignatureHeaders(); h.Timestamp != "X-Timestamp" {
		t.Errorf("SignatureHeaders = %+v", h)
	}
	limits := a.RateLimits()
	if limits[auth.ClassUnknownClient] != 30 || limits[auth.ClassBadCredential] != 10 {
		t.Errorf("RateLimits = %v", limits)
	}
}

func TestEnvOverride(t *testing.T) {
	tmpFile := writeTemp(t, "config-*.yaml", "server:\n  port: 9090\nstorage:\n  type: memory\n")

	t.Setenv("CREDGATE_PORT", "7070")
	t.Setenv("CREDGATE_STORAGE", "postgres")
	t.Setenv("CREDGATE_POSTGRES_DSN", "postgres://env@db/credgate")
	t.Setenv("CREDGATE_CACHE_ENABLED", "false")
	t.Setenv("CREDGATE_SIGNATURE_PAST_TOLERANCE", "90s")
	t.Setenv("CREDGATE_API_KEYS", `[{"client_id":"env-svc","key":"`+testKey+`","roles":["App.Read"]}]`)

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("server.port = %d, want 7070 (env override)", cfg.Server.Port)
	}
	if cfg.Storage.Type != "postgres" || cfg.Storage.Postgres.DSN != "postgres://env@db/credgate" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Auth.Cache.Enabled {
		t.Error("auth.cache.enabled = true, want false (env override)")
	}
	if cfg.Auth.Signature.PastTolerance != 90*time.Second {
		t.Errorf("past_tolerance = %v, want 90s", cfg.Auth.Signature.PastTolerance)
	}
	if len(cfg.Auth.APIKeys) != 1 || cfg.Auth.APIKeys[0].ClientID != "env-svc" {
		t.Errorf("api_keys = %+v", cfg.Auth.APIKeys)
	}
}

func TestEnvOverride_Malformed(t *testing.T) {
	tests := map[string]string{
		"CREDGATE_PORT":                     "eighty",
		"CREDGATE_CACHE_ENABLED":            "maybe",
		"CREDGATE_SIGNATURE_PAST_TOLERANCE": "soon",
		"CREDGATE_API_KEYS":                 "{not json",
	}
	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, value)
			_, err := Load(writeTemp(t, "config-*.yaml", ""))
			if err == nil || !strings.Contains(err.Error(), name) {
				t.Errorf("err = %v, want error naming %s", err, name)
			}
		})
	}
}

func TestFileReferenceForAPIKeys(t *testing.T) {
	keyFile := writeTemp(t, "apikey-*.txt", "  "+testKey+"  \n")
	yamlContent := `
auth:
  api_keys:
    - client_id: svc-1
      key_file: ` + keyFile + `
`
	cfg, err := Load(writeTemp(t, "config-*.yaml", yamlContent))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Auth.APIKeys[0].Key != testKey {
		t.Errorf("api_keys[0].key = %q, want trimmed file content", cfg.Auth.APIKeys[0].Key)
	}
}

func TestFileReferencePostgresDSN(t *testing.T) {
	dsnFile := writeTemp(t, "dsn-*.txt", "  postgres://user:pass@db:5432/credgate  \n")
	yamlContent := `
storage:
  type: postgres
  postgres:
    dsn_file: ` + dsnFile + `
`
	cfg, err := Load(writeTemp(t, "config-*.yaml", yamlContent))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Storage.Postgres.DSN != "postgres://user:pass@db:5432/credgate" {
		t.Errorf("storage.postgres.dsn = %q", cfg.Storage.Postgres.DSN)
	}
}

func TestFileReferenceMissingFile(t *testing.T) {
	yamlContent := `
auth:
  api_keys:
    - client_id: svc-1
      key_file: /nonexistent/credgate/key
`
	_, err := Load(writeTemp(t, "config-*.yaml", yamlContent))
	if err == nil || !strings.Contains(err.Error(), "auth.api_keys[0].key_file") {
		t.Errorf("err = %v, want error naming the field", err)
	}
}

func TestFileDiscovery(t *testing.T) {
	envFile := writeTemp(t, "envconfig-*.yaml", "server:\n  port: 6060\n")
	t.Setenv(EnvConfigPath, envFile)

	cfg, path, err := LoadWithPath("")
	if err != nil {
		t.Fatalf("LoadWithPath() error: %v", err)
	}
	if path != envFile {
		t.Errorf("path = %q, want %q", path, envFile)
	}
	if cfg.Server.Port != 6060 {
		t.Errorf("server.port = %d, want 6060", cfg.Server.Port)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "redis" }, "storage.type"},
		{"postgres without dsn", func(c *Config) { c.Storage.Type = "postgres" }, "storage.postgres.dsn"},
		{"sqlite without path", func(c *Config) { c.Storage.Type = "sqlite" }, "storage.sqlite.path"},
		{"empty header", func(c *Config) { c.Auth.Headers.Timestamp = "" }, "auth.headers.timestamp"},
		{"signature header reused", func(c *Config) { c.Auth.Headers.Signature = "x-api-key" }, "must differ"},
		{"max below min", func(c *Config) { c.Auth.Validation.MaxKeyLength = 16 }, "max_key_length"},
		{"zero tolerance", func(c *Config) { c.Auth.Signature.PastTolerance = 0 }, "tolerances"},
		{"no versions", func(c *Config) { c.Auth.Signature.AllowedVersions = nil }, "allowed_versions"},
		{"negative rate limit", func(c *Config) { c.Auth.RateLimit.BadCredential = -1 }, "rate_limit"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"metrics path", func(c *Config) { c.Observability.Metrics.Path = "metrics" }, "metrics.path"},
		{"key without client", func(c *Config) {
			c.Auth.APIKeys = []APIKeyConfig{{Key: testKey}}
		}, "client_id is required"},
		{"key without value", func(c *Config) {
			c.Auth.APIKeys = []APIKeyConfig{{ClientID: "svc-1"}}
		}, "key or key_file"},
		{"duplicate key", func(c *Config) {
			c.Auth.APIKeys = []APIKeyConfig{
				{ClientID: "svc-1", Key: testKey},
				{ClientID: "svc-2", Key: testKey},
			}
		}, "duplicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidation_DuplicateWrapsRegistryError(t *testing.T) {
	cfg := Defaults()
	cfg.Auth.APIKeys = []APIKeyConfig{
		{ClientID: "svc-1", Key: testKey},
		{ClientID: "svc-1", Key: testKey + "C"},
	}
	if err := cfg.Validate(); !errors.Is(err, apikey.ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
}

func TestValidation_ReportsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = -1
	cfg.Storage.Type = "redis"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"server.port", "storage.type"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

// writeTemp creates a temporary file with the given content and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, pattern, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), pattern)
	if err != nil {
		t.Fatalf("creating temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		t.Fatalf("writing temp file: %v", err)
	}
	f.Close()
	return filepath.Clean(f.Name())
}
