package auth

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/rhuss/credgate/pkg/auth/validator"
	"github.com/rhuss/credgate/pkg/observability"
)

// MiddlewareConfig tunes the HTTP host adapter.
type MiddlewareConfig struct {
	// Bypass lists paths that skip authentication.
	Bypass []string

	// Limiter throttles sources that keep failing. Optional.
	Limiter *FailureLimiter

	// SignatureHeader names the header whose presence requires the body
	// to be hashed for the canonical string. Default: HeaderSignature.
	SignatureHeader string

	// MaxBodyBytes bounds the body read for hashing. Default: 1 MiB.
	MaxBodyBytes int64
}

func (c *MiddlewareConfig) applyDefaults() {
	if c.SignatureHeader == "" {
		c.SignatureHeader = HeaderSignature
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
}

// DefaultBypassEndpoints lists endpoints that skip authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}

const (
	errBodyUnauthenticated = `{"error":{"type":"unauthorized","message":"authentication required"}}`
	errBodyRateLimited     = `{"error":{"type":"too_many_requests","message":"too many failed authentication attempts"}}`
	errBodyTooLarge        = `{"error":{"type":"invalid_request","message":"request body too large"}}`
	errBodyUnavailable     = `{"error":{"type":"unavailable","message":"authentication aborted"}}`
	errBodyInternal        = `{"error":{"type":"server_error","message":"internal authentication error"}}`
)

// Middleware creates HTTP middleware that resolves the first credential
// header declared by resolver, installs the identity into the request
// context, and rejects everything else with a generic 401.
func Middleware(resolver Resolver, cfg MiddlewareConfig) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("auth: nil resolver")
	}
	cfg.applyDefaults()

	bypass := make(map[string]bool, len(cfg.Bypass))
	for _, ep := range cfg.Bypass {
		bypass[ep] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			source := remoteHost(r.RemoteAddr)
			if cfg.Limiter != nil {
				if class, blocked := cfg.Limiter.Blocked(source); blocked {
					slog.Warn("authentication throttled", "remote_addr", source, "class", class)
					observability.RateLimitRejectedTotal.WithLabelValues(string(class)).Inc()
					writeError(w, http.StatusTooManyRequests, errBodyRateLimited)
					return
				}
			}

			header, presented := findCredential(resolver, r)
			if header == "" {
				writeError(w, http.StatusUnauthorized, errBodyUnauthenticated)
				return
			}

			lc := NewLookupContext(header, r.Header)
			bodyHash := ""
			if strings.EqualFold(header, cfg.SignatureHeader) {
				h, ok := hashBody(r, cfg.MaxBodyBytes)
				if !ok {
					writeError(w, http.StatusRequestEntityTooLarge, errBodyTooLarge)
					return
				}
				bodyHash = h
			}
			lc = lc.WithRequest(r.Method, r.URL.Path, bodyHash)

			result, err := resolver.Resolve(r.Context(), presented, lc)
			if err != nil {
				slog.Debug("authentication aborted", "path", r.URL.Path, "error", err)
				writeError(w, http.StatusServiceUnavailable, errBodyUnavailable)
				return
			}

			if !result.Succeeded() {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", source,
					"header", header,
					"outcome", result.Outcome.String(),
					"reason", result.Reason,
				)
				if cfg.Limiter != nil {
					cfg.Limiter.RecordFailure(source, result.Outcome)
				}
				writeError(w, http.StatusUnauthorized, errBodyUnauthenticated)
				return
			}

			if result.Identity.ClientID == "" {
				slog.Error("resolver returned identity with empty client id", "header", header)
				writeError(w, http.StatusInternalServerError, errBodyInternal)
				return
			}

			slog.Debug("authentication succeeded",
				"client_id", result.Identity.ClientID,
				"scheme", result.Identity.Scheme,
				"source", result.Identity.Source,
				"path", r.URL.Path,
			)

			next.ServeHTTP(w, r.WithContext(SetIdentity(r.Context(), result.Identity)))
		})
	}
}

// findCredential returns the first header declared by resolver that is
// present on the request, with its value.
func findCredential(resolver Resolver, r *http.Request) (string, string) {
	for _, h := range resolver.Headers() {
		if v := r.Header.Get(h); v != "" {
			return h, v
		}
	}
	return "", ""
}

// hashBody reads at most limit bytes of the body, restores it for the
// next handler, and returns its SHA-256 hex digest.
func hashBody(r *http.Request, limit int64) (string, bool) {
	if r.Body == nil || r.Body == http.NoBody {
		return validator.EmptyBodyHash, true
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	r.Body.Close()
	if err != nil || int64(len(body)) > limit {
		return "", false
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return validator.BodyHash(body), true
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}
