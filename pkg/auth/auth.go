package auth

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"
)

// Outcome classifies the result of a credential resolution.
type Outcome int

const (
	// OutcomeSuccess means the credential is valid and an identity is attached.
	OutcomeSuccess Outcome = iota

	// OutcomeNotFound means no credential matched. It is the only outcome
	// that lets a Chain try the next resolver.
	OutcomeNotFound

	// OutcomeExpired means the credential matched but is past its validity window.
	OutcomeExpired

	// OutcomeFormatInvalid means the presented value was rejected before any lookup.
	OutcomeFormatInvalid

	// OutcomeClientInactive means every credential for the client is disabled.
	OutcomeClientInactive

	// OutcomeCredentialInactive means the matching credential is disabled.
	OutcomeCredentialInactive

	// OutcomeClientNotFound means no credentials exist for the claimed client id.
	OutcomeClientNotFound

	// OutcomeInvalidSignature means credentials exist but none verified the signature.
	OutcomeInvalidSignature

	// OutcomeTimestampExpired means the request timestamp is outside the replay window.
	OutcomeTimestampExpired

	// OutcomeInvalidTimestamp means the timestamp header is not a Unix time.
	OutcomeInvalidTimestamp

	// OutcomeMissingHeaders means a header required by the scheme is absent.
	OutcomeMissingHeaders

	// OutcomeBackendFailure means the credential store faulted.
	OutcomeBackendFailure
)

var outcomeNames = [...]string{
	OutcomeSuccess:            "success",
	OutcomeNotFound:           "not_found",
	OutcomeExpired:            "expired",
	OutcomeFormatInvalid:      "format_invalid",
	OutcomeClientInactive:     "client_inactive",
	OutcomeCredentialInactive: "credential_inactive",
	OutcomeClientNotFound:     "client_not_found",
	OutcomeInvalidSignature:   "invalid_signature",
	OutcomeTimestampExpired:   "timestamp_expired",
	OutcomeInvalidTimestamp:   "invalid_timestamp",
	OutcomeMissingHeaders:     "missing_headers",
	OutcomeBackendFailure:     "backend_failure",
}

// String returns the snake_case name used in logs and metric labels.
func (o Outcome) String() string {
	if o >= 0 && int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// Result carries the outcome of a resolution attempt. Exactly one outcome
// holds; Identity is set only for OutcomeSuccess.
type Result struct {
	Outcome  Outcome
	Identity *Identity
	Reason   string
}

// Success returns a successful result for id.
func Success(id *Identity) Result {
	return Result{Outcome: OutcomeSuccess, Identity: id}
}

// NotFound returns the fall-through result.
func NotFound() Result {
	return Result{Outcome: OutcomeNotFound, Reason: "credential not found"}
}

// Expired returns the result for a matched credential past its expiry.
func Expired() Result {
	return Result{Outcome: OutcomeExpired, Reason: "credential expired"}
}

// FormatInvalid returns a pre-lookup rejection with the given reason.
func FormatInvalid(reason string) Result {
	return Result{Outcome: OutcomeFormatInvalid, Reason: reason}
}

// Failure returns a result with an arbitrary failure outcome.
func Failure(outcome Outcome, reason string) Result {
	return Result{Outcome: outcome, Reason: reason}
}

// Succeeded reports whether the result carries an identity.
func (r Result) Succeeded() bool {
	return r.Outcome == OutcomeSuccess && r.Identity != nil
}

// ClientID returns the resolved client id, or "" when the result failed.
func (r Result) ClientID() string {
	if r.Identity == nil {
		return ""
	}
	return r.Identity.ClientID
}

// IsNotFound reports whether the result permits chain fall-through.
func (r Result) IsNotFound() bool {
	return r.Outcome == OutcomeNotFound
}

// Identity represents an authenticated service client.
type Identity struct {
	// ClientID is the unique identifier of the caller (required, non-empty).
	ClientID string

	// DisplayName is a human-readable label for the client.
	DisplayName string

	// Scheme tags the credential family that produced the identity
	// (SchemeAPIKey or SchemeSignature).
	Scheme string

	// Source names the resolver that produced the identity
	// (for example "config", "postgres").
	Source string

	// Roles lists the roles granted to the client.
	Roles []string

	// Claims carries additional key/value claims attached to the credential.
	Claims map[string]string

	// CredentialID identifies the specific stored credential that matched,
	// when the backend tracks one. Used for audit and rotation.
	CredentialID string

	// ValidUntil is the last instant the credential authenticates: its
	// expiry plus any grace period. Nil when the credential never expires.
	ValidUntil *time.Time
}

// Clone returns a deep copy of id.
func (id *Identity) Clone() *Identity {
	if id == nil {
		return nil
	}
	c := *id
	c.Roles = slices.Clone(id.Roles)
	if id.Claims != nil {
		c.Claims = maps.Clone(id.Claims)
	}
	if id.ValidUntil != nil {
		t := *id.ValidUntil
		c.ValidUntil = &t
	}
	return &c
}

// Credential family tags.
const (
	SchemeAPIKey    = "ApiKey"
	SchemeSignature = "HmacSignature"
)

// HasRole reports whether the identity carries the given role.
func (id *Identity) HasRole(role string) bool {
	if id == nil {
		return false
	}
	return slices.Contains(id.Roles, role)
}

// Resolver turns a presented credential into a Result.
//
// The error return is reserved for context cancellation: a cancelled or
// timed-out ctx is reported as ctx.Err() so that it propagates to the
// caller. Every other outcome, including backend faults, is a Result.
type Resolver interface {
	// Headers lists the header names this resolver handles.
	Headers() []string

	// Resolve validates presented, the raw value of lc.HeaderName.
	Resolve(ctx context.Context, presented string, lc LookupContext) (Result, error)
}

// Supports reports whether r declares support for header (case-insensitive).
func Supports(r Resolver, header string) bool {
	for _, h := range r.Headers() {
		if strings.EqualFold(h, header) {
			return true
		}
	}
	return false
}

// Default header names.
const (
	HeaderAPIKey    = "X-Api-Key"
	HeaderClientID  = "X-Client-Id"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrTooManyRequests = errors.New("too many failed authentication attempts")
)

// IsContextError reports whether err stems from a cancelled or expired context.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// canonicalHeader normalizes a header name for map lookups.
func canonicalHeader(name string) string {
	return http.CanonicalHeaderKey(strings.TrimSpace(name))
}
