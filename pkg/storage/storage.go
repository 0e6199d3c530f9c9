package storage

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rhuss/credgate/pkg/auth"
	"github.com/rhuss/credgate/pkg/auth/apikey"
	"github.com/rhuss/credgate/pkg/auth/signature"
)

// Backend is a credential store usable by both dynamic resolvers.
type Backend interface {
	apikey.Store
	signature.Store

	// CreateKey stores a hashed API key. An empty ID is assigned.
	CreateKey(ctx context.Context, key apikey.StoredKey) (string, error)

	// CreateCredential stores a signing credential. An empty ID is assigned.
	CreateCredential(ctx context.Context, cred signature.StoredCredential) (string, error)

	// SetCredentialActive toggles a signing credential, the second step
	// of a rotation. Returns ErrNotFound for unknown ids.
	SetCredentialActive(ctx context.Context, id string, active bool) error

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// NewID returns a fresh credential id.
func NewID() string {
	return uuid.NewString()
}

// HeaderOrDefault returns header, or X-Api-Key when empty, in canonical form.
func HeaderOrDefault(header string) string {
	if strings.TrimSpace(header) == "" {
		return auth.HeaderAPIKey
	}
	return http.CanonicalHeaderKey(strings.TrimSpace(header))
}

// ClientHint returns the client id the request claims via header, if any.
// Key stores use it to narrow lookups to a single client.
func ClientHint(lc auth.LookupContext, header string) string {
	if header == "" {
		header = auth.HeaderClientID
	}
	v, _ := lc.Header(header)
	return v
}
