// Package signature resolves HMAC-signed requests.
//
// A caller sends its client id, a Unix timestamp and a signature over the
// canonical string "{timestamp}.{METHOD}.{path}.{bodyHash}". A client may
// hold several signing credentials at once; each active one is tried in
// turn so secrets can be rotated without downtime.
package signature

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/rhuss/credgate/pkg/auth"
)

// StoredCredential is a signing credential as held by a backing store.
// Secret is the raw HMAC key; it cannot be stored hashed.
type StoredCredential struct {
	ID          string
	ClientID    string
	DisplayName string
	Secret      string
	Active      bool
	ExpiresAt   *time.Time
	Roles       []string
	Claims      map[string]string

	// PastTolerance and FutureTolerance override the process-wide
	// timestamp window when non-nil.
	PastTolerance   *time.Duration
	FutureTolerance *time.Duration

	// AllowedVersions overrides the process-wide version list when non-empty.
	AllowedVersions []string
}

// Store fetches every signing credential of a client, active or not.
type Store interface {
	FindCredentials(ctx context.Context, clientID string, lc auth.LookupContext) ([]StoredCredential, error)
}

func (c StoredCredential) identity() *auth.Identity {
	id := &auth.Identity{
		ClientID:     c.ClientID,
		DisplayName:  c.DisplayName,
		Scheme:       auth.SchemeSignature,
		Roles:        slices.Clone(c.Roles),
		CredentialID: c.ID,
	}
	if c.Claims != nil {
		id.Claims = maps.Clone(c.Claims)
	}
	return id
}
