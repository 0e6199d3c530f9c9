// Package apikey resolves pre-shared API keys.
//
// Two resolvers are provided. StaticResolver matches against a Registry
// populated from configuration; keys there are kept in plain text because
// the deployment's secret store already protects them at rest. Resolver
// matches against a Store of salted SHA-256 hashes, fetching candidates
// per request.
package apikey

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/rhuss/credgate/pkg/auth"
)

// StoredKey is an API key record as held by a backing store. Records are
// immutable once fetched.
type StoredKey struct {
	// ID identifies the record for audit and rotation. Optional.
	ID string

	ClientID    string
	DisplayName string

	// KeyHash is base64(SHA-256(Salt || key)). Salt may be empty.
	KeyHash string
	Salt    string

	// HeaderName is the header the key is accepted in.
	HeaderName string

	Roles     []string
	Claims    map[string]string
	ExpiresAt *time.Time
}

// Store fetches candidate keys for a request. Implementations may use the
// auxiliary headers in lc to narrow the query and must tolerate returning
// zero, one or many candidates.
type Store interface {
	FindKeys(ctx context.Context, lc auth.LookupContext) ([]StoredKey, error)
}

// identity builds a resolved identity. Slices and maps are copied so the
// identity does not alias store-owned data.
func identity(clientID, displayName, credentialID, source string, roles []string, claims map[string]string) *auth.Identity {
	id := &auth.Identity{
		ClientID:     clientID,
		DisplayName:  displayName,
		Scheme:       auth.SchemeAPIKey,
		Source:       source,
		Roles:        slices.Clone(roles),
		CredentialID: credentialID,
	}
	if claims != nil {
		id.Claims = maps.Clone(claims)
	}
	return id
}
