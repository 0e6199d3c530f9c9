package apikey

import (
	"context"
	"log/slog"

	"github.com/rhuss/credgate/pkg/auth"
	"github.com/rhuss/credgate/pkg/auth/dynamic"
	"github.com/rhuss/credgate/pkg/auth/validator"
)

// Resolver is a store-backed API key resolver.
type Resolver = dynamic.Engine[string, StoredKey]

// NewResolver creates a resolver named name that matches keys presented in
// headers against store. Defaults to X-Api-Key when headers is empty.
func NewResolver(name string, headers []string, store Store, v *validator.Validator, logger *slog.Logger) *Resolver {
	if store == nil {
		panic("apikey: nil store")
	}
	if v == nil {
		panic("apikey: nil validator")
	}
	if len(headers) == 0 {
		headers = []string{auth.HeaderAPIKey}
	}
	return dynamic.New(name, headers, &family{store: store, validator: v}, logger)
}

// family adapts the hashed-key scheme to the dynamic engine.
type family struct {
	store     Store
	validator *validator.Validator
}

func (f *family) Parse(presented string, _ auth.LookupContext) (string, *auth.Result) {
	if err := f.validator.ValidateFormat(presented); err != nil {
		r := auth.FormatInvalid(err.Error())
		return "", &r
	}
	return presented, nil
}

func (f *family) Fetch(ctx context.Context, _ string, lc auth.LookupContext) ([]StoredKey, error) {
	return f.store.FindKeys(ctx, lc)
}

func (f *family) Check(k StoredKey, presented string, lc auth.LookupContext) dynamic.Verdict {
	if k.HeaderName != "" && !lc.Is(k.HeaderName) {
		return dynamic.Unusable
	}
	if !validator.ValidateKeyHash(presented, k.KeyHash, k.Salt) {
		return dynamic.Mismatch
	}
	if f.validator.IsExpired(k.ExpiresAt, 0) {
		return dynamic.MatchExpired
	}
	return dynamic.Match
}

func (f *family) Identity(k StoredKey) *auth.Identity {
	id := identity(k.ClientID, k.DisplayName, k.ID, "", k.Roles, k.Claims)
	id.ValidUntil = f.validator.ValidUntil(k.ExpiresAt)
	return id
}

func (f *family) NoMatch(string, dynamic.Tally) auth.Result {
	return auth.NotFound()
}
