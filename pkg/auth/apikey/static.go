package apikey

import (
	"context"
	"time"

	"github.com/rhuss/credgate/pkg/auth"
	"github.com/rhuss/credgate/pkg/auth/validator"
	"github.com/rhuss/credgate/pkg/debug"
	"github.com/rhuss/credgate/pkg/observability"
)

// StaticSource is the identity source tag for configuration-backed keys.
const StaticSource = "config"

// StaticResolver resolves keys registered in a Registry.
type StaticResolver struct {
	registry  *Registry
	validator *validator.Validator
}

// Ensure StaticResolver implements auth.Resolver at compile time.
var _ auth.Resolver = (*StaticResolver)(nil)

// NewStaticResolver creates a resolver over reg.
func NewStaticResolver(reg *Registry, v *validator.Validator) *StaticResolver {
	if reg == nil {
		panic("apikey: nil registry")
	}
	if v == nil {
		panic("apikey: nil validator")
	}
	return &StaticResolver{registry: reg, validator: v}
}

// Headers returns the headers that currently have registered keys.
func (s *StaticResolver) Headers() []string {
	return s.registry.Headers()
}

// Resolve compares presented against every key registered for
// lc.HeaderName. The first match wins; a matched key past its expiry
// yields expired.
func (s *StaticResolver) Resolve(ctx context.Context, presented string, lc auth.LookupContext) (auth.Result, error) {
	if err := ctx.Err(); err != nil {
		return auth.Result{}, err
	}
	start := time.Now()
	result := s.resolve(presented, lc)
	observability.ResolveTotal.WithLabelValues(StaticSource, result.Outcome.String()).Inc()
	observability.ResolveDuration.WithLabelValues(StaticSource).Observe(time.Since(start).Seconds())
	debug.Log("auth", "credential resolved",
		"resolver", StaticSource,
		"header", lc.HeaderName,
		"outcome", result.Outcome.String(),
		"client_id", result.ClientID(),
	)
	return result, nil
}

func (s *StaticResolver) resolve(presented string, lc auth.LookupContext) auth.Result {
	for _, e := range s.registry.Lookup(lc.HeaderName) {
		if !validator.CompareSecurely(presented, e.Key) {
			continue
		}
		if s.validator.IsExpired(e.ExpiresAt, 0) {
			return auth.Expired()
		}
		id := identity(e.ClientID, e.DisplayName, "", StaticSource, e.Roles, e.Claims)
		id.ValidUntil = s.validator.ValidUntil(e.ExpiresAt)
		return auth.Success(id)
	}
	return auth.NotFound()
}
