package auth

import (
	"context"
	"strings"
)

// Chain evaluates resolvers in priority order.
//
// For a given header only resolvers that declare support for it are tried.
// The first success wins. Any failure other than not-found stops the
// chain: the credential was recognized and rejected, and another backend
// must not mask that. Not-found falls through to the next resolver.
type Chain struct {
	resolvers []Resolver
}

// Ensure Chain implements Resolver at compile time.
var _ Resolver = (*Chain)(nil)

// NewChain creates a chain over resolvers, evaluated left to right.
func NewChain(resolvers ...Resolver) *Chain {
	for _, r := range resolvers {
		if r == nil {
			panic("auth: nil resolver in chain")
		}
	}
	return &Chain{resolvers: resolvers}
}

// Headers returns the union of the member resolvers' headers, in
// first-seen order. It is computed per call because members backed by a
// reloadable registry may change their headers at runtime.
func (c *Chain) Headers() []string {
	var headers []string
	seen := make(map[string]bool)
	for _, r := range c.resolvers {
		for _, h := range r.Headers() {
			key := strings.ToLower(h)
			if seen[key] {
				continue
			}
			seen[key] = true
			headers = append(headers, h)
		}
	}
	return headers
}

// Resolve runs the chain for lc.HeaderName.
func (c *Chain) Resolve(ctx context.Context, presented string, lc LookupContext) (Result, error) {
	for _, r := range c.resolvers {
		if !Supports(r, lc.HeaderName) {
			continue
		}

		result, err := r.Resolve(ctx, presented, lc)
		if err != nil {
			return Result{}, err
		}
		if !result.IsNotFound() {
			return result, nil
		}
	}

	// Exhausted (or no eligible resolver).
	return NotFound(), nil
}
