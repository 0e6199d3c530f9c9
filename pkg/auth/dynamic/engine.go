// Package dynamic provides the store-backed resolution loop shared by the
// API key and signed-request credential families.
//
// The loop is always the same: parse and validate the presented value,
// fetch candidate credentials from a backend, check each candidate in
// the order returned, and classify the outcome. A Family supplies the
// scheme-specific pieces.
package dynamic

import (
	"context"
	"log/slog"
	"time"

	"github.com/rhuss/credgate/pkg/auth"
	"github.com/rhuss/credgate/pkg/debug"
	"github.com/rhuss/credgate/pkg/observability"
)

// Verdict is a family's judgement of one candidate against the presented value.
type Verdict int

const (
	// Mismatch means the candidate does not match; try the next one.
	Mismatch Verdict = iota

	// Match means the candidate matched and is valid.
	Match

	// MatchExpired means the candidate matched but has expired. The
	// loop stops: the presented secret was recognized.
	MatchExpired

	// Unusable means the candidate was skipped without comparing secrets
	// (inactive, expired or excluded by policy).
	Unusable

	// Stale means the candidate was skipped because the request timestamp
	// falls outside its replay window.
	Stale
)

// Tally counts candidate verdicts for a resolution that found no match.
type Tally struct {
	Candidates int
	Mismatched int
	Unusable   int
	Stale      int
}

// Family supplies the credential-kind specific steps of a resolution.
// P is the parsed presented value, C the stored credential type.
type Family[P, C any] interface {
	// Parse validates the presented value before any lookup. A non-nil
	// Result rejects the request.
	Parse(presented string, lc auth.LookupContext) (P, *auth.Result)

	// Fetch loads candidate credentials. It may return zero, one or many.
	Fetch(ctx context.Context, parsed P, lc auth.LookupContext) ([]C, error)

	// Check judges one candidate.
	Check(candidate C, parsed P, lc auth.LookupContext) Verdict

	// Identity builds the resolved identity for a matching candidate.
	Identity(candidate C) *auth.Identity

	// NoMatch classifies a resolution where no candidate matched.
	NoMatch(parsed P, tally Tally) auth.Result
}

// Engine resolves credentials for one Family against a backend.
// It holds no per-call state and is safe for concurrent use.
type Engine[P, C any] struct {
	name    string
	headers []string
	family  Family[P, C]
	logger  *slog.Logger
}

// New creates an engine named name (used in logs and metric labels) that
// handles headers.
func New[P, C any](name string, headers []string, family Family[P, C], logger *slog.Logger) *Engine[P, C] {
	if family == nil {
		panic("dynamic: nil family")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine[P, C]{
		name:    name,
		headers: headers,
		family:  family,
		logger:  logger,
	}
}

// Name returns the engine name.
func (e *Engine[P, C]) Name() string {
	return e.name
}

// Headers returns the headers this engine handles.
func (e *Engine[P, C]) Headers() []string {
	return e.headers
}

// Resolve runs the family's resolution loop.
func (e *Engine[P, C]) Resolve(ctx context.Context, presented string, lc auth.LookupContext) (auth.Result, error) {
	start := time.Now()
	result, err := e.resolve(ctx, presented, lc)
	if err == nil {
		observability.ResolveTotal.WithLabelValues(e.name, result.Outcome.String()).Inc()
		observability.ResolveDuration.WithLabelValues(e.name).Observe(time.Since(start).Seconds())
		debug.Log("auth", "credential resolved",
			"resolver", e.name,
			"header", lc.HeaderName,
			"outcome", result.Outcome.String(),
			"client_id", result.ClientID(),
		)
	}
	return result, err
}

func (e *Engine[P, C]) resolve(ctx context.Context, presented string, lc auth.LookupContext) (auth.Result, error) {
	if err := ctx.Err(); err != nil {
		return auth.Result{}, err
	}

	parsed, rejected := e.family.Parse(presented, lc)
	if rejected != nil {
		return *rejected, nil
	}

	candidates, err := e.family.Fetch(ctx, parsed, lc)
	if err != nil {
		// Only the caller's own cancellation propagates. A store-side
		// timeout is an outage like any other and degrades to deny.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return auth.Result{}, ctxErr
		}
		e.logger.Error("credential lookup failed",
			"resolver", e.name,
			"header", lc.HeaderName,
			"error", err,
		)
		observability.BackendErrorsTotal.WithLabelValues(e.name).Inc()
		return auth.Failure(auth.OutcomeBackendFailure, "credential lookup failed"), nil
	}

	tally := Tally{Candidates: len(candidates)}
	for _, c := range candidates {
		switch e.family.Check(c, parsed, lc) {
		case Match:
			id := e.family.Identity(c)
			if id.Source == "" {
				id.Source = e.name
			}
			return auth.Success(id), nil
		case MatchExpired:
			return auth.Expired(), nil
		case Unusable:
			tally.Unusable++
		case Stale:
			tally.Stale++
		default:
			tally.Mismatched++
		}
	}

	return e.family.NoMatch(parsed, tally), nil
}
