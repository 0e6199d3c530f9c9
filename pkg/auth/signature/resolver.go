package signature

import (
	"context"
	"log/slog"
	"time"

	"github.com/rhuss/credgate/pkg/auth"
	"github.com/rhuss/credgate/pkg/auth/dynamic"
	"github.com/rhuss/credgate/pkg/auth/validator"
)

// Headers names the request headers of the scheme.
type Headers struct {
	Signature string
	ClientID  string
	Timestamp string
}

// DefaultHeaders returns X-Signature, X-Client-Id and X-Timestamp.
func DefaultHeaders() Headers {
	return Headers{
		Signature: auth.HeaderSignature,
		ClientID:  auth.HeaderClientID,
		Timestamp: auth.HeaderTimestamp,
	}
}

func (h *Headers) applyDefaults() {
	d := DefaultHeaders()
	if h.Signature == "" {
		h.Signature = d.Signature
	}
	if h.ClientID == "" {
		h.ClientID = d.ClientID
	}
	if h.Timestamp == "" {
		h.Timestamp = d.Timestamp
	}
}

// Resolver is a store-backed signed-request resolver.
type Resolver = dynamic.Engine[request, StoredCredential]

// NewResolver creates a resolver named name that verifies signatures
// presented in headers.Signature against credentials from store.
func NewResolver(name string, headers Headers, store Store, v *validator.Validator, logger *slog.Logger) *Resolver {
	if store == nil {
		panic("signature: nil store")
	}
	if v == nil {
		panic("signature: nil validator")
	}
	headers.applyDefaults()
	opts := v.Options()
	f := &family{
		headers:   headers,
		store:     store,
		validator: v,
		past:      opts.PastTolerance,
		future:    opts.FutureTolerance,
	}
	return dynamic.New(name, []string{headers.Signature}, f, logger)
}

// request is a parsed signed request.
type request struct {
	clientID  string
	timestamp int64
	version   string
	hex       string
	canonical string
}

type family struct {
	headers   Headers
	store     Store
	validator *validator.Validator

	// Process-wide timestamp window.
	past, future time.Duration
}

func (f *family) Parse(presented string, lc auth.LookupContext) (request, *auth.Result) {
	clientID, _ := lc.Header(f.headers.ClientID)
	rawTS, _ := lc.Header(f.headers.Timestamp)
	if clientID == "" || rawTS == "" {
		return reject(auth.OutcomeMissingHeaders, "client id and timestamp headers are required")
	}

	ts, err := validator.ParseTimestamp(rawTS)
	if err != nil {
		return reject(auth.OutcomeInvalidTimestamp, "timestamp must be Unix seconds")
	}

	version, hexValue, err := validator.ParseSignature(presented)
	if err != nil {
		r := auth.FormatInvalid(err.Error())
		return request{}, &r
	}

	return request{
		clientID:  clientID,
		timestamp: ts,
		version:   version,
		hex:       hexValue,
		canonical: validator.CanonicalString(ts, lc.Method, lc.Path, lc.BodyHash),
	}, nil
}

func reject(outcome auth.Outcome, reason string) (request, *auth.Result) {
	r := auth.Failure(outcome, reason)
	return request{}, &r
}

func (f *family) Fetch(ctx context.Context, req request, lc auth.LookupContext) ([]StoredCredential, error) {
	return f.store.FindCredentials(ctx, req.clientID, lc)
}

// Check skips inactive or expired credentials, then applies the
// credential's version list and timestamp window before verifying.
func (f *family) Check(c StoredCredential, req request, _ auth.LookupContext) dynamic.Verdict {
	if !c.Active || f.validator.IsExpired(c.ExpiresAt, 0) {
		return dynamic.Unusable
	}
	if !f.validator.VersionAllowed(req.version, c.AllowedVersions) {
		return dynamic.Mismatch
	}

	if !f.validator.ValidateTimestamp(req.timestamp,
		orDefault(c.PastTolerance, f.past),
		orDefault(c.FutureTolerance, f.future)) {
		return dynamic.Stale
	}

	if !validator.ValidateSignature(req.canonical, c.Secret, req.version, req.hex) {
		return dynamic.Mismatch
	}
	return dynamic.Match
}

func orDefault(override *time.Duration, def time.Duration) time.Duration {
	if override != nil {
		return *override
	}
	return def
}

func (f *family) Identity(c StoredCredential) *auth.Identity {
	id := c.identity()
	id.ValidUntil = f.validator.ValidUntil(c.ExpiresAt)
	return id
}

// NoMatch separates unknown clients from guessing against a known one.
func (f *family) NoMatch(_ request, t dynamic.Tally) auth.Result {
	switch {
	case t.Candidates == 0:
		return auth.Failure(auth.OutcomeClientNotFound, "unknown client")
	case t.Unusable == t.Candidates:
		return auth.Failure(auth.OutcomeClientInactive, "no active credential for client")
	case t.Stale > 0 && t.Mismatched == 0:
		return auth.Failure(auth.OutcomeTimestampExpired, "request timestamp outside allowed window")
	default:
		return auth.Failure(auth.OutcomeInvalidSignature, "signature mismatch")
	}
}
