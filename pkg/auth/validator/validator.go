// Package validator provides the stateless cryptographic checks shared by
// both credential families: key format policy, constant-time comparison,
// salted key hashing, expiry, HMAC request signatures and the timestamp
// replay window.
//
// API keys are hashed with a single SHA-256 pass over salt||key. That is
// only adequate because keys are generated high-entropy secrets, never
// human-chosen passwords.
package validator

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"
)

// DefaultAllowedChars is the base64url alphabet plus '.'.
const DefaultAllowedChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_."

// SaltBytes is the number of random bytes in a generated salt.
const SaltBytes = 32

// Options holds backend-agnostic validation tunables. They are loaded once
// and treated as read-only afterwards.
type Options struct {
	// MinKeyLength and MaxKeyLength bound the presented key length in
	// characters (inclusive). Defaults: 32 and 512.
	MinKeyLength int
	MaxKeyLength int

	// EnforceCharset rejects keys containing characters outside AllowedChars.
	EnforceCharset bool

	// AllowedChars is the permitted alphabet. Default: DefaultAllowedChars.
	AllowedChars string

	// AllowExpired disables expiry checks. Diagnostic use only.
	AllowExpired bool

	// GracePeriod extends every expiry by this duration.
	GracePeriod time.Duration

	// PastTolerance and FutureTolerance bound the signed-request
	// timestamp window. Defaults: 2 minutes and 30 seconds.
	PastTolerance   time.Duration
	FutureTolerance time.Duration

	// AllowedVersions lists accepted signature versions. Default: ["v1"].
	AllowedVersions []string
}

// DefaultOptions returns the process-wide defaults.
func DefaultOptions() Options {
	return Options{
		MinKeyLength:    32,
		MaxKeyLength:    512,
		EnforceCharset:  true,
		AllowedChars:    DefaultAllowedChars,
		PastTolerance:   2 * time.Minute,
		FutureTolerance: 30 * time.Second,
		AllowedVersions: []string{SignatureV1},
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.MinKeyLength <= 0 {
		o.MinKeyLength = d.MinKeyLength
	}
	if o.MaxKeyLength <= 0 {
		o.MaxKeyLength = d.MaxKeyLength
	}
	if o.AllowedChars == "" {
		o.AllowedChars = d.AllowedChars
	}
	if o.PastTolerance <= 0 {
		o.PastTolerance = d.PastTolerance
	}
	if o.FutureTolerance <= 0 {
		o.FutureTolerance = d.FutureTolerance
	}
	if len(o.AllowedVersions) == 0 {
		o.AllowedVersions = d.AllowedVersions
	}
}

// Validator applies Options. It holds no mutable state and is safe for
// concurrent use.
type Validator struct {
	opts    Options
	allowed map[rune]bool
	clock   clock.Clock
}

// New creates a Validator. Zero-valued options take their defaults; a nil
// clk uses the wall clock.
func New(opts Options, clk clock.Clock) *Validator {
	opts.applyDefaults()
	if clk == nil {
		clk = clock.WallClock
	}
	allowed := make(map[rune]bool, len(opts.AllowedChars))
	for _, r := range opts.AllowedChars {
		allowed[r] = true
	}
	return &Validator{opts: opts, allowed: allowed, clock: clk}
}

// Options returns a copy of the effective options.
func (v *Validator) Options() Options {
	o := v.opts
	o.AllowedVersions = append([]string(nil), v.opts.AllowedVersions...)
	return o
}

// Now returns the validator's current time.
func (v *Validator) Now() time.Time {
	return v.clock.Now()
}

// ErrInvalidFormat is wrapped by every ValidateFormat rejection.
var ErrInvalidFormat = errors.New("invalid key format")

// ValidateFormat checks key against the length and character-set policy.
// The returned error names the failed rule, never the key.
func (v *Validator) ValidateFormat(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: key is empty", ErrInvalidFormat)
	}

	n := len([]rune(key))
	if n < v.opts.MinKeyLength || n > v.opts.MaxKeyLength {
		return fmt.Errorf("%w: length %d outside [%d, %d]", ErrInvalidFormat, n, v.opts.MinKeyLength, v.opts.MaxKeyLength)
	}

	if v.opts.EnforceCharset {
		for i, r := range key {
			if !v.allowed[r] {
				return fmt.Errorf("%w: character %q at offset %d not allowed", ErrInvalidFormat, r, i)
			}
		}
	}
	return nil
}

// CompareSecurely reports whether a and b are equal in time that does not
// depend on where they differ.
func CompareSecurely(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// HashKey hashes key with salt. An empty salt generates a fresh random
// one. It returns the base64 SHA-256 of salt||key and the salt used.
func HashKey(key, salt string) (string, string, error) {
	if salt == "" {
		b := make([]byte, SaltBytes)
		if _, err := rand.Read(b); err != nil {
			return "", "", fmt.Errorf("generating salt: %w", err)
		}
		salt = base64.StdEncoding.EncodeToString(b)
	}
	return hashWithSalt(key, salt), salt, nil
}

// GenerateKey returns n random bytes encoded as unpadded base64url. The
// result only uses DefaultAllowedChars; n = 32 yields a 43 character key.
func GenerateKey(n int) (string, error) {
	if n < 16 {
		return "", fmt.Errorf("key size %d bytes is below the minimum of 16", n)
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidateKeyHash recomputes the hash of providedKey with the stored salt
// and compares it to storedHash in constant time. An empty salt hashes
// the key alone.
func ValidateKeyHash(providedKey, storedHash, salt string) bool {
	return CompareSecurely(hashWithSalt(providedKey, salt), storedHash)
}

func hashWithSalt(key, salt string) string {
	h := sha256.New()
	h.Write([]byte(salt))
	h.Write([]byte(key))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// IsExpired reports whether expiresAt (plus the configured grace period
// and the extra grace) lies in the past. A nil expiry never expires.
func (v *Validator) IsExpired(expiresAt *time.Time, grace time.Duration) bool {
	if v.opts.AllowExpired || expiresAt == nil {
		return false
	}
	return v.clock.Now().After(expiresAt.Add(v.opts.GracePeriod + grace))
}

// ValidUntil returns the last instant a credential expiring at expiresAt
// is accepted, grace period included. It returns nil when the credential
// never expires or expired credentials are allowed.
func (v *Validator) ValidUntil(expiresAt *time.Time) *time.Time {
	if v.opts.AllowExpired || expiresAt == nil {
		return nil
	}
	t := expiresAt.Add(v.opts.GracePeriod)
	return &t
}
