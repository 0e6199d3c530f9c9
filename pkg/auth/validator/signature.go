package validator

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureV1 is HMAC-SHA256 over the canonical string, lowercase hex.
const SignatureV1 = "v1"

// EmptyBodyHash is the SHA-256 of the empty string.
const EmptyBodyHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// Signature errors.
var (
	ErrUnsupportedVersion = errors.New("unsupported signature version")
	ErrMalformedSignature = errors.New("malformed signature")
)

// BodyHash returns the lowercase-hex SHA-256 of body.
func BodyHash(body []byte) string {
	if len(body) == 0 {
		return EmptyBodyHash
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// CanonicalString builds "{timestamp}.{method}.{path}.{bodyHash}". The
// method is used exactly as sent. An empty bodyHash is replaced by
// EmptyBodyHash.
func CanonicalString(timestamp int64, method, path, bodyHash string) string {
	if bodyHash == "" {
		bodyHash = EmptyBodyHash
	}
	return strconv.FormatInt(timestamp, 10) + "." + method + "." + path + "." + bodyHash
}

// ComputeSignature signs canonical with secret and returns "version=hex".
func ComputeSignature(canonical, secret, version string) (string, error) {
	switch version {
	case SignatureV1:
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(canonical))
		return SignatureV1 + "=" + hex.EncodeToString(mac.Sum(nil)), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedVersion, version)
	}
}

// ParseSignature splits a "version=hex" header value.
func ParseSignature(header string) (string, string, error) {
	version, value, ok := strings.Cut(strings.TrimSpace(header), "=")
	if !ok || version == "" || value == "" {
		return "", "", fmt.Errorf("%w: expected version=hex", ErrMalformedSignature)
	}
	if _, err := hex.DecodeString(value); err != nil {
		return "", "", fmt.Errorf("%w: value is not hex", ErrMalformedSignature)
	}
	return version, strings.ToLower(value), nil
}

// ValidateSignature recomputes the signature of canonical with secret for
// version and compares it to the presented hex value in constant time.
func ValidateSignature(canonical, secret, version, presentedHex string) bool {
	expected, err := ComputeSignature(canonical, secret, version)
	if err != nil {
		return false
	}
	return CompareSecurely(expected, version+"="+strings.ToLower(presentedHex))
}

// ParseTimestamp parses a Unix seconds header value: unsigned base-10
// digits, surrounding whitespace ignored.
func ParseTimestamp(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" || strings.IndexFunc(value, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return 0, fmt.Errorf("invalid timestamp %q: want unsigned decimal digits", value)
	}
	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp: %w", err)
	}
	return ts, nil
}

// ValidateTimestamp reports whether ts (Unix seconds, UTC) is at most past
// old and at most future ahead of now. Both bounds are inclusive.
func (v *Validator) ValidateTimestamp(ts int64, past, future time.Duration) bool {
	now := v.clock.Now().UTC().Unix()
	// Compare against the window edges; now - ts overflows for extreme ts.
	oldest := now - int64(past/time.Second)
	newest := now + int64(future/time.Second)
	return ts >= oldest && ts <= newest
}

// VersionAllowed reports whether version is in allowed, or in the
// validator's defaults when allowed is empty.
func (v *Validator) VersionAllowed(version string, allowed []string) bool {
	if len(allowed) == 0 {
		allowed = v.opts.AllowedVersions
	}
	for _, a := range allowed {
		if a == version {
			return true
		}
	}
	return false
}
