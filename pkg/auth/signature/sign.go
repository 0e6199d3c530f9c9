package signature

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rhuss/credgate/pkg/auth/validator"
)

// Sign sets the client id, timestamp and v1 signature headers on req using
// the default header names. The body, if any, is read and restored.
func Sign(req *http.Request, clientID, secret string, now time.Time) error {
	return SignWith(req, DefaultHeaders(), clientID, secret, now)
}

// SignWith is Sign with explicit header names.
func SignWith(req *http.Request, headers Headers, clientID, secret string, now time.Time) error {
	headers.applyDefaults()

	bodyHash := validator.EmptyBodyHash
	if req.Body != nil && req.Body != http.NoBody {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return fmt.Errorf("reading request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		bodyHash = validator.BodyHash(body)
	}

	ts := now.UTC().Unix()
	sig, err := validator.ComputeSignature(
		validator.CanonicalString(ts, req.Method, req.URL.Path, bodyHash),
		secret, validator.SignatureV1)
	if err != nil {
		return err
	}

	req.Header.Set(headers.ClientID, clientID)
	req.Header.Set(headers.Timestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(headers.Signature, sig)
	return nil
}
