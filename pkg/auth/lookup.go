package auth

import (
	"net/http"
	"strings"
)

// LookupContext is a read-only view of the request that carried a
// credential. Backends use it to narrow external lookups, for example a
// client-id header selecting a single database row.
//
// The credential's own value is never part of Headers.
type LookupContext struct {
	// HeaderName is the header that carried the presented credential.
	HeaderName string

	// Method and Path describe the request line. BodyHash is the
	// lowercase-hex SHA-256 of the request body, empty when the host did
	// not hash it. They feed the signed-request canonical string.
	Method   string
	Path     string
	BodyHash string

	headers map[string]string
}

// NewLookupContext builds a LookupContext for the credential carried in
// headerName. Every other header is copied (first value only); the
// credential header itself is dropped.
func NewLookupContext(headerName string, headers http.Header) LookupContext {
	skip := canonicalHeader(headerName)
	copied := make(map[string]string, len(headers))
	for name, values := range headers {
		key := canonicalHeader(name)
		if key == skip || len(values) == 0 {
			continue
		}
		copied[key] = values[0]
	}
	return LookupContext{HeaderName: headerName, headers: copied}
}

// WithRequest returns a copy of lc carrying the request line and body hash.
func (lc LookupContext) WithRequest(method, path, bodyHash string) LookupContext {
	lc.Method = method
	lc.Path = path
	lc.BodyHash = bodyHash
	return lc
}

// Header returns the value of an auxiliary header (case-insensitive).
func (lc LookupContext) Header(name string) (string, bool) {
	v, ok := lc.headers[canonicalHeader(name)]
	return v, ok
}

// HeaderNames lists the auxiliary headers available, in no particular order.
func (lc LookupContext) HeaderNames() []string {
	names := make([]string, 0, len(lc.headers))
	for k := range lc.headers {
		names = append(names, k)
	}
	return names
}

// Is reports whether the credential arrived in the named header.
func (lc LookupContext) Is(header string) bool {
	return strings.EqualFold(lc.HeaderName, header)
}
