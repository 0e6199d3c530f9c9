// Package auth provides the credential resolution core for credgate.
//
// A Resolver turns a presented credential (the raw value of an API key or
// signature header) plus a LookupContext into a Result. Results form a
// closed taxonomy: success, not-found, expired, format-invalid and a set
// of scheme-specific failures. Only not-found lets a Chain fall through to
// the next resolver; every other failure is final.
//
// Concrete resolvers live in subpackages: apikey (configuration-backed and
// store-backed API keys), signature (HMAC-signed requests with key
// rotation), and cache (a decorator over any resolver). Middleware adapts
// a resolver to net/http and installs the resolved identity into the
// request context.
package auth
