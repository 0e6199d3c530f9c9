// Package storage holds what the credential store adapters share: the
// Backend contract, sentinel errors and record helpers.
//
// Adapters (memory, postgres, sqlite) implement apikey.Store and
// signature.Store for the read path, plus the admin writes used by tests,
// tooling and operators. Resolvers only ever see the read path.
package storage
