// Package memory provides an in-memory credential store for development
// and tests. Credentials are lost when the process restarts.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/rhuss/credgate/pkg/auth"
	"github.com/rhuss/credgate/pkg/auth/apikey"
	"github.com/rhuss/credgate/pkg/auth/signature"
	"github.com/rhuss/credgate/pkg/storage"
)

// Store is an in-memory storage.Backend. Records are returned in
// insertion order.
type Store struct {
	mu sync.RWMutex

	keys    []apikey.StoredKey
	keyIDs  map[string]bool
	creds   []signature.StoredCredential
	credIdx map[string]int // id -> index into creds

	clientHeader string
}

// Ensure Store implements storage.Backend at compile time.
var _ storage.Backend = (*Store)(nil)

// New creates an empty store. clientHeader names the header used to
// narrow key lookups to one client; empty means X-Client-Id.
func New(clientHeader string) *Store {
	return &Store{
		keyIDs:       make(map[string]bool),
		credIdx:      make(map[string]int),
		clientHeader: clientHeader,
	}
}

// FindKeys returns the keys accepted in lc.HeaderName, narrowed to the
// claimed client when the request names one.
func (s *Store) FindKeys(ctx context.Context, lc auth.LookupContext) ([]apikey.StoredKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client := storage.ClientHint(lc, s.clientHeader)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []apikey.StoredKey
	for _, k := range s.keys {
		if !strings.EqualFold(k.HeaderName, lc.HeaderName) {
			continue
		}
		if client != "" && k.ClientID != client {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

// FindCredentials returns every signing credential of clientID.
func (s *Store) FindCredentials(ctx context.Context, clientID string, _ auth.LookupContext) ([]signature.StoredCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []signature.StoredCredential
	for _, c := range s.creds {
		if c.ClientID == clientID {
			out = append(out, c)
		}
	}
	return out, nil
}

// CreateKey stores key. Returns storage.ErrConflict for a duplicate ID.
func (s *Store) CreateKey(_ context.Context, key apikey.StoredKey) (string, error) {
	if key.ID == "" {
		key.ID = storage.NewID()
	}
	key.HeaderName = storage.HeaderOrDefault(key.HeaderName)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keyIDs[key.ID] {
		return "", storage.ErrConflict
	}
	s.keyIDs[key.ID] = true
	s.keys = append(s.keys, key)
	return key.ID, nil
}

// CreateCredential stores cred. Returns storage.ErrConflict for a duplicate ID.
func (s *Store) CreateCredential(_ context.Context, cred signature.StoredCredential) (string, error) {
	if cred.ID == "" {
		cred.ID = storage.NewID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.credIdx[cred.ID]; exists {
		return "", storage.ErrConflict
	}
	s.credIdx[cred.ID] = len(s.creds)
	s.creds = append(s.creds, cred)
	return cred.ID, nil
}

// SetCredentialActive toggles the credential with the given id.
func (s *Store) SetCredentialActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.credIdx[id]
	if !ok {
		return storage.ErrNotFound
	}
	s.creds[i].Active = active
	return nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
