package apikey

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rhuss/credgate/pkg/auth"
)

// Registry errors.
var (
	ErrDuplicate    = errors.New("duplicate api key registration")
	ErrInvalidEntry = errors.New("invalid api key entry")
)

// Entry is a configuration-sourced API key.
type Entry struct {
	ClientID    string
	DisplayName string

	// Key is the plain key value.
	Key string

	// Header is the header the key is accepted in. Default: X-Api-Key.
	Header string

	Roles     []string
	Claims    map[string]string
	ExpiresAt *time.Time
}

// index maps canonical header names to their entries.
type index struct {
	byHeader map[string][]Entry
	headers  []string
}

// Registry holds configuration-backed keys, indexed by header name.
//
// A Registry is owned by the composition root and passed to the resolvers
// that read it. Register and Replace build a new index and swap it in
// under an exclusive lock, so readers never observe a partial index.
type Registry struct {
	mu  sync.RWMutex
	idx *index
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{idx: &index{byHeader: map[string][]Entry{}}}
}

// Register adds entries. A key already registered for the same header, or
// a client id registered twice for the same header, fails with
// ErrDuplicate and leaves the registry unchanged.
func (r *Registry) Register(entries ...Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []Entry
	for _, h := range r.idx.headers {
		all = append(all, r.idx.byHeader[h]...)
	}
	next, err := buildIndex(append(all, entries...))
	if err != nil {
		return err
	}
	r.idx = next
	return nil
}

// Replace swaps the registry contents for entries. On error the previous
// contents stay in place.
func (r *Registry) Replace(entries []Entry) error {
	next, err := buildIndex(entries)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.idx = next
	r.mu.Unlock()
	return nil
}

// Lookup returns the entries registered for header (case-insensitive).
// The returned slice must not be modified.
func (r *Registry) Lookup(header string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idx.byHeader[http.CanonicalHeaderKey(header)]
}

// Headers returns the headers with at least one registered entry.
func (r *Registry) Headers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idx.headers
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, entries := range r.idx.byHeader {
		n += len(entries)
	}
	return n
}

func buildIndex(entries []Entry) (*index, error) {
	idx := &index{byHeader: make(map[string][]Entry)}
	keys := make(map[string]bool)
	clients := make(map[string]bool)

	for i, e := range entries {
		if e.Header == "" {
			e.Header = auth.HeaderAPIKey
		}
		header := http.CanonicalHeaderKey(strings.TrimSpace(e.Header))
		if e.ClientID == "" {
			return nil, fmt.Errorf("%w: entry %d has no client id", ErrInvalidEntry, i)
		}
		if e.Key == "" {
			return nil, fmt.Errorf("%w: entry %d (client %q) has no key", ErrInvalidEntry, i, e.ClientID)
		}

		keyID := header + "\x00" + e.Key
		if keys[keyID] {
			return nil, fmt.Errorf("%w: client %q reuses a key already registered for %s", ErrDuplicate, e.ClientID, header)
		}
		clientID := header + "\x00" + e.ClientID
		if clients[clientID] {
			return nil, fmt.Errorf("%w: client %q registered twice for %s", ErrDuplicate, e.ClientID, header)
		}
		keys[keyID] = true
		clients[clientID] = true

		if _, ok := idx.byHeader[header]; !ok {
			idx.headers = append(idx.headers, header)
		}
		e.Header = header
		idx.byHeader[header] = append(idx.byHeader[header], e)
	}
	return idx, nil
}
