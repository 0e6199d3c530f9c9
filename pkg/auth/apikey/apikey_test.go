package apikey

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/rhuss/credgate/pkg/auth"
	"github.com/rhuss/credgate/pkg/auth/validator"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// svcKey is 32 characters from the default alphabet.
const svcKey = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAB"

func newTestValidator() (*validator.Validator, *testclock.Clock) {
	clk := testclock.NewClock(testNow)
	return validator.New(validator.DefaultOptions(), clk), clk
}

func lookup(header string) auth.LookupContext {
	return auth.NewLookupContext(header, http.Header{})
}

func TestStatic_EndToEnd(t *testing.T) {
	v, _ := newTestValidator()
	reg := NewRegistry()
	if err := reg.Register(Entry{ClientID: "svc-1", Key: svcKey, Header: "X-Api-Key", Roles: []string{"App.System"}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r := NewStaticResolver(reg, v)

	result, err := r.Resolve(context.Background(), svcKey, lookup("X-Api-Key"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("Outcome = %s, want success", result.Outcome)
	}
	if result.Identity.ClientID != "svc-1" {
		t.Errorf("ClientID = %q, want %q", result.Identity.ClientID, "svc-1")
	}
	if !result.Identity.HasRole("App.System") || len(result.Identity.Roles) != 1 {
		t.Errorf("Roles = %v, want [App.System]", result.Identity.Roles)
	}
	if result.Identity.Scheme != auth.SchemeAPIKey {
		t.Errorf("Scheme = %q, want %q", result.Identity.Scheme, auth.SchemeAPIKey)
	}
	if result.Identity.Source != StaticSource {
		t.Errorf("Source = %q, want %q", result.Identity.Source, StaticSource)
	}

	altered := svcKey[:len(svcKey)-1] + "C"
	result, err = r.Resolve(context.Background(), altered, lookup("X-Api-Key"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if result.Outcome != auth.OutcomeNotFound {
		t.Errorf("Outcome = %s, want not_found", result.Outcome)
	}
}

func TestStatic_HeaderCaseInsensitive(t *testing.T) {
	v, _ := newTestValidator()
	reg := NewRegistry()
	if err := reg.Register(Entry{ClientID: "svc-1", Key: svcKey}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r := NewStaticResolver(reg, v)

	if !auth.Supports(r, "x-api-key") {
		t.Error("expected x-api-key to be supported")
	}
	result, _ := r.Resolve(context.Background(), svcKey, lookup("x-api-key"))
	if !result.Succeeded() {
		t.Errorf("Outcome = %s, want success", result.Outcome)
	}

	// Same key under a header it was not registered for.
	result, _ = r.Resolve(context.Background(), svcKey, lookup("X-Other-Key"))
	if result.Outcome != auth.OutcomeNotFound {
		t.Errorf("Outcome = %s, want not_found", result.Outcome)
	}
}

func TestStatic_Expired(t *testing.T) {
	v, clk := newTestValidator()
	expires := testNow.Add(time.Hour)
	reg := NewRegistry()
	if err := reg.Register(Entry{ClientID: "svc-1", Key: svcKey, ExpiresAt: &expires}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r := NewStaticResolver(reg, v)

	result, _ := r.Resolve(context.Background(), svcKey, lookup(auth.HeaderAPIKey))
	if !result.Succeeded() {
		t.Fatalf("Outcome = %s, want success before expiry", result.Outcome)
	}

	clk.Advance(2 * time.Hour)
	result, _ = r.Resolve(context.Background(), svcKey, lookup(auth.HeaderAPIKey))
	if result.Outcome != auth.OutcomeExpired {
		t.Errorf("Outcome = %s, want expired", result.Outcome)
	}
}

func TestStatic_CancelledContext(t *testing.T) {
	v, _ := newTestValidator()
	r := NewStaticResolver(NewRegistry(), v)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Resolve(ctx, svcKey, lookup(auth.HeaderAPIKey)); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRegistry_Duplicates(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
		wantErr error
	}{
		{
			name: "same key same header",
			entries: []Entry{
				{ClientID: "a", Key: svcKey},
				{ClientID: "b", Key: svcKey},
			},
			wantErr: ErrDuplicate,
		},
		{
			name: "same client same header",
			entries: []Entry{
				{ClientID: "a", Key: svcKey},
				{ClientID: "a", Key: strings.Repeat("B", 32)},
			},
			wantErr: ErrDuplicate,
		},
		{
			name: "same key different header",
			entries: []Entry{
				{ClientID: "a", Key: svcKey},
				{ClientID: "a", Key: svcKey, Header: "X-Admin-Key"},
			},
		},
		{
			name:    "empty key",
			entries: []Entry{{ClientID: "a"}},
			wantErr: ErrInvalidEntry,
		},
		{
			name:    "empty client",
			entries: []Entry{{Key: svcKey}},
			wantErr: ErrInvalidEntry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			err := reg.Register(tt.entries...)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if reg.Len() != 0 {
				t.Errorf("Len = %d after failed Register, want 0", reg.Len())
			}
		})
	}
}

func TestRegistry_RegisterAcrossCalls(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(Entry{ClientID: "a", Key: svcKey}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(Entry{ClientID: "b", Key: svcKey}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	if reg.Len() != 1 {
		t.Errorf("Len = %d, want 1", reg.Len())
	}
}

func TestRegistry_Replace(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(Entry{ClientID: "a", Key: svcKey}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	other := strings.Repeat("Z", 40)
	if err := reg.Replace([]Entry{{ClientID: "b", Key: other, Header: "x-admin-key"}}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if got := reg.Lookup(auth.HeaderAPIKey); len(got) != 0 {
		t.Errorf("old header still has %d entries", len(got))
	}
	if got := reg.Lookup("X-Admin-Key"); len(got) != 1 || got[0].ClientID != "b" {
		t.Errorf("Lookup(X-Admin-Key) = %v", got)
	}
	if h := reg.Headers(); len(h) != 1 || h[0] != "X-Admin-Key" {
		t.Errorf("Headers = %v, want [X-Admin-Key]", h)
	}

	// A failing replace keeps the current contents.
	bad := []Entry{{ClientID: "c", Key: other}, {ClientID: "d", Key: other}}
	if err := reg.Replace(bad); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	if reg.Len() != 1 {
		t.Errorf("Len = %d after failed Replace, want 1", reg.Len())
	}
}

// fakeStore is a Store returning canned keys.
type fakeStore struct {
	keys  []StoredKey
	err   error
	calls int
}

func (f *fakeStore) FindKeys(ctx context.Context, _ auth.LookupContext) ([]StoredKey, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.keys, f.err
}

func storedKey(t *testing.T, clientID, key string, expiresAt *time.Time) StoredKey {
	t.Helper()
	hash, salt, err := validator.HashKey(key, "")
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	return StoredKey{
		ID:         "cred-" + clientID,
		ClientID:   clientID,
		KeyHash:    hash,
		Salt:       salt,
		HeaderName: auth.HeaderAPIKey,
		Roles:      []string{"reader"},
		ExpiresAt:  expiresAt,
	}
}

func TestDynamic_Match(t *testing.T) {
	v, _ := newTestValidator()
	other := strings.Repeat("B", 32)
	store := &fakeStore{keys: []StoredKey{
		storedKey(t, "other", other, nil),
		storedKey(t, "svc-1", svcKey, nil),
	}}
	r := NewResolver("memory", nil, store, v, nil)

	result, err := r.Resolve(context.Background(), svcKey, lookup(auth.HeaderAPIKey))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("Outcome = %s, want success", result.Outcome)
	}
	if result.Identity.ClientID != "svc-1" {
		t.Errorf("ClientID = %q, want svc-1", result.Identity.ClientID)
	}
	if result.Identity.CredentialID != "cred-svc-1" {
		t.Errorf("CredentialID = %q, want cred-svc-1", result.Identity.CredentialID)
	}
	if result.Identity.Source != "memory" {
		t.Errorf("Source = %q, want memory", result.Identity.Source)
	}
}

func TestDynamic_FormatRejectedBeforeLookup(t *testing.T) {
	v, _ := newTestValidator()
	store := &fakeStore{}
	r := NewResolver("memory", nil, store, v, nil)

	result, err := r.Resolve(context.Background(), "short", lookup(auth.HeaderAPIKey))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if result.Outcome != auth.OutcomeFormatInvalid {
		t.Errorf("Outcome = %s, want format_invalid", result.Outcome)
	}
	if store.calls != 0 {
		t.Errorf("store called %d times, want 0", store.calls)
	}
}

func TestDynamic_ExpiredStopsLoop(t *testing.T) {
	v, _ := newTestValidator()
	past := testNow.Add(-time.Minute)
	store := &fakeStore{keys: []StoredKey{
		storedKey(t, "old", svcKey, &past),
		storedKey(t, "new", svcKey, nil),
	}}
	r := NewResolver("memory", nil, store, v, nil)

	result, _ := r.Resolve(context.Background(), svcKey, lookup(auth.HeaderAPIKey))
	if result.Outcome != auth.OutcomeExpired {
		t.Errorf("Outcome = %s, want expired", result.Outcome)
	}
}

func TestDynamic_NoMatch(t *testing.T) {
	v, _ := newTestValidator()
	store := &fakeStore{keys: []StoredKey{storedKey(t, "svc-1", svcKey, nil)}}
	r := NewResolver("memory", nil, store, v, nil)

	result, _ := r.Resolve(context.Background(), strings.Repeat("Q", 32), lookup(auth.HeaderAPIKey))
	if result.Outcome != auth.OutcomeNotFound {
		t.Errorf("Outcome = %s, want not_found", result.Outcome)
	}
}

func TestDynamic_BackendFailure(t *testing.T) {
	v, _ := newTestValidator()
	store := &fakeStore{err: errors.New("connection refused")}
	r := NewResolver("memory", nil, store, v, nil)

	result, err := r.Resolve(context.Background(), svcKey, lookup(auth.HeaderAPIKey))
	if err != nil {
		t.Fatalf("backend failure should not be returned as error: %v", err)
	}
	if result.Outcome != auth.OutcomeBackendFailure {
		t.Errorf("Outcome = %s, want backend_failure", result.Outcome)
	}
	if strings.Contains(result.Reason, "connection refused") {
		t.Errorf("Reason leaks backend detail: %q", result.Reason)
	}
}

func TestDynamic_WrongHeaderSkipped(t *testing.T) {
	v, _ := newTestValidator()
	k := storedKey(t, "svc-1", svcKey, nil)
	k.HeaderName = "X-Admin-Key"
	store := &fakeStore{keys: []StoredKey{k}}
	r := NewResolver("memory", []string{auth.HeaderAPIKey, "X-Admin-Key"}, store, v, nil)

	result, _ := r.Resolve(context.Background(), svcKey, lookup(auth.HeaderAPIKey))
	if result.Outcome != auth.OutcomeNotFound {
		t.Errorf("Outcome = %s, want not_found", result.Outcome)
	}
	result, _ = r.Resolve(context.Background(), svcKey, lookup("x-admin-key"))
	if !result.Succeeded() {
		t.Errorf("Outcome = %s, want success", result.Outcome)
	}
}
