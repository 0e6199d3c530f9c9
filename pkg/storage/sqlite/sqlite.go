// Package sqlite provides a file-backed credential store for single-node
// deployments. It uses the pure-Go modernc.org/sqlite driver, so no cgo
// toolchain is needed.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/rhuss/credgate/pkg/auth"
	"github.com/rhuss/credgate/pkg/auth/apikey"
	"github.com/rhuss/credgate/pkg/auth/signature"
	"github.com/rhuss/credgate/pkg/debug"
	"github.com/rhuss/credgate/pkg/storage"
)

// Config configures the SQLite store.
type Config struct {
	// Path is the database file. Created if missing.
	Path string

	// BusyTimeout is how long to wait for a lock before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// QueryTimeout bounds a single credential lookup.
	// Default: 2 seconds
	QueryTimeout time.Duration

	// ClientHeader narrows key lookups to one client (default: X-Client-Id).
	ClientHeader string
}

// Store is a SQLite-backed storage.Backend. Rows come back in insertion
// order.
type Store struct {
	db           *sql.DB
	queryTimeout time.Duration
	clientHeader string
}

var _ storage.Backend = (*Store)(nil)

// New opens (or creates) the database at cfg.Path and applies migrations.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 2 * time.Second
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	dsn := "file:" + cfg.Path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, queryTimeout: cfg.QueryTimeout, clientHeader: cfg.ClientHeader}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// FindKeys returns the keys accepted in lc.HeaderName, narrowed to the
// claimed client when the request names one.
func (s *Store) FindKeys(ctx context.Context, lc auth.LookupContext) ([]apikey.StoredKey, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := `SELECT id, client_id, display_name, key_hash, salt, header_name, roles, claims, expires_at
		FROM api_keys WHERE header_name = ? COLLATE NOCASE`
	args := []any{lc.HeaderName}
	if client := storage.ClientHint(lc, s.clientHeader); client != "" {
		query += " AND client_id = ?"
		args = append(args, client)
	}
	query += " ORDER BY rowid"

	debug.Trace("storage", "query", "store", "sqlite", "table", "api_keys", "narrowed", len(args) > 1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying api keys: %w", err)
	}
	defer rows.Close()

	var out []apikey.StoredKey
	for rows.Next() {
		var (
			k       apikey.StoredKey
			roles   string
			claims  sql.NullString
			expires sql.NullInt64
		)
		if err := rows.Scan(&k.ID, &k.ClientID, &k.DisplayName, &k.KeyHash, &k.Salt,
			&k.HeaderName, &roles, &claims, &expires); err != nil {
			return nil, fmt.Errorf("scanning api key: %w", err)
		}
		if err := decode(roles, &k.Roles); err != nil {
			return nil, fmt.Errorf("api key %s roles: %w", k.ID, err)
		}
		if err := decode(claims.String, &k.Claims); err != nil {
			return nil, fmt.Errorf("api key %s claims: %w", k.ID, err)
		}
		k.ExpiresAt = fromUnix(expires)
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating api keys: %w", err)
	}
	return out, nil
}

// FindCredentials returns every signing credential of clientID, oldest first.
func (s *Store) FindCredentials(ctx context.Context, clientID string, _ auth.LookupContext) ([]signature.StoredCredential, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, display_name, secret, active, expires_at, roles, claims,
		       past_tolerance_seconds, future_tolerance_seconds, allowed_versions
		FROM signing_credentials
		WHERE client_id = ?
		ORDER BY rowid
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("querying signing credentials: %w", err)
	}
	defer rows.Close()

	var out []signature.StoredCredential
	for rows.Next() {
		var (
			c              signature.StoredCredential
			expires        sql.NullInt64
			roles          string
			claims         sql.NullString
			past, future   sql.NullInt64
			allowedVersion sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.ClientID, &c.DisplayName, &c.Secret, &c.Active,
			&expires, &roles, &claims, &past, &future, &allowedVersion); err != nil {
			return nil, fmt.Errorf("scanning signing credential: %w", err)
		}
		if err := decode(roles, &c.Roles); err != nil {
			return nil, fmt.Errorf("signing credential %s roles: %w", c.ID, err)
		}
		if err := decode(claims.String, &c.Claims); err != nil {
			return nil, fmt.Errorf("signing credential %s claims: %w", c.ID, err)
		}
		if err := decode(allowedVersion.String, &c.AllowedVersions); err != nil {
			return nil, fmt.Errorf("signing credential %s versions: %w", c.ID, err)
		}
		c.ExpiresAt = fromUnix(expires)
		c.PastTolerance = seconds(past)
		c.FutureTolerance = seconds(future)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating signing credentials: %w", err)
	}
	return out, nil
}

// CreateKey inserts a hashed API key.
func (s *Store) CreateKey(ctx context.Context, key apikey.StoredKey) (string, error) {
	if key.ID == "" {
		key.ID = storage.NewID()
	}
	roles, err := encode(nonNil(key.Roles))
	if err != nil {
		return "", err
	}
	claims, err := encodeNullable(len(key.Claims) > 0, key.Claims)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, client_id, display_name, key_hash, salt, header_name, roles, claims, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		key.ID, key.ClientID, key.DisplayName, key.KeyHash, key.Salt,
		storage.HeaderOrDefault(key.HeaderName), roles, claims, toUnix(key.ExpiresAt),
	)
	if err != nil {
		if isConstraint(err) {
			return "", storage.ErrConflict
		}
		return "", fmt.Errorf("inserting api key: %w", err)
	}
	return key.ID, nil
}

// CreateCredential inserts a signing credential.
func (s *Store) CreateCredential(ctx context.Context, cred signature.StoredCredential) (string, error) {
	if cred.ID == "" {
		cred.ID = storage.NewID()
	}
	roles, err := encode(nonNil(cred.Roles))
	if err != nil {
		return "", err
	}
	claims, err := encodeNullable(len(cred.Claims) > 0, cred.Claims)
	if err != nil {
		return "", err
	}
	versions, err := encodeNullable(cred.AllowedVersions != nil, cred.AllowedVersions)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO signing_credentials (
			id, client_id, display_name, secret, active, expires_at, roles, claims,
			past_tolerance_seconds, future_tolerance_seconds, allowed_versions
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		cred.ID, cred.ClientID, cred.DisplayName, cred.Secret, cred.Active, toUnix(cred.ExpiresAt),
		roles, claims, toSeconds(cred.PastTolerance), toSeconds(cred.FutureTolerance), versions,
	)
	if err != nil {
		if isConstraint(err) {
			return "", storage.ErrConflict
		}
		return "", fmt.Errorf("inserting signing credential: %w", err)
	}
	return cred.ID, nil
}

// SetCredentialActive toggles a signing credential.
func (s *Store) SetCredentialActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE signing_credentials SET active = ? WHERE id = ?", active, id)
	if err != nil {
		return fmt.Errorf("updating signing credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating signing credential: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// HealthCheck verifies the database file is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func decode(raw string, v any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding column: %w", err)
	}
	return string(b), nil
}

// encodeNullable stores NULL when present is false.
func encodeNullable(present bool, v any) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	s, err := encode(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func toUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func toSeconds(d *time.Duration) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*d / time.Second), Valid: true}
}

func seconds(v sql.NullInt64) *time.Duration {
	if !v.Valid {
		return nil
	}
	d := time.Duration(v.Int64) * time.Second
	return &d
}

// isConstraint reports a primary key or unique violation.
func isConstraint(err error) bool {
	var sqlErr *sqlite.Error
	return errors.As(err, &sqlErr) && sqlErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}
