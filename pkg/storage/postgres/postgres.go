// Package postgres provides a PostgreSQL credential store.
// It uses pgx/v5 for connection pooling and JSONB for credential claims.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/credgate/pkg/auth"
	"github.com/rhuss/credgate/pkg/auth/apikey"
	"github.com/rhuss/credgate/pkg/auth/signature"
	"github.com/rhuss/credgate/pkg/debug"
	"github.com/rhuss/credgate/pkg/storage"
)

// Store is a PostgreSQL-backed storage.Backend.
type Store struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
	clientHeader string
}

// Ensure Store implements storage.Backend at compile time.
var _ storage.Backend = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool, queryTimeout: cfg.QueryTimeout, clientHeader: cfg.ClientHeader}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

const keyColumns = `id, client_id, display_name, key_hash, salt, header_name, roles, claims, expires_at`

// FindKeys returns the keys accepted in lc.HeaderName, narrowed to the
// claimed client when the request names one.
func (s *Store) FindKeys(ctx context.Context, lc auth.LookupContext) ([]apikey.StoredKey, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := `SELECT ` + keyColumns + ` FROM api_keys WHERE lower(header_name) = lower($1)`
	args := []any{lc.HeaderName}
	if client := storage.ClientHint(lc, s.clientHeader); client != "" {
		query += " AND client_id = $2"
		args = append(args, client)
	}
	query += " ORDER BY created_at, id"

	debug.Trace("storage", "query", "store", "postgres", "table", "api_keys", "narrowed", len(args) > 1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying api keys: %w", err)
	}
	defer rows.Close()

	var out []apikey.StoredKey
	for rows.Next() {
		var k apikey.StoredKey
		var claims []byte
		if err := rows.Scan(&k.ID, &k.ClientID, &k.DisplayName, &k.KeyHash, &k.Salt,
			&k.HeaderName, &k.Roles, &claims, &k.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scanning api key: %w", err)
		}
		if k.Claims, err = decodeClaims(claims); err != nil {
			return nil, fmt.Errorf("api key %s: %w", k.ID, err)
		}
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

	rows, err := s.pool.Query(ctx, `
		SELECT id, client_id, display_name, secret, active, expires_at, roles, claims,
		       past_tolerance_seconds, future_tolerance_seconds, allowed_versions
		FROM signing_credentials
		WHERE client_id = $1
		ORDER BY created_at, id
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("querying signing credentials: %w", err)
	}
	defer rows.Close()

	var out []signature.StoredCredential
	for rows.Next() {
		var c signature.StoredCredential
		var claims []byte
		var past, future *int32
		if err := rows.Scan(&c.ID, &c.ClientID, &c.DisplayName, &c.Secret, &c.Active,
			&c.ExpiresAt, &c.Roles, &claims, &past, &future, &c.AllowedVersions); err != nil {
			return nil, fmt.Errorf("scanning signing credential: %w", err)
		}
		if c.Claims, err = decodeClaims(claims); err != nil {
			return nil, fmt.Errorf("signing credential %s: %w", c.ID, err)
		}
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
	claims, err := encodeClaims(key.Claims)
	if err != nil {
		return "", err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO api_keys (id, client_id, display_name, key_hash, salt, header_name, roles, claims, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		key.ID, key.ClientID, key.DisplayName, key.KeyHash, key.Salt,
		storage.HeaderOrDefault(key.HeaderName), nonNil(key.Roles), claims, key.ExpiresAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
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
	claims, err := encodeClaims(cred.Claims)
	if err != nil {
		return "", err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO signing_credentials (
			id, client_id, display_name, secret, active, expires_at, roles, claims,
			past_tolerance_seconds, future_tolerance_seconds, allowed_versions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		cred.ID, cred.ClientID, cred.DisplayName, cred.Secret, cred.Active, cred.ExpiresAt,
		nonNil(cred.Roles), claims,
		toSeconds(cred.PastTolerance), toSeconds(cred.FutureTolerance), cred.AllowedVersions,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return "", storage.ErrConflict
		}
		return "", fmt.Errorf("inserting signing credential: %w", err)
	}
	return cred.ID, nil
}

// SetCredentialActive toggles a signing credential.
func (s *Store) SetCredentialActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx, "UPDATE signing_credentials SET active = $1 WHERE id = $2", active, id)
	if err != nil {
		return fmt.Errorf("updating signing credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func decodeClaims(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var claims map[string]string
	if err := json.Unmarshal(b, &claims); err != nil {
		return nil, fmt.Errorf("decoding claims: %w", err)
	}
	return claims, nil
}

// encodeClaims returns nil for empty claims so the column stays NULL.
func encodeClaims(claims map[string]string) ([]byte, error) {
	if len(claims) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("encoding claims: %w", err)
	}
	return b, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func seconds(v *int32) *time.Duration {
	if v == nil {
		return nil
	}
	d := time.Duration(*v) * time.Second
	return &d
}

func toSeconds(d *time.Duration) *int32 {
	if d == nil {
		return nil
	}
	v := int32(*d / time.Second)
	return &v
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
