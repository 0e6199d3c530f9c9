package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rhuss/credgate/pkg/auth/apikey"
	"github.com/rhuss/credgate/pkg/auth/signature"
	"github.com/rhuss/credgate/pkg/auth/validator"
	"github.com/rhuss/credgate/pkg/config"
	"github.com/rhuss/credgate/pkg/storage"
	"github.com/rhuss/credgate/pkg/storage/factory"
)

func runAPIKey(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("apikey", out)
	clientID := fs.String("client-id", "", "client id the key belongs to (required)")
	name := fs.String("name", "", "display name")
	header := fs.String("header", "", "header the key is accepted in (default X-Api-Key)")
	roles := fs.StringSlice("role", nil, "role to grant (repeatable)")
	size := fs.Int("bytes", 32, "random bytes in the key")
	ttl := fs.Duration("expires-in", 0, "expiry relative to now (0 means never)")
	configPath := fs.String("config", "", "write the key to the store configured in this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *clientID == "" {
		return fmt.Errorf("--client-id is required")
	}

	key, err := validator.GenerateKey(*size)
	if err != nil {
		return err
	}
	hash, salt, err := validator.HashKey(key, "")
	if err != nil {
		return err
	}

	stored := apikey.StoredKey{
		ID:          storage.NewID(),
		ClientID:    *clientID,
		DisplayName: *name,
		KeyHash:     hash,
		Salt:        salt,
		HeaderName:  storage.HeaderOrDefault(*header),
		Roles:       *roles,
		ExpiresAt:   expiry(*ttl),
	}

	if *configPath != "" {
		err := withBackend(ctx, *configPath, func(b storage.Backend) error {
			_, err := b.CreateKey(ctx, stored)
			return err
		})
		if err != nil {
			return fmt.Errorf("storing api key: %w", err)
		}
	}

	fmt.Fprintf(out, "id:        %s\n", stored.ID)
	fmt.Fprintf(out, "client_id: %s\n", stored.ClientID)
	fmt.Fprintf(out, "header:    %s\n", stored.HeaderName)
	fmt.Fprintf(out, "key:       %s\n", key)
	fmt.Fprintf(out, "key_hash:  %s\n", hash)
	fmt.Fprintf(out, "salt:      %s\n", salt)
	if stored.ExpiresAt != nil {
		fmt.Fprintf(out, "expires:   %s\n", stored.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func runSigning(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("signing", out)
	clientID := fs.String("client-id", "", "client id the secret belongs to (required)")
	name := fs.String("name", "", "display name")
	roles := fs.StringSlice("role", nil, "role to grant (repeatable)")
	size := fs.Int("bytes", 32, "random bytes in the secret")
	ttl := fs.Duration("expires-in", 0, "expiry relative to now (0 means never)")
	configPath := fs.String("config", "", "write the credential to the store configured in this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *clientID == "" {
		return fmt.Errorf("--client-id is required")
	}

	secret, err := validator.GenerateKey(*size)
	if err != nil {
		return err
	}
	cred := signature.StoredCredential{
		ID:          storage.NewID(),
		ClientID:    *clientID,
		DisplayName: *name,
		Secret:      secret,
		Active:      true,
		Roles:       *roles,
		ExpiresAt:   expiry(*ttl),
	}

	if *configPath != "" {
		err := withBackend(ctx, *configPath, func(b storage.Backend) error {
			_, err := b.CreateCredential(ctx, cred)
			return err
		})
		if err != nil {
			return fmt.Errorf("storing signing credential: %w", err)
		}
	}

	fmt.Fprintf(out, "id:        %s\n", cred.ID)
	fmt.Fprintf(out, "client_id: %s\n", cred.ClientID)
	fmt.Fprintf(out, "secret:    %s\n", secret)
	return nil
}

func runDeactivate(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("deactivate", out)
	id := fs.String("id", "", "signing credential id (required)")
	configPath := fs.String("config", "", "config file naming the store (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" || *configPath == "" {
		return fmt.Errorf("--id and --config are required")
	}

	err := withBackend(ctx, *configPath, func(b storage.Backend) error {
		return b.SetCredentialActive(ctx, *id, false)
	})
	if err != nil {
		return fmt.Errorf("deactivating %s: %w", *id, err)
	}
	fmt.Fprintf(out, "deactivated %s\n", *id)
	return nil
}

func runSign(_ context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("sign", out)
	clientID := fs.String("client-id", "", "client id (required)")
	secret := fs.String("secret", "", "signing secret (required)")
	method := fs.String("method", http.MethodGet, "request method, upper-cased before signing")
	path := fs.String("path", "/", "request path")
	body := fs.String("body", "", "request body")
	at := fs.Int64("timestamp", 0, "unix timestamp to sign with (default now)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *clientID == "" || *secret == "" {
		return fmt.Errorf("--client-id and --secret are required")
	}
	if !strings.HasPrefix(*path, "/") {
		return fmt.Errorf("--path must start with /")
	}

	req, err := http.NewRequest(strings.ToUpper(*method), "http://localhost"+*path, bytes.NewBufferString(*body))
	if err != nil {
		return err
	}
	now := time.Now()
	if *at != 0 {
		now = time.Unix(*at, 0)
	}
	if err := signature.Sign(req, *clientID, *secret, now); err != nil {
		return err
	}

	for _, h := range []string{signature.DefaultHeaders().ClientID, signature.DefaultHeaders().Timestamp, signature.DefaultHeaders().Signature} {
		fmt.Fprintf(out, "%s: %s\n", h, req.Header.Get(h))
	}
	return nil
}

// withBackend opens the store configured in path, runs fn and closes it.
func withBackend(ctx context.Context, path string, fn func(storage.Backend) error) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	b, err := factory.Open(ctx, cfg.Storage, cfg.Auth.Headers.ClientID)
	if err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("%s configures no persistent store", path)
	}
	defer b.Close()
	return fn(b)
}

func expiry(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := time.Now().Add(ttl).UTC().Truncate(time.Second)
	return &t
}
