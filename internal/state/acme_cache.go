package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/acme/autocert"
)

// ACMECache adapts the acme_persist table to the autocert.Cache contract
// used for ACME account keys, order URLs and issued certificates.
type ACMECache struct {
	store *SQLiteStore
}

var _ autocert.Cache = (*ACMECache)(nil)

// ACMECache returns the key/value cache backed by this store.
func (s *SQLiteStore) ACMECache() *ACMECache {
	return &ACMECache{store: s}
}

// Get returns the value for key or autocert.ErrCacheMiss.
func (c *ACMECache) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := c.store.db.GetContext(ctx, &value, `SELECT acme_value FROM acme_persist WHERE acme_key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, autocert.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read acme entry %s: %w", key, err)
	}
	return value, nil
}

// Put upserts the value for key.
func (c *ACMECache) Put(ctx context.Context, key string, data []byte) error {
	_, err := c.store.db.ExecContext(ctx, `
		INSERT INTO acme_persist (acme_key, acme_value) VALUES (?, ?)
		ON CONFLICT (acme_key) DO UPDATE SET acme_value = excluded.acme_value`, key, data)
	if err != nil {
		return fmt.Errorf("failed to write acme entry %s: %w", key, err)
	}
	return nil
}

// Delete removes key. The provisioner never calls it; it exists to satisfy
// the cache contract for administrative tooling.
func (c *ACMECache) Delete(ctx context.Context, key string) error {
	_, err := c.store.db.ExecContext(ctx, `DELETE FROM acme_persist WHERE acme_key = ?`, key)
	return err
}
