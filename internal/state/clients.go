package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Client is a device seen querying the resolver. Name is the resolved
// hostname, or the hardware address when no hostname is known.
type Client struct {
	Name     string    `db:"name" json:"name"`
	IP       string    `db:"ip" json:"ip"`
	MAC      string    `db:"mac" json:"mac"`
	LastSeen time.Time `db:"last_seen" json:"last_seen"`
}

// UpsertClient inserts the client or refreshes its address fields.
func (s *SQLiteStore) UpsertClient(ctx context.Context, c Client) error {
	if c.Name == "" {
		return fmt.Errorf("client name is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (name, ip, mac, last_seen) VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			ip = excluded.ip,
			mac = excluded.mac,
			last_seen = excluded.last_seen`,
		c.Name, c.IP, c.MAC, s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert client %s: %w", c.Name, err)
	}
	return nil
}

// GetClient returns a client by name.
func (s *SQLiteStore) GetClient(ctx context.Context, name string) (*Client, error) {
	var c Client
	err := s.db.GetContext(ctx, &c, `SELECT name, ip, mac, last_seen FROM clients WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read client: %w", err)
	}
	return &c, nil
}
