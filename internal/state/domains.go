package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// KnownDomain is one row of the lookup history.
type KnownDomain struct {
	Name       string    `db:"name" json:"name"`
	LastSeen   time.Time `db:"last_seen" json:"last_seen"`
	LastClient string    `db:"last_client" json:"last_client"`
}

// CanonicalName lowercases a domain name and makes it fully qualified.
func CanonicalName(name string) string {
	return dns.CanonicalName(name)
}

// Ancestors returns name followed by each parent obtained by stripping one
// label at a time. The root is never included.
//
//	Ancestors("a.example.org.") => ["a.example.org.", "example.org.", "org."]
func Ancestors(name string) []string {
	name = CanonicalName(name)
	offsets := dns.Split(name)
	out := make([]string, 0, len(offsets))
	for _, off := range offsets {
		out = append(out, name[off:])
	}
	return out
}

// LogDomain records a lookup of name by client. The most specific ancestor
// of name that is already known absorbs the observation; if none is known
// the full name is inserted. The walk and the write share one transaction.
// It returns the name that was updated.
func (s *SQLiteStore) LogDomain(ctx context.Context, name string, client netip.Addr) (string, error) {
	candidates := Ancestors(name)
	if len(candidates) == 0 {
		return "", fmt.Errorf("cannot log root domain")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	resolved := candidates[0]
	for _, candidate := range candidates {
		var found int
		err := tx.GetContext(ctx, &found, `SELECT 1 FROM known_domains WHERE name = ?`, candidate)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to look up %s: %w", candidate, err)
		}
		resolved = candidate
		break
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO known_domains (name, last_seen, last_client) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			last_seen = excluded.last_seen,
			last_client = excluded.last_client`,
		resolved, s.clock.Now().UTC(), client.String())
	if err != nil {
		return "", fmt.Errorf("failed to upsert %s: %w", resolved, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return resolved, nil
}

// GetKnownDomain returns one known domain.
func (s *SQLiteStore) GetKnownDomain(ctx context.Context, name string) (*KnownDomain, error) {
	var d KnownDomain
	err := s.db.GetContext(ctx, &d,
		`SELECT name, last_seen, last_client FROM known_domains WHERE name = ?`, CanonicalName(name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read domain: %w", err)
	}
	return &d, nil
}

// ListKnownDomains returns every known domain ordered by name.
func (s *SQLiteStore) ListKnownDomains(ctx context.Context) ([]KnownDomain, error) {
	var out []KnownDomain
	if err := s.db.SelectContext(ctx, &out,
		`SELECT name, last_seen, last_client FROM known_domains ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}
	return out, nil
}
