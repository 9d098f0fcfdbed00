package state

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// blockQuery matches when any of the candidate names belongs to a domain
// group that is applied to a client group the client is a member of.
const blockQuery = `
	SELECT EXISTS (
		SELECT 1
		FROM client_group_member cgm
		JOIN groups_applied ga ON ga.client_group_name = cgm.group_name
		JOIN domain_group_member dgm ON dgm.group_name = ga.domain_group_name
		WHERE cgm.client_name = ? AND dgm.domain_name IN (?)
	)`

// IsBlocked reports whether client may not resolve domain. The domain and
// every ancestor of it are checked, so classifying a parent domain covers
// its subdomains. A domain in no applied group is allowed.
func (s *SQLiteStore) IsBlocked(ctx context.Context, client, domain string) (bool, error) {
	names := Ancestors(domain)
	if len(names) == 0 {
		return false, nil
	}

	query, args, err := sqlx.In(blockQuery, client, names)
	if err != nil {
		return false, fmt.Errorf("failed to build policy query: %w", err)
	}

	var blocked bool
	if err := s.db.GetContext(ctx, &blocked, s.db.Rebind(query), args...); err != nil {
		return false, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	return blocked, nil
}

// CreateClientGroup adds a client group if it does not exist.
func (s *SQLiteStore) CreateClientGroup(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO client_groups (name) VALUES (?) ON CONFLICT DO NOTHING`, name)
	return err
}

// CreateDomainGroup adds a domain group if it does not exist.
func (s *SQLiteStore) CreateDomainGroup(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO domain_groups (name) VALUES (?) ON CONFLICT DO NOTHING`, name)
	return err
}

// AddClientToGroup puts a client into a client group.
func (s *SQLiteStore) AddClientToGroup(ctx context.Context, client, group string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_group_member (client_name, group_name) VALUES (?, ?)
		ON CONFLICT DO NOTHING`, client, group)
	return err
}

// AddDomainToGroup classifies a domain. manual marks administrator overrides.
func (s *SQLiteStore) AddDomainToGroup(ctx context.Context, domain, group string, manual bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO domain_group_member (domain_name, group_name, manually_set) VALUES (?, ?, ?)
		ON CONFLICT (domain_name, group_name) DO UPDATE SET manually_set = excluded.manually_set`,
		CanonicalName(domain), group, manual)
	return err
}

// ApplyGroup makes the domain group's rule part of the client group's policy.
func (s *SQLiteStore) ApplyGroup(ctx context.Context, clientGroup, domainGroup string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO groups_applied (client_group_name, domain_group_name) VALUES (?, ?)
		ON CONFLICT DO NOTHING`, clientGroup, domainGroup)
	return err
}
