package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Settings is the singleton install configuration written once through the
// setup endpoint.
type Settings struct {
	Domain       string `db:"application_domain" json:"application_domain"`
	APIToken     string `db:"cloudflare_api_token" json:"-"`
	Email        string `db:"acme_email" json:"acme_email"`
	HTTPSStarted bool   `db:"https_started" json:"https_started"`
}

// GetSettings returns the settings row, or ErrNotFound before install.
func (s *SQLiteStore) GetSettings(ctx context.Context) (*Settings, error) {
	var st Settings
	err := s.db.GetContext(ctx, &st, `
		SELECT application_domain, cloudflare_api_token, acme_email, https_started
		FROM settings WHERE lock_column = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return &st, nil
}

// InsertSettings stores the install settings. The check and the write are a
// single statement, so concurrent installs cannot both succeed; the loser
// gets ErrAlreadySetup.
func (s *SQLiteStore) InsertSettings(ctx context.Context, st Settings) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (lock_column, application_domain, cloudflare_api_token, acme_email, https_started)
		VALUES (1, ?, ?, ?, 0)
		ON CONFLICT (lock_column) DO NOTHING`,
		st.Domain, st.APIToken, st.Email)
	if err != nil {
		return fmt.Errorf("failed to insert settings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert settings: %w", err)
	}
	if n == 0 {
		return ErrAlreadySetup
	}
	return nil
}

// MarkHTTPSStarted records that the secure server has bound at least once.
func (s *SQLiteStore) MarkHTTPSStarted(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `UPDATE settings SET https_started = 1 WHERE lock_column = 1`)
	if err != nil {
		return fmt.Errorf("failed to mark https started: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
