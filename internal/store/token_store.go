package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"smliser/internal/errors"
	"smliser/internal/token"
)

// InsertToken persists a freshly issued token record.
func (s *Store) InsertToken(ctx context.Context, rec *token.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO download_tokens (token, license_key, item_type, item_slug, signature, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Token, rec.LicenseKey, rec.Item.Type, rec.Item.Slug, rec.Signature,
		rec.ExpiresAt.Unix(), rec.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to store download token: %w", err)
	}
	return nil
}

// GetToken loads a token record by its exact value.
func (s *Store) GetToken(ctx context.Context, tok string) (*token.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, license_key, item_type, item_slug, signature, expires_at, created_at
		FROM download_tokens WHERE token = ?`, tok)

	var (
		rec                 token.Record
		expiresAt, createdAt int64
	)
	err := row.Scan(&rec.Token, &rec.LicenseKey, &rec.Item.Type, &rec.Item.Slug,
		&rec.Signature, &expiresAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.CodeNotFound, "download token not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load download token: %w", err)
	}
	rec.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &rec, nil
}

// DeleteToken removes a token. Deleting an unknown token is not an
// error, so rejected-token cleanup stays idempotent.
func (s *Store) DeleteToken(ctx context.Context, tok string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM download_tokens WHERE token = ?`, tok)
	if err != nil {
		return fmt.Errorf("failed to delete download token: %w", err)
	}
	return nil
}

// DeleteExpiredTokens removes every token past its expiry.
func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM download_tokens WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired tokens: %w", err)
	}
	return int(n), nil
}

var _ token.Store = (*Store)(nil)
