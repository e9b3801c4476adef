package store

import (
	"context"
	"fmt"
	"time"
)

// AcquireLease takes or refreshes the named lease for owner. It
// returns false when another live owner holds the lease. The check and
// the take happen in one conditional upsert, so there is no
// read-then-write window — this is the replacement for an in-process
// "already running" flag.
func (s *Store) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sweep_lease (name, owner, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			owner = excluded.owner,
			expires_at = excluded.expires_at
		WHERE sweep_lease.expires_at <= ? OR sweep_lease.owner = excluded.owner`,
		name, owner, now.Add(ttl).Unix(), now.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %q: %w", name, err)
	}
	return n > 0, nil
}

// ReleaseLease frees the lease, but only for its current owner.
func (s *Store) ReleaseLease(ctx context.Context, name, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sweep_lease WHERE name = ? AND owner = ?`, name, owner)
	if err != nil {
		return fmt.Errorf("failed to release lease %q: %w", name, err)
	}
	return nil
}
