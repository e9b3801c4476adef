package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"smliser/internal/errors"
	"smliser/internal/license"
)

const dateFormat = time.RFC3339

// GetLicense loads a license row together with its site activations.
func (s *Store) GetLicense(ctx context.Context, key string) (*license.License, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT license_key, service_id, override, start_date, end_date,
		       item_type, item_slug, max_allowed_domains, created_at, updated_at
		FROM licenses WHERE license_key = ?`, key)

	var (
		lic                                    license.License
		override                               string
		startDate, endDate, createdAt, updated string
	)
	err := row.Scan(&lic.Key, &lic.ServiceID, &override, &startDate, &endDate,
		&lic.Item.Type, &lic.Item.Slug, &lic.MaxAllowedDomains, &createdAt, &updated)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.CodeNotFound, "license %s not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load license: %w", err)
	}

	lic.Override = license.Status(override)
	if lic.StartDate, err = parseDate(startDate); err != nil {
		return nil, corruptField(key, "start_date", err)
	}
	if lic.EndDate, err = parseDate(endDate); err != nil {
		return nil, corruptField(key, "end_date", err)
	}
	if lic.CreatedAt, err = parseDate(createdAt); err != nil {
		return nil, corruptField(key, "created_at", err)
	}
	if lic.UpdatedAt, err = parseDate(updated); err != nil {
		return nil, corruptField(key, "updated_at", err)
	}

	sites, err := s.loadSites(ctx, key)
	if err != nil {
		return nil, err
	}
	lic.ActivatedOn = sites
	return &lic, nil
}

// SaveLicense inserts a new license row.
func (s *Store) SaveLicense(ctx context.Context, l *license.License) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO licenses (license_key, service_id, override, start_date, end_date,
		                      item_type, item_slug, max_allowed_domains, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.Key, l.ServiceID, string(l.Override), formatDate(l.StartDate), formatDate(l.EndDate),
		l.Item.Type, l.Item.Slug, l.MaxAllowedDomains, formatDate(l.CreatedAt), formatDate(l.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save license: %w", err)
	}
	return nil
}

// SetOverride updates the explicit status override.
func (s *Store) SetOverride(ctx context.Context, key string, override license.Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE licenses SET override = ?, updated_at = ? WHERE license_key = ?`,
		string(override), formatDate(time.Now().UTC()), key)
	if err != nil {
		return fmt.Errorf("failed to update license override: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(errors.CodeNotFound, "license %s not found", key)
	}
	return nil
}

// ActivateSite upserts the activation for (key, domain). The site cap
// is enforced inside the statement itself: the insert only happens when
// the number of other activated domains is below max_allowed_domains,
// so two concurrent activations cannot both squeeze past the cap. An
// already-registered domain bypasses the cap check entirely, so
// re-activation stays allowed even after the cap was lowered below the
// current activation count.
func (s *Store) ActivateSite(ctx context.Context, key, domain string, site license.Site) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO license_sites (license_key, domain, site_url, secret, activated_at)
		SELECT ?1, ?2, ?3, ?4, ?5
		WHERE (SELECT COUNT(*) FROM license_sites WHERE license_key = ?1 AND domain <> ?2)
		      < (SELECT max_allowed_domains FROM licenses WHERE license_key = ?1)
		   OR EXISTS(SELECT 1 FROM license_sites WHERE license_key = ?1 AND domain = ?2)
		ON CONFLICT(license_key, domain) DO UPDATE SET
			site_url = excluded.site_url,
			secret = excluded.secret`,
		key, domain, site.URL, site.Secret, formatDate(site.ActivatedAt))
	if err != nil {
		return fmt.Errorf("failed to activate site: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to activate site: %w", err)
	}
	if n == 0 {
		var maxDomains int
		err := s.db.QueryRowContext(ctx,
			`SELECT max_allowed_domains FROM licenses WHERE license_key = ?`, key).Scan(&maxDomains)
		if err == sql.ErrNoRows {
			return errors.Newf(errors.CodeNotFound, "license %s not found", key)
		}
		if err != nil {
			return fmt.Errorf("failed to activate site: %w", err)
		}
		return errors.Newf(errors.CodeMaxSitesReached, "license %s already uses all %d site slots", key, maxDomains)
	}
	return nil
}

// DeactivateSite removes the activation unconditionally. Removing an
// unknown domain is not an error.
func (s *Store) DeactivateSite(ctx context.Context, key, domain string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM license_sites WHERE license_key = ? AND domain = ?`, key, domain)
	if err != nil {
		return fmt.Errorf("failed to deactivate site: %w", err)
	}
	return nil
}

// DeleteLicense removes the license row and cascades to its metadata,
// site activations and leftover expired tokens. A license that is still
// referenced by an unexpired download token is never deleted; the
// caller has to revoke or wait out those tokens first.
func (s *Store) DeleteLicense(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to delete license: %w", err)
	}
	defer tx.Rollback()

	var active int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM download_tokens WHERE license_key = ? AND expires_at > ?`,
		key, time.Now().Unix()).Scan(&active)
	if err != nil {
		return fmt.Errorf("failed to delete license: %w", err)
	}
	if active > 0 {
		return errors.Newf(errors.CodeLicenseInUse,
			"license %s still has %d active download tokens", key, active)
	}

	for _, stmt := range []string{
		`DELETE FROM download_tokens WHERE license_key = ?`,
		`DELETE FROM license_sites WHERE license_key = ?`,
		`DELETE FROM license_meta WHERE license_key = ?`,
		`DELETE FROM licenses WHERE license_key = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, key); err != nil {
			return fmt.Errorf("failed to delete license: %w", err)
		}
	}
	return tx.Commit()
}

// SetLicenseMeta stores a typed metadata value as JSON under
// (key, metaKey).
func (s *Store) SetLicenseMeta(ctx context.Context, key, metaKey string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode license meta %q: %w", metaKey, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO license_meta (license_key, meta_key, meta_value)
		VALUES (?, ?, ?)
		ON CONFLICT(license_key, meta_key) DO UPDATE SET meta_value = excluded.meta_value`,
		key, metaKey, string(data))
	if err != nil {
		return fmt.Errorf("failed to store license meta %q: %w", metaKey, err)
	}
	return nil
}

// GetLicenseMeta decodes the JSON metadata value into dest.
func (s *Store) GetLicenseMeta(ctx context.Context, key, metaKey string, dest any) error {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT meta_value FROM license_meta WHERE license_key = ? AND meta_key = ?`,
		key, metaKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return errors.Newf(errors.CodeNotFound, "license %s has no meta %q", key, metaKey)
	}
	if err != nil {
		return fmt.Errorf("failed to load license meta %q: %w", metaKey, err)
	}
	return json.Unmarshal([]byte(raw), dest)
}

func (s *Store) loadSites(ctx context.Context, key string) (map[string]license.Site, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, site_url, secret, activated_at
		FROM license_sites WHERE license_key = ?`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load activated sites: %w", err)
	}
	defer rows.Close()

	sites := map[string]license.Site{}
	for rows.Next() {
		var (
			domain, activatedAt string
			site                license.Site
		)
		if err := rows.Scan(&domain, &site.URL, &site.Secret, &activatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activated site: %w", err)
		}
		if site.ActivatedAt, err = parseDate(activatedAt); err != nil {
			return nil, corruptField(key, "activated_at", err)
		}
		sites[domain] = site
	}
	return sites, rows.Err()
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateFormat)
}

// parseDate reads a stored timestamp. Only the empty string maps to the
// zero time; anything else that fails to parse is surfaced as an error,
// because a zero EndDate means "lifetime license" and a corrupt row must
// not silently widen the grant.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateFormat, s)
}

func corruptField(key, field string, err error) error {
	return errors.Wrap(errors.CodeStoreCorrupt,
		fmt.Sprintf("license %s has an unreadable %s", key, field), err)
}

var _ license.Store = (*Store)(nil)
