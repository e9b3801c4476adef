package license

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"net/url"
	"strings"
	"time"

	"smliser/internal/errors"
)

// Status is the computed lifecycle state of a license.
type Status string

const (
	StatusActive      Status = "active"
	StatusExpired     Status = "expired"
	StatusRevoked     Status = "revoked"
	StatusSuspended   Status = "suspended"
	StatusDeactivated Status = "deactivated"
)

// ItemRef identifies the licensed package by category and slug.
type ItemRef struct {
	Type string `json:"type"`
	Slug string `json:"slug"`
}

// IsZero reports whether the reference is unset.
func (r ItemRef) IsZero() bool {
	return r.Type == "" && r.Slug == ""
}

func (r ItemRef) String() string {
	return r.Type + "/" + r.Slug
}

// Site records one activated domain.
type Site struct {
	URL         string    `json:"url"`
	Secret      string    `json:"secret"`
	ActivatedAt time.Time `json:"activated_at"`
}

// License is the persisted license record. ActivatedOn is keyed by the
// normalized domain.
type License struct {
	Key               string
	ServiceID         string
	Override          Status // explicit admin override, empty when none
	StartDate         time.Time
	EndDate           time.Time // zero means lifetime
	Item              ItemRef
	MaxAllowedDomains int
	ActivatedOn       map[string]Site
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Status computes the effective state at the given instant. Explicit
// overrides win over date-derived status; an unset end date means the
// license never expires. A set start date with an empty end date is a
// lifetime license, never invalid.
func (l *License) Status(now time.Time) Status {
	switch l.Override {
	case StatusRevoked, StatusSuspended, StatusDeactivated:
		return l.Override
	}
	if l.EndDate.IsZero() {
		return StatusActive
	}
	if dateOnly(l.EndDate).Before(dateOnly(now)) {
		return StatusExpired
	}
	return StatusActive
}

// CanServe is the single authorization gate: it returns nil only when
// the license is active right now and covers the requested item. It is
// re-evaluated on every access and must never be cached across
// requests.
func (l *License) CanServe(item ItemRef, now time.Time) error {
	switch l.Status(now) {
	case StatusRevoked:
		return errors.Newf(errors.CodeLicenseRevoked, "license %s has been revoked", l.Key)
	case StatusSuspended:
		return errors.Newf(errors.CodeLicenseSuspended, "license %s is suspended", l.Key)
	case StatusDeactivated:
		return errors.Newf(errors.CodeLicenseDeactivated, "license %s has been deactivated", l.Key)
	case StatusExpired:
		return errors.Newf(errors.CodeLicenseExpired, "license %s expired on %s", l.Key, l.EndDate.Format("2006-01-02"))
	}
	if l.Item.IsZero() || !strings.EqualFold(l.Item.Type, item.Type) || !strings.EqualFold(l.Item.Slug, item.Slug) {
		return errors.Newf(errors.CodeLicenseItemMismatch, "license %s does not cover %s", l.Key, item)
	}
	return nil
}

// DaysRemaining returns the number of whole days until expiry, -1 for
// lifetime licenses and 0 for licenses already expired.
func (l *License) DaysRemaining(now time.Time) int {
	if l.EndDate.IsZero() {
		return -1
	}
	days := int(dateOnly(l.EndDate).Sub(dateOnly(now)) / (24 * time.Hour))
	if days < 0 {
		return 0
	}
	return days
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NormalizeDomain reduces a site URL to its bare host so that
// "https://a.com/" and "http://a.com" collide to the same activation
// entry. Ports and paths are dropped, the host is lowercased.
func NormalizeDomain(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New(errors.CodeInvalidSlug, "empty domain")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Hostname() == "" {
		return "", errors.Newf(errors.CodeInvalidSlug, "cannot parse domain from %q", raw)
	}
	return strings.ToLower(u.Hostname()), nil
}

// GenerateKey produces a fresh high-entropy license key: five groups
// of five base32 characters, 125 bits of randomness.
func GenerateKey() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate license key: %w", err)
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
	enc = enc[:25]
	groups := make([]string, 0, 5)
	for i := 0; i < 25; i += 5 {
		groups = append(groups, enc[i:i+5])
	}
	return strings.Join(groups, "-"), nil
}
