// Package testutil provides shared fixtures for license and token
// tests.
package testutil

import (
	"time"

	"smliser/internal/license"
	"smliser/internal/token"
)

// ValidLicense returns an active lifetime license covering the given
// item with the given site capacity.
func ValidLicense(key string, item license.ItemRef, maxDomains int) *license.License {
	now := time.Now().UTC().Truncate(time.Second)
	return &license.License{
		Key:               key,
		ServiceID:         "svc-test",
		Item:              item,
		MaxAllowedDomains: maxDomains,
		StartDate:         now.AddDate(0, -1, 0),
		ActivatedOn:       map[string]license.Site{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// ExpiredLicense returns a license whose end date passed ten days ago.
func ExpiredLicense(key string, item license.ItemRef) *license.License {
	lic := ValidLicense(key, item, 1)
	lic.StartDate = time.Now().UTC().AddDate(0, -2, 0)
	lic.EndDate = time.Now().UTC().AddDate(0, 0, -10)
	return lic
}

// RevokedLicense returns a license with the revoked override set even
// though its dates are still valid.
func RevokedLicense(key string, item license.ItemRef) *license.License {
	lic := ValidLicense(key, item, 1)
	lic.EndDate = time.Now().UTC().AddDate(1, 0, 0)
	lic.Override = license.StatusRevoked
	return lic
}

// TokenRecord returns a well-formed token row bound to the license.
func TokenRecord(tok, licenseKey string, item license.ItemRef, ttl time.Duration) *token.Record {
	now := time.Now().UTC().Truncate(time.Second)
	return &token.Record{
		Token:      tok,
		LicenseKey: licenseKey,
		Item:       item,
		Signature:  "test-signature",
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
}
