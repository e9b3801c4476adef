package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smliser/internal/errors"
	"smliser/internal/license"
	"smliser/internal/shared/testutil"
	"smliser/internal/token"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "smliser.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleLicense(key string, maxDomains int) *license.License {
	return testutil.ValidLicense(key, license.ItemRef{Type: "plugins", Slug: "my-plugin"}, maxDomains)
}

func TestLicenseRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	lic := sampleLicense("LK-1", 3)
	require.NoError(t, s.SaveLicense(ctx, lic))

	got, err := s.GetLicense(ctx, "LK-1")
	require.NoError(t, err)
	assert.Equal(t, lic.Key, got.Key)
	assert.Equal(t, lic.ServiceID, got.ServiceID)
	assert.Equal(t, lic.Item, got.Item)
	assert.Equal(t, lic.MaxAllowedDomains, got.MaxAllowedDomains)
	assert.True(t, lic.StartDate.Equal(got.StartDate))
	assert.True(t, got.EndDate.IsZero(), "empty end date must survive as lifetime")
	assert.Empty(t, got.ActivatedOn)

	_, err = s.GetLicense(ctx, "LK-missing")
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestSetOverride(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.SaveLicense(ctx, sampleLicense("LK-1", 1)))

	require.NoError(t, s.SetOverride(ctx, "LK-1", license.StatusSuspended))
	got, err := s.GetLicense(ctx, "LK-1")
	require.NoError(t, err)
	assert.Equal(t, license.StatusSuspended, got.Override)

	require.NoError(t, s.SetOverride(ctx, "LK-1", ""))
	got, err = s.GetLicense(ctx, "LK-1")
	require.NoError(t, err)
	assert.Empty(t, got.Override)

	err = s.SetOverride(ctx, "LK-missing", license.StatusRevoked)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestActivateSite_CapIsEnforcedInOneStatement(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.SaveLicense(ctx, sampleLicense("LK-1", 1)))

	site := func(url string) license.Site {
		return license.Site{URL: url, Secret: "sec", ActivatedAt: time.Now().UTC()}
	}

	require.NoError(t, s.ActivateSite(ctx, "LK-1", "a.com", site("https://a.com")))

	err := s.ActivateSite(ctx, "LK-1", "b.com", site("https://b.com"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeMaxSitesReached, errors.CodeOf(err))

	// Re-activating the registered domain is an upsert, never capped.
	require.NoError(t, s.ActivateSite(ctx, "LK-1", "a.com", site("http://a.com")))
	got, err := s.GetLicense(ctx, "LK-1")
	require.NoError(t, err)
	require.Len(t, got.ActivatedOn, 1)
	assert.Equal(t, "http://a.com", got.ActivatedOn["a.com"].URL)

	// Freeing the slot makes room for the other domain.
	require.NoError(t, s.DeactivateSite(ctx, "LK-1", "a.com"))
	require.NoError(t, s.ActivateSite(ctx, "LK-1", "b.com", site("https://b.com")))

	err = s.ActivateSite(ctx, "LK-missing", "a.com", site("https://a.com"))
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestDeactivateSite_UnknownDomainIsNoError(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.SaveLicense(ctx, sampleLicense("LK-1", 1)))
	assert.NoError(t, s.DeactivateSite(ctx, "LK-1", "never-activated.com"))
}

func TestDeleteLicense_Cascades(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.SaveLicense(ctx, sampleLicense("LK-1", 2)))
	require.NoError(t, s.ActivateSite(ctx, "LK-1", "a.com", license.Site{URL: "https://a.com", Secret: "x", ActivatedAt: time.Now()}))
	require.NoError(t, s.SetLicenseMeta(ctx, "LK-1", "order", map[string]any{"id": "o-77"}))

	require.NoError(t, s.DeleteLicense(ctx, "LK-1"))

	_, err := s.GetLicense(ctx, "LK-1")
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))

	var meta map[string]any
	err = s.GetLicenseMeta(ctx, "LK-1", "order", &meta)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestDeleteLicense_RefusedWhileTokensActive(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.SaveLicense(ctx, sampleLicense("LK-1", 2)))

	item := license.ItemRef{Type: "plugins", Slug: "my-plugin"}
	live := testutil.TokenRecord("smliser_"+string(make64hex()), "LK-1", item, time.Hour)
	require.NoError(t, s.InsertToken(ctx, live))

	err := s.DeleteLicense(ctx, "LK-1")
	require.Error(t, err)
	assert.Equal(t, errors.CodeLicenseInUse, errors.CodeOf(err))

	// Nothing was touched: license and token both survive.
	_, err = s.GetLicense(ctx, "LK-1")
	require.NoError(t, err)
	_, err = s.GetToken(ctx, live.Token)
	require.NoError(t, err)

	// Once the token is gone the deletion goes through.
	require.NoError(t, s.DeleteToken(ctx, live.Token))
	require.NoError(t, s.DeleteLicense(ctx, "LK-1"))
}

func TestDeleteLicense_CascadesExpiredTokens(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.SaveLicense(ctx, sampleLicense("LK-1", 2)))

	item := license.ItemRef{Type: "plugins", Slug: "my-plugin"}
	stale := testutil.TokenRecord("smliser_"+string(make64hex()), "LK-1", item, -time.Hour)
	require.NoError(t, s.InsertToken(ctx, stale))

	require.NoError(t, s.DeleteLicense(ctx, "LK-1"))
	_, err := s.GetToken(ctx, stale.Token)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestGetLicense_CorruptEndDateIsAnError(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	lic := sampleLicense("LK-1", 1)
	lic.EndDate = time.Now().UTC().AddDate(0, 0, -30)
	require.NoError(t, s.SaveLicense(ctx, lic))

	_, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET end_date = 'corrupt!' WHERE license_key = ?`, "LK-1")
	require.NoError(t, err)

	_, err = s.GetLicense(ctx, "LK-1")
	require.Error(t, err)
	assert.Equal(t, errors.CodeStoreCorrupt, errors.CodeOf(err))
}

func TestActivateSite_ReactivationSurvivesLoweredCap(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.SaveLicense(ctx, sampleLicense("LK-1", 2)))

	site := func(url string) license.Site {
		return license.Site{URL: url, Secret: "sec", ActivatedAt: time.Now().UTC()}
	}
	require.NoError(t, s.ActivateSite(ctx, "LK-1", "a.com", site("https://a.com")))
	require.NoError(t, s.ActivateSite(ctx, "LK-1", "b.com", site("https://b.com")))

	_, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET max_allowed_domains = 1 WHERE license_key = ?`, "LK-1")
	require.NoError(t, err)

	// Existing domains keep re-activating; only new ones hit the cap.
	require.NoError(t, s.ActivateSite(ctx, "LK-1", "a.com", site("http://a.com")))
	require.NoError(t, s.ActivateSite(ctx, "LK-1", "b.com", site("http://b.com")))
	err = s.ActivateSite(ctx, "LK-1", "c.com", site("https://c.com"))
	assert.Equal(t, errors.CodeMaxSitesReached, errors.CodeOf(err))
}

func TestLicenseMeta_TypedRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.SaveLicense(ctx, sampleLicense("LK-1", 1)))

	type orderInfo struct {
		ID    string `json:"id"`
		Total int    `json:"total"`
	}
	require.NoError(t, s.SetLicenseMeta(ctx, "LK-1", "order", orderInfo{ID: "o-1", Total: 42}))

	var got orderInfo
	require.NoError(t, s.GetLicenseMeta(ctx, "LK-1", "order", &got))
	assert.Equal(t, orderInfo{ID: "o-1", Total: 42}, got)

	// Overwrite replaces the value.
	require.NoError(t, s.SetLicenseMeta(ctx, "LK-1", "order", orderInfo{ID: "o-2", Total: 7}))
	require.NoError(t, s.GetLicenseMeta(ctx, "LK-1", "order", &got))
	assert.Equal(t, "o-2", got.ID)
}

func TestTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rec := testutil.TokenRecord("smliser_"+string(make64hex()), "LK-1",
		license.ItemRef{Type: "plugins", Slug: "my-plugin"}, time.Hour)
	require.NoError(t, s.InsertToken(ctx, rec))

	got, err := s.GetToken(ctx, rec.Token)
	require.NoError(t, err)
	assert.Equal(t, rec.LicenseKey, got.LicenseKey)
	assert.Equal(t, rec.Item, got.Item)
	assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))

	require.NoError(t, s.DeleteToken(ctx, rec.Token))
	_, err = s.GetToken(ctx, rec.Token)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))

	// Idempotent delete.
	assert.NoError(t, s.DeleteToken(ctx, rec.Token))
}

func TestDeleteExpiredTokens(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now().UTC()

	insert := func(tok string, expires time.Time) {
		require.NoError(t, s.InsertToken(ctx, &token.Record{
			Token: tok, LicenseKey: "LK-1",
			Item:      license.ItemRef{Type: "plugins", Slug: "p"},
			Signature: "sig", ExpiresAt: expires, CreatedAt: now,
		}))
	}
	insert("smliser_old1", now.Add(-time.Hour))
	insert("smliser_old2", now.Add(-time.Minute))
	insert("smliser_live", now.Add(time.Hour))

	n, err := s.DeleteExpiredTokens(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.GetToken(ctx, "smliser_live")
	assert.NoError(t, err)
}

func TestSweepLease(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	ok, err := s.AcquireLease(ctx, "token-sweep", "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// A live lease blocks other owners.
	ok, err = s.AcquireLease(ctx, "token-sweep", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// The holder can refresh its own lease.
	ok, err = s.AcquireLease(ctx, "token-sweep", "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// An expired lease can be taken over.
	ok, err = s.AcquireLease(ctx, "stale-sweep", "owner-a", -time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.AcquireLease(ctx, "stale-sweep", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// Release only works for the current owner.
	require.NoError(t, s.ReleaseLease(ctx, "token-sweep", "owner-b"))
	ok, err = s.AcquireLease(ctx, "token-sweep", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lease is still held by owner-a")

	require.NoError(t, s.ReleaseLease(ctx, "token-sweep", "owner-a"))
	ok, err = s.AcquireLease(ctx, "token-sweep", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func make64hex() []byte {
	out := make([]byte, 64)
	for i := range out {
		out[i] = 'a'
	}
	return out
}
