package license

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smliser/internal/errors"
)

// fakeStore implements Store in memory with the same atomic
// cap-checking contract the SQL store provides.
type fakeStore struct {
	licenses map[string]*License
}

func newFakeStore() *fakeStore {
	return &fakeStore{licenses: map[string]*License{}}
}

func (f *fakeStore) GetLicense(_ context.Context, key string) (*License, error) {
	lic, ok := f.licenses[key]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "license %s not found", key)
	}
	return lic, nil
}

func (f *fakeStore) SaveLicense(_ context.Context, l *License) error {
	if l.ActivatedOn == nil {
		l.ActivatedOn = map[string]Site{}
	}
	f.licenses[l.Key] = l
	return nil
}

func (f *fakeStore) SetOverride(_ context.Context, key string, override Status) error {
	lic, ok := f.licenses[key]
	if !ok {
		return errors.Newf(errors.CodeNotFound, "license %s not found", key)
	}
	lic.Override = override
	return nil
}

func (f *fakeStore) ActivateSite(_ context.Context, key, domain string, site Site) error {
	lic, ok := f.licenses[key]
	if !ok {
		return errors.Newf(errors.CodeNotFound, "license %s not found", key)
	}
	if _, exists := lic.ActivatedOn[domain]; !exists && len(lic.ActivatedOn) >= lic.MaxAllowedDomains {
		return errors.Newf(errors.CodeMaxSitesReached, "license %s already has %d sites", key, len(lic.ActivatedOn))
	}
	lic.ActivatedOn[domain] = site
	return nil
}

func (f *fakeStore) DeactivateSite(_ context.Context, key, domain string) error {
	lic, ok := f.licenses[key]
	if !ok {
		return errors.Newf(errors.CodeNotFound, "license %s not found", key)
	}
	delete(lic.ActivatedOn, domain)
	return nil
}

func (f *fakeStore) DeleteLicense(_ context.Context, key string) error {
	delete(f.licenses, key)
	return nil
}

func TestService_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeStore())

	lic, err := svc.Create(ctx, CreateParams{
		Item:              ItemRef{Type: "plugins", Slug: "my-plugin"},
		MaxAllowedDomains: 3,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, lic.Key)
	assert.NotEmpty(t, lic.ServiceID)

	got, err := svc.Get(ctx, lic.Key)
	require.NoError(t, err)
	assert.Equal(t, lic.Item, got.Item)

	status, err := svc.GetStatus(ctx, lic.Key)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, status)
}

func TestService_SiteActivationCap(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeStore())

	lic, err := svc.Create(ctx, CreateParams{
		Item:              ItemRef{Type: "plugins", Slug: "my-plugin"},
		MaxAllowedDomains: 1,
	})
	require.NoError(t, err)

	// Scenario from the site-activation sub-machine: one slot, two
	// domains, freed slot reusable.
	require.NoError(t, svc.Activate(ctx, lic.Key, "https://a.com", "s1"))

	err = svc.Activate(ctx, lic.Key, "https://b.com", "s2")
	require.Error(t, err)
	assert.Equal(t, errors.CodeMaxSitesReached, errors.CodeOf(err))

	require.NoError(t, svc.Deactivate(ctx, lic.Key, "a.com"))
	require.NoError(t, svc.Activate(ctx, lic.Key, "https://b.com", "s2"))

	sites, err := svc.GetActiveSites(ctx, lic.Key)
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Contains(t, sites, "b.com")
}

func TestService_ReactivationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeStore())

	lic, err := svc.Create(ctx, CreateParams{
		Item:              ItemRef{Type: "themes", Slug: "my-theme"},
		MaxAllowedDomains: 1,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Activate(ctx, lic.Key, "https://a.com", "s1"))
	// The scheme and trailing slash vary but the domain is the same, so
	// capacity never shrinks.
	require.NoError(t, svc.Activate(ctx, lic.Key, "http://a.com/", "s1"))
	require.NoError(t, svc.Activate(ctx, lic.Key, "a.com", "s1"))

	sites, err := svc.GetActiveSites(ctx, lic.Key)
	require.NoError(t, err)
	assert.Len(t, sites, 1)
}

func TestService_AdminActions(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeStore())
	item := ItemRef{Type: "softwares", Slug: "tool"}

	lic, err := svc.Create(ctx, CreateParams{Item: item, MaxAllowedDomains: 2})
	require.NoError(t, err)

	require.NoError(t, svc.CanServe(ctx, lic.Key, item))

	require.NoError(t, svc.Suspend(ctx, lic.Key))
	assert.Equal(t, errors.CodeLicenseSuspended, errors.CodeOf(svc.CanServe(ctx, lic.Key, item)))

	require.NoError(t, svc.Reactivate(ctx, lic.Key))
	require.NoError(t, svc.CanServe(ctx, lic.Key, item))

	require.NoError(t, svc.Revoke(ctx, lic.Key))
	assert.Equal(t, errors.CodeLicenseRevoked, errors.CodeOf(svc.CanServe(ctx, lic.Key, item)))

	require.NoError(t, svc.Delete(ctx, lic.Key))
	err = svc.CanServe(ctx, lic.Key, item)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestService_ActivateGeneratesSecretWhenEmpty(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	svc := NewService(store)

	lic, err := svc.Create(ctx, CreateParams{Item: ItemRef{Type: "plugins", Slug: "p"}, MaxAllowedDomains: 1})
	require.NoError(t, err)

	require.NoError(t, svc.Activate(ctx, lic.Key, "https://a.com", ""))
	sites, err := svc.GetActiveSites(ctx, lic.Key)
	require.NoError(t, err)
	assert.NotEmpty(t, sites["a.com"].Secret)
}

func TestService_CreateRejectsNegativeCap(t *testing.T) {
	svc := NewService(newFakeStore())
	_, err := svc.Create(context.Background(), CreateParams{MaxAllowedDomains: -1})
	assert.Error(t, err)
}

func TestService_ExpiredLicenseCannotServe(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	svc := NewService(store)
	item := ItemRef{Type: "plugins", Slug: "p"}

	lic, err := svc.Create(ctx, CreateParams{Item: item, MaxAllowedDomains: 1, EndDate: time.Now().AddDate(0, 0, -1)})
	require.NoError(t, err)

	assert.Equal(t, errors.CodeLicenseExpired, errors.CodeOf(svc.CanServe(ctx, lic.Key, item)))
}
