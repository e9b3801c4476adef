package license

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence contract for license records. Implementations
// must make ActivateSite atomic: the site-cap check and the insert happen
// in a single conditional statement, never as separate read-then-write
// steps.
type Store interface {
	GetLicense(ctx context.Context, key string) (*License, error)
	SaveLicense(ctx context.Context, l *License) error
	SetOverride(ctx context.Context, key string, override Status) error
	// ActivateSite upserts the site for (key, domain). For a new domain it
	// must fail with CodeMaxSitesReached when the license already has
	// MaxAllowedDomains other activations; re-activating a registered
	// domain always succeeds.
	ActivateSite(ctx context.Context, key, domain string, site Site) error
	DeactivateSite(ctx context.Context, key, domain string) error
	DeleteLicense(ctx context.Context, key string) error
}

// Service applies admin actions and the site-activation sub-machine on
// top of a Store.
type Service struct {
	store Store
}

// NewService creates a license service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// CreateParams are the caller-supplied fields for a new license.
type CreateParams struct {
	ServiceID         string
	Item              ItemRef
	StartDate         time.Time
	EndDate           time.Time // zero for lifetime
	MaxAllowedDomains int
}

// Create mints a license with a freshly generated key and persists it.
func (s *Service) Create(ctx context.Context, p CreateParams) (*License, error) {
	if p.MaxAllowedDomains < 0 {
		return nil, fmt.Errorf("max allowed domains must be >= 0, got %d", p.MaxAllowedDomains)
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	serviceID := p.ServiceID
	if serviceID == "" {
		serviceID = uuid.NewString()
	}
	now := time.Now().UTC()
	lic := &License{
		Key:               key,
		ServiceID:         serviceID,
		StartDate:         p.StartDate,
		EndDate:           p.EndDate,
		Item:              p.Item,
		MaxAllowedDomains: p.MaxAllowedDomains,
		ActivatedOn:       map[string]Site{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.SaveLicense(ctx, lic); err != nil {
		return nil, err
	}
	slog.Info("license created",
		slog.String("license_key", key),
		slog.String("item", lic.Item.String()),
		slog.Int("max_allowed_domains", lic.MaxAllowedDomains))
	return lic, nil
}

// Get loads a license by key.
func (s *Service) Get(ctx context.Context, key string) (*License, error) {
	return s.store.GetLicense(ctx, key)
}

// CanServe re-evaluates the authorization gate for a license key.
func (s *Service) CanServe(ctx context.Context, key string, item ItemRef) error {
	lic, err := s.store.GetLicense(ctx, key)
	if err != nil {
		return err
	}
	return lic.CanServe(item, time.Now())
}

// GetStatus returns the computed status of a license.
func (s *Service) GetStatus(ctx context.Context, key string) (Status, error) {
	lic, err := s.store.GetLicense(ctx, key)
	if err != nil {
		return "", err
	}
	return lic.Status(time.Now()), nil
}

// GetActiveSites returns the activation map keyed by normalized domain.
func (s *Service) GetActiveSites(ctx context.Context, key string) (map[string]Site, error) {
	lic, err := s.store.GetLicense(ctx, key)
	if err != nil {
		return nil, err
	}
	return lic.ActivatedOn, nil
}

// Activate binds a license to a site domain. Re-activating an already
// registered domain refreshes its URL and secret without consuming
// capacity; a new domain counts against MaxAllowedDomains, enforced
// atomically by the store.
func (s *Service) Activate(ctx context.Context, key, rawURL, secret string) error {
	domain, err := NormalizeDomain(rawURL)
	if err != nil {
		return err
	}
	if _, err := s.store.GetLicense(ctx, key); err != nil {
		return err
	}
	if secret == "" {
		secret, err = generateSiteSecret()
		if err != nil {
			return err
		}
	}
	site := Site{URL: rawURL, Secret: secret, ActivatedAt: time.Now().UTC()}
	if err := s.store.ActivateSite(ctx, key, domain, site); err != nil {
		return err
	}
	slog.Info("site activated",
		slog.String("license_key", key),
		slog.String("domain", domain))
	return nil
}

// Deactivate removes a site activation unconditionally. Unknown domains
// are not an error.
func (s *Service) Deactivate(ctx context.Context, key, rawURL string) error {
	domain, err := NormalizeDomain(rawURL)
	if err != nil {
		return err
	}
	if err := s.store.DeactivateSite(ctx, key, domain); err != nil {
		return err
	}
	slog.Info("site deactivated",
		slog.String("license_key", key),
		slog.String("domain", domain))
	return nil
}

// Revoke sets the revoked override. There is no way back except an
// explicit Reactivate.
func (s *Service) Revoke(ctx context.Context, key string) error {
	return s.setOverride(ctx, key, StatusRevoked)
}

// Suspend sets the suspended override.
func (s *Service) Suspend(ctx context.Context, key string) error {
	return s.setOverride(ctx, key, StatusSuspended)
}

// DeactivateLicense sets the deactivated override.
func (s *Service) DeactivateLicense(ctx context.Context, key string) error {
	return s.setOverride(ctx, key, StatusDeactivated)
}

// Reactivate clears any explicit override, returning the license to its
// date-derived status.
func (s *Service) Reactivate(ctx context.Context, key string) error {
	return s.setOverride(ctx, key, "")
}

// Delete removes a license and all its metadata and site activations.
// The store refuses while unexpired download tokens still reference the
// license.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.store.DeleteLicense(ctx, key); err != nil {
		return err
	}
	slog.Info("license deleted", slog.String("license_key", key))
	return nil
}

func (s *Service) setOverride(ctx context.Context, key string, override Status) error {
	if _, err := s.store.GetLicense(ctx, key); err != nil {
		return err
	}
	if err := s.store.SetOverride(ctx, key, override); err != nil {
		return err
	}
	slog.Info("license override changed",
		slog.String("license_key", key),
		slog.String("override", string(override)))
	return nil
}

func generateSiteSecret() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate site secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
