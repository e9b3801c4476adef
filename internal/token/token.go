// Package token issues and validates the short-lived bearer tokens that
// gate downloads. A token is an opaque single-purpose artifact: every
// validation re-runs the full license check, and any failure deletes
// the token instead of merely rejecting it.
package token

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"smliser/internal/errors"
	"smliser/internal/license"
)

// Prefix identifies our tokens on the wire.
const Prefix = "smliser_"

// DefaultTTL applies when the caller does not specify one.
const DefaultTTL = 10 * 24 * time.Hour

const keyInfo = "smliser download token"

var tokenRe = regexp.MustCompile(`^smliser_[0-9a-f]{64}$`)

// Record is the persisted token row.
type Record struct {
	Token      string
	LicenseKey string
	Item       license.ItemRef
	Signature  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// Store is the persistence contract for token records.
type Store interface {
	InsertToken(ctx context.Context, rec *Record) error
	GetToken(ctx context.Context, token string) (*Record, error)
	DeleteToken(ctx context.Context, token string) error
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error)
}

// ItemChecker answers whether the referenced package still exists.
type ItemChecker interface {
	Exists(item license.ItemRef) bool
}

// Authorizer is the license gate consulted on every validation.
type Authorizer interface {
	CanServe(ctx context.Context, licenseKey string, item license.ItemRef) error
}

// Resolved is the outcome of a successful validation.
type Resolved struct {
	Token      string
	LicenseKey string
	Item       license.ItemRef
	ExpiresAt  time.Time
}

// Service issues and validates download tokens.
type Service struct {
	store      Store
	items      ItemChecker
	licenses   Authorizer
	signingKey [32]byte
	defaultTTL time.Duration
}

// DeriveKey derives the 32-byte signing key from the configured secret
// and salt with HKDF-SHA256. The secret is mandatory; there is no
// built-in fallback.
func DeriveKey(secret, salt []byte) ([32]byte, error) {
	var key [32]byte
	if len(secret) == 0 {
		return key, fmt.Errorf("token secret is not configured")
	}
	kdf := hkdf.New(sha256.New, secret, salt, []byte(keyInfo))
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return key, fmt.Errorf("failed to derive signing key: %w", err)
	}
	return key, nil
}

// NewService creates a token service. defaultTTL <= 0 selects the
// 10-day default.
func NewService(store Store, items ItemChecker, licenses Authorizer, secret, salt []byte, defaultTTL time.Duration) (*Service, error) {
	key, err := DeriveKey(secret, salt)
	if err != nil {
		return nil, err
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Service{
		store:      store,
		items:      items,
		licenses:   licenses,
		signingKey: key,
		defaultTTL: defaultTTL,
	}, nil
}

// Issue creates a fresh token bound to (licenseKey, item) and returns
// its transport encoding.
func (s *Service) Issue(ctx context.Context, licenseKey string, item license.ItemRef, ttl time.Duration) (string, error) {
	if licenseKey == "" {
		return "", fmt.Errorf("license key is required")
	}
	if item.IsZero() {
		return "", fmt.Errorf("item reference is required")
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	tok := Prefix + hex.EncodeToString(buf)

	now := time.Now().UTC()
	rec := &Record{
		Token:      tok,
		LicenseKey: licenseKey,
		Item:       item,
		Signature:  s.sign(tok, licenseKey, item),
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
	if err := s.store.InsertToken(ctx, rec); err != nil {
		return "", err
	}

	slog.Info("download token issued",
		slog.String("license_key", licenseKey),
		slog.String("item", item.String()),
		slog.Time("expires_at", rec.ExpiresAt))
	return EncodeForTransport(tok), nil
}

// Validate checks a transport-encoded token against expiry, item
// existence and the license gate. Every failure past lookup is
// terminal: the token is deleted before the error is returned.
func (s *Service) Validate(ctx context.Context, raw string) (*Resolved, error) {
	tok, err := DecodeFromTransport(raw)
	if err != nil {
		return nil, err
	}

	rec, err := s.store.GetToken(ctx, tok)
	if err != nil {
		return nil, err
	}

	if !hmac.Equal([]byte(rec.Signature), []byte(s.sign(rec.Token, rec.LicenseKey, rec.Item))) {
		s.discard(ctx, tok, "signature mismatch")
		return nil, errors.New(errors.CodeNotFound, "download token signature mismatch")
	}

	now := time.Now().UTC()
	if !now.Before(rec.ExpiresAt) {
		s.discard(ctx, tok, "expired")
		return nil, errors.Newf(errors.CodeTokenExpired, "download token expired at %s", rec.ExpiresAt.Format(time.RFC3339))
	}

	if !s.items.Exists(rec.Item) {
		s.discard(ctx, tok, "item gone")
		return nil, errors.Newf(errors.CodeTokenItemGone, "item %s no longer exists", rec.Item)
	}

	if err := s.licenses.CanServe(ctx, rec.LicenseKey, rec.Item); err != nil {
		s.discard(ctx, tok, "license check failed")
		return nil, err
	}

	return &Resolved{
		Token:      rec.Token,
		LicenseKey: rec.LicenseKey,
		Item:       rec.Item,
		ExpiresAt:  rec.ExpiresAt,
	}, nil
}

// Revoke deletes a token explicitly.
func (s *Service) Revoke(ctx context.Context, raw string) error {
	tok, err := DecodeFromTransport(raw)
	if err != nil {
		return err
	}
	return s.store.DeleteToken(ctx, tok)
}

// SweepExpired deletes every token past its expiry and returns the
// number removed. Intended for periodic invocation.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	n, err := s.store.DeleteExpiredTokens(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("expired tokens swept", slog.Int("count", n))
	}
	return n, nil
}

// sign computes the tamper-evidence HMAC stored next to the token.
func (s *Service) sign(tok, licenseKey string, item license.ItemRef) string {
	mac := hmac.New(sha256.New, s.signingKey[:])
	mac.Write([]byte(tok))
	mac.Write([]byte{0})
	mac.Write([]byte(licenseKey))
	mac.Write([]byte{0})
	mac.Write([]byte(item.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Service) discard(ctx context.Context, tok, reason string) {
	if err := s.store.DeleteToken(ctx, tok); err != nil {
		slog.Warn("failed to delete rejected token",
			slog.String("reason", reason),
			slog.String("error", err.Error()))
		return
	}
	slog.Info("download token discarded", slog.String("reason", reason))
}

// EncodeForTransport renders a token for a query parameter or a bearer
// header: base64url without padding.
func EncodeForTransport(tok string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(tok))
}

// DecodeFromTransport reverses EncodeForTransport and validates the
// token shape.
func DecodeFromTransport(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New(errors.CodeNotFound, "empty download token")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return "", errors.Wrap(errors.CodeNotFound, "malformed download token", err)
	}
	tok := string(decoded)
	if !tokenRe.MatchString(tok) {
		return "", errors.New(errors.CodeNotFound, "malformed download token")
	}
	return tok, nil
}
