// Package distribution chains the three gates in front of every
// download: token validation, the license check and sandboxed path
// resolution. No byte of a package leaves the repository until all
// three have passed.
package distribution

import (
	"context"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"smliser/internal/errors"
	"smliser/internal/license"
	"smliser/internal/repository"
	"smliser/internal/token"
)

// Grant is a single-request authorization produced by Authorize. It is
// never cached across requests: the next download runs the full chain
// again.
type Grant struct {
	LicenseKey string
	Item       license.ItemRef
	Archive    string
	IssuedAt   time.Time
}

// Engine wires the token service, the license gate and the package
// store into one authorization chain.
type Engine struct {
	tokens  *token.Service
	repo    *repository.PackageStore
	metrics *Metrics
}

// New creates a distribution engine. A nil metrics disables counting.
func New(tokens *token.Service, repo *repository.PackageStore, metrics *Metrics) *Engine {
	return &Engine{tokens: tokens, repo: repo, metrics: metrics}
}

// Authorize validates the presented bearer token end to end and
// resolves the sandboxed archive path it grants access to. Any failure
// short-circuits with a typed error before a path is ever produced.
func (e *Engine) Authorize(ctx context.Context, rawToken string) (*Grant, error) {
	resolved, err := e.tokens.Validate(ctx, rawToken)
	if err != nil {
		e.count(ctx, "denied", errors.CodeOf(err))
		return nil, err
	}

	archive, err := e.repo.Locate(resolved.Item.Type, resolved.Item.Slug)
	if err != nil {
		e.count(ctx, "denied", errors.CodeOf(err))
		return nil, err
	}

	e.count(ctx, "granted", "")
	slog.Info("download authorized",
		slog.String("license_key", resolved.LicenseKey),
		slog.String("item", resolved.Item.String()))
	return &Grant{
		LicenseKey: resolved.LicenseKey,
		Item:       resolved.Item,
		Archive:    archive,
		IssuedAt:   time.Now().UTC(),
	}, nil
}

// Open starts streaming the granted archive. The caller owns the
// reader and must close it; cancellation mid-stream is the transport
// layer's concern.
func (e *Engine) Open(ctx context.Context, grant *Grant) (io.ReadCloser, repository.PackageInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, repository.PackageInfo{}, err
	}
	info, err := e.repo.Info(grant.Item.Type, grant.Item.Slug)
	if err != nil {
		return nil, repository.PackageInfo{}, err
	}
	rc, err := e.repo.OpenArchive(grant.Item.Type, grant.Item.Slug)
	if err != nil {
		return nil, repository.PackageInfo{}, err
	}
	e.count(ctx, "served", "")
	return rc, info, nil
}

// Issue mints a download token for the item, after confirming the
// item actually exists in the repository.
func (e *Engine) Issue(ctx context.Context, licenseKey string, item license.ItemRef, ttl time.Duration) (string, error) {
	if !e.repo.Exists(item) {
		return "", errors.Newf(errors.CodeNotFound, "no such package %s", item)
	}
	tok, err := e.tokens.Issue(ctx, licenseKey, item, ttl)
	if err != nil {
		return "", err
	}
	if e.metrics != nil {
		e.metrics.TokensIssued.Add(ctx, 1)
	}
	return tok, nil
}

// SweepExpired removes expired tokens and reports how many went.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	n, err := e.tokens.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	if e.metrics != nil && n > 0 {
		e.metrics.TokensSwept.Add(ctx, int64(n))
	}
	return n, nil
}

// Download is the convenience path for callers that just want the
// bytes: authorize, open and resolve in one call.
func (e *Engine) Download(ctx context.Context, rawToken string) (io.ReadCloser, repository.PackageInfo, error) {
	grant, err := e.Authorize(ctx, rawToken)
	if err != nil {
		return nil, repository.PackageInfo{}, err
	}
	return e.Open(ctx, grant)
}

func (e *Engine) count(ctx context.Context, outcome string, code errors.Code) {
	if e.metrics == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("outcome", outcome)}
	if code != "" {
		attrs = append(attrs, attribute.String("error_code", string(code)))
	}
	e.metrics.Downloads.Add(ctx, 1, metric.WithAttributes(attrs...))
}
