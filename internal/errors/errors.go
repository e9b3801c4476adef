// Package errors defines the typed error taxonomy shared by the
// distribution core. The transport layer is responsible for mapping
// codes to wire responses; nothing here knows about HTTP.
package errors

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error code.
type Code string

const (
	CodeInvalidPath      Code = "invalid_path"
	CodeInvalidSlug      Code = "invalid_slug"
	CodeNotFound         Code = "not_found"
	CodeSlugExists       Code = "slug_exists"
	CodeSlugMissing      Code = "slug_missing"
	CodeZipInvalid       Code = "zip_invalid"
	CodeReadmeMissing    Code = "readme_missing"
	CodeInvalidAssetName Code = "invalid_asset_name"
	CodeInvalidAssetType Code = "invalid_asset_type"

	CodeTokenExpired  Code = "token_expired"
	CodeTokenItemGone Code = "token_item_gone"

	CodeLicenseExpired      Code = "license_expired"
	CodeLicenseSuspended    Code = "license_suspended"
	CodeLicenseRevoked      Code = "license_revoked"
	CodeLicenseDeactivated  Code = "license_deactivated"
	CodeLicenseItemMismatch Code = "license_item_mismatch"
	CodeLicenseInUse        Code = "license_in_use"
	CodeMaxSitesReached     Code = "max_sites_reached"

	CodeRepoIO       Code = "repo_io_error"
	CodeStoreCorrupt Code = "store_corrupt"
)

// DomainError carries a code, a human-readable message and an optional
// wrapped cause.
type DomainError struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is / errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches two DomainErrors by code, so sentinel values below work
// with errors.Is regardless of message or cause.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New creates a DomainError with the given code and message.
func New(code Code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// Newf creates a DomainError with a formatted message.
func Newf(code Code, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a DomainError wrapping an underlying cause.
func Wrap(code Code, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of err, or the empty string when err is not a
// DomainError.
func CodeOf(err error) Code {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Predefined errors for the common failure modes. Callers compare with
// errors.Is; producers usually prefer Newf/Wrap for a richer message.
var (
	ErrInvalidPath      = New(CodeInvalidPath, "path escapes the repository sandbox")
	ErrInvalidSlug      = New(CodeInvalidSlug, "invalid package slug")
	ErrNotFound         = New(CodeNotFound, "resource not found")
	ErrSlugExists       = New(CodeSlugExists, "a package with this slug already exists")
	ErrSlugMissing      = New(CodeSlugMissing, "no package with this slug exists")
	ErrZipInvalid       = New(CodeZipInvalid, "uploaded file is not a valid zip archive")
	ErrReadmeMissing    = New(CodeReadmeMissing, "archive contains no readme.txt")
	ErrInvalidAssetName = New(CodeInvalidAssetName, "asset filename not in the allowed vocabulary")
	ErrInvalidAssetType = New(CodeInvalidAssetType, "unknown asset type")

	ErrTokenExpired  = New(CodeTokenExpired, "download token expired")
	ErrTokenItemGone = New(CodeTokenItemGone, "the item referenced by the token no longer exists")

	ErrLicenseExpired      = New(CodeLicenseExpired, "license expired")
	ErrLicenseSuspended    = New(CodeLicenseSuspended, "license suspended")
	ErrLicenseRevoked      = New(CodeLicenseRevoked, "license revoked")
	ErrLicenseDeactivated  = New(CodeLicenseDeactivated, "license deactivated")
	ErrLicenseItemMismatch = New(CodeLicenseItemMismatch, "license does not cover this item")
	ErrLicenseInUse        = New(CodeLicenseInUse, "license still referenced by active download tokens")
	ErrMaxSitesReached     = New(CodeMaxSitesReached, "maximum number of activated sites reached")

	ErrRepoIO       = New(CodeRepoIO, "repository filesystem error")
	ErrStoreCorrupt = New(CodeStoreCorrupt, "stored record is corrupt")
)
