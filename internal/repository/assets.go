package repository

import (
	"log/slog"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"smliser/internal/errors"
)

// Asset types and their closed naming vocabulary. Anything outside
// these names is rejected before it reaches the filesystem.
const (
	AssetIcon       = "icon"
	AssetBanner     = "banner"
	AssetScreenshot = "screenshot"
)

var (
	iconNames   = []string{"icon-128x128", "icon-256x256"}
	bannerNames = []string{"banner-772x250", "banner-1544x500"}

	screenshotRe = regexp.MustCompile(`^screenshot-([0-9]+)$`)
)

// UploadAsset installs an image asset under the slug's assets directory.
// The file must content-sniff as an image; the stored extension comes
// from the detected type, never from the client. Screenshots without an
// explicit index get the next unused integer.
func (s *PackageStore) UploadAsset(rawSlug, tmpFile, assetType, filename string) (string, error) {
	dir, category, slugName, err := s.findSlugDir(rawSlug)
	if err != nil {
		return "", err
	}

	mtype, err := mimetype.DetectFile(tmpFile)
	if err != nil {
		return "", errors.Wrap(errors.CodeInvalidAssetType, "cannot read uploaded asset", err)
	}
	if !strings.HasPrefix(mtype.String(), "image/") {
		return "", errors.Newf(errors.CodeInvalidAssetType, "asset detected as %s, expected an image", mtype.String())
	}

	assetsDir := filepath.Join(dir, "assets")
	baseName, err := s.assetBaseName(assetsDir, assetType, filename)
	if err != nil {
		return "", err
	}

	if err := s.fs.MkdirAll(assetsDir); err != nil {
		return "", errors.Wrap(errors.CodeRepoIO, "failed to create assets directory", err)
	}

	finalName := baseName + mtype.Extension()
	dest, err := s.sandbox.Normalize(path.Join(category, slugName, "assets", finalName))
	if err != nil {
		return "", err
	}
	if err := s.fs.Move(tmpFile, dest); err != nil {
		_ = s.fs.Remove(dest)
		return "", errors.Wrap(errors.CodeRepoIO, "failed to install asset", err)
	}

	slog.Info("asset uploaded",
		slog.String("slug", slugName),
		slog.String("asset", finalName))
	return path.Join(category, slugName, "assets", finalName), nil
}

// DeleteAsset removes a single asset by its exact stored filename.
func (s *PackageStore) DeleteAsset(rawSlug, filename string) error {
	dir, _, slugName, err := s.findSlugDir(rawSlug)
	if err != nil {
		return err
	}
	if filename == "" || filepath.Base(filename) != filename {
		return errors.Newf(errors.CodeInvalidAssetName, "invalid asset filename %q", filename)
	}
	if !knownAssetName(strings.TrimSuffix(filename, filepath.Ext(filename))) {
		return errors.Newf(errors.CodeInvalidAssetName, "asset filename %q not in the allowed vocabulary", filename)
	}
	target := filepath.Join(dir, "assets", filename)
	if !s.fs.Exists(target) {
		return errors.Newf(errors.CodeNotFound, "package %q has no asset %q", slugName, filename)
	}
	if err := s.fs.Remove(target); err != nil {
		return errors.Wrap(errors.CodeRepoIO, "failed to delete asset", err)
	}
	slog.Info("asset deleted",
		slog.String("slug", slugName),
		slog.String("asset", filename))
	return nil
}

// Assets lists the stored asset filenames of a package.
func (s *PackageStore) Assets(rawSlug string) ([]string, error) {
	dir, _, _, err := s.findSlugDir(rawSlug)
	if err != nil {
		return nil, err
	}
	assetsDir := filepath.Join(dir, "assets")
	if !s.fs.IsDir(assetsDir) {
		return nil, nil
	}
	names, err := s.fs.ReadDir(assetsDir)
	if err != nil {
		return nil, errors.Wrap(errors.CodeRepoIO, "failed to list assets", err)
	}
	return names, nil
}

// assetBaseName resolves the extension-less target name for an asset
// upload, enforcing the per-type vocabulary.
func (s *PackageStore) assetBaseName(assetsDir, assetType, filename string) (string, error) {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	switch assetType {
	case AssetIcon:
		if base == "" {
			return iconNames[0], nil
		}
		if !contains(iconNames, base) {
			return "", errors.Newf(errors.CodeInvalidAssetName, "icon must be one of %v, got %q", iconNames, base)
		}
		return base, nil
	case AssetBanner:
		if base == "" {
			return bannerNames[0], nil
		}
		if !contains(bannerNames, base) {
			return "", errors.Newf(errors.CodeInvalidAssetName, "banner must be one of %v, got %q", bannerNames, base)
		}
		return base, nil
	case AssetScreenshot:
		if base == "" {
			return "screenshot-" + strconv.Itoa(s.nextScreenshotIndex(assetsDir)), nil
		}
		if !screenshotRe.MatchString(base) {
			return "", errors.Newf(errors.CodeInvalidAssetName, "screenshot must be named screenshot-<n>, got %q", base)
		}
		return base, nil
	default:
		return "", errors.Newf(errors.CodeInvalidAssetType, "unknown asset type %q", assetType)
	}
}

// nextScreenshotIndex scans the assets directory for the highest used
// screenshot index and returns the next one. An unreadable or missing
// directory starts at 1.
func (s *PackageStore) nextScreenshotIndex(assetsDir string) int {
	names, err := s.fs.ReadDir(assetsDir)
	if err != nil {
		return 1
	}
	next := 1
	for _, name := range names {
		base := strings.TrimSuffix(name, filepath.Ext(name))
		m := screenshotRe.FindStringSubmatch(base)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n >= next {
			next = n + 1
		}
	}
	return next
}

func knownAssetName(base string) bool {
	return contains(iconNames, base) || contains(bannerNames, base) || screenshotRe.MatchString(base)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
