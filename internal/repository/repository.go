// Package repository implements the sandboxed package store. Every
// client-supplied identifier is reduced to a slug and every resolved
// path is containment-checked before the filesystem driver sees it; no
// method on the store accepts a raw path.
package repository

import (
	"archive/zip"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	gosimple "github.com/gosimple/slug"

	"smliser/internal/errors"
	"smliser/internal/fsdriver"
	"smliser/internal/license"
	"smliser/internal/pathsafe"
)

// Package categories. These are the only top-level directories the
// store will ever create or enter.
const (
	CategoryPlugins   = "plugins"
	CategoryThemes    = "themes"
	CategorySoftwares = "softwares"
)

var categories = []string{CategoryPlugins, CategoryThemes, CategorySoftwares}

// ValidCategory reports whether c names a known category.
func ValidCategory(c string) bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

const readmeFileName = "readme.txt"

var validate = validator.New()

// uploadRequest is the validated shape of the client inputs to Upload.
type uploadRequest struct {
	Category    string `validate:"required,oneof=plugins themes softwares"`
	TmpFile     string `validate:"required"`
	DesiredName string `validate:"required"`
}

// PackageInfo describes one repository entry.
type PackageInfo struct {
	Category    string `json:"category"`
	Slug        string `json:"slug"`
	ArchivePath string `json:"-"`
	Size        int64  `json:"size"`
}

// PackageStore manages versioned archives and their assets inside a
// sandboxed directory tree.
type PackageStore struct {
	sandbox  *pathsafe.Sandbox
	trashDir string
	fs       fsdriver.Driver
	renderer Renderer
}

// New creates a store rooted at baseDir. Deleted packages are moved to
// trashDir instead of being unlinked. A nil renderer falls back to the
// passthrough renderer.
func New(baseDir, trashDir string, fs fsdriver.Driver, renderer Renderer) (*PackageStore, error) {
	sandbox, err := pathsafe.New(baseDir)
	if err != nil {
		return nil, err
	}
	if renderer == nil {
		renderer = PassthroughRenderer{}
	}
	if trashDir == "" {
		trashDir = filepath.Join(sandbox.Base(), ".trash")
	}
	s := &PackageStore{sandbox: sandbox, trashDir: trashDir, fs: fs, renderer: renderer}
	for _, c := range categories {
		if err := fs.MkdirAll(filepath.Join(sandbox.Base(), c)); err != nil {
			return nil, errors.Wrap(errors.CodeRepoIO, "failed to create category directory", err)
		}
	}
	return s, nil
}

// Locate resolves (category, slug) to the absolute path of the primary
// archive, which must be named exactly <slug>.zip inside the slug's
// directory.
func (s *PackageStore) Locate(category, rawSlug string) (string, error) {
	dir, slugName, err := s.slugDir(category, rawSlug)
	if err != nil {
		return "", err
	}
	if !s.fs.IsDir(dir) {
		return "", errors.Newf(errors.CodeNotFound, "no %s package named %q", strings.TrimSuffix(category, "s"), slugName)
	}
	archive := filepath.Join(dir, slugName+".zip")
	if !s.fs.Exists(archive) {
		return "", errors.Newf(errors.CodeNotFound, "package %q has no archive", slugName)
	}
	return archive, nil
}

// OpenArchive opens the primary archive of (category, slug) for
// streaming. The returned reader must be closed by the caller.
func (s *PackageStore) OpenArchive(category, rawSlug string) (io.ReadCloser, error) {
	archive, err := s.Locate(category, rawSlug)
	if err != nil {
		return nil, err
	}
	rc, err := s.fs.Open(archive)
	if err != nil {
		return nil, errors.Wrap(errors.CodeRepoIO, "failed to open archive", err)
	}
	return rc, nil
}

// Exists reports whether the item referenced by a license or token is
// still present in the store.
func (s *PackageStore) Exists(item license.ItemRef) bool {
	_, err := s.Locate(item.Type, item.Slug)
	return err == nil
}

// Upload validates and installs a new archive. The upload must sniff as
// a real zip regardless of its client-supplied name. New uploads fail
// when the slug already exists; updates fail when it does not. The
// archive's readme is extracted and persisted next to it; when the
// archive carries no readme the whole operation is rolled back so the
// repository never holds a half-uploaded entry.
func (s *PackageStore) Upload(category, tmpFile, desiredName string, isUpdate bool) (string, error) {
	req := uploadRequest{Category: category, TmpFile: tmpFile, DesiredName: desiredName}
	if err := validate.Struct(req); err != nil {
		return "", errors.Wrap(errors.CodeInvalidSlug, "invalid upload request", err)
	}

	mtype, err := mimetype.DetectFile(tmpFile)
	if err != nil {
		return "", errors.Wrap(errors.CodeZipInvalid, "cannot read uploaded file", err)
	}
	if !mtype.Is("application/zip") {
		return "", errors.Newf(errors.CodeZipInvalid, "upload detected as %s, expected application/zip", mtype.String())
	}

	slugName, err := deriveSlug(desiredName)
	if err != nil {
		return "", err
	}

	dir, err := s.sandbox.Normalize(path.Join(category, slugName))
	if err != nil {
		return "", err
	}

	exists := s.fs.IsDir(dir)
	if !isUpdate && exists {
		return "", errors.Newf(errors.CodeSlugExists, "package %q already exists", slugName)
	}
	if isUpdate && !exists {
		return "", errors.Newf(errors.CodeSlugMissing, "package %q does not exist", slugName)
	}

	archive := filepath.Join(dir, slugName+".zip")
	backup := archive + ".bak"

	if isUpdate && s.fs.Exists(archive) {
		if err := s.fs.Move(archive, backup); err != nil {
			return "", errors.Wrap(errors.CodeRepoIO, "failed to stash previous archive", err)
		}
	}
	if !isUpdate {
		if err := s.fs.MkdirAll(dir); err != nil {
			return "", errors.Wrap(errors.CodeRepoIO, "failed to create package directory", err)
		}
	}

	rollback := func() {
		if isUpdate {
			_ = s.fs.Remove(archive)
			if s.fs.Exists(backup) {
				_ = s.fs.Move(backup, archive)
			}
		} else {
			_ = s.fs.RemoveAll(dir)
		}
	}

	if err := s.fs.Move(tmpFile, archive); err != nil {
		rollback()
		return "", errors.Wrap(errors.CodeRepoIO, "failed to install archive", err)
	}
	if err := s.fs.Chmod(archive, 0o644); err != nil {
		rollback()
		return "", errors.Wrap(errors.CodeRepoIO, "failed to set archive permissions", err)
	}

	readme, err := extractReadme(archive)
	if err != nil {
		rollback()
		return "", err
	}
	if err := s.fs.WriteFile(filepath.Join(dir, readmeFileName), readme); err != nil {
		rollback()
		return "", errors.Wrap(errors.CodeRepoIO, "failed to persist readme", err)
	}

	if isUpdate {
		_ = s.fs.Remove(backup)
	}

	slog.Info("package uploaded",
		slog.String("category", category),
		slog.String("slug", slugName),
		slog.Bool("update", isUpdate))
	return slugName, nil
}

// DeletePackage moves a package directory to the trash so it can be
// recovered; nothing is permanently unlinked.
func (s *PackageStore) DeletePackage(rawSlug string) error {
	dir, category, slugName, err := s.findSlugDir(rawSlug)
	if err != nil {
		return err
	}
	dest := filepath.Join(s.trashDir, uuid.NewString()+"-"+slugName)
	if err := s.fs.Move(dir, dest); err != nil {
		return errors.Wrap(errors.CodeRepoIO, "failed to move package to trash", err)
	}
	slog.Info("package trashed",
		slog.String("category", category),
		slog.String("slug", slugName),
		slog.String("trash_path", dest))
	return nil
}

// List enumerates the packages of one category.
func (s *PackageStore) List(category string) ([]PackageInfo, error) {
	if !ValidCategory(category) {
		return nil, errors.Newf(errors.CodeInvalidSlug, "unknown category %q", category)
	}
	dir := filepath.Join(s.sandbox.Base(), category)
	names, err := s.fs.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(errors.CodeRepoIO, "failed to list category", err)
	}
	var out []PackageInfo
	for _, name := range names {
		archive, err := s.Locate(category, name)
		if err != nil {
			continue // incomplete entry, skip
		}
		size, _ := s.fs.Size(archive)
		out = append(out, PackageInfo{Category: category, Slug: name, ArchivePath: archive, Size: size})
	}
	return out, nil
}

// Info resolves a single package entry.
func (s *PackageStore) Info(category, rawSlug string) (PackageInfo, error) {
	archive, err := s.Locate(category, rawSlug)
	if err != nil {
		return PackageInfo{}, err
	}
	slugName, _ := pathsafe.RealSlug(rawSlug)
	size, _ := s.fs.Size(archive)
	return PackageInfo{Category: category, Slug: slugName, ArchivePath: archive, Size: size}, nil
}

// slugDir validates the category, derives the real slug and returns the
// sandboxed slug directory.
func (s *PackageStore) slugDir(category, rawSlug string) (dir, slugName string, err error) {
	if !ValidCategory(category) {
		return "", "", errors.Newf(errors.CodeInvalidSlug, "unknown category %q", category)
	}
	slugName, err = pathsafe.RealSlug(rawSlug)
	if err != nil {
		return "", "", err
	}
	dir, err = s.sandbox.Normalize(path.Join(category, slugName))
	if err != nil {
		return "", "", err
	}
	return dir, slugName, nil
}

// findSlugDir locates the slug's directory across all categories.
func (s *PackageStore) findSlugDir(rawSlug string) (dir, category, slugName string, err error) {
	slugName, err = pathsafe.RealSlug(rawSlug)
	if err != nil {
		return "", "", "", err
	}
	for _, c := range categories {
		candidate, err := s.sandbox.Normalize(path.Join(c, slugName))
		if err != nil {
			return "", "", "", err
		}
		if s.fs.IsDir(candidate) {
			return candidate, c, slugName, nil
		}
	}
	return "", "", "", errors.Newf(errors.CodeNotFound, "no package named %q", slugName)
}

// deriveSlug turns a client-supplied archive name into the target slug:
// strip the extension, then sanitize the remainder to a URL-safe slug.
func deriveSlug(desiredName string) (string, error) {
	base, err := pathsafe.RealSlug(filepath.Base(desiredName))
	if err != nil {
		return "", err
	}
	sanitized := gosimple.Make(base)
	if sanitized == "" {
		return "", errors.Newf(errors.CodeInvalidSlug, "cannot derive a slug from %q", desiredName)
	}
	return sanitized, nil
}

// extractReadme opens the archive and returns the content of its single
// top-level readme.txt (directly at the root or inside the one
// top-level folder, the usual packaging layout).
func extractReadme(archivePath string) ([]byte, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, errors.Wrap(errors.CodeZipInvalid, "cannot open archive", err)
	}
	defer r.Close()

	for _, f := range r.File {
		name := strings.ReplaceAll(f.Name, "\\", "/")
		parts := strings.Split(strings.Trim(name, "/"), "/")
		if len(parts) > 2 {
			continue
		}
		if !strings.EqualFold(parts[len(parts)-1], readmeFileName) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrap(errors.CodeZipInvalid, "cannot read readme from archive", err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, errors.Wrap(errors.CodeZipInvalid, "cannot read readme from archive", err)
		}
		return data, nil
	}
	return nil, errors.Newf(errors.CodeReadmeMissing, "archive %s contains no %s", filepath.Base(archivePath), readmeFileName)
}
