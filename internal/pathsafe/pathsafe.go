// Package pathsafe confines every filesystem path the repository builds
// to a fixed base directory. All client-supplied identifiers pass
// through RealSlug, and every constructed path passes through Normalize
// before it touches the disk.
package pathsafe

import (
	"path/filepath"
	"strings"

	"smliser/internal/errors"
)

// Sandbox anchors path resolution to an absolute base directory.
type Sandbox struct {
	base string
}

// New creates a Sandbox rooted at base. The base is made absolute and
// cleaned once up front so containment checks are pure string work.
func New(base string) (*Sandbox, error) {
	if strings.TrimSpace(base) == "" {
		return nil, errors.New(errors.CodeInvalidPath, "sandbox base directory is empty")
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInvalidPath, "cannot resolve sandbox base", err)
	}
	return &Sandbox{base: filepath.Clean(abs)}, nil
}

// Base returns the absolute base directory.
func (s *Sandbox) Base() string {
	return s.base
}

// Normalize resolves raw (a relative, slash-separated identifier)
// against the base directory. It fails on empty input, on any ".."
// segment that survives cleaning, and on any result that is not a
// descendant of the base.
func (s *Sandbox) Normalize(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", errors.New(errors.CodeInvalidPath, "empty path")
	}
	cleaned := filepath.Clean(filepath.FromSlash(raw))
	for _, seg := range strings.Split(cleaned, string(filepath.Separator)) {
		if seg == ".." {
			return "", errors.Newf(errors.CodeInvalidPath, "path %q climbs out of the repository", raw)
		}
	}
	full := filepath.Join(s.base, cleaned)
	if !s.Within(full) {
		return "", errors.Newf(errors.CodeInvalidPath, "path %q resolves outside the repository", raw)
	}
	return full, nil
}

// Within reports whether p is the base directory or a descendant of it.
func (s *Sandbox) Within(p string) bool {
	rel, err := filepath.Rel(s.base, filepath.Clean(p))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// RealSlug derives the canonical slug from any client-supplied
// identifier: the first slash-delimited segment, truncated at the first
// dot. "my-plugin/my-plugin.zip" becomes "my-plugin".
func RealSlug(raw string) (string, error) {
	seg := strings.Trim(raw, "/")
	if i := strings.Index(seg, "/"); i >= 0 {
		seg = seg[:i]
	}
	if i := strings.Index(seg, "."); i >= 0 {
		seg = seg[:i]
	}
	seg = strings.TrimSpace(seg)
	if seg == "" {
		return "", errors.Newf(errors.CodeInvalidSlug, "cannot derive a slug from %q", raw)
	}
	return seg, nil
}
