package repository

import (
	"path/filepath"
	"strings"

	"smliser/internal/errors"
)

// Renderer turns readme markup into HTML. The actual markdown engine is
// supplied by the caller; the store only extracts the requested block.
type Renderer interface {
	Render(text string) (string, error)
}

// PassthroughRenderer returns the text unchanged. It is the default
// when no renderer is injected.
type PassthroughRenderer struct{}

// Render implements Renderer.
func (PassthroughRenderer) Render(text string) (string, error) {
	return text, nil
}

// Metadata header lines stripped from the Description section. The
// readme carries them for the directory listing, not for display.
var metadataPrefixes = []string{
	"contributors:",
	"donate link:",
	"tags:",
	"requires at least:",
	"tested up to:",
	"requires php:",
	"stable tag:",
	"license:",
	"license uri:",
}

// ReadmeSection extracts a named "== Section ==" block from the stored
// readme and renders it. Metadata lines are stripped from the
// Description section specifically.
func (s *PackageStore) ReadmeSection(rawSlug, section string) (string, error) {
	dir, _, slugName, err := s.findSlugDir(rawSlug)
	if err != nil {
		return "", err
	}
	data, err := s.fs.ReadFile(filepath.Join(dir, readmeFileName))
	if err != nil {
		return "", errors.Newf(errors.CodeNotFound, "package %q has no readme", slugName)
	}

	block, found := extractSection(string(data), section)
	if !found {
		return "", errors.Newf(errors.CodeNotFound, "readme of %q has no section %q", slugName, section)
	}
	if strings.EqualFold(section, "description") {
		block = stripMetadataLines(block)
	}
	return s.renderer.Render(block)
}

// extractSection returns the lines between "== section ==" and the next
// section heading.
func extractSection(readme, section string) (string, bool) {
	var (
		out       []string
		inSection bool
		found     bool
	)
	for _, line := range strings.Split(readme, "\n") {
		trimmed := strings.TrimSpace(line)
		if heading, ok := sectionHeading(trimmed); ok {
			if inSection {
				break
			}
			if strings.EqualFold(heading, section) {
				inSection = true
				found = true
			}
			continue
		}
		if inSection {
			out = append(out, line)
		}
	}
	return strings.TrimSpace(strings.Join(out, "\n")), found
}

// sectionHeading parses a "== Name ==" line. The plugin title line
// ("=== Name ===") is not a section.
func sectionHeading(line string) (string, bool) {
	if strings.HasPrefix(line, "===") {
		return "", false
	}
	if !strings.HasPrefix(line, "==") || !strings.HasSuffix(line, "==") || len(line) < 5 {
		return "", false
	}
	return strings.TrimSpace(strings.Trim(line, "=")), true
}

func stripMetadataLines(block string) string {
	var out []string
	for _, line := range strings.Split(block, "\n") {
		lower := strings.ToLower(strings.TrimSpace(line))
		meta := false
		for _, prefix := range metadataPrefixes {
			if strings.HasPrefix(lower, prefix) {
				meta = true
				break
			}
		}
		if !meta {
			out = append(out, line)
		}
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
