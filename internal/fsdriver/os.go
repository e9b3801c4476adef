package fsdriver

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// OSDriver implements Driver on the local filesystem.
type OSDriver struct{}

// NewOS creates a local filesystem driver.
func NewOS() *OSDriver {
	return &OSDriver{}
}

// Exists checks if a file or directory exists at the given path.
func (d *OSDriver) Exists(path string) bool {
	_, err := os.Stat(path)
	exists := err == nil

	slog.Debug("fs exists check",
		slog.String("path", path),
		slog.Bool("exists", exists))

	return exists
}

// IsDir reports whether path exists and is a directory.
func (d *OSDriver) IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// MkdirAll creates a directory with all parent directories.
func (d *OSDriver) MkdirAll(path string) error {
	slog.Debug("creating directory", slog.String("path", path))
	return os.MkdirAll(path, 0o755)
}

// Copy copies a file from src to dst, creating the destination
// directory when needed.
func (d *OSDriver) Copy(src, dst string) error {
	slog.Debug("copying file",
		slog.String("src", src),
		slog.String("dst", dst))

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("failed to copy file content: %w", err)
	}

	return dstFile.Sync()
}

// Move moves a file or directory from src to dst. Rename is attempted
// first (atomic on the same filesystem) with a copy-and-delete
// fallback for files crossing filesystems.
func (d *OSDriver) Move(src, dst string) error {
	slog.Debug("moving file",
		slog.String("src", src),
		slog.String("dst", dst))

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	if err := d.Copy(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// Remove deletes a single file.
func (d *OSDriver) Remove(path string) error {
	slog.Debug("deleting file", slog.String("path", path))
	return os.Remove(path)
}

// RemoveAll deletes a directory tree.
func (d *OSDriver) RemoveAll(path string) error {
	slog.Debug("deleting directory tree", slog.String("path", path))
	return os.RemoveAll(path)
}

// Chmod changes the file mode.
func (d *OSDriver) Chmod(path string, mode uint32) error {
	return os.Chmod(path, os.FileMode(mode))
}

// ReadFile reads the entire file content.
func (d *OSDriver) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes data, creating the parent directory when needed.
func (d *OSDriver) WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadDir lists the entry names of a directory.
func (d *OSDriver) ReadDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// Open opens a file for streaming reads.
func (d *OSDriver) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Size returns the size of a file in bytes.
func (d *OSDriver) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
