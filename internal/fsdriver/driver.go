// Package fsdriver abstracts the raw filesystem primitives the package
// repository needs. The repository only ever calls these with paths that
// already passed the sandbox, so the driver itself does no containment
// checking.
package fsdriver

import "io"

// Driver is the set of filesystem primitives consumed by the repository.
type Driver interface {
	Exists(path string) bool
	IsDir(path string) bool
	MkdirAll(path string) error
	Move(src, dst string) error
	Copy(src, dst string) error
	Remove(path string) error
	RemoveAll(path string) error
	Chmod(path string, mode uint32) error
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	ReadDir(path string) ([]string, error)
	Open(path string) (io.ReadCloser, error)
	Size(path string) (int64, error)
}
