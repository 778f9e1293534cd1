// Package loader reads dapper configuration sources into generic maps.
//
// Each source (a TOML file, the environment) yields a map[string]any; the
// config package merges them in precedence order and decodes the result.
package loader

import (
	"io"
	"io/fs"
	"os"
)

// Loader is a configuration source.
type Loader interface {
	// Load reads the source. A missing source yields nil, nil.
	Load() (map[string]any, error)
}

// FileLoader is a Loader that can read an arbitrary path.
type FileLoader interface {
	Loader
	LoadFrom(path string) (map[string]any, error)
}

// ReaderLoader reads configuration from a stream.
type ReaderLoader interface {
	LoadFromReader(r io.Reader) (map[string]any, error)
}

// FileSystem is the file access loaders need, replaceable in tests.
type FileSystem interface {
	fs.FS
	ReadFile(path string) ([]byte, error)
	Stat(path string) (fs.FileInfo, error)
}

// OSFS implements FileSystem on the real file system.
type OSFS struct{}

// Open implements fs.FS.
func (OSFS) Open(name string) (fs.File, error) {
	return os.Open(name)
}

// ReadFile reads the entire file at path.
func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Stat returns file info for path.
func (OSFS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

// DefaultFS returns the OS file system.
func DefaultFS() FileSystem {
	return OSFS{}
}

var (
	_ FileLoader   = (*TOMLLoader)(nil)
	_ ReaderLoader = (*TOMLLoader)(nil)
	_ Loader       = (*EnvLoader)(nil)
)
