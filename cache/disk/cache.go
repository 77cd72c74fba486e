// Package disk provides the on-disk store for cached media files.
//
// Files live flat in a single directory, named by their cache key and
// extension. A file appears at its final name only once it is complete:
// writers stream into a ".partial-*" temp file in the same directory and
// rename it into place on Commit.
package disk

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultDirPerm  = 0o700
	defaultFilePerm = 0o600

	// PartialPrefix prefixes in-progress temp files. Names with this prefix
	// are never entries.
	PartialPrefix = ".partial-"
)

var (
	// ErrUnavailable is returned when the store directory cannot be created or opened.
	ErrUnavailable = errors.New("cache directory unavailable")

	// ErrInvalidName is returned for names that are not a single local path segment.
	ErrInvalidName = errors.New("invalid cache file name")
)

// Store manages a directory of cached media files.
type Store struct {
	dir      string
	dirPerm  os.FileMode
	filePerm os.FileMode
}

// Option configures a Store.
type Option func(*Store)

// WithDirPerm sets the permissions used when creating the store directory.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.dirPerm = mode
	}
}

// WithFilePerm sets the permissions of published files.
func WithFilePerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.filePerm = mode
	}
}

// New creates a store rooted at dir.
//
// New does not touch the filesystem; the directory is created lazily by
// EnsureDir so that an unwritable location degrades instead of failing
// construction.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	s := &Store{
		dir:      filepath.Clean(dir),
		dirPerm:  defaultDirPerm,
		filePerm: defaultFilePerm,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the path of name inside the store directory.
// It does not check existence.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// EnsureDir creates the store directory if it does not exist.
// It is safe to call repeatedly and concurrently.
func (s *Store) EnsureDir() error {
	if err := os.MkdirAll(s.dir, s.dirPerm); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Exists reports whether a published file called name is present.
func (s *Store) Exists(name string) (bool, error) {
	if err := validName(name); err != nil {
		return false, err
	}
	root, err := s.openRoot()
	if err != nil {
		return false, err
	}
	defer root.Close()

	info, err := root.Stat(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat cache entry: %w", err)
	}
	return info.Mode().IsRegular(), nil
}

// Writer opens a streaming writer that publishes to name on Commit.
//
// The caller must call exactly one of Commit or Discard.
func (s *Store) Writer(name string) (*Writer, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	root, err := s.openRoot()
	if err != nil {
		return nil, err
	}
	tmp, tmpName, err := createTemp(root, s.filePerm)
	if err != nil {
		_ = root.Close()
		return nil, fmt.Errorf("create temp cache file: %w", err)
	}
	return &Writer{
		root:    root,
		file:    tmp,
		tmpName: tmpName,
		name:    name,
	}, nil
}

func (s *Store) openRoot() (*os.Root, error) {
	root, err := os.OpenRoot(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return root, nil
}

func validName(name string) error {
	if name == "" || name != filepath.Base(name) || !filepath.IsLocal(name) || strings.HasPrefix(name, PartialPrefix) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Writer streams content into a temp file and publishes it atomically.
type Writer struct {
	root    *os.Root
	file    *os.File
	tmpName string
	name    string
	written int64
	done    bool
}

// Write appends p to the temp file.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	w.written += int64(n)
	return n, err
}

// Written returns the number of bytes written so far.
func (w *Writer) Written() int64 {
	return w.written
}

// Commit flushes the temp file and renames it to its final name.
//
// If a complete file already exists at the final name, it is kept and the
// temp file is removed; published files are never replaced.
func (w *Writer) Commit() error {
	if w.done {
		return errors.New("cache writer already closed")
	}
	w.done = true
	defer w.root.Close()

	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		_ = w.root.Remove(w.tmpName)
		return fmt.Errorf("sync cache file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		_ = w.root.Remove(w.tmpName)
		return fmt.Errorf("close cache file: %w", err)
	}
	if _, err := w.root.Stat(w.name); err == nil {
		_ = w.root.Remove(w.tmpName)
		return nil
	}
	if err := w.root.Rename(w.tmpName, w.name); err != nil {
		if _, statErr := w.root.Stat(w.name); statErr == nil {
			_ = w.root.Remove(w.tmpName)
			return nil
		}
		_ = w.root.Remove(w.tmpName)
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

// Discard removes the temp file without publishing.
// Calling Discard after Commit is a no-op.
func (w *Writer) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	defer w.root.Close()

	_ = w.file.Close()
	if err := w.root.Remove(w.tmpName); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func createTemp(root *os.Root, perm os.FileMode) (*os.File, string, error) {
	for tries := 0; tries < 10000; tries++ {
		var randBytes [8]byte
		if _, err := rand.Read(randBytes[:]); err != nil {
			return nil, "", err
		}
		name := PartialPrefix + hex.EncodeToString(randBytes[:])
		f, err := root.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, perm)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return f, name, nil
	}
	return nil, "", errors.New("failed to create temp file")
}
