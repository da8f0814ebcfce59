// Package filesystem implements the blob store port on a local directory.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bnema/zerowrap"

	"github.com/bnema/stackops/internal/boundaries/out"
	"github.com/bnema/stackops/internal/domain"
)

// Store keeps blobs as flat files under a root directory.
type Store struct {
	root string
	log  zerowrap.Logger
}

// NewStore creates the root directory if needed and returns a store over it.
func NewStore(root string, log zerowrap.Logger) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &Store{root: abs, log: log}, nil
}

// Root returns the absolute store directory.
func (s *Store) Root() string { return s.root }

// Put writes a blob atomically: the data lands in a temp file first and is
// renamed into place only after a successful write.
func (s *Store) Put(ctx context.Context, name string, data io.Reader) (int64, error) {
	dst, err := s.pathFor(name)
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(s.root, ".partial-*")
	if err != nil {
		return 0, fmt.Errorf("create temp blob: %w", err)
	}
	tmpPath := tmp.Name()

	size, err := io.Copy(tmp, data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = os.Rename(tmpPath, dst)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("store blob %s: %w", name, err)
	}

	s.log.Debug().Str("blob", name).Int64("size", size).Msg("blob stored")
	return size, nil
}

// Get opens a blob for reading.
func (s *Store) Get(_ context.Context, name string) (io.ReadCloser, error) {
	path, err := s.pathFor(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, domain.ErrArchiveNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", name, err)
	}
	return f, nil
}

// List returns blobs whose name starts with prefix, sorted by name.
func (s *Store) List(_ context.Context, prefix string) ([]out.BlobInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}

	var infos []out.BlobInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, out.BlobInfo{Name: name, Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Delete removes a blob. A missing blob is reported as ErrArchiveNotFound.
func (s *Store) Delete(_ context.Context, name string) error {
	path, err := s.pathFor(name)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", name, domain.ErrArchiveNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete blob %s: %w", name, err)
	}
	return nil
}

// pathFor resolves a blob name to a path and rejects names that would
// escape the store root.
func (s *Store) pathFor(name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	path := filepath.Join(s.root, name)
	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	return path, nil
}
