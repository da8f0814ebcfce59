package component

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bnema/zerowrap"

	"github.com/bnema/stackops/internal/domain"
)

func storageSource(target domain.Instance) string   { return target.StorageDir() }
func functionsSource(target domain.Instance) string { return target.FunctionsDir() }

// Files backs up and restores an on-disk directory component (storage,
// functions). These components fail soft: a broken directory is recorded
// but never aborts the run.
type Files struct {
	component domain.Component
	source    func(domain.Instance) string
	log       zerowrap.Logger
}

// NewFiles creates a directory component adapter.
func NewFiles(component domain.Component, source func(domain.Instance) string, log zerowrap.Logger) *Files {
	return &Files{component: component, source: source, log: log}
}

func (f *Files) Name() string { return string(f.component) }

// Backup copies the source directory into the staging tree. An absent or
// empty source becomes an explicit empty marker.
func (f *Files) Backup(_ context.Context, target domain.Instance, stagingDir string) (domain.ComponentResult, error) {
	src := f.source(target)
	dst := filepath.Join(stagingDir, string(f.component))

	files, err := copyTree(src, dst)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && files == 0) {
		if merr := writeEmptyMarker(dst); merr != nil {
			return domain.ComponentResult{}, fmt.Errorf("write empty marker: %w", merr)
		}
		return domain.ComponentResult{
			Component: f.component,
			Status:    domain.ComponentEmpty,
			Detail:    "source directory absent or empty",
		}, nil
	}
	if err != nil {
		f.log.Warn().Err(err).Str("component", f.Name()).Str("target", target.ID).Msg("component backup failed")
		return domain.ComponentResult{
			Component: f.component,
			Status:    domain.ComponentSoftFailed,
			Detail:    "copy failed",
			Err:       err,
		}, nil
	}

	return domain.ComponentResult{
		Component: f.component,
		Status:    domain.ComponentOK,
		Detail:    fmt.Sprintf("%d files", files),
	}, nil
}

// Restore copies staged files back over the target directory. The target
// directory is replaced wholesale so deleted files do not linger.
func (f *Files) Restore(_ context.Context, target domain.Instance, stagingDir string, dryRun bool) (domain.ComponentResult, error) {
	src := filepath.Join(stagingDir, string(f.component))
	present, empty, err := dirState(src)
	if err != nil {
		return domain.ComponentResult{}, err
	}
	if !present {
		return domain.ComponentResult{}, fmt.Errorf("%s component missing from archive: %w", f.Name(), domain.ErrArchiveCorrupt)
	}
	if empty {
		return domain.ComponentResult{
			Component: f.component,
			Status:    domain.ComponentEmpty,
			Detail:    "captured empty, nothing to restore",
		}, nil
	}

	files, err := countTree(src)
	if err != nil {
		return domain.ComponentResult{}, err
	}
	if dryRun {
		return domain.ComponentResult{
			Component: f.component,
			Status:    domain.ComponentOK,
			Detail:    fmt.Sprintf("%d files staged for restore", files),
		}, nil
	}

	dst := f.source(target)
	if err := os.RemoveAll(dst); err != nil {
		return domain.ComponentResult{}, fmt.Errorf("clear %s: %w", dst, err)
	}
	if _, err := copyTree(src, dst); err != nil {
		f.log.Warn().Err(err).Str("component", f.Name()).Str("target", target.ID).Msg("component restore failed")
		return domain.ComponentResult{
			Component: f.component,
			Status:    domain.ComponentSoftFailed,
			Detail:    "copy back failed",
			Err:       err,
		}, nil
	}

	f.log.Info().Str("component", f.Name()).Str("target", target.ID).Int("files", files).Msg("component restored")
	return domain.ComponentResult{
		Component: f.component,
		Status:    domain.ComponentOK,
		Detail:    fmt.Sprintf("%d files restored", files),
	}, nil
}

// copyTree copies src into dst recursively and returns the number of
// regular files copied. Symlinks are preserved as links.
func copyTree(src, dst string) (int, error) {
	files := 0
	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			if err := copyFile(path, target, info.Mode().Perm()); err != nil {
				return err
			}
			files++
			return nil
		default:
			return nil
		}
	})
	return files, err
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

func countTree(dir string) (int, error) {
	files := 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() && filepath.Base(path) != EmptyMarker {
			files++
		}
		return nil
	})
	return files, err
}
