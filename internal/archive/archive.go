// Package archive packages directory trees into gzip-compressed tar
// archives and extracts them again. All paths inside an archive are
// relative; extraction refuses entries that would escape the destination.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bnema/stackops/internal/domain"
)

// Ext is the archive filename extension.
const Ext = ".tar.gz"

// Create writes the contents of sourceDir into a tar.gz archive at
// outputPath. A failed run leaves no partial archive behind.
func Create(sourceDir, outputPath string) (err error) {
	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close archive file: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(outputPath)
		}
	}()

	gzw := gzip.NewWriter(out)
	tw := tar.NewWriter(gzw)

	err = filepath.Walk(sourceDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, relErr := filepath.Rel(sourceDir, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}

		header, hdrErr := tar.FileInfoHeader(info, "")
		if hdrErr != nil {
			return hdrErr
		}
		header.Name = filepath.ToSlash(rel)
		header.Format = tar.FormatPAX

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, openErr := os.Open(path)
		if openErr != nil {
			return openErr
		}
		_, copyErr := io.Copy(tw, f)
		if closeErr := f.Close(); copyErr == nil {
			copyErr = closeErr
		}
		return copyErr
	})
	if err != nil {
		return fmt.Errorf("write tar stream: %w", err)
	}

	if err = tw.Close(); err != nil {
		return fmt.Errorf("finalize tar stream: %w", err)
	}
	if err = gzw.Close(); err != nil {
		return fmt.Errorf("finalize gzip stream: %w", err)
	}
	return nil
}

// Extract unpacks a tar.gz archive into destDir.
func Extract(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrArchiveNotFound, err)
	}
	defer f.Close()

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return fmt.Errorf("create extraction dir: %w", err)
	}
	return Unpack(f, destDir)
}

// Unpack extracts a gzipped tar stream into destDir.
func Unpack(r io.Reader, destDir string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrArchiveUnreadable, err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrArchiveUnreadable, err)
		}

		target, err := securePath(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(header.Mode)&0o777|0o700); err != nil {
				return fmt.Errorf("create dir %s: %w", header.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return fmt.Errorf("create parent dir for %s: %w", header.Name, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode)&0o777)
			if err != nil {
				return fmt.Errorf("create file %s: %w", header.Name, err)
			}
			_, copyErr := io.Copy(out, tr) // #nosec G110 - archives come from this tool's own backups
			if closeErr := out.Close(); copyErr == nil {
				copyErr = closeErr
			}
			if copyErr != nil {
				return fmt.Errorf("extract file %s: %w", header.Name, copyErr)
			}
		case tar.TypeSymlink:
			if err := os.Symlink(header.Linkname, target); err != nil && !os.IsExist(err) {
				return fmt.Errorf("create symlink %s: %w", header.Name, err)
			}
		}
	}
}

// List returns the number of entries in a tar.gz archive, verifying that
// the whole stream is readable.
func List(archivePath string) (int, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrArchiveNotFound, err)
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrArchiveUnreadable, err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	count := 0
	for {
		_, err := tr.Next()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("%w: %v", domain.ErrArchiveUnreadable, err)
		}
		count++
	}
}

// Compress gzips an arbitrary stream to outputPath. Used for tar streams
// produced by the container runtime, which arrive uncompressed.
func Compress(r io.Reader, outputPath string) (err error) {
	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("create compressed file: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(outputPath)
		}
	}()

	gzw := gzip.NewWriter(out)
	if _, err = io.Copy(gzw, r); err != nil {
		return fmt.Errorf("compress stream: %w", err)
	}
	if err = gzw.Close(); err != nil {
		return fmt.Errorf("finalize gzip stream: %w", err)
	}
	return nil
}

// OpenCompressed opens a gzip file and returns the decompressed stream.
// Close closes both the gzip reader and the underlying file.
func OpenCompressed(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArchiveNotFound, err)
	}
	gzr, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrArchiveUnreadable, err)
	}
	return &compressedReader{gzr: gzr, file: f}, nil
}

type compressedReader struct {
	gzr  *gzip.Reader
	file *os.File
}

func (c *compressedReader) Read(p []byte) (int, error) { return c.gzr.Read(p) }

func (c *compressedReader) Close() error {
	gzErr := c.gzr.Close()
	fileErr := c.file.Close()
	if gzErr != nil {
		return gzErr
	}
	return fileErr
}

func securePath(destDir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: entry %q escapes destination", domain.ErrArchiveCorrupt, name)
	}
	return filepath.Join(destDir, clean), nil
}
