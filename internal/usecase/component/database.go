package component

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bnema/zerowrap"

	"github.com/bnema/stackops/internal/boundaries/out"
	"github.com/bnema/stackops/internal/domain"
)

// DumpFileName is the binary dump inside the database component directory.
// SQLFileName is a plain-text companion dump kept for manual inspection;
// restore only ever loads the binary dump.
const (
	DumpFileName = "database.dump"
	SQLFileName  = "database.sql"
)

// Database backs up and restores the postgres service. A failed dump (the
// database process being down, usually) is a soft failure like the file
// components; a missing dump at restore time is not.
type Database struct {
	db  out.Database
	log zerowrap.Logger
}

// NewDatabase creates the database component adapter.
func NewDatabase(db out.Database, log zerowrap.Logger) *Database {
	return &Database{db: db, log: log}
}

func (d *Database) Name() string { return string(domain.ComponentDatabase) }

// Backup writes a binary dump into the staging tree.
func (d *Database) Backup(ctx context.Context, target domain.Instance, stagingDir string) (domain.ComponentResult, error) {
	dir := filepath.Join(stagingDir, string(domain.ComponentDatabase))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return domain.ComponentResult{}, fmt.Errorf("create database staging dir: %w", err)
	}

	size, err := d.writeDump(filepath.Join(dir, DumpFileName), func() (io.ReadCloser, error) {
		return d.db.DumpBinary(ctx, target)
	})
	if err == nil {
		_, err = d.writeDump(filepath.Join(dir, SQLFileName), func() (io.ReadCloser, error) {
			return d.db.DumpSQL(ctx, target)
		})
	}
	if err != nil {
		// Leave no partial dumps behind for the manifest to index.
		if rerr := os.RemoveAll(dir); rerr != nil {
			return domain.ComponentResult{}, fmt.Errorf("clear failed database staging dir: %w", rerr)
		}
		d.log.Warn().Err(err).Str("target", target.ID).Msg("database dump failed")
		return domain.ComponentResult{
			Component: domain.ComponentDatabase,
			Status:    domain.ComponentSoftFailed,
			Detail:    "dump failed",
			Err:       err,
		}, nil
	}

	d.log.Info().Str("target", target.ID).Int64("size", size).Msg("database dumped")
	return domain.ComponentResult{
		Component: domain.ComponentDatabase,
		Status:    domain.ComponentOK,
		Detail:    fmt.Sprintf("binary dump, %d bytes", size),
	}, nil
}

func (d *Database) writeDump(path string, open func() (io.ReadCloser, error)) (int64, error) {
	src, err := open()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	size, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	return size, err
}

// Restore loads the staged dump. Dry runs go through a scratch database
// and never touch the live one; live runs drop and recreate it.
func (d *Database) Restore(ctx context.Context, target domain.Instance, stagingDir string, dryRun bool) (domain.ComponentResult, error) {
	dir := filepath.Join(stagingDir, string(domain.ComponentDatabase))
	present, empty, err := dirState(dir)
	if err != nil {
		return domain.ComponentResult{}, err
	}
	if !present {
		return domain.ComponentResult{}, fmt.Errorf("database component missing from archive: %w", domain.ErrArchiveCorrupt)
	}
	if empty {
		return domain.ComponentResult{
			Component: domain.ComponentDatabase,
			Status:    domain.ComponentEmpty,
			Detail:    "captured empty, nothing to restore",
		}, nil
	}

	dump, err := os.Open(filepath.Join(dir, DumpFileName))
	if err != nil {
		return domain.ComponentResult{}, fmt.Errorf("open staged dump: %w", err)
	}
	defer dump.Close()

	if dryRun {
		result, err := d.db.RestoreScratch(ctx, target, dump)
		if err != nil {
			return domain.ComponentResult{}, fmt.Errorf("scratch restore: %w", err)
		}
		return domain.ComponentResult{
			Component: domain.ComponentDatabase,
			Status:    domain.ComponentOK,
			Detail:    fmt.Sprintf("dump loads cleanly, %d tables", result.Tables),
		}, nil
	}

	if err := d.db.RestoreBinary(ctx, target, dump); err != nil {
		return domain.ComponentResult{}, fmt.Errorf("restore database: %w", err)
	}
	d.log.Info().Str("target", target.ID).Msg("database restored")
	return domain.ComponentResult{
		Component: domain.ComponentDatabase,
		Status:    domain.ComponentOK,
		Detail:    "database dropped, recreated and restored",
	}, nil
}
