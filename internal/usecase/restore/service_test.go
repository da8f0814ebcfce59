package restore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/stackops/internal/archive"
	"github.com/bnema/stackops/internal/boundaries/out"
	"github.com/bnema/stackops/internal/codec"
	"github.com/bnema/stackops/internal/domain"
	"github.com/bnema/stackops/internal/manifest"
	"github.com/bnema/stackops/internal/testutil"
	"github.com/bnema/stackops/internal/usecase/component"
)

const testCompose = `services:
  db:
    image: supabase/postgres:15.8.1.085
  kong:
    image: kong:2.8.1
    depends_on:
      - db
`

type fixture struct {
	svc     *Service
	runtime *testutil.FakeRuntime
	db      *testutil.FakeDatabase
	sink    *testutil.FakeBlobStore
	target  domain.Instance
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		runtime: &testutil.FakeRuntime{},
		db:      &testutil.FakeDatabase{DumpData: []byte("PGDMP"), Scratch: out.ScratchRestore{Tables: 12}},
		sink:    &testutil.FakeBlobStore{},
		target: domain.Instance{
			ID:       "acme",
			RootDir:  t.TempDir(),
			Services: []string{"db", "kong"},
			Ports:    map[string]int{domain.ServiceAPI: 8000},
		},
	}
	require.NoError(t, os.WriteFile(f.target.ComposePath(), []byte(testCompose), 0o640))

	deps := component.Deps{Runtime: f.runtime, Database: f.db, Log: zerowrap.Default()}
	f.svc = NewService(deps, func(_ context.Context, _ string) (out.BlobStore, error) { return f.sink, nil }, zerowrap.Default())
	return f
}

// stageArchive builds a valid archive of the given type in the fake sink.
func (f *fixture) stageArchive(t *testing.T, backupType domain.BackupType, name, password string) {
	t.Helper()
	staging := t.TempDir()

	deps := component.Deps{Runtime: f.runtime, Database: f.db, Log: zerowrap.Default()}
	adapters, err := component.ForType(backupType, deps)
	require.NoError(t, err)
	for _, adapter := range adapters {
		_, err := adapter.Backup(context.Background(), f.target, staging)
		require.NoError(t, err)
	}

	m, err := manifest.Build(staging, manifest.Metadata{
		ToolVersion:  "1.0.0",
		ProjectID:    f.target.ID,
		BackupType:   backupType,
		Encrypted:    password != "",
		Hostname:     "ops-host",
		ProjectPorts: f.target.Ports,
	})
	require.NoError(t, err)
	require.NoError(t, m.Write(staging))

	path := filepath.Join(t.TempDir(), "staged"+archive.Ext)
	require.NoError(t, archive.Create(staging, path))
	if password != "" {
		encPath, err := codec.EncryptFile(path, password)
		require.NoError(t, err)
		path = encPath
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = f.sink.Put(context.Background(), name, bytes.NewReader(data))
	require.NoError(t, err)
}

func TestDryRunMutatesNothing(t *testing.T) {
	f := newFixture(t)
	f.stageArchive(t, domain.BackupFull, "acme_full_20260831_120000.tar.gz", "")

	report, err := f.svc.Run(context.Background(), Request{
		Target:      f.target,
		Destination: "/backups",
		Archive:     "acme_full_20260831_120000.tar.gz",
		DryRun:      true,
	})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.True(t, report.OK())
	assert.Equal(t, domain.BackupFull, report.Type)
	require.Len(t, report.Components, 5)

	assert.Empty(t, f.db.Restored, "dry run must not touch the live database")
	for _, call := range f.runtime.CallsMade() {
		assert.NotContains(t, call, "stop ", "dry run must not stop containers")
		assert.NotContains(t, call, "start ", "dry run must not start containers")
	}
}

func TestLiveRestoreOrderAndRestart(t *testing.T) {
	f := newFixture(t)
	f.stageArchive(t, domain.BackupFull, "acme_full_20260831_120000.tar.gz", "")
	f.runtime.Calls = nil

	report, err := f.svc.Run(context.Background(), Request{
		Target:      f.target,
		Destination: "/backups",
		Archive:     "acme_full_20260831_120000.tar.gz",
	})
	require.NoError(t, err)
	assert.True(t, report.OK())
	require.Len(t, f.db.Restored, 1)
	assert.Equal(t, []byte("PGDMP"), f.db.Restored[0])

	calls := f.runtime.CallsMade()
	stopKong, stopDB, startDB, startKong := -1, -1, -1, -1
	for i, call := range calls {
		switch call {
		case "stop acme-kong-1":
			stopKong = i
		case "stop acme-db-1":
			if stopDB == -1 {
				stopDB = i
			}
		case "start acme-db-1":
			if startDB == -1 {
				startDB = i
			}
		case "start acme-kong-1":
			startKong = i
		}
	}
	require.NotEqual(t, -1, stopKong)
	require.NotEqual(t, -1, startKong)
	assert.Less(t, stopKong, stopDB, "dependents stop before the database")
	assert.Less(t, stopDB, startDB, "full stop precedes the database restore")
	assert.Less(t, startDB, startKong, "database starts before its dependents")
}

func TestEncryptedArchiveRequiresPassword(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Run(context.Background(), Request{
		Target:      f.target,
		Destination: "/backups",
		Archive:     "acme_full_20260831_120000.tar.gz.enc",
	})
	assert.ErrorIs(t, err, domain.ErrEmptyPassword)
}

func TestEncryptedRoundTrip(t *testing.T) {
	f := newFixture(t)
	name := "acme_database_20260831_120000.tar.gz.enc"
	f.stageArchive(t, domain.BackupDatabase, name, "correct horse battery")

	report, err := f.svc.Run(context.Background(), Request{
		Target:      f.target,
		Destination: "/backups",
		Archive:     name,
		DryRun:      true,
		Password:    "correct horse battery",
	})
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, domain.BackupDatabase, report.Type)
}

func TestWrongPasswordFails(t *testing.T) {
	f := newFixture(t)
	name := "acme_database_20260831_120000.tar.gz.enc"
	f.stageArchive(t, domain.BackupDatabase, name, "correct horse battery")

	_, err := f.svc.Run(context.Background(), Request{
		Target:      f.target,
		Destination: "/backups",
		Archive:     name,
		DryRun:      true,
		Password:    "wrong",
	})
	assert.ErrorIs(t, err, domain.ErrDecryptFailed)
}

func TestCorruptArchiveNeverPartiallyRestored(t *testing.T) {
	f := newFixture(t)
	name := "acme_database_20260831_120000.tar.gz"
	f.stageArchive(t, domain.BackupDatabase, name, "")

	// Rebuild the blob with a file the manifest does not match.
	scratch := t.TempDir()
	data := f.sink.Blobs[name]
	archivePath := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(archivePath, data, 0o640))
	require.NoError(t, archive.Extract(archivePath, scratch))
	require.NoError(t, os.WriteFile(filepath.Join(scratch, "database", component.DumpFileName), []byte("tampered"), 0o640))
	require.NoError(t, archive.Create(scratch, archivePath))
	tampered, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	f.sink.Blobs[name] = tampered

	_, err = f.svc.Run(context.Background(), Request{
		Target:      f.target,
		Destination: "/backups",
		Archive:     name,
	})
	assert.ErrorIs(t, err, domain.ErrArchiveCorrupt)
	assert.Empty(t, f.db.Restored, "a corrupt archive must not reach the database")
}

func TestMissingArchive(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Run(context.Background(), Request{
		Target:      f.target,
		Destination: "/backups",
		Archive:     "acme_full_19990101_000000.tar.gz",
	})
	assert.ErrorIs(t, err, domain.ErrArchiveNotFound)
}
