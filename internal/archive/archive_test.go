package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/stackops/internal/domain"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	}
}

func TestCreateExtractRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"config/.env":            "POSTGRES_PASSWORD=secret",
		"database/database.dump": "binary-ish",
		"storage/a/b/object.bin": "payload",
	})

	archivePath := filepath.Join(t.TempDir(), "backup"+Ext)
	require.NoError(t, Create(src, archivePath))

	count, err := List(archivePath)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, 3)

	dest := t.TempDir()
	require.NoError(t, Extract(archivePath, dest))

	data, err := os.ReadFile(filepath.Join(dest, "storage", "a", "b", "object.bin"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	data, err = os.ReadFile(filepath.Join(dest, "config", ".env"))
	require.NoError(t, err)
	assert.Equal(t, "POSTGRES_PASSWORD=secret", string(data))
}

func TestCreateLeavesNoPartialOutputOnFailure(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out"+Ext)
	err := Create(filepath.Join(t.TempDir(), "does-not-exist"), out)
	require.Error(t, err)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "partial archive must be removed")
}

func TestExtractRejectsEscapingEntries(t *testing.T) {
	// Hand-build a tar.gz containing a traversal entry.
	var buf bytes.Buffer
	writeMaliciousArchive(t, &buf)

	dest := t.TempDir()
	err := Unpack(&buf, dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrArchiveCorrupt)
}

func writeMaliciousArchive(t *testing.T, w io.Writer) {
	t.Helper()
	gzw := gzip.NewWriter(w)
	tw := tar.NewWriter(gzw)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../../evil.txt", Mode: 0o640, Size: 4, Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte("evil"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())
}

func TestListUnreadableArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage"+Ext)
	require.NoError(t, os.WriteFile(path, []byte("not a gzip stream"), 0o640))

	_, err := List(path)
	assert.ErrorIs(t, err, domain.ErrArchiveUnreadable)
}

func TestCompressOpenCompressedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.tar.gz")
	require.NoError(t, Compress(bytes.NewReader([]byte("tar-stream-bytes")), path))

	r, err := OpenCompressed(path)
	require.NoError(t, err)
	defer r.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(r)
	require.NoError(t, err)
	assert.Equal(t, "tar-stream-bytes", out.String())
}
