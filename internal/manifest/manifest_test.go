package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/stackops/internal/domain"
)

func buildSampleDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range map[string]string{
		"database/database.dump": "pgdump binary",
		"database/database.sql":  "CREATE TABLE things();",
		"config/.env":            "POSTGRES_PASSWORD=hunter2",
	} {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	}
	return dir
}

func buildAndWrite(t *testing.T, dir string) *Manifest {
	t.Helper()
	m, err := Build(dir, Metadata{
		ToolVersion: "1.0.0",
		ProjectID:   "acme",
		BackupType:  domain.BackupDatabase,
	})
	require.NoError(t, err)
	require.NoError(t, m.Write(dir))
	return m
}

func TestBuildExcludesManifestAndSumsSizes(t *testing.T) {
	dir := buildSampleDir(t)
	m := buildAndWrite(t, dir)

	require.Len(t, m.Files, 3)
	var total int64
	for _, f := range m.Files {
		assert.NotEqual(t, FileName, f.Path)
		assert.Len(t, f.Checksum, 64)
		total += f.Size
	}
	assert.Equal(t, total, m.TotalSize)
	assert.Equal(t, FormatVersion, m.ManifestVersion)
	assert.Equal(t, "acme", m.ProjectID)

	// Rebuilding after writing the manifest must still exclude it.
	again, err := Build(dir, Metadata{ProjectID: "acme", BackupType: domain.BackupDatabase})
	require.NoError(t, err)
	assert.Len(t, again.Files, 3)
}

func TestValidateRoundTrip(t *testing.T) {
	dir := buildSampleDir(t)
	buildAndWrite(t, dir)

	result, err := Validate(dir)
	require.NoError(t, err)
	assert.True(t, result.OK())
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestValidateReportsEveryFailingFile(t *testing.T) {
	dir := buildSampleDir(t)
	buildAndWrite(t, dir)

	// Flip one byte in one file, remove another outright.
	dumpPath := filepath.Join(dir, "database", "database.dump")
	data, err := os.ReadFile(dumpPath)
	require.NoError(t, err)
	data[0] ^= 0xff
	require.NoError(t, os.WriteFile(dumpPath, data, 0o640))
	require.NoError(t, os.Remove(filepath.Join(dir, "config", ".env")))

	result, err := Validate(dir)
	require.NoError(t, err)
	assert.False(t, result.OK())
	require.Len(t, result.Errors, 2, "validation must not short-circuit")

	reasons := map[string]string{}
	for _, e := range result.Errors {
		reasons[e.Path] = e.Reason
	}
	assert.Equal(t, "checksum mismatch", reasons["database/database.dump"])
	assert.Equal(t, "file missing from archive", reasons["config/.env"])

	// The untouched file must not be reported.
	_, reported := reasons["database/database.sql"]
	assert.False(t, reported)
}

func TestValidateVersionSkewWarnsButProceeds(t *testing.T) {
	dir := buildSampleDir(t)
	m := buildAndWrite(t, dir)
	m.ManifestVersion = "0"
	require.NoError(t, m.Write(dir))

	result, err := Validate(dir)
	require.NoError(t, err)
	assert.True(t, result.OK())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "format version")
}

func TestValidateMissingManifest(t *testing.T) {
	_, err := Validate(t.TempDir())
	assert.ErrorIs(t, err, domain.ErrManifestNotFound)
}
