package codec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/stackops/internal/domain"
)

func TestDigestFileDeterministic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("stackops"), 0o640))

	first, err := DigestFile(path)
	require.NoError(t, err)
	second, err := DigestFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64, "sha256 hex digest is 64 chars")
}

func TestDigestFileMissing(t *testing.T) {
	_, err := DigestFile(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "backup.tar.gz")
	payload := []byte("compressed archive bytes")
	require.NoError(t, os.WriteFile(plain, payload, 0o640))

	encPath, err := EncryptFile(plain, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, plain+EncryptedExt, encPath)
	assert.True(t, IsEncrypted(encPath))

	ciphertext, err := os.ReadFile(encPath)
	require.NoError(t, err)
	assert.NotContains(t, string(ciphertext), "compressed archive bytes")

	// decrypt into a fresh location to compare byte-for-byte
	require.NoError(t, os.Remove(plain))
	outPath, err := DecryptFile(encPath, "correct horse")
	require.NoError(t, err)

	decrypted, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, payload, decrypted)
}

func TestDecryptWrongPassword(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "backup.tar.gz")
	require.NoError(t, os.WriteFile(plain, []byte("secret payload"), 0o640))

	encPath, err := EncryptFile(plain, "right")
	require.NoError(t, err)
	require.NoError(t, os.Remove(plain))

	_, err = DecryptFile(encPath, "wrong")
	assert.ErrorIs(t, err, domain.ErrDecryptFailed)

	_, statErr := os.Stat(plain)
	assert.True(t, os.IsNotExist(statErr), "failed decrypt must not leave plaintext behind")
}

func TestEncryptEmptyPassword(t *testing.T) {
	plain := filepath.Join(t.TempDir(), "backup.tar.gz")
	require.NoError(t, os.WriteFile(plain, []byte("x"), 0o640))

	_, err := EncryptFile(plain, "")
	assert.ErrorIs(t, err, domain.ErrEmptyPassword)

	_, err = DecryptFile(plain, "")
	assert.ErrorIs(t, err, domain.ErrEmptyPassword)
}
