// Package codec computes content digests and wraps archives in a
// password-derived encryption layer.
//
// Encryption uses age with a scrypt recipient: the password is stretched
// through a salted, work-factored KDF and the payload is authenticated, so
// a wrong password and a corrupted archive are indistinguishable on
// decrypt. Plaintext passwords never reach a manifest, log or archive.
package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"

	"github.com/bnema/stackops/internal/domain"
)

// EncryptedExt marks an archive as wrapped in the encryption layer.
const EncryptedExt = ".enc"

// DigestFile computes the hex-encoded sha256 digest of a file.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for digest: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read file for digest: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IsEncrypted reports whether a filename carries the encryption suffix.
func IsEncrypted(name string) bool {
	return strings.HasSuffix(name, EncryptedExt)
}

// EncryptFile encrypts path with a password-derived key and returns the
// path of the encrypted output (path + ".enc"). Partial output is removed
// on failure.
func EncryptFile(path, password string) (string, error) {
	if password == "" {
		return "", domain.ErrEmptyPassword
	}

	recipient, err := age.NewScryptRecipient(password)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrEncryptFailed, err)
	}

	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open plaintext: %w", err)
	}
	defer in.Close()

	outPath := path + EncryptedExt
	if err := encryptStream(in, outPath, recipient); err != nil {
		_ = os.Remove(outPath)
		return "", err
	}
	return outPath, nil
}

func encryptStream(in io.Reader, outPath string, recipient age.Recipient) (err error) {
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create encrypted output: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close encrypted output: %w", cerr)
		}
	}()

	w, err := age.Encrypt(out, recipient)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrEncryptFailed, err)
	}
	if _, err = io.Copy(w, in); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrEncryptFailed, err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrEncryptFailed, err)
	}
	return nil
}

// DecryptFile decrypts path and returns the path of the plaintext output
// (path without the ".enc" suffix). A cipher rejection is reported as
// ErrDecryptFailed; the caller cannot distinguish a wrong password from
// corrupted input, and must not try.
func DecryptFile(path, password string) (string, error) {
	if password == "" {
		return "", domain.ErrEmptyPassword
	}

	identity, err := age.NewScryptIdentity(password)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecryptFailed, err)
	}

	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrArchiveNotFound, err)
	}
	defer in.Close()

	outPath := strings.TrimSuffix(path, EncryptedExt)
	if outPath == path {
		outPath = path + ".plain"
	}
	if err := decryptStream(in, outPath, identity); err != nil {
		_ = os.Remove(outPath)
		return "", err
	}
	return outPath, nil
}

func decryptStream(in io.Reader, outPath string, identity age.Identity) (err error) {
	r, err := age.Decrypt(in, identity)
	if err != nil {
		var badPassphrase *age.NoIdentityMatchError
		if errors.As(err, &badPassphrase) {
			return domain.ErrDecryptFailed
		}
		return fmt.Errorf("%w: %v", domain.ErrDecryptFailed, err)
	}

	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create plaintext output: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close plaintext output: %w", cerr)
		}
	}()

	if _, err = io.Copy(out, r); err != nil {
		// The age payload is authenticated; a copy failure here means the
		// ciphertext was tampered with or truncated.
		return fmt.Errorf("%w: %v", domain.ErrDecryptFailed, err)
	}
	return nil
}
