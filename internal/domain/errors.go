package domain

import "errors"

// Domain errors represent business-level errors that can occur in the system.
// These errors are used across layers to communicate specific failure conditions.
var (
	// Target errors
	ErrTargetNotFound   = errors.New("target instance not found")
	ErrTargetNotRunning = errors.New("target instance is not running")

	// Archive errors
	ErrArchiveNotFound   = errors.New("backup archive not found")
	ErrArchiveCorrupt    = errors.New("backup archive is corrupt")
	ErrArchiveUnreadable = errors.New("backup archive is not readable")

	// Crypto errors
	ErrEmptyPassword = errors.New("password must not be empty")
	ErrEncryptFailed = errors.New("encryption failed")
	ErrDecryptFailed = errors.New("decryption failed: wrong password or corrupted input")

	// Manifest errors
	ErrManifestNotFound = errors.New("manifest not found in archive")
	ErrManifestInvalid  = errors.New("manifest validation failed")

	// Snapshot errors
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrSnapshotExists   = errors.New("snapshot directory already exists")

	// Container errors
	ErrContainerNotFound   = errors.New("container not found")
	ErrContainerNotRunning = errors.New("container is not running")
	ErrImagePullFailed     = errors.New("failed to pull image")

	// Volume errors
	ErrVolumeNotFound = errors.New("volume not found")

	// Policy errors
	ErrInvalidBackupType = errors.New("invalid backup type")
	ErrInvalidRetention  = errors.New("retention count must not be negative")

	// Health errors
	ErrHealthCheckFailed = errors.New("post-update health verification failed")

	// Config errors
	ErrConfigNotFound   = errors.New("configuration not found")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrConfigLoadFailed = errors.New("failed to load configuration")

	// Lock errors
	ErrTargetLocked = errors.New("another operation is already running for this target")
)
