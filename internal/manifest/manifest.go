// Package manifest builds and validates the checksum-and-metadata index
// describing every file inside a backup archive.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bnema/stackops/internal/codec"
	"github.com/bnema/stackops/internal/domain"
)

// FileName is the manifest's name at the archive root.
const FileName = "manifest.json"

// FormatVersion is the current manifest format version. Validation of a
// different version proceeds with a warning; compatibility is best-effort.
const FormatVersion = "1"

// FileEntry records one archived file.
type FileEntry struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
}

// Manifest is the structured description of an archive's contents.
type Manifest struct {
	ManifestVersion string         `json:"manifest_version"`
	ToolVersion     string         `json:"tool_version"`
	ProjectID       string         `json:"project_id"`
	BackupType      string         `json:"backup_type"`
	CreatedAt       time.Time      `json:"created_at"`
	Hostname        string         `json:"hostname"`
	Encrypted       bool           `json:"encrypted"`
	TotalSize       int64          `json:"total_size"`
	ProjectPorts    map[string]int `json:"project_ports,omitempty"`
	Files           []FileEntry    `json:"files"`
}

// Metadata is the caller-supplied part of a manifest.
type Metadata struct {
	ToolVersion  string
	ProjectID    string
	BackupType   domain.BackupType
	Encrypted    bool
	Hostname     string
	ProjectPorts map[string]int
}

// Build walks dir, computing a checksum and size for every file except the
// manifest itself, and embeds the supplied metadata. Total size is the sum
// of the component sizes.
func Build(dir string, meta Metadata) (*Manifest, error) {
	hostname := meta.Hostname
	if hostname == "" {
		if h, err := os.Hostname(); err == nil {
			hostname = h
		} else {
			hostname = "unknown"
		}
	}

	m := &Manifest{
		ManifestVersion: FormatVersion,
		ToolVersion:     meta.ToolVersion,
		ProjectID:       meta.ProjectID,
		BackupType:      string(meta.BackupType),
		CreatedAt:       time.Now().UTC(),
		Hostname:        hostname,
		Encrypted:       meta.Encrypted,
		ProjectPorts:    meta.ProjectPorts,
	}

	err := filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		if rel == FileName {
			return nil
		}

		checksum, sumErr := codec.DigestFile(path)
		if sumErr != nil {
			return fmt.Errorf("digest %s: %w", rel, sumErr)
		}

		m.Files = append(m.Files, FileEntry{
			Path:     filepath.ToSlash(rel),
			Checksum: checksum,
			Size:     info.Size(),
		})
		m.TotalSize += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk backup directory: %w", err)
	}

	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Path < m.Files[j].Path })
	return m, nil
}

// Write stores the manifest at dir/manifest.json.
func (m *Manifest) Write(dir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), data, 0o640); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Load reads the manifest from dir/manifest.json.
func Load(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrManifestNotFound
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrManifestInvalid, err)
	}
	return &m, nil
}

// ValidationError describes one failing file.
type ValidationError struct {
	Path   string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// ValidationResult aggregates everything Validate found. Every failing
// file is reported, not just the first.
type ValidationResult struct {
	Manifest *Manifest
	Errors   []ValidationError
	Warnings []string
}

// OK reports whether validation found no errors. Warnings do not fail
// validation.
func (r ValidationResult) OK() bool {
	return len(r.Errors) == 0
}

// Validate checks every manifest entry against the extracted archive at
// dir: the file must exist at its recorded relative path and its digest
// must match. Missing files and digest mismatches are distinct records.
func Validate(dir string) (*ValidationResult, error) {
	m, err := Load(dir)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{Manifest: m}
	if m.ManifestVersion != FormatVersion {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"manifest format version %q differs from current %q; validating best-effort",
			m.ManifestVersion, FormatVersion))
	}

	for _, entry := range m.Files {
		path := filepath.Join(dir, filepath.FromSlash(entry.Path))
		info, statErr := os.Stat(path)
		if statErr != nil {
			result.Errors = append(result.Errors, ValidationError{Path: entry.Path, Reason: "file missing from archive"})
			continue
		}
		if info.Size() != entry.Size {
			result.Errors = append(result.Errors, ValidationError{
				Path:   entry.Path,
				Reason: fmt.Sprintf("size mismatch: manifest %d, archive %d", entry.Size, info.Size()),
			})
			continue
		}

		checksum, sumErr := codec.DigestFile(path)
		if sumErr != nil {
			result.Errors = append(result.Errors, ValidationError{Path: entry.Path, Reason: "file unreadable"})
			continue
		}
		if checksum != entry.Checksum {
			result.Errors = append(result.Errors, ValidationError{Path: entry.Path, Reason: "checksum mismatch"})
		}
	}

	return result, nil
}
