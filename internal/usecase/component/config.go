package component

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bnema/zerowrap"

	"github.com/bnema/stackops/internal/domain"
)

// Config backs up and restores the target's definition files: the compose
// file, the environment file and the instance descriptor. The compose file
// is mandatory; the others are captured when present.
type Config struct {
	log zerowrap.Logger
}

// NewConfig creates the config component adapter.
func NewConfig(log zerowrap.Logger) *Config {
	return &Config{log: log}
}

func (c *Config) Name() string { return string(domain.ComponentConfig) }

func configFiles(target domain.Instance) map[string]string {
	return map[string]string{
		domain.ComposeFileName:  target.ComposePath(),
		domain.EnvFileName:      target.EnvPath(),
		domain.InstanceFileName: target.InstancePath(),
	}
}

// Backup copies the definition files into the staging tree.
func (c *Config) Backup(_ context.Context, target domain.Instance, stagingDir string) (domain.ComponentResult, error) {
	dir := filepath.Join(stagingDir, string(domain.ComponentConfig))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return domain.ComponentResult{}, fmt.Errorf("create config staging dir: %w", err)
	}

	copied := 0
	for name, src := range configFiles(target) {
		info, err := os.Stat(src)
		if errors.Is(err, fs.ErrNotExist) {
			if name == domain.ComposeFileName {
				return domain.ComponentResult{}, fmt.Errorf("%s: %w", src, domain.ErrConfigNotFound)
			}
			continue
		}
		if err != nil {
			return domain.ComponentResult{}, fmt.Errorf("stat %s: %w", src, err)
		}
		if err := copyFile(src, filepath.Join(dir, name), info.Mode().Perm()); err != nil {
			return domain.ComponentResult{}, fmt.Errorf("copy %s: %w", src, err)
		}
		copied++
	}

	return domain.ComponentResult{
		Component: domain.ComponentConfig,
		Status:    domain.ComponentOK,
		Detail:    fmt.Sprintf("%d definition files", copied),
	}, nil
}

// Restore copies the staged definition files back into the target root.
func (c *Config) Restore(_ context.Context, target domain.Instance, stagingDir string, dryRun bool) (domain.ComponentResult, error) {
	dir := filepath.Join(stagingDir, string(domain.ComponentConfig))
	present, empty, err := dirState(dir)
	if err != nil {
		return domain.ComponentResult{}, err
	}
	if !present {
		return domain.ComponentResult{}, fmt.Errorf("config component missing from archive: %w", domain.ErrArchiveCorrupt)
	}
	if empty {
		return domain.ComponentResult{
			Component: domain.ComponentConfig,
			Status:    domain.ComponentEmpty,
			Detail:    "captured empty, nothing to restore",
		}, nil
	}

	restored := 0
	for name, dst := range configFiles(target) {
		src := filepath.Join(dir, name)
		info, err := os.Stat(src)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return domain.ComponentResult{}, fmt.Errorf("stat staged %s: %w", name, err)
		}
		if !dryRun {
			if err := copyFile(src, dst, info.Mode().Perm()); err != nil {
				return domain.ComponentResult{}, fmt.Errorf("restore %s: %w", name, err)
			}
		}
		restored++
	}

	detail := fmt.Sprintf("%d definition files restored", restored)
	if dryRun {
		detail = fmt.Sprintf("%d definition files staged for restore", restored)
	} else {
		c.log.Info().Str("target", target.ID).Int("files", restored).Msg("config restored")
	}
	return domain.ComponentResult{
		Component: domain.ComponentConfig,
		Status:    domain.ComponentOK,
		Detail:    detail,
	}, nil
}
