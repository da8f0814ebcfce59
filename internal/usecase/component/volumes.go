package component

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bnema/zerowrap"

	"github.com/bnema/stackops/internal/archive"
	"github.com/bnema/stackops/internal/boundaries/out"
	"github.com/bnema/stackops/internal/domain"
)

// The volumes component directory holds an archive of the bind-mounted
// volumes root plus one compressed tar per named volume under named/.
const (
	namedDir        = "named"
	bindArchiveName = "bind" + archive.Ext
)

// Volumes backs up and restores the target's bind-mounted volumes root and
// its named docker volumes. A single broken volume fails soft; the
// remaining volumes are still captured.
type Volumes struct {
	runtime out.ContainerRuntime
	log     zerowrap.Logger
}

// NewVolumes creates the named volume component adapter.
func NewVolumes(runtime out.ContainerRuntime, log zerowrap.Logger) *Volumes {
	return &Volumes{runtime: runtime, log: log}
}

func (v *Volumes) Name() string { return string(domain.ComponentVolumes) }

// Backup archives the bind-mounted volumes root and exports every named
// volume carrying the target's prefix, one compressed tar per volume.
func (v *Volumes) Backup(ctx context.Context, target domain.Instance, stagingDir string) (domain.ComponentResult, error) {
	base := filepath.Join(stagingDir, string(domain.ComponentVolumes))

	names, err := v.runtime.ListVolumes(ctx, target.VolumePrefix())
	if err != nil {
		return domain.ComponentResult{}, fmt.Errorf("list volumes: %w", err)
	}
	sort.Strings(names)

	bindRoot := target.VolumesDir()
	haveBind := false
	if info, err := os.Stat(bindRoot); err == nil && info.IsDir() {
		haveBind = true
	}

	if !haveBind && len(names) == 0 {
		if err := writeEmptyMarker(base); err != nil {
			return domain.ComponentResult{}, fmt.Errorf("write empty marker: %w", err)
		}
		return domain.ComponentResult{
			Component: domain.ComponentVolumes,
			Status:    domain.ComponentEmpty,
			Detail:    "no bind root and no named volumes",
		}, nil
	}

	if err := os.MkdirAll(filepath.Join(base, namedDir), 0o750); err != nil {
		return domain.ComponentResult{}, fmt.Errorf("create volumes staging dir: %w", err)
	}

	var failed []string
	if haveBind {
		if err := archive.Create(bindRoot, filepath.Join(base, bindArchiveName)); err != nil {
			v.log.Warn().Err(err).Str("target", target.ID).Msg("bind volume archive failed")
			failed = append(failed, "bind root")
		}
	}

	exported := 0
	for _, name := range names {
		if err := v.exportOne(ctx, name, filepath.Join(base, namedDir)); err != nil {
			v.log.Warn().Err(err).Str("volume", name).Msg("volume export failed")
			failed = append(failed, name)
			continue
		}
		exported++
	}

	if len(failed) > 0 {
		return domain.ComponentResult{
			Component: domain.ComponentVolumes,
			Status:    domain.ComponentSoftFailed,
			Detail:    fmt.Sprintf("%d of %d named volumes exported", exported, len(names)),
			Err:       fmt.Errorf("failed: %s", strings.Join(failed, ", ")),
		}, nil
	}
	return domain.ComponentResult{
		Component: domain.ComponentVolumes,
		Status:    domain.ComponentOK,
		Detail:    fmt.Sprintf("bind root and %d named volumes", exported),
	}, nil
}

func (v *Volumes) exportOne(ctx context.Context, name, dir string) error {
	stream, err := v.runtime.ExportVolume(ctx, name)
	if err != nil {
		return err
	}
	defer stream.Close()
	return archive.Compress(stream, filepath.Join(dir, name+archive.Ext))
}

// Restore replaces the bind-mounted volumes root from its archive and
// imports every staged named volume tar, creating missing volumes first.
// Dry runs only verify that each sub-archive is readable.
func (v *Volumes) Restore(ctx context.Context, target domain.Instance, stagingDir string, dryRun bool) (domain.ComponentResult, error) {
	base := filepath.Join(stagingDir, string(domain.ComponentVolumes))
	present, empty, err := dirState(base)
	if err != nil {
		return domain.ComponentResult{}, err
	}
	if !present {
		return domain.ComponentResult{}, fmt.Errorf("volumes component missing from archive: %w", domain.ErrArchiveCorrupt)
	}
	if empty {
		return domain.ComponentResult{
			Component: domain.ComponentVolumes,
			Status:    domain.ComponentEmpty,
			Detail:    "captured empty, nothing to restore",
		}, nil
	}

	bindPath := filepath.Join(base, bindArchiveName)
	haveBind := false
	if _, err := os.Stat(bindPath); err == nil {
		haveBind = true
	}

	names, err := stagedVolumeNames(filepath.Join(base, namedDir))
	if err != nil {
		return domain.ComponentResult{}, err
	}

	if dryRun {
		if haveBind {
			if _, err := archive.List(bindPath); err != nil {
				return domain.ComponentResult{}, fmt.Errorf("bind volume archive: %w", err)
			}
		}
		for _, name := range names {
			if _, err := archive.List(filepath.Join(base, namedDir, name+archive.Ext)); err != nil {
				return domain.ComponentResult{}, fmt.Errorf("volume archive %s: %w", name, err)
			}
		}
		return domain.ComponentResult{
			Component: domain.ComponentVolumes,
			Status:    domain.ComponentOK,
			Detail:    fmt.Sprintf("%d named volumes staged for restore", len(names)),
		}, nil
	}

	var failed []string
	if haveBind {
		if err := v.restoreBind(target, bindPath); err != nil {
			v.log.Warn().Err(err).Str("target", target.ID).Msg("bind volume restore failed")
			failed = append(failed, "bind root")
		}
	}

	imported := 0
	for _, name := range names {
		if err := v.importOne(ctx, name, filepath.Join(base, namedDir, name+archive.Ext)); err != nil {
			v.log.Warn().Err(err).Str("volume", name).Msg("volume import failed")
			failed = append(failed, name)
			continue
		}
		imported++
	}

	if len(failed) > 0 {
		return domain.ComponentResult{
			Component: domain.ComponentVolumes,
			Status:    domain.ComponentSoftFailed,
			Detail:    fmt.Sprintf("%d of %d named volumes imported", imported, len(names)),
			Err:       fmt.Errorf("failed: %s", strings.Join(failed, ", ")),
		}, nil
	}
	v.log.Info().Str("target", target.ID).Int("volumes", imported).Msg("volumes restored")
	return domain.ComponentResult{
		Component: domain.ComponentVolumes,
		Status:    domain.ComponentOK,
		Detail:    fmt.Sprintf("bind root and %d named volumes restored", imported),
	}, nil
}

func (v *Volumes) restoreBind(target domain.Instance, archivePath string) error {
	dst := target.VolumesDir()
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("clear %s: %w", dst, err)
	}
	if err := os.MkdirAll(dst, 0o750); err != nil {
		return err
	}
	return archive.Extract(archivePath, dst)
}

func stagedVolumeNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read staged volumes: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), archive.Ext) {
			names = append(names, strings.TrimSuffix(entry.Name(), archive.Ext))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (v *Volumes) importOne(ctx context.Context, name, path string) error {
	// Recreate the volume rather than import over it: the runtime copy
	// overlays files, so anything written after the capture would survive.
	exists, err := v.runtime.VolumeExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		if err := v.runtime.RemoveVolume(ctx, name, true); err != nil {
			return fmt.Errorf("remove %s before import: %w", name, err)
		}
	}
	if err := v.runtime.CreateVolume(ctx, name); err != nil {
		return err
	}

	stream, err := archive.OpenCompressed(path)
	if err != nil {
		return err
	}
	defer stream.Close()
	return v.runtime.ImportVolume(ctx, name, stream)
}
