// Package component holds the per-component backup and restore units the
// backup and restore pipelines are assembled from. Each adapter owns one
// subdirectory of the staging tree and reports a ComponentResult; a
// returned error aborts the whole pipeline, a result with a soft failure
// does not.
package component

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bnema/zerowrap"

	"github.com/bnema/stackops/internal/boundaries/out"
	"github.com/bnema/stackops/internal/domain"
)

// EmptyMarker is written in place of a component directory whose source
// had nothing to back up, so restore can tell "empty" from "missing".
const EmptyMarker = ".empty"

// Adapter backs up and restores one component of a target.
type Adapter interface {
	Name() string
	Backup(ctx context.Context, target domain.Instance, stagingDir string) (domain.ComponentResult, error)
	Restore(ctx context.Context, target domain.Instance, stagingDir string, dryRun bool) (domain.ComponentResult, error)
}

// Deps bundles the ports the component adapters draw on.
type Deps struct {
	Runtime  out.ContainerRuntime
	Database out.Database
	Log      zerowrap.Logger
}

// ForType returns the adapters for a backup type, in backup order.
func ForType(t domain.BackupType, deps Deps) ([]Adapter, error) {
	all := map[domain.Component]Adapter{
		domain.ComponentDatabase:  NewDatabase(deps.Database, deps.Log),
		domain.ComponentStorage:   NewFiles(domain.ComponentStorage, storageSource, deps.Log),
		domain.ComponentFunctions: NewFiles(domain.ComponentFunctions, functionsSource, deps.Log),
		domain.ComponentConfig:    NewConfig(deps.Log),
		domain.ComponentVolumes:   NewVolumes(deps.Runtime, deps.Log),
	}

	var adapters []Adapter
	for _, name := range t.Components() {
		adapter, ok := all[name]
		if !ok {
			return nil, fmt.Errorf("no adapter for component %q: %w", name, domain.ErrInvalidBackupType)
		}
		adapters = append(adapters, adapter)
	}
	return adapters, nil
}

func writeEmptyMarker(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, EmptyMarker), nil, 0o640)
}

// hasEmptyMarker reports whether a component directory was captured empty.
func hasEmptyMarker(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, EmptyMarker))
	return err == nil
}

// dirState classifies a staged component directory.
func dirState(dir string) (present, empty bool, err error) {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	if !info.IsDir() {
		return false, false, fmt.Errorf("%s is not a directory", dir)
	}
	return true, hasEmptyMarker(dir), nil
}
