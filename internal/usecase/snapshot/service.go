// Package snapshot captures and restores point-in-time state of a target.
// Restore is the rollback primitive of the update pipeline.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/bnema/stackops/internal/boundaries/out"
	"github.com/bnema/stackops/internal/compose"
	"github.com/bnema/stackops/internal/domain"
	"github.com/bnema/stackops/internal/usecase/component"
)

// MetaFileName holds the snapshot descriptor inside a snapshot directory.
const MetaFileName = "snapshot.json"

const timestampLayout = "20060102_150405"

// Service captures and restores snapshots under the target's snapshot root.
type Service struct {
	runtime out.ContainerRuntime
	config  component.Adapter
	volumes component.Adapter
	root    func(domain.Instance) string
	now     func() time.Time
	log     zerowrap.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithRootDir overrides where snapshot directories live.
func WithRootDir(root func(domain.Instance) string) Option {
	return func(s *Service) {
		s.root = root
	}
}

// WithClock overrides the timestamp source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a snapshot manager.
func NewService(runtime out.ContainerRuntime, log zerowrap.Logger, opts ...Option) *Service {
	s := &Service{
		runtime: runtime,
		config:  component.NewConfig(log),
		volumes: component.NewVolumes(runtime, log),
		root: func(target domain.Instance) string {
			return filepath.Join(target.RootDir, "snapshots")
		},
		now: time.Now,
		log: log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capture writes a new snapshot of the target's configuration, version map
// and volume state. The target's mutable services are stopped first for a
// consistent copy and are not restarted; the caller decides restart timing.
func (s *Service) Capture(ctx context.Context, target domain.Instance, kind domain.SnapshotKind) (domain.Snapshot, error) {
	id := fmt.Sprintf("%s_%s", kind, s.now().UTC().Format(timestampLayout))
	dir := filepath.Join(s.root(target), id)
	if _, err := os.Stat(dir); err == nil {
		return domain.Snapshot{}, fmt.Errorf("%s: %w", id, domain.ErrSnapshotExists)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return domain.Snapshot{}, fmt.Errorf("create snapshot dir: %w", err)
	}

	file, err := compose.Load(target.ComposePath())
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load compose file: %w", err)
	}

	for _, service := range domain.MutableServices {
		if err := s.runtime.StopContainer(ctx, target.ContainerName(service)); err != nil {
			return domain.Snapshot{}, fmt.Errorf("stop %s: %w", service, err)
		}
	}

	if _, err := s.config.Backup(ctx, target, dir); err != nil {
		return domain.Snapshot{}, fmt.Errorf("capture config: %w", err)
	}
	result, err := s.volumes.Backup(ctx, target, dir)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("capture volumes: %w", err)
	}
	if result.Failed() {
		return domain.Snapshot{}, fmt.Errorf("capture volumes: %w", result.Err)
	}

	snap := domain.Snapshot{
		ID:        id,
		TargetID:  target.ID,
		Kind:      kind,
		Path:      dir,
		CreatedAt: s.now().UTC(),
		Versions:  file.Versions(),
		Images:    file.Images(),
	}
	if err := s.writeMeta(snap); err != nil {
		return domain.Snapshot{}, err
	}

	s.log.Info().Str("target", target.ID).Str("snapshot", id).Msg("snapshot captured")
	return snap, nil
}

// CaptureAndResume captures a snapshot and restarts the services Capture
// stopped, whether or not the capture succeeded. For standalone captures
// where no surrounding pipeline owns the restart.
func (s *Service) CaptureAndResume(ctx context.Context, target domain.Instance, kind domain.SnapshotKind) (domain.Snapshot, error) {
	snap, err := s.Capture(ctx, target, kind)
	for _, service := range domain.MutableServices {
		if serr := s.runtime.StartContainer(ctx, target.ContainerName(service)); serr != nil && err == nil {
			err = fmt.Errorf("restart %s after snapshot: %w", service, serr)
		}
	}
	if err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

// Restore brings the target back to the snapshot's state: full stop,
// config and volume overwrite, pull of the recorded images, restart in
// dependency order. Restoring the same snapshot twice yields the same
// end state.
func (s *Service) Restore(ctx context.Context, target domain.Instance, snap domain.Snapshot) error {
	if _, err := os.Stat(snap.Path); err != nil {
		return fmt.Errorf("%s: %w", snap.ID, domain.ErrSnapshotNotFound)
	}

	order, err := s.startOrder(target)
	if err != nil {
		return err
	}
	for i := len(order) - 1; i >= 0; i-- {
		if err := s.runtime.StopContainer(ctx, target.ContainerName(order[i])); err != nil {
			return fmt.Errorf("stop %s: %w", order[i], err)
		}
	}

	if _, err := s.config.Restore(ctx, target, snap.Path, false); err != nil {
		return fmt.Errorf("restore config: %w", err)
	}
	result, err := s.volumes.Restore(ctx, target, snap.Path, false)
	if err != nil {
		return fmt.Errorf("restore volumes: %w", err)
	}
	if result.Failed() {
		return fmt.Errorf("restore volumes: %w", result.Err)
	}

	for _, service := range sortedKeys(snap.Images) {
		if err := s.runtime.PullImage(ctx, snap.Images[service]); err != nil {
			return fmt.Errorf("pull %s: %w", snap.Images[service], domain.ErrImagePullFailed)
		}
	}

	// The restored compose file decides the start order, not the one the
	// target had before the restore.
	order, err = s.startOrder(target)
	if err != nil {
		return err
	}
	for _, service := range order {
		if err := s.runtime.StartContainer(ctx, target.ContainerName(service)); err != nil {
			return fmt.Errorf("start %s: %w", service, err)
		}
	}

	s.log.Info().Str("target", target.ID).Str("snapshot", snap.ID).Msg("snapshot restored")
	return nil
}

// List returns the target's snapshots, oldest first.
func (s *Service) List(target domain.Instance) ([]domain.Snapshot, error) {
	entries, err := os.ReadDir(s.root(target))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot root: %w", err)
	}

	var snaps []domain.Snapshot
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		snap, err := s.loadMeta(filepath.Join(s.root(target), entry.Name()))
		if err != nil {
			s.log.Warn().Err(err).Str("snapshot", entry.Name()).Msg("skipping unreadable snapshot")
			continue
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.Before(snaps[j].CreatedAt) })
	return snaps, nil
}

// Get loads one snapshot by ID.
func (s *Service) Get(target domain.Instance, id string) (domain.Snapshot, error) {
	snap, err := s.loadMeta(filepath.Join(s.root(target), id))
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("%s: %w", id, domain.ErrSnapshotNotFound)
	}
	return snap, nil
}

// Delete removes a snapshot directory.
func (s *Service) Delete(target domain.Instance, id string) error {
	dir := filepath.Join(s.root(target), id)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("%s: %w", id, domain.ErrSnapshotNotFound)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	s.log.Info().Str("target", target.ID).Str("snapshot", id).Msg("snapshot deleted")
	return nil
}

// Prune deletes the oldest snapshots beyond keep. Zero keeps everything.
func (s *Service) Prune(target domain.Instance, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	snaps, err := s.List(target)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for len(snaps)-pruned > keep {
		if err := s.Delete(target, snaps[pruned].ID); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

func (s *Service) startOrder(target domain.Instance) ([]string, error) {
	file, err := compose.Load(target.ComposePath())
	if err != nil {
		return nil, fmt.Errorf("load compose file: %w", err)
	}
	order, err := file.DependencyOrder()
	if err != nil {
		return nil, fmt.Errorf("resolve start order: %w", err)
	}
	return order, nil
}

func (s *Service) writeMeta(snap domain.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(snap.Path, MetaFileName), data, 0o640); err != nil {
		return fmt.Errorf("write snapshot meta: %w", err)
	}
	return nil
}

func (s *Service) loadMeta(dir string) (domain.Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetaFileName))
	if err != nil {
		return domain.Snapshot{}, err
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, err
	}
	snap.Path = dir
	return snap, nil
}

func sortedKeys(m domain.ImageMap) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
