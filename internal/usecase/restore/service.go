// Package restore runs the restore pipeline: fetch, decrypt, extract,
// validate, then component restore in dependency order. Dry runs mutate
// nothing on the live target.
package restore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bnema/zerowrap"

	"github.com/bnema/stackops/internal/archive"
	"github.com/bnema/stackops/internal/boundaries/out"
	"github.com/bnema/stackops/internal/codec"
	"github.com/bnema/stackops/internal/compose"
	"github.com/bnema/stackops/internal/domain"
	"github.com/bnema/stackops/internal/manifest"
	"github.com/bnema/stackops/internal/usecase/component"
)

// SinkFactory resolves a destination string to a blob store.
type SinkFactory func(ctx context.Context, destination string) (out.BlobStore, error)

// Request carries one restore invocation. Archive names a blob at the
// destination; the encrypted suffix decides whether a password is needed.
type Request struct {
	Target      domain.Instance
	Destination string
	Archive     string
	DryRun      bool
	Password    string
}

// Service is the restore pipeline.
type Service struct {
	deps component.Deps
	sink SinkFactory
	log  zerowrap.Logger
}

// NewService creates the restore pipeline.
func NewService(deps component.Deps, sink SinkFactory, log zerowrap.Logger) *Service {
	return &Service{deps: deps, sink: sink, log: log}
}

// restoreOrder brings up what the database adapter needs before it runs:
// config and volumes first, file components last.
var restoreOrder = []domain.Component{
	domain.ComponentConfig,
	domain.ComponentVolumes,
	domain.ComponentDatabase,
	domain.ComponentStorage,
	domain.ComponentFunctions,
}

// Run executes the pipeline. The scratch extraction directory is always
// removed, success or failure.
func (s *Service) Run(ctx context.Context, req Request) (domain.RestoreReport, error) {
	report := domain.RestoreReport{
		TargetID: req.Target.ID,
		Source:   req.Archive,
		DryRun:   req.DryRun,
	}

	if codec.IsEncrypted(req.Archive) && req.Password == "" {
		return report, fmt.Errorf("archive %s is encrypted: %w", req.Archive, domain.ErrEmptyPassword)
	}

	scratch, err := os.MkdirTemp("", "stackops-restore-*")
	if err != nil {
		return report, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	archivePath, err := s.fetch(ctx, req, scratch)
	if err != nil {
		return report, err
	}

	if codec.IsEncrypted(archivePath) {
		plain, err := codec.DecryptFile(archivePath, req.Password)
		if err != nil {
			return report, fmt.Errorf("decrypt %s: %w", req.Archive, err)
		}
		archivePath = plain
	}

	extracted := filepath.Join(scratch, "extracted")
	if err := os.MkdirAll(extracted, 0o750); err != nil {
		return report, fmt.Errorf("create extraction dir: %w", err)
	}
	if err := archive.Extract(archivePath, extracted); err != nil {
		return report, fmt.Errorf("extract %s: %w", req.Archive, err)
	}

	m, err := s.validate(extracted, req.Target)
	if err != nil {
		return report, err
	}
	backupType, err := domain.ParseBackupType(m.BackupType)
	if err != nil {
		return report, fmt.Errorf("manifest backup type %q: %w", m.BackupType, err)
	}
	report.Type = backupType

	adapters, err := s.orderedAdapters(backupType)
	if err != nil {
		return report, err
	}

	if req.DryRun {
		return s.runDry(ctx, req, adapters, extracted, report)
	}
	return s.runLive(ctx, req, adapters, extracted, report)
}

func (s *Service) fetch(ctx context.Context, req Request, scratch string) (string, error) {
	sink, err := s.sink(ctx, req.Destination)
	if err != nil {
		return "", fmt.Errorf("resolve source %s: %w", req.Destination, err)
	}

	src, err := sink.Get(ctx, req.Archive)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", req.Archive, err)
	}
	defer src.Close()

	local := filepath.Join(scratch, req.Archive)
	dst, err := os.Create(local)
	if err != nil {
		return "", fmt.Errorf("stage archive: %w", err)
	}
	_, err = io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("stage archive: %w", err)
	}
	return local, nil
}

// validate aborts on any manifest error; a corrupt archive is never
// partially restored. Warnings, including port drift against the current
// target, are logged and do not block.
func (s *Service) validate(dir string, target domain.Instance) (*manifest.Manifest, error) {
	result, err := manifest.Validate(dir)
	if err != nil {
		return nil, fmt.Errorf("validate manifest: %w", err)
	}
	for _, warning := range result.Warnings {
		s.log.Warn().Str("target", target.ID).Msg(warning)
	}
	if !result.OK() {
		details := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			details = append(details, e.Error())
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrArchiveCorrupt, strings.Join(details, "; "))
	}

	for service, port := range result.Manifest.ProjectPorts {
		if current, ok := target.Ports[service]; ok && current != port {
			s.log.Warn().
				Str("service", service).
				Int("recorded", port).
				Int("current", current).
				Msg("port drift between backup and target")
		}
	}
	return result.Manifest, nil
}

func (s *Service) orderedAdapters(t domain.BackupType) ([]component.Adapter, error) {
	adapters, err := component.ForType(t, s.deps)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]component.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}

	var ordered []component.Adapter
	for _, name := range restoreOrder {
		if a, ok := byName[string(name)]; ok {
			ordered = append(ordered, a)
		}
	}
	return ordered, nil
}

// runDry aggregates every adapter's dry-run verdict without mutating the
// live target. Adapter failures become soft results so the report is
// complete.
func (s *Service) runDry(ctx context.Context, req Request, adapters []component.Adapter, extracted string, report domain.RestoreReport) (domain.RestoreReport, error) {
	for _, adapter := range adapters {
		result, err := adapter.Restore(ctx, req.Target, extracted, true)
		if err != nil {
			result = domain.ComponentResult{
				Component: domain.Component(adapter.Name()),
				Status:    domain.ComponentSoftFailed,
				Detail:    "dry run failed",
				Err:       err,
			}
		}
		report.Components = append(report.Components, result)
	}
	s.log.Info().Str("target", req.Target.ID).Bool("ok", report.OK()).Msg("restore dry run completed")
	return report, nil
}

// runLive stops the target fully, restores components in dependency order
// and restarts the target.
func (s *Service) runLive(ctx context.Context, req Request, adapters []component.Adapter, extracted string, report domain.RestoreReport) (domain.RestoreReport, error) {
	order, err := s.serviceOrder(req.Target)
	if err != nil {
		return report, err
	}
	for i := len(order) - 1; i >= 0; i-- {
		if err := s.deps.Runtime.StopContainer(ctx, req.Target.ContainerName(order[i])); err != nil {
			return report, fmt.Errorf("stop %s: %w", order[i], err)
		}
	}

	// The database service has to be up again before its adapter can exec
	// the restore inside it.
	for _, adapter := range adapters {
		if adapter.Name() == string(domain.ComponentDatabase) {
			if err := s.deps.Runtime.StartContainer(ctx, req.Target.ContainerName(domain.ServiceDatabase)); err != nil {
				return report, fmt.Errorf("start database service: %w", err)
			}
		}
		result, err := adapter.Restore(ctx, req.Target, extracted, false)
		if err != nil {
			return report, fmt.Errorf("restore component %s: %w", adapter.Name(), err)
		}
		report.Components = append(report.Components, result)
	}

	// Config may have been replaced; the restored compose file decides the
	// restart order.
	order, err = s.serviceOrder(req.Target)
	if err != nil {
		return report, err
	}
	for _, service := range order {
		if err := s.deps.Runtime.StartContainer(ctx, req.Target.ContainerName(service)); err != nil {
			return report, fmt.Errorf("start %s: %w", service, err)
		}
	}

	s.log.Info().
		Str("target", req.Target.ID).
		Str("archive", req.Archive).
		Bool("ok", report.OK()).
		Msg("restore completed")
	return report, nil
}

func (s *Service) serviceOrder(target domain.Instance) ([]string, error) {
	file, err := compose.Load(target.ComposePath())
	if err != nil {
		// A target being restored onto may not have a compose file yet;
		// fall back to the recorded service list.
		if len(target.Services) > 0 {
			return target.Services, nil
		}
		return nil, fmt.Errorf("load compose file: %w", err)
	}
	order, err := file.DependencyOrder()
	if err != nil {
		return nil, fmt.Errorf("resolve service order: %w", err)
	}
	return order, nil
}
