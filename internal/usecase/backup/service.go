// Package backup runs the typed backup pipeline: component capture,
// manifest, archive, optional encryption, sink upload and retention.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/bnema/stackops/internal/archive"
	"github.com/bnema/stackops/internal/boundaries/out"
	"github.com/bnema/stackops/internal/codec"
	"github.com/bnema/stackops/internal/domain"
	"github.com/bnema/stackops/internal/manifest"
	"github.com/bnema/stackops/internal/usecase/component"
)

const timestampLayout = "20060102_150405"

// SinkFactory resolves a destination string (a local path or an
// s3://bucket[/prefix] URL) to a blob store.
type SinkFactory func(ctx context.Context, destination string) (out.BlobStore, error)

// Request carries one backup invocation.
type Request struct {
	Target      domain.Instance
	Type        domain.BackupType
	Destination string
	Encrypt     bool
	Password    string
	Retention   domain.RetentionPolicy
}

// Service is the backup pipeline.
type Service struct {
	deps        component.Deps
	sink        SinkFactory
	toolVersion string
	hostname    func() (string, error)
	now         func() time.Time
	log         zerowrap.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithClock overrides the timestamp source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithHostname overrides the producing-host lookup, for tests.
func WithHostname(hostname func() (string, error)) Option {
	return func(s *Service) {
		s.hostname = hostname
	}
}

// NewService creates the backup pipeline.
func NewService(deps component.Deps, sink SinkFactory, toolVersion string, log zerowrap.Logger, opts ...Option) *Service {
	s := &Service{
		deps:        deps,
		sink:        sink,
		toolVersion: toolVersion,
		hostname:    os.Hostname,
		now:         time.Now,
		log:         log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the pipeline. Component soft failures are recorded in the
// returned run; compression, encryption and sink errors abort with no
// partial archive left at the destination.
func (s *Service) Run(ctx context.Context, req Request) (domain.BackupRun, error) {
	if _, err := domain.ParseBackupType(string(req.Type)); err != nil {
		return domain.BackupRun{}, err
	}
	if err := req.Retention.Validate(); err != nil {
		return domain.BackupRun{}, err
	}
	if req.Encrypt && req.Password == "" {
		return domain.BackupRun{}, domain.ErrEmptyPassword
	}

	run := domain.BackupRun{
		TargetID:    req.Target.ID,
		Type:        req.Type,
		Destination: req.Destination,
		Encrypted:   req.Encrypt,
		StartedAt:   s.now().UTC(),
	}

	staging, err := os.MkdirTemp("", "stackops-backup-*")
	if err != nil {
		return domain.BackupRun{}, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := s.runComponents(ctx, req, staging, &run); err != nil {
		return domain.BackupRun{}, err
	}

	if err := s.writeManifest(req, staging); err != nil {
		return domain.BackupRun{}, err
	}

	archivePath, name, err := s.buildArchive(req, staging, run.StartedAt)
	if err != nil {
		return domain.BackupRun{}, err
	}
	defer os.Remove(archivePath)

	size, err := s.upload(ctx, req, archivePath, name)
	if err != nil {
		return domain.BackupRun{}, err
	}
	run.ArchiveName = name
	run.SizeBytes = size

	pruned, err := s.applyRetention(ctx, req)
	if err != nil {
		s.log.Warn().Err(err).Str("target", req.Target.ID).Msg("retention sweep failed")
	}
	run.Pruned = pruned
	run.CompletedAt = s.now().UTC()

	s.log.Info().
		Str("target", req.Target.ID).
		Str("type", string(req.Type)).
		Str("archive", name).
		Int64("size", size).
		Int("soft_failures", run.SoftFailures()).
		Msg("backup completed")
	return run, nil
}

// runComponents invokes the adapters in order. For full and database
// backups the database service is brought up before its adapter runs;
// pg_dump execs inside the container and a stopped one refuses exec.
func (s *Service) runComponents(ctx context.Context, req Request, staging string, run *domain.BackupRun) error {
	adapters, err := component.ForType(req.Type, s.deps)
	if err != nil {
		return err
	}

	needsDB := req.Type == domain.BackupFull || req.Type == domain.BackupDatabase
	dbContainer := req.Target.ContainerName(domain.ServiceDatabase)

	for _, adapter := range adapters {
		if needsDB && adapter.Name() == string(domain.ComponentDatabase) {
			if err := s.deps.Runtime.StartContainer(ctx, dbContainer); err != nil {
				return fmt.Errorf("start database service: %w", err)
			}
		}

		result, err := adapter.Backup(ctx, req.Target, staging)
		if err != nil {
			return fmt.Errorf("component %s: %w", adapter.Name(), err)
		}
		run.Components = append(run.Components, result)
	}
	return nil
}

func (s *Service) writeManifest(req Request, staging string) error {
	host, err := s.hostname()
	if err != nil {
		host = "unknown"
	}
	m, err := manifest.Build(staging, manifest.Metadata{
		ToolVersion:  s.toolVersion,
		ProjectID:    req.Target.ID,
		BackupType:   req.Type,
		Encrypted:    req.Encrypt,
		Hostname:     host,
		ProjectPorts: req.Target.Ports,
	})
	if err != nil {
		return fmt.Errorf("build manifest: %w", err)
	}
	if err := m.Write(staging); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func (s *Service) buildArchive(req Request, staging string, startedAt time.Time) (path, name string, err error) {
	name = fmt.Sprintf("%s_%s_%s%s", req.Target.ID, req.Type, startedAt.Format(timestampLayout), archive.Ext)
	path = filepath.Join(os.TempDir(), name)

	if err := archive.Create(staging, path); err != nil {
		return "", "", fmt.Errorf("compress backup: %w", err)
	}

	if req.Encrypt {
		encPath, err := codec.EncryptFile(path, req.Password)
		if err != nil {
			os.Remove(path)
			return "", "", fmt.Errorf("encrypt backup: %w", err)
		}
		os.Remove(path)
		return encPath, name + codec.EncryptedExt, nil
	}
	return path, name, nil
}

func (s *Service) upload(ctx context.Context, req Request, archivePath, name string) (int64, error) {
	sink, err := s.sink(ctx, req.Destination)
	if err != nil {
		return 0, fmt.Errorf("resolve destination %s: %w", req.Destination, err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	size, err := sink.Put(ctx, name, f)
	if err != nil {
		return 0, fmt.Errorf("write archive to destination: %w", err)
	}
	return size, nil
}

// applyRetention deletes the oldest archives of the (target, type) pair at
// the destination beyond the keep count. Creation order is inferred from
// the filename timestamp.
func (s *Service) applyRetention(ctx context.Context, req Request) (int, error) {
	if req.Retention.Keep == 0 {
		return 0, nil
	}

	sink, err := s.sink(ctx, req.Destination)
	if err != nil {
		return 0, err
	}

	prefix := fmt.Sprintf("%s_%s_", req.Target.ID, req.Type)
	blobs, err := sink.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	names := make([]string, 0, len(blobs))
	for _, blob := range blobs {
		if ownArchiveName(blob.Name, prefix) {
			names = append(names, blob.Name)
		}
	}
	sort.Strings(names)

	pruned := 0
	for len(names)-pruned > req.Retention.Keep {
		name := names[pruned]
		if err := sink.Delete(ctx, name); err != nil {
			return pruned, fmt.Errorf("delete %s: %w", name, err)
		}
		s.log.Info().Str("archive", name).Msg("retention pruned archive")
		pruned++
	}
	return pruned, nil
}

// ownArchiveName reports whether name is {prefix}{timestamp}.tar.gz with
// an optional encryption suffix. A prefix match alone is not enough: a
// target ID extending another across the separator would otherwise let a
// retention sweep count a foreign target's archives.
func ownArchiveName(name, prefix string) bool {
	rest := strings.TrimPrefix(name, prefix)
	rest = strings.TrimSuffix(rest, codec.EncryptedExt)
	if !strings.HasSuffix(rest, archive.Ext) {
		return false
	}
	stamp := strings.TrimSuffix(rest, archive.Ext)
	_, err := time.Parse(timestampLayout, stamp)
	return err == nil
}

// ListArchives returns the archives for a target at a destination, newest
// last, optionally filtered by type.
func (s *Service) ListArchives(ctx context.Context, target domain.Instance, destination string, t domain.BackupType) ([]out.BlobInfo, error) {
	sink, err := s.sink(ctx, destination)
	if err != nil {
		return nil, fmt.Errorf("resolve destination %s: %w", destination, err)
	}
	prefix := target.ID + "_"
	if t != "" {
		prefix = fmt.Sprintf("%s_%s_", target.ID, t)
	}
	blobs, err := sink.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	sort.Slice(blobs, func(i, j int) bool { return blobs[i].Name < blobs[j].Name })
	return blobs, nil
}
