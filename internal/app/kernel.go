package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/bnema/stackops/internal/adapters/out/docker"
	"github.com/bnema/stackops/internal/adapters/out/filesystem"
	"github.com/bnema/stackops/internal/adapters/out/httpprober"
	"github.com/bnema/stackops/internal/adapters/out/postgres"
	s3store "github.com/bnema/stackops/internal/adapters/out/s3"
	"github.com/bnema/stackops/internal/boundaries/in"
	"github.com/bnema/stackops/internal/boundaries/out"
	"github.com/bnema/stackops/internal/usecase/backup"
	"github.com/bnema/stackops/internal/usecase/component"
	"github.com/bnema/stackops/internal/usecase/health"
	"github.com/bnema/stackops/internal/usecase/restore"
	"github.com/bnema/stackops/internal/usecase/snapshot"
	"github.com/bnema/stackops/internal/usecase/update"
	"github.com/bnema/stackops/internal/usecase/version"
)

// Version is the tool version stamped into manifests, overridden at build
// time via -ldflags.
var Version = "dev"

// Kernel provides in-process service access for local CLI execution.
type Kernel struct {
	Config    Config
	Log       zerowrap.Logger
	Updates   in.UpdateService
	Backups   in.BackupService
	Restores  in.RestoreService
	Snapshots in.SnapshotService
	Versions  in.VersionService
	Health    in.HealthService

	cleanup func()
}

// NewKernel wires the adapters and services behind the CLI. The confirmer
// is injected by the caller so the update pipeline stays prompt-agnostic.
func NewKernel(configPath string, confirm update.Confirmer) (*Kernel, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	log, cleanup, err := initLogger(cfg)
	if err != nil {
		return nil, err
	}
	if cleanup == nil {
		cleanup = func() {}
	}

	runtime, err := docker.NewRuntime()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("connect container runtime: %w", err)
	}

	db := postgres.NewTool(runtime, log)
	probeTimeout := time.Duration(cfg.Health.ProbeTimeoutSeconds) * time.Second
	if probeTimeout <= 0 {
		probeTimeout = httpprober.DefaultTimeout
	}
	prober := httpprober.New(httpprober.WithTimeout(probeTimeout))
	deps := component.Deps{Runtime: runtime, Database: db, Log: log}
	sink := sinkFactory(log)

	versionSvc := version.NewService(cfg.Upstream.ComposeURL, log, version.WithHTTPClient(
		httpClient(cfg.Upstream.TimeoutSeconds),
	))
	snapshotSvc := snapshot.NewService(runtime, log)
	healthSvc := health.NewService(runtime, prober, log)
	backupSvc := backup.NewService(deps, backup.SinkFactory(sink), Version, log)
	restoreSvc := restore.NewService(deps, restore.SinkFactory(sink), log)
	updateSvc := update.NewOrchestrator(
		runtime, versionSvc, snapshotSvc, healthSvc, confirm, log,
		update.WithSettle(time.Duration(cfg.Update.SettleSeconds)*time.Second),
	)

	return &Kernel{
		Config:    cfg,
		Log:       log,
		Updates:   updateSvc,
		Backups:   backupSvc,
		Restores:  restoreSvc,
		Snapshots: snapshotSvc,
		Versions:  versionSvc,
		Health:    healthSvc,
		cleanup:   cleanup,
	}, nil
}

// Close releases logger resources.
func (k *Kernel) Close() {
	if k.cleanup != nil {
		k.cleanup()
	}
}

func httpClient(timeoutSeconds int) *http.Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 15
	}
	return &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second}
}

// sinkFactory resolves destination strings: s3://bucket[/prefix] URLs go
// to the object store, everything else is a local directory.
func sinkFactory(log zerowrap.Logger) func(ctx context.Context, destination string) (out.BlobStore, error) {
	return func(ctx context.Context, destination string) (out.BlobStore, error) {
		if strings.HasPrefix(destination, "s3://") {
			return s3store.NewStore(ctx, destination, log)
		}
		return filesystem.NewStore(destination, log)
	}
}
