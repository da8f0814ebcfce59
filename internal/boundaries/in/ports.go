// Package in defines the use-case ports the CLI adapter drives.
package in

import (
	"context"

	"github.com/bnema/stackops/internal/boundaries/out"
	"github.com/bnema/stackops/internal/domain"
	"github.com/bnema/stackops/internal/usecase/backup"
	"github.com/bnema/stackops/internal/usecase/restore"
	"github.com/bnema/stackops/internal/usecase/update"
)

// UpdateService runs the update pipeline for a target.
type UpdateService interface {
	Run(ctx context.Context, req update.Request) (update.Result, error)
}

// BackupService runs the backup pipeline and lists archives.
type BackupService interface {
	Run(ctx context.Context, req backup.Request) (domain.BackupRun, error)
	ListArchives(ctx context.Context, target domain.Instance, destination string, t domain.BackupType) ([]out.BlobInfo, error)
}

// RestoreService runs the restore pipeline.
type RestoreService interface {
	Run(ctx context.Context, req restore.Request) (domain.RestoreReport, error)
}

// SnapshotService manages snapshots outside the update pipeline.
// CaptureAndResume restarts the services the capture stopped; the update
// orchestrator owns that timing itself and talks to the concrete service.
type SnapshotService interface {
	CaptureAndResume(ctx context.Context, target domain.Instance, kind domain.SnapshotKind) (domain.Snapshot, error)
	List(target domain.Instance) ([]domain.Snapshot, error)
	Delete(target domain.Instance, id string) error
	Prune(target domain.Instance, keep int) (int, error)
}

// VersionService resolves current and latest versions for display.
type VersionService interface {
	Current(target domain.Instance) (domain.VersionMap, error)
	Latest(ctx context.Context) domain.VersionMap
	Diff(current, latest domain.VersionMap, selector []string) domain.UpdatePlan
}

// HealthService evaluates a target's health.
type HealthService interface {
	Check(ctx context.Context, target domain.Instance) domain.HealthReport
}
