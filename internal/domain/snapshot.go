package domain

import "time"

// SnapshotKind distinguishes why a snapshot was taken.
type SnapshotKind string

const (
	SnapshotPreUpdate  SnapshotKind = "pre_update"
	SnapshotPostUpdate SnapshotKind = "post_update"
)

// Snapshot is a full-fidelity, restorable capture of a target's
// configuration and volume state, used for rollback.
type Snapshot struct {
	ID        string       `json:"id"`
	TargetID  string       `json:"target_id"`
	Kind      SnapshotKind `json:"kind"`
	Path      string       `json:"path"`
	CreatedAt time.Time    `json:"created_at"`
	// Versions records the deployed version per service at capture time.
	Versions VersionMap `json:"versions"`
	// Images records the full image reference per service so rollback can
	// pull exactly what was running.
	Images ImageMap `json:"images"`
}
