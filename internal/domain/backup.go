package domain

import "time"

// BackupType selects which component adapters a backup run invokes.
type BackupType string

const (
	BackupFull      BackupType = "full"
	BackupDatabase  BackupType = "database"
	BackupStorage   BackupType = "storage"
	BackupFunctions BackupType = "functions"
	BackupConfig    BackupType = "config"
)

// ParseBackupType validates a backup type string.
func ParseBackupType(s string) (BackupType, error) {
	switch t := BackupType(s); t {
	case BackupFull, BackupDatabase, BackupStorage, BackupFunctions, BackupConfig:
		return t, nil
	default:
		return "", ErrInvalidBackupType
	}
}

// Component names the five backup/restore adapters. They double as the
// directory names inside an archive.
type Component string

const (
	ComponentDatabase  Component = "database"
	ComponentStorage   Component = "storage"
	ComponentFunctions Component = "functions"
	ComponentConfig    Component = "config"
	ComponentVolumes   Component = "volumes"
)

// Components returns the adapters implied by a backup type.
func (t BackupType) Components() []Component {
	switch t {
	case BackupFull:
		return []Component{ComponentDatabase, ComponentStorage, ComponentFunctions, ComponentConfig, ComponentVolumes}
	case BackupDatabase:
		return []Component{ComponentDatabase}
	case BackupStorage:
		return []Component{ComponentStorage}
	case BackupFunctions:
		return []Component{ComponentFunctions}
	case BackupConfig:
		return []Component{ComponentConfig}
	default:
		return nil
	}
}

// ComponentStatus tags a component outcome.
type ComponentStatus string

const (
	// ComponentOK means the component produced or consumed data.
	ComponentOK ComponentStatus = "ok"
	// ComponentEmpty means the component's source was absent; an explicit
	// empty marker was written and restore treats it as a no-op success.
	ComponentEmpty ComponentStatus = "empty"
	// ComponentSoftFailed means the component failed without aborting
	// sibling components in the same run.
	ComponentSoftFailed ComponentStatus = "soft_failed"
)

// ComponentResult is the typed outcome of one adapter invocation. Soft
// failures are distinct from hard pipeline errors so aggregation logic can
// tell them apart without string matching.
type ComponentResult struct {
	Component Component
	Status    ComponentStatus
	Detail    string
	Err       error
}

// Failed reports whether the component soft-failed.
func (r ComponentResult) Failed() bool {
	return r.Status == ComponentSoftFailed
}

// RetentionPolicy bounds how many archives of a (target, type) pair are
// kept at a destination. Zero keeps everything.
type RetentionPolicy struct {
	Keep int
}

// Validate rejects negative keep counts.
func (p RetentionPolicy) Validate() error {
	if p.Keep < 0 {
		return ErrInvalidRetention
	}
	return nil
}

// BackupRun summarizes a finished backup pipeline run.
type BackupRun struct {
	TargetID    string
	Type        BackupType
	ArchiveName string
	Destination string
	SizeBytes   int64
	Encrypted   bool
	StartedAt   time.Time
	CompletedAt time.Time
	Components  []ComponentResult
	Pruned      int
}

// SoftFailures counts component soft failures in the run.
func (r BackupRun) SoftFailures() int {
	n := 0
	for _, c := range r.Components {
		if c.Failed() {
			n++
		}
	}
	return n
}

// RestoreReport summarizes a restore pipeline run.
type RestoreReport struct {
	TargetID   string
	Source     string
	Type       BackupType
	DryRun     bool
	Components []ComponentResult
}

// OK reports whether every component succeeded or was an empty no-op.
func (r RestoreReport) OK() bool {
	for _, c := range r.Components {
		if c.Failed() {
			return false
		}
	}
	return true
}
