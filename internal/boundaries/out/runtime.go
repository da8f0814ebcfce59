// Package out defines output ports (interfaces) for infrastructure.
// These interfaces define the contract between use cases and driven
// adapters (Docker, filesystem, object stores).
package out

import (
	"context"
	"io"
)

// ContainerState is the runtime's view of a single container.
type ContainerState struct {
	Exists       bool
	Running      bool
	Restarting   bool
	RestartCount int
	ExitCode     int
}

// ContainerRuntime defines the contract for container runtime operations.
// The core depends only on these capabilities, not on any specific
// runtime's flags.
type ContainerRuntime interface {
	// Container lifecycle
	StartContainer(ctx context.Context, name string) error
	StopContainer(ctx context.Context, name string) error
	RestartContainer(ctx context.Context, name string) error

	// Container inspection
	ContainerState(ctx context.Context, name string) (ContainerState, error)
	RecentLogs(ctx context.Context, name string, tail int) (string, error)

	// Image operations
	PullImage(ctx context.Context, image string) error
	PruneImages(ctx context.Context) (int, error)

	// Volume management
	ListVolumes(ctx context.Context, prefix string) ([]string, error)
	VolumeExists(ctx context.Context, name string) (bool, error)
	CreateVolume(ctx context.Context, name string) error
	RemoveVolume(ctx context.Context, name string, force bool) error

	// ExportVolume streams a named volume's contents as an uncompressed
	// tar archive. ImportVolume is the inverse.
	ExportVolume(ctx context.Context, name string) (io.ReadCloser, error)
	ImportVolume(ctx context.Context, name string, content io.Reader) error

	// In-container operations
	ExecInContainer(ctx context.Context, name string, cmd []string) (*ExecResult, error)
	CopyFromContainer(ctx context.Context, name, srcPath string) (io.ReadCloser, error)
	CopyToContainer(ctx context.Context, name, dstDir string, content io.Reader) error

	// Runtime information
	Ping(ctx context.Context) error
}

// ExecResult holds the result of executing a command in a container.
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}
