// Package docker implements the container runtime adapter using Docker API.
package docker

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/bnema/zerowrap"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/bnema/stackops/internal/boundaries/out"
	"github.com/bnema/stackops/internal/domain"
)

const stopTimeoutSeconds = 30

// Runtime implements the ContainerRuntime interface using Docker API.
type Runtime struct {
	client *client.Client
}

// NewRuntime creates a new Docker runtime instance.
func NewRuntime() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return &Runtime{client: cli}, nil
}

// NewRuntimeWithClient creates a new Docker runtime instance with a custom client (for testing).
func NewRuntimeWithClient(cli *client.Client) *Runtime {
	return &Runtime{client: cli}
}

// StartContainer starts a container by name.
func (r *Runtime) StartContainer(ctx context.Context, name string) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:    "adapter",
		zerowrap.FieldAdapter:  "docker",
		zerowrap.FieldAction:   "StartContainer",
		zerowrap.FieldEntityID: name,
	})
	log := zerowrap.FromCtx(ctx)

	if err := r.client.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return log.WrapErr(err, "failed to start container")
	}

	log.Info().Msg("container started")
	return nil
}

// StopContainer stops a container by name.
func (r *Runtime) StopContainer(ctx context.Context, name string) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:    "adapter",
		zerowrap.FieldAdapter:  "docker",
		zerowrap.FieldAction:   "StopContainer",
		zerowrap.FieldEntityID: name,
	})
	log := zerowrap.FromCtx(ctx)

	timeout := stopTimeoutSeconds
	err := r.client.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			log.Debug().Msg("container not found, nothing to stop")
			return nil
		}
		return log.WrapErr(err, "failed to stop container")
	}

	log.Info().Msg("container stopped")
	return nil
}

// RestartContainer restarts a container by name.
func (r *Runtime) RestartContainer(ctx context.Context, name string) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:    "adapter",
		zerowrap.FieldAdapter:  "docker",
		zerowrap.FieldAction:   "RestartContainer",
		zerowrap.FieldEntityID: name,
	})
	log := zerowrap.FromCtx(ctx)

	timeout := stopTimeoutSeconds
	if err := r.client.ContainerRestart(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return log.WrapErr(err, "failed to restart container")
	}

	log.Info().Msg("container restarted")
	return nil
}

// ContainerState inspects a container's run state.
func (r *Runtime) ContainerState(ctx context.Context, name string) (out.ContainerState, error) {
	inspect, err := r.client.ContainerInspect(ctx, name)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return out.ContainerState{}, nil
		}
		return out.ContainerState{}, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}

	state := out.ContainerState{
		Exists:       true,
		RestartCount: inspect.RestartCount,
	}
	if inspect.State != nil {
		state.Running = inspect.State.Running
		state.Restarting = inspect.State.Restarting
		state.ExitCode = inspect.State.ExitCode
	}
	return state, nil
}

// RecentLogs returns the last tail lines of a container's output, with the
// stdout/stderr multiplexing stripped.
func (r *Runtime) RecentLogs(ctx context.Context, name string, tail int) (string, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:    "adapter",
		zerowrap.FieldAdapter:  "docker",
		zerowrap.FieldAction:   "RecentLogs",
		zerowrap.FieldEntityID: name,
	})
	log := zerowrap.FromCtx(ctx)

	logs, err := r.client.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       fmt.Sprintf("%d", tail),
	})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return "", fmt.Errorf("%w: %s", domain.ErrContainerNotFound, name)
		}
		return "", log.WrapErr(err, "failed to get container logs")
	}
	defer logs.Close()

	var stdout, stderr strings.Builder
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", log.WrapErr(err, "failed to demultiplex container logs")
	}

	return stdout.String() + stderr.String(), nil
}

// PullImage pulls an image.
func (r *Runtime) PullImage(ctx context.Context, imageRef string) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "docker",
		zerowrap.FieldAction:  "PullImage",
		"image":               imageRef,
	})
	log := zerowrap.FromCtx(ctx)

	log.Info().Msg("pulling image")

	reader, err := r.client.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		return log.WrapErr(err, "failed to pull image")
	}
	defer reader.Close()

	// Read the response to completion (this is required for the pull to complete)
	if _, err = io.Copy(io.Discard, reader); err != nil {
		return log.WrapErr(err, "failed to read pull response")
	}

	log.Info().Msg("image pulled successfully")
	return nil
}

// PruneImages removes dangling images and returns how many were deleted.
func (r *Runtime) PruneImages(ctx context.Context) (int, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "docker",
		zerowrap.FieldAction:  "PruneImages",
	})
	log := zerowrap.FromCtx(ctx)

	report, err := r.client.ImagesPrune(ctx, filters.NewArgs())
	if err != nil {
		return 0, log.WrapErr(err, "failed to prune images")
	}

	log.Info().Int("deleted", len(report.ImagesDeleted)).Msg("images pruned")
	return len(report.ImagesDeleted), nil
}

// ListVolumes returns the names of volumes starting with prefix.
func (r *Runtime) ListVolumes(ctx context.Context, prefix string) ([]string, error) {
	resp, err := r.client.VolumeList(ctx, volume.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}

	var names []string
	for _, v := range resp.Volumes {
		if v != nil && strings.HasPrefix(v.Name, prefix) {
			names = append(names, v.Name)
		}
	}
	return names, nil
}

// VolumeExists checks if a Docker volume exists.
func (r *Runtime) VolumeExists(ctx context.Context, name string) (bool, error) {
	_, err := r.client.VolumeInspect(ctx, name)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect volume %s: %w", name, err)
	}
	return true, nil
}

// CreateVolume creates a new Docker volume.
func (r *Runtime) CreateVolume(ctx context.Context, name string) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "docker",
		zerowrap.FieldAction:  "CreateVolume",
		"volume":              name,
	})
	log := zerowrap.FromCtx(ctx)

	_, err := r.client.VolumeCreate(ctx, volume.CreateOptions{
		Name: name,
		Labels: map[string]string{
			"stackops.managed": "true",
		},
	})
	if err != nil {
		return log.WrapErr(err, "failed to create volume")
	}

	log.Info().Msg("volume created")
	return nil
}

// RemoveVolume removes a Docker volume.
func (r *Runtime) RemoveVolume(ctx context.Context, name string, force bool) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "docker",
		zerowrap.FieldAction:  "RemoveVolume",
		"volume":              name,
		"force":               force,
	})
	log := zerowrap.FromCtx(ctx)

	err := r.client.VolumeRemove(ctx, name, force)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			log.Debug().Msg("volume not found, already removed")
			return nil
		}
		return log.WrapErr(err, "failed to remove volume")
	}

	log.Info().Msg("volume removed")
	return nil
}

// Ping verifies the daemon is reachable.
func (r *Runtime) Ping(ctx context.Context) error {
	if _, err := r.client.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping Docker daemon: %w", err)
	}
	return nil
}
