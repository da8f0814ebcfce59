package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/bnema/zerowrap"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/bnema/stackops/internal/boundaries/out"
	"github.com/bnema/stackops/internal/domain"
)

// ExecInContainer runs a command inside a running container and captures
// its output and exit code.
func (r *Runtime) ExecInContainer(ctx context.Context, name string, cmd []string) (*out.ExecResult, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:    "adapter",
		zerowrap.FieldAdapter:  "docker",
		zerowrap.FieldAction:   "ExecInContainer",
		zerowrap.FieldEntityID: name,
	})
	log := zerowrap.FromCtx(ctx)

	created, err := r.client.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrContainerNotFound, name)
		}
		return nil, log.WrapErr(err, "failed to create exec")
	}

	attach, err := r.client.ContainerExecAttach(ctx, created.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, log.WrapErr(err, "failed to attach exec")
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return nil, log.WrapErr(err, "failed to read exec output")
	}

	inspect, err := r.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, log.WrapErr(err, "failed to inspect exec")
	}

	return &out.ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}, nil
}

// CopyFromContainer streams a path out of a container as a tar archive.
func (r *Runtime) CopyFromContainer(ctx context.Context, name, srcPath string) (io.ReadCloser, error) {
	reader, _, err := r.client.CopyFromContainer(ctx, name, srcPath)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s:%s", domain.ErrContainerNotFound, name, srcPath)
		}
		return nil, fmt.Errorf("failed to copy from container %s: %w", name, err)
	}
	return reader, nil
}

// CopyToContainer streams a tar archive into a container directory.
func (r *Runtime) CopyToContainer(ctx context.Context, name, dstDir string, content io.Reader) error {
	err := r.client.CopyToContainer(ctx, name, dstDir, content, container.CopyToContainerOptions{})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %s", domain.ErrContainerNotFound, name)
		}
		return fmt.Errorf("failed to copy to container %s: %w", name, err)
	}
	return nil
}

// helperImage carries the short-lived containers used to reach inside
// named volumes. Any small image with a shell works.
const (
	helperImage     = "alpine:3.20"
	volumeMountPath = "/volume"
)

// ExportVolume streams a named volume's contents as a tar archive rooted
// at "volume/". The stream's Close also tears down the helper container.
func (r *Runtime) ExportVolume(ctx context.Context, name string) (io.ReadCloser, error) {
	exists, err := r.VolumeExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrVolumeNotFound, name)
	}

	helperID, err := r.startHelper(ctx, name)
	if err != nil {
		return nil, err
	}

	reader, _, err := r.client.CopyFromContainer(ctx, helperID, volumeMountPath)
	if err != nil {
		r.removeHelper(ctx, helperID)
		return nil, fmt.Errorf("failed to export volume %s: %w", name, err)
	}

	return &helperStream{ReadCloser: reader, runtime: r, helperID: helperID}, nil
}

// ImportVolume repopulates a named volume from a tar archive previously
// produced by ExportVolume.
func (r *Runtime) ImportVolume(ctx context.Context, name string, content io.Reader) error {
	helperID, err := r.startHelper(ctx, name)
	if err != nil {
		return err
	}
	defer r.removeHelper(ctx, helperID)

	// The exported tar is rooted at "volume/", so unpacking at / lands the
	// contents back inside the mount.
	err = r.client.CopyToContainer(ctx, helperID, "/", content, container.CopyToContainerOptions{})
	if err != nil {
		return fmt.Errorf("failed to import volume %s: %w", name, err)
	}
	return nil
}

func (r *Runtime) startHelper(ctx context.Context, volumeName string) (string, error) {
	config := &container.Config{
		Image: helperImage,
		Cmd:   []string{"sleep", "600"},
		Labels: map[string]string{
			"stackops.helper": "true",
		},
	}
	hostConfig := &container.HostConfig{
		Binds:      []string{volumeName + ":" + volumeMountPath},
		AutoRemove: false,
	}

	created, err := r.client.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if cerrdefs.IsNotFound(err) {
		if pullErr := r.PullImage(ctx, helperImage); pullErr != nil {
			return "", pullErr
		}
		created, err = r.client.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	}
	if err != nil {
		return "", fmt.Errorf("failed to create volume helper: %w", err)
	}

	if err := r.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		r.removeHelper(ctx, created.ID)
		return "", fmt.Errorf("failed to start volume helper: %w", err)
	}
	return created.ID, nil
}

func (r *Runtime) removeHelper(ctx context.Context, helperID string) {
	_ = r.client.ContainerRemove(ctx, helperID, container.RemoveOptions{Force: true})
}

type helperStream struct {
	io.ReadCloser
	runtime  *Runtime
	helperID string
}

func (s *helperStream) Close() error {
	err := s.ReadCloser.Close()
	s.runtime.removeHelper(context.Background(), s.helperID)
	return err
}
