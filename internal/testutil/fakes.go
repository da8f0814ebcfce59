// Package testutil provides hand-written fakes for the outbound ports.
package testutil

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/bnema/stackops/internal/boundaries/out"
	"github.com/bnema/stackops/internal/domain"
)

// FakeRuntime is an in-memory ContainerRuntime. The zero value is usable.
// Behavior is customized per test through the hook fields; calls are
// recorded so tests can assert on ordering.
type FakeRuntime struct {
	mu    sync.Mutex
	Calls []string

	States  map[string]out.ContainerState
	Logs    map[string]string
	Volumes map[string][]byte

	StartErr   error
	StopErr    error
	RestartErr error
	PullErr    error
	ExportErr  error
	ImportErr  error

	ExecFunc func(container string, cmd []string) (out.ExecResult, error)
	CopyFrom map[string][]byte
}

func (f *FakeRuntime) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, fmt.Sprintf(format, args...))
}

// CallsMade returns a copy of the recorded call log.
func (f *FakeRuntime) CallsMade() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Calls...)
}

func (f *FakeRuntime) StartContainer(_ context.Context, name string) error {
	f.record("start %s", name)
	if f.StartErr != nil {
		return f.StartErr
	}
	f.setRunning(name, true)
	return nil
}

func (f *FakeRuntime) StopContainer(_ context.Context, name string) error {
	f.record("stop %s", name)
	if f.StopErr != nil {
		return f.StopErr
	}
	f.setRunning(name, false)
	return nil
}

func (f *FakeRuntime) RestartContainer(_ context.Context, name string) error {
	f.record("restart %s", name)
	if f.RestartErr != nil {
		return f.RestartErr
	}
	f.setRunning(name, true)
	return nil
}

func (f *FakeRuntime) setRunning(name string, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.States == nil {
		f.States = make(map[string]out.ContainerState)
	}
	state := f.States[name]
	state.Exists = true
	state.Running = running
	f.States[name] = state
}

func (f *FakeRuntime) ContainerState(_ context.Context, name string) (out.ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.States[name], nil
}

func (f *FakeRuntime) RecentLogs(_ context.Context, name string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Logs[name], nil
}

func (f *FakeRuntime) PullImage(_ context.Context, ref string) error {
	f.record("pull %s", ref)
	return f.PullErr
}

func (f *FakeRuntime) PruneImages(_ context.Context) (int, error) {
	f.record("prune images")
	return 0, nil
}

func (f *FakeRuntime) ListVolumes(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.Volumes {
		if len(prefix) == 0 || (len(name) >= len(prefix) && name[:len(prefix)] == prefix) {
			names = append(names, name)
		}
	}
	return names, nil
}

func (f *FakeRuntime) VolumeExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Volumes[name]
	return ok, nil
}

func (f *FakeRuntime) CreateVolume(_ context.Context, name string) error {
	f.record("create volume %s", name)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Volumes == nil {
		f.Volumes = make(map[string][]byte)
	}
	if _, ok := f.Volumes[name]; !ok {
		f.Volumes[name] = nil
	}
	return nil
}

func (f *FakeRuntime) RemoveVolume(_ context.Context, name string, _ bool) error {
	f.record("remove volume %s", name)
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Volumes, name)
	return nil
}

func (f *FakeRuntime) ExportVolume(_ context.Context, name string) (io.ReadCloser, error) {
	f.record("export volume %s", name)
	if f.ExportErr != nil {
		return nil, f.ExportErr
	}
	f.mu.Lock()
	data, ok := f.Volumes[name]
	f.mu.Unlock()
	if !ok {
		return nil, domain.ErrVolumeNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *FakeRuntime) ImportVolume(_ context.Context, name string, data io.Reader) error {
	f.record("import volume %s", name)
	if f.ImportErr != nil {
		return f.ImportErr
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Volumes == nil {
		f.Volumes = make(map[string][]byte)
	}
	f.Volumes[name] = buf
	return nil
}

// requireRunning mirrors the daemon's refusal to exec inside a container
// it knows is stopped. Containers with no recorded state pass, so tests
// that never touch lifecycle calls keep working on the zero value.
func (f *FakeRuntime) requireRunning(container string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if state, ok := f.States[container]; ok && state.Exists && !state.Running {
		return fmt.Errorf("container %s is not running", container)
	}
	return nil
}

func (f *FakeRuntime) ExecInContainer(_ context.Context, container string, cmd []string) (*out.ExecResult, error) {
	f.record("exec %s %v", container, cmd)
	if err := f.requireRunning(container); err != nil {
		return nil, err
	}
	if f.ExecFunc != nil {
		result, err := f.ExecFunc(container, cmd)
		if err != nil {
			return nil, err
		}
		return &result, nil
	}
	return &out.ExecResult{}, nil
}

func (f *FakeRuntime) CopyFromContainer(_ context.Context, container, path string) (io.ReadCloser, error) {
	f.record("copy from %s:%s", container, path)
	data, ok := f.CopyFrom[path]
	if !ok {
		return nil, domain.ErrContainerNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *FakeRuntime) CopyToContainer(_ context.Context, container, path string, data io.Reader) error {
	f.record("copy to %s:%s", container, path)
	_, err := io.Copy(io.Discard, data)
	return err
}

func (f *FakeRuntime) Ping(_ context.Context) error { return nil }

// TarFile builds a single-file tar archive, the shape CopyFromContainer
// hands back for a file path.
func TarFile(name string, contents []byte) []byte {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	_ = tw.WriteHeader(&tar.Header{Name: name, Mode: 0o600, Size: int64(len(contents))})
	_, _ = tw.Write(contents)
	_ = tw.Close()
	return buf.Bytes()
}

// FakeDatabase is an in-memory Database port.
type FakeDatabase struct {
	DumpData   []byte
	DumpErr    error
	RestoreErr error
	Restored   [][]byte
	Scratch    out.ScratchRestore
	ScratchErr error
	QueryOut   string
	QueryErr   error
}

func (f *FakeDatabase) DumpBinary(_ context.Context, _ domain.Instance) (io.ReadCloser, error) {
	if f.DumpErr != nil {
		return nil, f.DumpErr
	}
	return io.NopCloser(bytes.NewReader(f.DumpData)), nil
}

func (f *FakeDatabase) DumpSQL(_ context.Context, _ domain.Instance) (io.ReadCloser, error) {
	return f.DumpBinary(context.Background(), domain.Instance{})
}

func (f *FakeDatabase) RestoreBinary(_ context.Context, _ domain.Instance, dump io.Reader) error {
	if f.RestoreErr != nil {
		return f.RestoreErr
	}
	data, err := io.ReadAll(dump)
	if err != nil {
		return err
	}
	f.Restored = append(f.Restored, data)
	return nil
}

func (f *FakeDatabase) RestoreScratch(_ context.Context, _ domain.Instance, dump io.Reader) (out.ScratchRestore, error) {
	if _, err := io.Copy(io.Discard, dump); err != nil {
		return out.ScratchRestore{}, err
	}
	return f.Scratch, f.ScratchErr
}

func (f *FakeDatabase) Query(_ context.Context, _ domain.Instance, _ string) (string, error) {
	return f.QueryOut, f.QueryErr
}

// FakeBlobStore keeps blobs in a map.
type FakeBlobStore struct {
	mu    sync.Mutex
	Blobs map[string][]byte

	PutErr error
	GetErr error
}

func (f *FakeBlobStore) Put(_ context.Context, name string, data io.Reader) (int64, error) {
	if f.PutErr != nil {
		return 0, f.PutErr
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Blobs == nil {
		f.Blobs = make(map[string][]byte)
	}
	f.Blobs[name] = buf
	return int64(len(buf)), nil
}

func (f *FakeBlobStore) Get(_ context.Context, name string) (io.ReadCloser, error) {
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.Blobs[name]
	if !ok {
		return nil, domain.ErrArchiveNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *FakeBlobStore) List(_ context.Context, prefix string) ([]out.BlobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var infos []out.BlobInfo
	for name, data := range f.Blobs {
		if len(prefix) == 0 || (len(name) >= len(prefix) && name[:len(prefix)] == prefix) {
			infos = append(infos, out.BlobInfo{Name: name, Size: int64(len(data))})
		}
	}
	return infos, nil
}

func (f *FakeBlobStore) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Blobs[name]; !ok {
		return domain.ErrArchiveNotFound
	}
	delete(f.Blobs, name)
	return nil
}

// FakeProber returns canned probe results keyed by URL.
type FakeProber struct {
	Status map[string]int
	Err    error
}

func (f *FakeProber) Probe(_ context.Context, url string) (int, int64, error) {
	if f.Err != nil {
		return 0, 0, f.Err
	}
	status, ok := f.Status[url]
	if !ok {
		return 0, 0, fmt.Errorf("no route to %s", url)
	}
	return status, 12, nil
}
