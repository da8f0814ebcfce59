// Package postgres implements the database port against a target's
// postgres service. Every operation reaches the process through the
// container runtime; nothing here assumes a database client on the host.
package postgres

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/bnema/stackops/internal/boundaries/out"
	"github.com/bnema/stackops/internal/domain"
)

const (
	execTimeout    = 30 * time.Minute
	dumpPathBinary = "/tmp/stackops-database.dump"
	dumpPathSQL    = "/tmp/stackops-database.sql"
)

// Tool implements the Database port via exec-in-container.
type Tool struct {
	runtime out.ContainerRuntime
	log     zerowrap.Logger
}

// NewTool creates a postgres database tool.
func NewTool(runtime out.ContainerRuntime, log zerowrap.Logger) *Tool {
	return &Tool{runtime: runtime, log: log}
}

// DumpBinary streams a binary-format (custom) dump of the live database.
func (t *Tool) DumpBinary(ctx context.Context, target domain.Instance) (io.ReadCloser, error) {
	cmd := fmt.Sprintf(`pg_dump -Fc -U "${POSTGRES_USER:-postgres}" -d "${POSTGRES_DB:-postgres}" > %q`, dumpPathBinary)
	return t.dumpToPath(ctx, target, cmd, dumpPathBinary)
}

// DumpSQL streams a plain-text dump of the live database.
func (t *Tool) DumpSQL(ctx context.Context, target domain.Instance) (io.ReadCloser, error) {
	cmd := fmt.Sprintf(`pg_dump -U "${POSTGRES_USER:-postgres}" -d "${POSTGRES_DB:-postgres}" > %q`, dumpPathSQL)
	return t.dumpToPath(ctx, target, cmd, dumpPathSQL)
}

func (t *Tool) dumpToPath(ctx context.Context, target domain.Instance, cmd, path string) (io.ReadCloser, error) {
	container := target.ContainerName(domain.ServiceDatabase)

	execCtx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	result, err := t.runtime.ExecInContainer(execCtx, container, []string{"sh", "-c", cmd})
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("pg_dump failed with exit code %d: %s", result.ExitCode, string(result.Stderr))
	}

	stream, err := t.runtime.CopyFromContainer(ctx, container, path)
	if err != nil {
		return nil, err
	}
	reader, err := newTarFileReader(stream)
	if err != nil {
		t.cleanupPath(container, path)
		return nil, err
	}
	// The dump stays in the container until the caller has drained the
	// stream; removing it earlier can truncate the copy.
	return &cleanupReader{ReadCloser: reader, cleanup: func() {
		t.cleanupPath(container, path)
	}}, nil
}

type cleanupReader struct {
	io.ReadCloser
	cleanup func()
}

func (r *cleanupReader) Close() error {
	err := r.ReadCloser.Close()
	r.cleanup()
	return err
}

// RestoreBinary drops and recreates the target database, then loads the
// binary dump into it.
func (t *Tool) RestoreBinary(ctx context.Context, target domain.Instance, dump io.Reader) error {
	container := target.ContainerName(domain.ServiceDatabase)

	if err := t.copyIntoContainer(ctx, container, dumpPathBinary, dump); err != nil {
		return err
	}
	defer t.cleanupPath(container, dumpPathBinary)

	steps := []string{
		`psql -U "${POSTGRES_USER:-postgres}" -d postgres -c "DROP DATABASE IF EXISTS \"${POSTGRES_DB:-postgres}\" WITH (FORCE);"`,
		`psql -U "${POSTGRES_USER:-postgres}" -d postgres -c "CREATE DATABASE \"${POSTGRES_DB:-postgres}\";"`,
		fmt.Sprintf(`pg_restore -U "${POSTGRES_USER:-postgres}" -d "${POSTGRES_DB:-postgres}" %q`, dumpPathBinary),
	}
	for _, step := range steps {
		if err := t.runStep(ctx, container, step); err != nil {
			return err
		}
	}
	return nil
}

// RestoreScratch loads the dump into a throwaway database, counts the
// restored tables and drops it again. The live database is not touched.
func (t *Tool) RestoreScratch(ctx context.Context, target domain.Instance, dump io.Reader) (out.ScratchRestore, error) {
	container := target.ContainerName(domain.ServiceDatabase)
	scratch := fmt.Sprintf("stackops_verify_%d", time.Now().UnixNano())

	if err := t.copyIntoContainer(ctx, container, dumpPathBinary, dump); err != nil {
		return out.ScratchRestore{}, err
	}
	defer t.cleanupPath(container, dumpPathBinary)

	createCmd := fmt.Sprintf(`psql -U "${POSTGRES_USER:-postgres}" -d postgres -c "CREATE DATABASE %s;"`, scratch)
	if err := t.runStep(ctx, container, createCmd); err != nil {
		return out.ScratchRestore{}, err
	}
	defer func() {
		dropCmd := fmt.Sprintf(`psql -U "${POSTGRES_USER:-postgres}" -d postgres -c "DROP DATABASE IF EXISTS %s WITH (FORCE);"`, scratch)
		if err := t.runStep(context.WithoutCancel(ctx), container, dropCmd); err != nil {
			t.log.Warn().Err(err).Str("database", scratch).Msg("failed to drop scratch database")
		}
	}()

	restoreCmd := fmt.Sprintf(`pg_restore -U "${POSTGRES_USER:-postgres}" -d %s %q`, scratch, dumpPathBinary)
	if err := t.runStep(ctx, container, restoreCmd); err != nil {
		return out.ScratchRestore{}, err
	}

	countCmd := fmt.Sprintf(`psql -tA -U "${POSTGRES_USER:-postgres}" -d %s -c "SELECT count(*) FROM information_schema.tables WHERE table_schema = 'public';"`, scratch)
	result, err := t.runtime.ExecInContainer(ctx, container, []string{"sh", "-c", countCmd})
	if err != nil {
		return out.ScratchRestore{}, err
	}
	if result.ExitCode != 0 {
		return out.ScratchRestore{}, fmt.Errorf("table count failed with exit code %d: %s", result.ExitCode, string(result.Stderr))
	}

	tables, err := strconv.Atoi(strings.TrimSpace(string(result.Stdout)))
	if err != nil {
		return out.ScratchRestore{}, fmt.Errorf("unexpected table count output %q: %w", string(result.Stdout), err)
	}
	return out.ScratchRestore{Tables: tables}, nil
}

// Query runs an ad-hoc statement against the live database.
func (t *Tool) Query(ctx context.Context, target domain.Instance, sql string) (string, error) {
	container := target.ContainerName(domain.ServiceDatabase)
	cmd := fmt.Sprintf(`psql -tA -U "${POSTGRES_USER:-postgres}" -d "${POSTGRES_DB:-postgres}" -c %q`, sql)

	result, err := t.runtime.ExecInContainer(ctx, container, []string{"sh", "-c", cmd})
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("query failed with exit code %d: %s", result.ExitCode, string(result.Stderr))
	}
	return strings.TrimSpace(string(result.Stdout)), nil
}

func (t *Tool) runStep(ctx context.Context, container, cmd string) error {
	execCtx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	result, err := t.runtime.ExecInContainer(execCtx, container, []string{"sh", "-c", cmd})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("database step failed with exit code %d: %s", result.ExitCode, string(result.Stderr))
	}
	return nil
}

// copyIntoContainer spools the reader to a temp file to learn its size,
// then streams it into the container as a single-file tar archive.
func (t *Tool) copyIntoContainer(ctx context.Context, container, dstPath string, data io.Reader) error {
	tmp, err := os.CreateTemp("", "stackops-dump-*")
	if err != nil {
		return fmt.Errorf("spool dump: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, data)
	if err != nil {
		return fmt.Errorf("spool dump: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind dump spool: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		tw := tar.NewWriter(pw)
		header := &tar.Header{
			Name: strings.TrimPrefix(dstPath, "/tmp/"),
			Mode: 0o600,
			Size: size,
		}
		err := tw.WriteHeader(header)
		if err == nil {
			_, err = io.Copy(tw, tmp)
		}
		if err == nil {
			err = tw.Close()
		}
		pw.CloseWithError(err)
	}()

	return t.runtime.CopyToContainer(ctx, container, "/tmp", pr)
}

func (t *Tool) cleanupPath(container, path string) {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, _ = t.runtime.ExecInContainer(cleanupCtx, container, []string{"sh", "-c", fmt.Sprintf("rm -f %q", path)})
}

// tarFileReader unwraps the first regular file from a tar stream, which is
// how the runtime hands back single-file copies.
type tarFileReader struct {
	tr     *tar.Reader
	stream io.ReadCloser
}

func newTarFileReader(stream io.ReadCloser) (io.ReadCloser, error) {
	tr := tar.NewReader(stream)
	for {
		header, err := tr.Next()
		if err != nil {
			_ = stream.Close()
			return nil, fmt.Errorf("read copy stream: %w", err)
		}
		if header.Typeflag == tar.TypeReg {
			return &tarFileReader{tr: tr, stream: stream}, nil
		}
	}
}

func (r *tarFileReader) Read(p []byte) (int, error) { return r.tr.Read(p) }

func (r *tarFileReader) Close() error { return r.stream.Close() }
