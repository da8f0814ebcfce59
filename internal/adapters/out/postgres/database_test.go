package postgres

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/stackops/internal/boundaries/out"
	"github.com/bnema/stackops/internal/domain"
	"github.com/bnema/stackops/internal/testutil"
)

func testInstance() domain.Instance {
	return domain.Instance{ID: "acme", RootDir: "/opt/acme"}
}

func TestDumpBinaryStreamsFileContents(t *testing.T) {
	runtime := &testutil.FakeRuntime{
		CopyFrom: map[string][]byte{
			dumpPathBinary: testutil.TarFile("stackops-database.dump", []byte("PGDMP-bytes")),
		},
	}
	tool := NewTool(runtime, zerowrap.Default())

	stream, err := tool.DumpBinary(context.Background(), testInstance())
	require.NoError(t, err)
	defer stream.Close()

	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "PGDMP-bytes", string(data))

	calls := runtime.CallsMade()
	require.NotEmpty(t, calls)
	assert.Contains(t, calls[0], "pg_dump -Fc")
	assert.Contains(t, calls[0], "acme-db-1")
}

func TestDumpBinaryNonZeroExit(t *testing.T) {
	runtime := &testutil.FakeRuntime{
		ExecFunc: func(_ string, _ []string) (out.ExecResult, error) {
			return out.ExecResult{ExitCode: 1, Stderr: []byte("connection refused")}, nil
		},
	}
	tool := NewTool(runtime, zerowrap.Default())

	_, err := tool.DumpBinary(context.Background(), testInstance())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRestoreBinaryDropsRecreatesThenRestores(t *testing.T) {
	runtime := &testutil.FakeRuntime{}
	tool := NewTool(runtime, zerowrap.Default())

	err := tool.RestoreBinary(context.Background(), testInstance(), strings.NewReader("dump"))
	require.NoError(t, err)

	var steps []string
	for _, call := range runtime.CallsMade() {
		if strings.HasPrefix(call, "exec ") {
			steps = append(steps, call)
		}
	}
	require.GreaterOrEqual(t, len(steps), 3)
	assert.Contains(t, steps[0], "DROP DATABASE IF EXISTS")
	assert.Contains(t, steps[1], "CREATE DATABASE")
	assert.Contains(t, steps[2], "pg_restore")
}

func TestRestoreScratchCountsTablesAndDrops(t *testing.T) {
	runtime := &testutil.FakeRuntime{
		ExecFunc: func(_ string, cmd []string) (out.ExecResult, error) {
			if strings.Contains(cmd[2], "information_schema.tables") {
				return out.ExecResult{Stdout: []byte("42\n")}, nil
			}
			return out.ExecResult{}, nil
		},
	}
	tool := NewTool(runtime, zerowrap.Default())

	result, err := tool.RestoreScratch(context.Background(), testInstance(), strings.NewReader("dump"))
	require.NoError(t, err)
	assert.Equal(t, 42, result.Tables)

	var dropped bool
	for _, call := range runtime.CallsMade() {
		if strings.Contains(call, "DROP DATABASE IF EXISTS stackops_verify_") {
			dropped = true
		}
	}
	assert.True(t, dropped, "scratch database must always be dropped")
}

func TestQueryTrimsOutput(t *testing.T) {
	runtime := &testutil.FakeRuntime{
		ExecFunc: func(_ string, _ []string) (out.ExecResult, error) {
			return out.ExecResult{Stdout: []byte("  15.8\n")}, nil
		},
	}
	tool := NewTool(runtime, zerowrap.Default())

	got, err := tool.Query(context.Background(), testInstance(), "SHOW server_version;")
	require.NoError(t, err)
	assert.Equal(t, "15.8", got)
}
