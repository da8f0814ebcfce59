package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/stackops/internal/app"
)

func TestNewRootCmdRegistersCommands(t *testing.T) {
	root := NewRootCmd()

	want := []string{"update", "backup", "restore", "snapshot", "versions", "health", "version"}
	for _, name := range want {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		assert.True(t, found, "command %q not registered", name)
	}

	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
}

func TestVersionCmdPrintsVersion(t *testing.T) {
	root := NewRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), app.Version)
}

func TestSnapshotCmdHasSubcommands(t *testing.T) {
	root := NewRootCmd()

	snapshot, _, err := root.Find([]string{"snapshot"})
	require.NoError(t, err)

	names := make([]string, 0, len(snapshot.Commands()))
	for _, c := range snapshot.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, names, []string{"list", "create", "delete", "prune"})
}

func TestBackupCmdDefaultsToFullType(t *testing.T) {
	root := NewRootCmd()

	backup, _, err := root.Find([]string{"backup"})
	require.NoError(t, err)

	flag := backup.Flags().Lookup("type")
	require.NotNil(t, flag)
	assert.Equal(t, "full", flag.DefValue)
}
