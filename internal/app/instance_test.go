package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/stackops/internal/domain"
)

func writeTarget(t *testing.T, targetsDir, id string, files map[string]string) {
	t.Helper()
	root := filepath.Join(targetsDir, id)
	require.NoError(t, os.MkdirAll(root, 0o750))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o640))
	}
}

func TestLoadInstanceFromDescriptor(t *testing.T) {
	cfg := Config{TargetsDir: t.TempDir()}
	writeTarget(t, cfg.TargetsDir, "acme", map[string]string{
		domain.InstanceFileName: "id: acme\nservices: [db, kong, auth]\nports:\n  kong: 8100\n",
	})

	target, err := LoadInstance(cfg, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", target.ID)
	assert.Equal(t, []string{"db", "kong", "auth"}, target.Services)
	assert.Equal(t, 8100, target.APIPort())
}

func TestLoadInstanceFallsBackToCompose(t *testing.T) {
	cfg := Config{TargetsDir: t.TempDir()}
	writeTarget(t, cfg.TargetsDir, "acme", map[string]string{
		domain.ComposeFileName: "services:\n  db:\n    image: postgres:15\n  kong:\n    image: kong:2.8.1\n",
		domain.EnvFileName:     "KONG_HTTP_PORT=8200\n",
	})

	target, err := LoadInstance(cfg, "acme")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"db", "kong"}, target.Services)
	assert.Equal(t, 8200, target.APIPort())
}

func TestLoadInstanceMissingTarget(t *testing.T) {
	cfg := Config{TargetsDir: t.TempDir()}

	_, err := LoadInstance(cfg, "ghost")
	assert.ErrorIs(t, err, domain.ErrTargetNotFound)
}

func TestLoadInstanceDescriptorIDMismatch(t *testing.T) {
	cfg := Config{TargetsDir: t.TempDir()}
	writeTarget(t, cfg.TargetsDir, "acme", map[string]string{
		domain.InstanceFileName: "id: other\nservices: [db]\n",
	})

	_, err := LoadInstance(cfg, "acme")
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestLoadInstanceEmptyDirHasNoConfig(t *testing.T) {
	cfg := Config{TargetsDir: t.TempDir()}
	writeTarget(t, cfg.TargetsDir, "acme", nil)

	_, err := LoadInstance(cfg, "acme")
	assert.ErrorIs(t, err, domain.ErrConfigNotFound)
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stackops.yml")
	require.NoError(t, os.WriteFile(path, []byte("targets_dir: /srv/stacks\n"), 0o640))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/stacks", cfg.TargetsDir)
	assert.Equal(t, 30, cfg.Update.SettleSeconds)
	assert.Equal(t, 5, cfg.Health.ProbeTimeoutSeconds)
	assert.Equal(t, "/var/backups/stackops", cfg.Backup.Destination)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
