package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackupType(t *testing.T) {
	for _, valid := range []string{"full", "database", "storage", "functions", "config"} {
		bt, err := ParseBackupType(valid)
		require.NoError(t, err)
		assert.Equal(t, valid, string(bt))
	}

	_, err := ParseBackupType("incremental")
	assert.ErrorIs(t, err, ErrInvalidBackupType)
}

func TestBackupTypeComponents(t *testing.T) {
	assert.Len(t, BackupFull.Components(), 5)
	assert.Equal(t, []Component{ComponentDatabase}, BackupDatabase.Components())
	assert.Nil(t, BackupType("bogus").Components())
}

func TestRetentionPolicyValidate(t *testing.T) {
	assert.NoError(t, RetentionPolicy{Keep: 0}.Validate())
	assert.NoError(t, RetentionPolicy{Keep: 7}.Validate())
	assert.ErrorIs(t, RetentionPolicy{Keep: -1}.Validate(), ErrInvalidRetention)
}

func TestBackupRunSoftFailures(t *testing.T) {
	run := BackupRun{Components: []ComponentResult{
		{Component: ComponentDatabase, Status: ComponentOK},
		{Component: ComponentStorage, Status: ComponentSoftFailed},
		{Component: ComponentVolumes, Status: ComponentEmpty},
	}}
	assert.Equal(t, 1, run.SoftFailures())
}

func TestHealthReportSummary(t *testing.T) {
	report := HealthReport{Findings: []Finding{
		{Check: CheckContainerCount, OK: true},
		{Check: CheckLiveness, OK: false, Detail: "status 503"},
	}}
	assert.False(t, report.Healthy())
	assert.Contains(t, report.Summary(), "liveness_probe: status 503")

	assert.False(t, HealthReport{}.Healthy(), "empty report must not count as healthy")
}

func TestInstancePaths(t *testing.T) {
	inst := Instance{ID: "acme", RootDir: "/srv/stacks/acme"}
	assert.Equal(t, "/srv/stacks/acme/docker-compose.yml", inst.ComposePath())
	assert.Equal(t, "/srv/stacks/acme/volumes/storage", inst.StorageDir())
	assert.Equal(t, "acme-db-1", inst.ContainerName(ServiceDatabase))
	assert.Equal(t, "acme_", inst.VolumePrefix())
}
