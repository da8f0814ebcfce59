package health

import (
	"context"
	"errors"
	"testing"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/stackops/internal/boundaries/out"
	"github.com/bnema/stackops/internal/domain"
	"github.com/bnema/stackops/internal/testutil"
)

func healthyTarget() domain.Instance {
	return domain.Instance{
		ID:       "acme",
		Services: []string{"db", "kong"},
		Ports:    map[string]int{domain.ServiceAPI: 8000},
	}
}

func healthyRuntime() *testutil.FakeRuntime {
	return &testutil.FakeRuntime{
		States: map[string]out.ContainerState{
			"acme-db-1":   {Exists: true, Running: true},
			"acme-kong-1": {Exists: true, Running: true},
		},
		Logs: map[string]string{
			"acme-db-1":   "database system is ready to accept connections",
			"acme-kong-1": "init_worker_by_lua",
		},
	}
}

func probeOK() *testutil.FakeProber {
	return &testutil.FakeProber{Status: map[string]int{"http://127.0.0.1:8000/rest/v1/": 401}}
}

func TestCheckHealthyStack(t *testing.T) {
	svc := NewService(healthyRuntime(), probeOK(), zerowrap.Default())

	report := svc.Check(context.Background(), healthyTarget())
	assert.True(t, report.Healthy())
	require.Len(t, report.Findings, 4)
}

func TestCheckAllFourRunDespiteFailures(t *testing.T) {
	runtime := healthyRuntime()
	runtime.States["acme-db-1"] = out.ContainerState{Exists: true, Running: false}
	runtime.Logs["acme-kong-1"] = "[error] upstream timed out"

	svc := NewService(runtime, &testutil.FakeProber{Err: errors.New("connection refused")}, zerowrap.Default())

	report := svc.Check(context.Background(), healthyTarget())
	assert.False(t, report.Healthy())
	require.Len(t, report.Findings, 4, "no check may short-circuit the others")
	assert.Len(t, report.Failures(), 3)
}

func TestCheckRestartLoopDetected(t *testing.T) {
	runtime := healthyRuntime()
	runtime.States["acme-kong-1"] = out.ContainerState{Exists: true, Running: true, RestartCount: 5}

	svc := NewService(runtime, probeOK(), zerowrap.Default())

	report := svc.Check(context.Background(), healthyTarget())
	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, domain.CheckRestartLoops, failures[0].Check)
	assert.Contains(t, failures[0].Detail, "kong")
}

func TestCheckLivenessAccepts200And401(t *testing.T) {
	for _, status := range []int{200, 401} {
		prober := &testutil.FakeProber{Status: map[string]int{"http://127.0.0.1:8000/rest/v1/": status}}
		svc := NewService(healthyRuntime(), prober, zerowrap.Default())

		report := svc.Check(context.Background(), healthyTarget())
		assert.True(t, report.Healthy(), "status %d must pass", status)
	}
}

func TestCheckLivenessRejects500(t *testing.T) {
	prober := &testutil.FakeProber{Status: map[string]int{"http://127.0.0.1:8000/rest/v1/": 500}}
	svc := NewService(healthyRuntime(), prober, zerowrap.Default())

	report := svc.Check(context.Background(), healthyTarget())
	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, domain.CheckLiveness, failures[0].Check)
}

func TestCheckMissingAPIPortFailsLiveness(t *testing.T) {
	target := healthyTarget()
	target.Ports = nil

	svc := NewService(healthyRuntime(), probeOK(), zerowrap.Default())

	report := svc.Check(context.Background(), target)
	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, domain.CheckLiveness, failures[0].Check)
}
