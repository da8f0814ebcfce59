package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/stackops/internal/domain"
)

const upstreamCompose = `services:
  db:
    image: supabase/postgres:15.8.1.085
  kong:
    image: kong:2.8.1
  auth:
    image: supabase/gotrue:v2.170.0
`

func TestCurrentParsesComposeTags(t *testing.T) {
	root := t.TempDir()
	target := domain.Instance{ID: "acme", RootDir: root}
	require.NoError(t, os.WriteFile(filepath.Join(root, domain.ComposeFileName), []byte(upstreamCompose), 0o640))

	svc := NewService("http://unused", zerowrap.Default())
	current, err := svc.Current(target)
	require.NoError(t, err)
	assert.Equal(t, "15.8.1.085", current["db"])
	assert.Equal(t, "2.8.1", current["kong"])
}

func TestLatestFetchesUpstreamDescriptor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(upstreamCompose))
	}))
	defer server.Close()

	svc := NewService(server.URL, zerowrap.Default())
	latest := svc.Latest(context.Background())
	assert.Equal(t, "v2.170.0", latest["auth"])
}

func TestLatestNetworkFailureYieldsEmptyMap(t *testing.T) {
	svc := NewService("http://127.0.0.1:1/compose.yml", zerowrap.Default())
	latest := svc.Latest(context.Background())
	assert.Empty(t, latest)
}

func TestLatestNon200YieldsEmptyMap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	svc := NewService(server.URL, zerowrap.Default())
	assert.Empty(t, svc.Latest(context.Background()))
}

func TestDiffReportsChangedAndNotFound(t *testing.T) {
	svc := NewService("http://unused", zerowrap.Default())

	current := domain.VersionMap{"db": "15.8.1.085", "kong": "2.8.1", "auth": "v2.169.0"}
	latest := domain.VersionMap{"db": "15.8.1.085", "kong": "2.8.2", "auth": "v2.170.0"}

	plan := svc.Diff(current, latest, []string{"db", "kong", "auth", "vector"})
	assert.Equal(t, []string{"vector"}, plan.NotFound)
	require.Len(t, plan.Updates, 2)
	assert.Equal(t, domain.ServiceUpdate{Service: "auth", From: "v2.169.0", To: "v2.170.0"}, plan.Updates[0])
	assert.Equal(t, domain.ServiceUpdate{Service: "kong", From: "2.8.1", To: "2.8.2"}, plan.Updates[1])
}

func TestDiffEmptySelectorCoversAllKnownServices(t *testing.T) {
	svc := NewService("http://unused", zerowrap.Default())

	current := domain.VersionMap{"db": "15.8", "kong": "2.8.1"}
	latest := domain.VersionMap{"db": "15.9", "kong": "2.8.1"}

	plan := svc.Diff(current, latest, nil)
	require.Len(t, plan.Updates, 1)
	assert.Equal(t, "db", plan.Updates[0].Service)
	assert.Empty(t, plan.NotFound)
}

func TestDiffSemverEquivalentTagsAreNotUpdates(t *testing.T) {
	svc := NewService("http://unused", zerowrap.Default())

	current := domain.VersionMap{"kong": "2.8.1"}
	latest := domain.VersionMap{"kong": "v2.8.1"}

	plan := svc.Diff(current, latest, nil)
	assert.Empty(t, plan.Updates)
}

func TestDiffOpaqueTagsFallBackToInequality(t *testing.T) {
	svc := NewService("http://unused", zerowrap.Default())

	current := domain.VersionMap{"studio": "2025.06.30-sha-6f5982d"}
	latest := domain.VersionMap{"studio": "2025.07.15-sha-a1b2c3d"}

	plan := svc.Diff(current, latest, nil)
	require.Len(t, plan.Updates, 1)
}

func TestDiffUnknownLatestMeansNoUpdate(t *testing.T) {
	svc := NewService("http://unused", zerowrap.Default())

	current := domain.VersionMap{"db": "15.8"}
	plan := svc.Diff(current, domain.VersionMap{}, nil)
	assert.True(t, plan.Empty())
}
