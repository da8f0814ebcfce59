package httpprober

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeReturnsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "StackOps-HealthCheck/1.0", r.UserAgent())
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	status, elapsed, err := New().Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.GreaterOrEqual(t, elapsed, int64(0))
}

func TestProbeDoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusMovedPermanently)
	}))
	defer srv.Close()

	status, _, err := New().Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusMovedPermanently, status)
}

func TestProbeUnreachableHost(t *testing.T) {
	prober := New(WithHTTPClient(&http.Client{Timeout: 200 * time.Millisecond}))

	_, _, err := prober.Probe(context.Background(), "http://127.0.0.1:1/")
	require.Error(t, err)
}
