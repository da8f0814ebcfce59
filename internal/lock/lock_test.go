package lock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/stackops/internal/domain"
)

func TestAcquireRelease(t *testing.T) {
	target := domain.Instance{ID: "acme", RootDir: t.TempDir()}

	l, err := Acquire(target)
	require.NoError(t, err)
	require.NoError(t, l.Release())

	// Reacquirable after release.
	l2, err := Acquire(target)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestAcquireHeldLock(t *testing.T) {
	target := domain.Instance{ID: "acme", RootDir: t.TempDir()}

	l, err := Acquire(target)
	require.NoError(t, err)
	defer l.Release()

	_, err = Acquire(target)
	assert.ErrorIs(t, err, domain.ErrTargetLocked)
}

func TestReleaseNil(t *testing.T) {
	var l *TargetLock
	assert.NoError(t, l.Release())
}
