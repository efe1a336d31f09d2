package flock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryLockExcludes(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vm.lock")
	set := NewSet()
	l := set.Get(path)
	assert.Same(t, l, set.Get(path))

	ok, err := l.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = set.Get(path).TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be rejected")

	// A separate Lock on the same file contends on flock(2).
	ok, err = New(path).TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Unlock(ctx))
	ok, err = l.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.Unlock(ctx))
}

func TestLockHonoursContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vm.lock")
	l := New(path)
	require.NoError(t, l.Lock(context.Background()))
	defer l.Unlock(context.Background()) //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Lock(ctx))
}
