package json

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/hatchery/lock/flock"
)

type index struct {
	Items map[string]int `json:"items"`
}

func (i *index) Init() {
	if i.Items == nil {
		i.Items = make(map[string]int)
	}
}

func TestUpdateAndWith(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := New[index](filepath.Join(dir, "idx.json"), flock.New(filepath.Join(dir, "idx.lock")))

	require.NoError(t, s.With(ctx, func(idx *index) error {
		assert.NotNil(t, idx.Items, "Init runs on a missing file")
		return nil
	}))
	require.NoError(t, s.Update(ctx, func(idx *index) error {
		idx.Items["a"] = 1
		return nil
	}))

	// A failing fn must not persist its changes.
	boom := errors.New("boom")
	err := s.Update(ctx, func(idx *index) error {
		idx.Items["b"] = 2
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, s.With(ctx, func(idx *index) error {
		assert.Equal(t, map[string]int{"a": 1}, idx.Items)
		return nil
	}))
}

func TestTryLockThenWrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := New[index](filepath.Join(dir, "idx.json"), flock.New(filepath.Join(dir, "idx.lock")))

	ok, err := s.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Write(func(idx *index) error {
		idx.Items["x"] = 7
		return nil
	}))
	require.NoError(t, s.Unlock(ctx))

	require.NoError(t, s.With(ctx, func(idx *index) error {
		assert.Equal(t, 7, idx.Items["x"])
		return nil
	}))
}
