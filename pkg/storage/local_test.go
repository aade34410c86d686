package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "tasks.json", []byte(`[]`)))

	data, err := s.Read(ctx, "tasks.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[]`), data)

	exists, err := s.Exists(ctx, "tasks.json")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Delete(ctx, "tasks.json"))

	exists, err = s.Exists(ctx, "tasks.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalStorageReadMissing(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = s.Read(context.Background(), "missing.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalStorageOverwrite(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "doc", []byte("v1")))
	require.NoError(t, s.Write(ctx, "doc", []byte("v2")))

	data, err := s.Read(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
}

func TestLocalStorageListSkipsTempFiles(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "a.json", []byte("{}")))
	require.NoError(t, s.Write(ctx, "b.json.tmp", []byte("{}")))

	paths, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json"}, paths)
}

func TestLocalStorageListMissingDir(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	paths, err := s.List(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, paths)
}
