package client

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStorage(t.TempDir(), "http://cdn.local/artifacts/")

	url, err := s.Upload(ctx, "jobs/j1/audio/scene_0.wav", strings.NewReader("RIFF"), "audio/wav")
	require.NoError(t, err)
	assert.Equal(t, "http://cdn.local/artifacts/jobs/j1/audio/scene_0.wav", url)

	data, err := s.Get(ctx, "jobs/j1/audio/scene_0.wav")
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data))

	require.NoError(t, s.Delete(ctx, "jobs/j1/audio/scene_0.wav"))
	_, err = s.Get(ctx, "jobs/j1/audio/scene_0.wav")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	assert.NoError(t, s.Delete(ctx, "jobs/j1/audio/scene_0.wav"))
}

func TestLocalStorageKeysStayUnderRoot(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := NewLocalStorage(root, "")

	_, err := s.Upload(ctx, "../../escape.txt", strings.NewReader("x"), "text/plain")
	require.NoError(t, err)

	data, err := s.Get(ctx, "escape.txt")
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	_, err = s.Upload(ctx, "", strings.NewReader("x"), "text/plain")
	assert.Error(t, err)
}
