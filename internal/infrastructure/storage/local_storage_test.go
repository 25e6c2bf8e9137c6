package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/erp/exchange/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalImageStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalImageStore(dir, "/media")
	require.NoError(t, err)
	ctx := context.Background()

	exists, err := s.Exists(ctx, "products/ab/ball.jpg")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Put(ctx, "products/ab/ball.jpg", strings.NewReader("v1"), 2, "image/jpeg"))
	require.NoError(t, s.Put(ctx, "products/ab/ball.jpg", strings.NewReader("v2"), 2, "image/jpeg"))

	exists, err = s.Exists(ctx, "products/ab/ball.jpg")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := os.ReadFile(filepath.Join(dir, "products", "ab", "ball.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
	assert.Equal(t, "/media/products/ab/ball.jpg", s.URL("products/ab/ball.jpg"))

	assert.ErrorIs(t, s.Put(ctx, "../escape.jpg", strings.NewReader("x"), 1, "image/jpeg"), ErrPathTraversal)
}

func TestNewImageStore(t *testing.T) {
	store, err := NewImageStore(context.Background(), config.StorageConfig{Driver: "local", LocalPath: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &LocalImageStore{}, store)

	_, err = NewImageStore(context.Background(), config.StorageConfig{Driver: "ftp"}, zap.NewNop())
	assert.Error(t, err)
}
