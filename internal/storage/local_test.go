package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestProvider(t *testing.T) (*LocalProvider, string) {
	t.Helper()
	dir := t.TempDir()
	provider, err := NewLocalProvider(dir)
	require.NoError(t, err)
	return provider, dir
}

func TestLocalProvider_PutObject(t *testing.T) {
	provider, baseDir := setupTestProvider(t)

	content := []byte("jpeg bytes")
	err := provider.PutObject(context.Background(), "uploads", "1-cow.jpg", bytes.NewReader(content))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(baseDir, "uploads", "1-cow.jpg"))
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestLocalProvider_GetObject(t *testing.T) {
	provider, _ := setupTestProvider(t)

	require.NoError(t, provider.CreateBucket(context.Background(), "uploads"))
	require.NoError(t, provider.PutObject(context.Background(), "uploads", "a.jpg", strings.NewReader("abc")))

	data, err := provider.GetObject(context.Background(), "uploads", "a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)

	_, err = provider.GetObject(context.Background(), "uploads", "missing.jpg")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalProvider_RejectsTraversal(t *testing.T) {
	provider, _ := setupTestProvider(t)

	err := provider.PutObject(context.Background(), "uploads", "../../etc/passwd", strings.NewReader("x"))
	assert.Error(t, err)

	_, err = provider.GetObject(context.Background(), "uploads", "../other/a.jpg")
	assert.Error(t, err)
}

func TestUploadKey(t *testing.T) {
	now := time.Unix(1700000000, 42)

	assert.Equal(t, "1700000000000000042-cow_1.jpg", UploadKey("cow 1.jpg", now))
	assert.Equal(t, "1700000000000000042-passwd", UploadKey("../../etc/passwd", now))
	assert.Equal(t, "1700000000000000042-image.jpg", UploadKey("", now))
	assert.Equal(t, "1700000000000000042-image.jpg", UploadKey("...", now))
}

func TestSplitRef(t *testing.T) {
	bucket, key, err := SplitRef("uploads/17-cow.jpg")
	require.NoError(t, err)
	assert.Equal(t, "uploads", bucket)
	assert.Equal(t, "17-cow.jpg", key)

	_, _, err = SplitRef("no-slash")
	assert.Error(t, err)
	_, _, err = SplitRef("/key")
	assert.Error(t, err)
}
