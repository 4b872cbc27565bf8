package artifacts

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSave_UniqueNames(t *testing.T) {
	store, err := NewStore(t.TempDir(), "http://localhost:8000")
	require.NoError(t, err)

	first, err := store.Save([]byte("one"), "cover", "png")
	require.NoError(t, err)
	second, err := store.Save([]byte("two"), "cover", "png")
	require.NoError(t, err)

	assert.NotEqual(t, first.Filename, second.Filename)
	assert.True(t, strings.HasPrefix(first.Filename, "cover_"))
	assert.True(t, strings.HasSuffix(first.Filename, ".png"))

	data, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
}

func TestSave_URLMapping(t *testing.T) {
	store, err := NewStore(t.TempDir(), "http://localhost:8000/")
	require.NoError(t, err)

	saved, err := store.Save([]byte("data"), "video", "mp4")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000/content/"+saved.Filename, saved.URL)
}

func TestSave_RejectsEmpty(t *testing.T) {
	store, err := NewStore(t.TempDir(), "http://localhost:8000")
	require.NoError(t, err)

	_, err = store.Save(nil, "cover", "png")
	assert.Error(t, err)
}

func TestSave_SanitizesKind(t *testing.T) {
	store, err := NewStore(t.TempDir(), "http://localhost:8000")
	require.NoError(t, err)

	saved, err := store.Save([]byte("x"), "Cover Page/3", "png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(saved.Filename, "cover-page-3_"))
}

func TestOpen(t *testing.T) {
	store, err := NewStore(t.TempDir(), "http://localhost:8000")
	require.NoError(t, err)

	saved, err := store.Save([]byte("x"), "cover", "png")
	require.NoError(t, err)

	path, err := store.Open(saved.URL)
	require.NoError(t, err)
	assert.Equal(t, saved.Path, path)

	_, err = store.Open("missing.png")
	assert.Error(t, err)
}

func TestNewStore_UnwritableDir(t *testing.T) {
	_, err := NewStore("/proc/nope/content", "http://localhost:8000")
	assert.Error(t, err)
}
