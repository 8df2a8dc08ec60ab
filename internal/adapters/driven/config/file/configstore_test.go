package file

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/folderd/internal/core/domain"
)

func TestConfigStore_LoadMissingFileReturnsDefaults(t *testing.T) {
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)

	settings, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSettings(), settings)
}

func TestConfigStore_SaveAndLoad(t *testing.T) {
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)

	settings := domain.DefaultSettings()
	settings.ListenAddr = "127.0.0.1:9999"
	settings.DebounceWindow = 2 * time.Second
	settings.Folders = []domain.FolderConfig{
		{Path: "/home/user/docs", Model: "nomic-embed-text"},
		{Path: "/home/user/notes", Model: "all-minilm"},
	}

	require.NoError(t, store.Save(settings))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, settings.ListenAddr, loaded.ListenAddr)
	assert.Equal(t, settings.DebounceWindow, loaded.DebounceWindow)
	assert.Equal(t, settings.Folders, loaded.Folders)
}

func TestConfigStore_LoadFillsMissingKeys(t *testing.T) {
	dir := t.TempDir()
	store, err := NewConfigStore(dir)
	require.NoError(t, err)

	content := "listen_addr = \"127.0.0.1:7777\"\n\n[[folders]]\npath = \"/data/docs\"\nmodel = \"nomic-embed-text\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o600))

	settings, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", settings.ListenAddr)
	assert.Equal(t, domain.DefaultChunkSize, settings.ChunkSize)
	assert.Equal(t, domain.DefaultEmbeddingModel, settings.DefaultModel)
	require.Len(t, settings.Folders, 1)
	assert.Equal(t, "/data/docs", settings.Folders[0].Path)
}

func TestConfigStore_LoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewConfigStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("not = [valid"), 0o600))

	_, err = store.Load()
	require.Error(t, err)
}

func TestConfigStore_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewConfigStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(domain.DefaultSettings()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "config.toml", entries[0].Name())
}
