package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/folderd/internal/core/domain"
	"github.com/custodia-labs/folderd/internal/core/ports/driven"
)

type lifecycleFixture struct {
	manager  *LifecycleManager
	stores   *mockStoreFactory
	pool     *mockWorkerPool
	parser   *mockParser
	watchers *mockWatcherFactory
	fmdm     *FMDMService
}

func setupLifecycle(t *testing.T) *lifecycleFixture {
	t.Helper()

	settings := domain.DefaultSettings()
	settings.DebounceWindow = 20 * time.Millisecond

	f := &lifecycleFixture{
		stores:   newMockStoreFactory(),
		pool:     newMockWorkerPool(4),
		parser:   newMockParser(),
		watchers: newMockWatcherFactory(),
		fmdm: NewFMDMService(
			domain.DaemonInfo{Version: "test", PID: 1, StartedAt: time.Now().UTC()},
			[]domain.ModelInfo{{ID: "test-model", Dimension: 4}},
		),
	}
	f.manager = NewLifecycleManager(
		settings, f.stores, f.pool, f.parser, &mockSemantic{}, f.watchers, f.fmdm,
	)
	t.Cleanup(func() { f.manager.Close() }) //nolint:errcheck
	return f
}

func writeTestFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func waitStatus(t *testing.T, fmdm *FMDMService, path string, status domain.FolderStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, f := range fmdm.Snapshot().Folders {
			if domain.PathsEqual(f.Path, path) {
				return f.Status == status
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "folder %s never reached %s", path, status)
}

func startTestFolder(t *testing.T, f *lifecycleFixture, dir string) {
	t.Helper()
	err := f.manager.StartFolder(context.Background(), domain.Folder{Path: dir, Model: "test-model"})
	require.NoError(t, err)
}

func TestLifecycleFullProgression(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.txt", "alpha document contents for indexing")
	writeTestFile(t, dir, "b.txt", "beta document contents for indexing")

	f := setupLifecycle(t)
	startTestFolder(t, f, dir)
	waitStatus(t, f.fmdm, dir, domain.FolderStatusActive)

	store := f.stores.store(dir)
	require.NotNil(t, store)
	count, err := store.CountDocuments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Chunks were embedded and enriched.
	doc := store.document("a.txt")
	require.NotNil(t, doc)
	assert.Equal(t, domain.DocumentStatusIndexed, doc.Status)
	assert.NotEmpty(t, doc.ContentHash)
	chunks, err := store.GetChunks(context.Background(), doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Len(t, chunks[0].Embedding, 4)
	assert.True(t, chunks[0].SemanticProcessed)

	// Broadcast carries the document count.
	snap := f.fmdm.Snapshot()
	require.Len(t, snap.Folders, 1)
	assert.Equal(t, 2, snap.Folders[0].DocumentCount)
	assert.Equal(t, 4, snap.Folders[0].Dimension)
}

func TestLifecycleParseFailureIsPartial(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "good.txt", "healthy document contents")
	writeTestFile(t, dir, "bad.txt", "will not parse")

	f := setupLifecycle(t)
	f.parser.failing["bad.txt"] = errors.New("corrupt stream")

	startTestFolder(t, f, dir)
	waitStatus(t, f.fmdm, dir, domain.FolderStatusActive)

	store := f.stores.store(dir)
	good := store.document("good.txt")
	require.NotNil(t, good)
	assert.Equal(t, domain.DocumentStatusIndexed, good.Status)

	bad := store.document("bad.txt")
	require.NotNil(t, bad)
	assert.Equal(t, domain.DocumentStatusErrored, bad.Status)
	assert.Contains(t, bad.LastError, "corrupt stream")
}

func TestLifecycleDimensionMismatchIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.txt", "document contents")

	f := setupLifecycle(t)
	// Vectors that disagree with the store's declared dimension.
	f.pool.embed = func(req driven.EmbedRequest) ([][]float32, error) {
		vectors := make([][]float32, len(req.Texts))
		for i := range vectors {
			vectors[i] = []float32{1, 0, 0}
		}
		return vectors, nil
	}

	startTestFolder(t, f, dir)
	waitStatus(t, f.fmdm, dir, domain.FolderStatusError)

	snap := f.fmdm.Snapshot()
	assert.Contains(t, snap.Folders[0].LastError, "dimension")
}

func TestLifecycleStoreOpenFailure(t *testing.T) {
	f := setupLifecycle(t)
	f.stores.openErr = domain.ErrDimensionMismatch

	err := f.manager.StartFolder(context.Background(), domain.Folder{Path: t.TempDir(), Model: "test-model"})
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)

	snap := f.fmdm.Snapshot()
	require.Len(t, snap.Folders, 1)
	assert.Equal(t, domain.FolderStatusError, snap.Folders[0].Status)
}

func TestLifecycleUnknownModel(t *testing.T) {
	f := setupLifecycle(t)

	err := f.manager.StartFolder(context.Background(), domain.Folder{Path: t.TempDir(), Model: "no-such"})
	require.ErrorIs(t, err, domain.ErrUnknownModel)
}

func TestLifecycleStartFolderTwice(t *testing.T) {
	dir := t.TempDir()
	f := setupLifecycle(t)

	startTestFolder(t, f, dir)
	err := f.manager.StartFolder(context.Background(), domain.Folder{Path: dir, Model: "test-model"})
	assert.ErrorIs(t, err, domain.ErrFolderExists)
}

func TestLifecycleStopFolder(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.txt", "document contents")

	f := setupLifecycle(t)
	startTestFolder(t, f, dir)
	waitStatus(t, f.fmdm, dir, domain.FolderStatusActive)

	store := f.stores.store(dir)
	require.NoError(t, f.manager.StopFolder(context.Background(), dir))

	assert.True(t, store.closed)
	_, ok := f.manager.Store(dir)
	assert.False(t, ok)

	err := f.manager.StopFolder(context.Background(), dir)
	assert.ErrorIs(t, err, domain.ErrFolderNotConfigured)
}

func TestLifecycleStoreLookupNormalisesPath(t *testing.T) {
	dir := t.TempDir()
	f := setupLifecycle(t)
	startTestFolder(t, f, dir)
	waitStatus(t, f.fmdm, dir, domain.FolderStatusActive)

	_, ok := f.manager.Store(dir + string(os.PathSeparator))
	assert.True(t, ok)
}

func TestLifecycleWatchIndexesNewFile(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.txt", "first document")

	f := setupLifecycle(t)
	startTestFolder(t, f, dir)
	waitStatus(t, f.fmdm, dir, domain.FolderStatusActive)

	writeTestFile(t, dir, "fresh.txt", "a brand new document appeared")
	f.watchers.watcher.send <- driven.FileEvent{RelPath: "fresh.txt"}

	store := f.stores.store(dir)
	require.Eventually(t, func() bool {
		return store.document("fresh.txt") != nil
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		snap := f.fmdm.Snapshot()
		return len(snap.Folders) == 1 && snap.Folders[0].DocumentCount == 2 &&
			snap.Folders[0].Status == domain.FolderStatusActive
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLifecycleWatchRemovesDeletedFile(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.txt", "doomed document")
	writeTestFile(t, dir, "b.txt", "surviving document")

	f := setupLifecycle(t)
	startTestFolder(t, f, dir)
	waitStatus(t, f.fmdm, dir, domain.FolderStatusActive)

	require.NoError(t, os.Remove(filepath.Join(dir, "a.txt")))
	f.watchers.watcher.send <- driven.FileEvent{RelPath: "a.txt", Removed: true}

	store := f.stores.store(dir)
	require.Eventually(t, func() bool {
		return store.document("a.txt") == nil
	}, 5*time.Second, 10*time.Millisecond)

	states, err := store.FileStates(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, states, "a.txt")
	assert.NotNil(t, store.document("b.txt"))
}

func TestLifecycleWatchReindexKeepsDocumentID(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.txt", "original contents")

	f := setupLifecycle(t)
	startTestFolder(t, f, dir)
	waitStatus(t, f.fmdm, dir, domain.FolderStatusActive)

	store := f.stores.store(dir)
	before := store.document("a.txt")
	require.NotNil(t, before)

	writeTestFile(t, dir, "a.txt", "replacement contents, noticeably longer than before")
	f.watchers.watcher.send <- driven.FileEvent{RelPath: "a.txt"}

	require.Eventually(t, func() bool {
		after := store.document("a.txt")
		return after != nil && after.ContentHash != before.ContentHash
	}, 5*time.Second, 10*time.Millisecond)

	after := store.document("a.txt")
	assert.Equal(t, before.ID, after.ID)
}

func TestLifecycleEmbedRetriesTransientFailure(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.txt", "document contents")

	f := setupLifecycle(t)
	var calls atomic.Int32
	f.pool.embed = func(req driven.EmbedRequest) ([][]float32, error) {
		if calls.Add(1) == 1 {
			return nil, domain.ErrModelNotReady
		}
		vectors := make([][]float32, len(req.Texts))
		for i := range vectors {
			vectors[i] = []float32{1, 0, 0, 0}
		}
		return vectors, nil
	}

	startTestFolder(t, f, dir)
	waitStatus(t, f.fmdm, dir, domain.FolderStatusActive)

	store := f.stores.store(dir)
	assert.NotNil(t, store.document("a.txt"))
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestLifecycleRescanSkipsUnchanged(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.txt", "stable contents")

	f := setupLifecycle(t)
	startTestFolder(t, f, dir)
	waitStatus(t, f.fmdm, dir, domain.FolderStatusActive)

	embedsAfterScan := f.pool.requestCount()

	// Event without an on-disk change: classification finds the file
	// unchanged and no re-embed happens.
	f.watchers.watcher.send <- driven.FileEvent{RelPath: "a.txt"}
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, embedsAfterScan, f.pool.requestCount())
}

func TestLifecycleCloseStopsAllFolders(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	f := setupLifecycle(t)
	startTestFolder(t, f, dirA)
	startTestFolder(t, f, dirB)
	waitStatus(t, f.fmdm, dirA, domain.FolderStatusActive)
	waitStatus(t, f.fmdm, dirB, domain.FolderStatusActive)

	storeA := f.stores.store(dirA)
	storeB := f.stores.store(dirB)

	require.NoError(t, f.manager.Close())
	assert.True(t, storeA.closed)
	assert.True(t, storeB.closed)
	_, ok := f.manager.Store(dirA)
	assert.False(t, ok)
}
