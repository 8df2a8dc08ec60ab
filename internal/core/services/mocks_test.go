package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/folderd/internal/core/domain"
	"github.com/custodia-labs/folderd/internal/core/ports/driven"
	"github.com/custodia-labs/folderd/internal/core/ports/driving"
)

// mockWorkerPool serves embeddings synchronously from a configured
// function, recording every request it sees.
type mockWorkerPool struct {
	mu       sync.Mutex
	models   map[string]int
	embed    func(req driven.EmbedRequest) ([][]float32, error)
	requests []driven.EmbedRequest
	closed   bool
}

var _ driven.WorkerPool = (*mockWorkerPool)(nil)

func newMockWorkerPool(dim int) *mockWorkerPool {
	return &mockWorkerPool{
		models: map[string]int{"test-model": dim},
		embed: func(req driven.EmbedRequest) ([][]float32, error) {
			vectors := make([][]float32, len(req.Texts))
			for i := range vectors {
				v := make([]float32, dim)
				v[0] = 1
				vectors[i] = v
			}
			return vectors, nil
		},
	}
}

func (m *mockWorkerPool) Submit(_ context.Context, req driven.EmbedRequest) <-chan driven.EmbedResult {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	embed := m.embed
	m.mu.Unlock()

	out := make(chan driven.EmbedResult, 1)
	vectors, err := embed(req)
	out <- driven.EmbedResult{Vectors: vectors, Err: err}
	return out
}

func (m *mockWorkerPool) Dimensions(model string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dim, ok := m.models[model]; ok {
		return dim, nil
	}
	return 0, fmt.Errorf("%w: %s", domain.ErrUnknownModel, model)
}

func (m *mockWorkerPool) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockWorkerPool) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// mockStore is an in-memory FolderStore.
type mockStore struct {
	mu         sync.Mutex
	model      string
	dimension  int
	docs       map[string]*domain.Document // by id
	chunks     map[string][]domain.Chunk   // by document id
	states     map[string]domain.FileState // by rel path
	chunkHits  []driven.ChunkVectorHit
	docHits    []driven.DocumentVectorHit
	aggregates map[string]driven.DocumentAggregate

	commitErr error
	closed    bool
	vacuumed  int
}

var _ driven.FolderStore = (*mockStore)(nil)

func newMockStore(model string, dimension int) *mockStore {
	return &mockStore{
		model:      model,
		dimension:  dimension,
		docs:       make(map[string]*domain.Document),
		chunks:     make(map[string][]domain.Chunk),
		states:     make(map[string]domain.FileState),
		aggregates: make(map[string]driven.DocumentAggregate),
	}
}

func (m *mockStore) Model() (string, int) {
	return m.model, m.dimension
}

func (m *mockStore) CommitDocument(_ context.Context, doc *domain.Document, chunks []domain.Chunk, state domain.FileState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	for _, c := range chunks {
		if len(c.Embedding) != m.dimension {
			return domain.ErrDimensionMismatch
		}
	}
	copied := *doc
	m.docs[doc.ID] = &copied
	m.chunks[doc.ID] = append([]domain.Chunk(nil), chunks...)
	m.states[state.RelPath] = state
	return nil
}

func (m *mockStore) MarkDocumentError(_ context.Context, relPath, msg string, state domain.FileState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if d.RelPath == relPath {
			d.Status = domain.DocumentStatusErrored
			d.LastError = msg
			m.states[relPath] = state
			return nil
		}
	}
	id := fmt.Sprintf("err-%s", relPath)
	m.docs[id] = &domain.Document{
		ID:        id,
		RelPath:   relPath,
		Status:    domain.DocumentStatusErrored,
		LastError: msg,
	}
	m.states[relPath] = state
	return nil
}

func (m *mockStore) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.docs[id]; ok {
		copied := *d
		return &copied, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) GetDocumentByPath(_ context.Context, relPath string) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if d.RelPath == relPath {
			copied := *d
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) ListDocuments(_ context.Context) ([]domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := make([]domain.Document, 0, len(m.docs))
	for _, d := range m.docs {
		docs = append(docs, *d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].RelPath < docs[j].RelPath })
	return docs, nil
}

func (m *mockStore) CountDocuments(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs), nil
}

func (m *mockStore) GetChunks(_ context.Context, documentID string) ([]domain.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Chunk(nil), m.chunks[documentID]...), nil
}

func (m *mockStore) GetChunk(_ context.Context, id string) (*domain.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, chunks := range m.chunks {
		for _, c := range chunks {
			if c.ID == id {
				copied := c
				return &copied, nil
			}
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.docs, id)
	delete(m.chunks, id)
	return nil
}

func (m *mockStore) SearchChunkVectors(_ context.Context, _ []float32, k int) ([]driven.ChunkVectorHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hits := append([]driven.ChunkVectorHit(nil), m.chunkHits...)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *mockStore) SearchDocumentVectors(_ context.Context, _ []float32, k int) ([]driven.DocumentVectorHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hits := append([]driven.DocumentVectorHit(nil), m.docHits...)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *mockStore) DocumentAggregates(_ context.Context, ids []string) (map[string]driven.DocumentAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]driven.DocumentAggregate)
	for _, id := range ids {
		if agg, ok := m.aggregates[id]; ok {
			out[id] = agg
		}
	}
	return out, nil
}

func (m *mockStore) FileStates(_ context.Context) (map[string]domain.FileState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.FileState, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out, nil
}

func (m *mockStore) DeleteFileState(_ context.Context, relPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, relPath)
	return nil
}

func (m *mockStore) Stats(_ context.Context) (driven.StoreStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := driven.StoreStats{Documents: len(m.docs)}
	for _, chunks := range m.chunks {
		stats.Chunks += len(chunks)
	}
	return stats, nil
}

func (m *mockStore) Vacuum(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vacuumed++
	return nil
}

func (m *mockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockStore) document(relPath string) *domain.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if d.RelPath == relPath {
			copied := *d
			return &copied
		}
	}
	return nil
}

// mockStoreFactory hands out in-memory stores keyed by normalised path.
type mockStoreFactory struct {
	mu      sync.Mutex
	stores  map[string]*mockStore
	openErr error
	removed []string
}

var _ driven.StoreFactory = (*mockStoreFactory)(nil)

func newMockStoreFactory() *mockStoreFactory {
	return &mockStoreFactory{stores: make(map[string]*mockStore)}
}

func (f *mockStoreFactory) Open(_ context.Context, folderPath, model string, dimension int) (driven.FolderStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	key := domain.NormalizePath(folderPath)
	if s, ok := f.stores[key]; ok {
		if s.model != model || s.dimension != dimension {
			return nil, domain.ErrDimensionMismatch
		}
		return s, nil
	}
	s := newMockStore(model, dimension)
	f.stores[key] = s
	return s, nil
}

func (f *mockStoreFactory) Remove(_ context.Context, folderPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := domain.NormalizePath(folderPath)
	delete(f.stores, key)
	f.removed = append(f.removed, folderPath)
	return nil
}

func (f *mockStoreFactory) store(folderPath string) *mockStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stores[domain.NormalizePath(folderPath)]
}

// mockParser treats every file as supported plain text unless a path is
// listed as failing.
type mockParser struct {
	mu      sync.Mutex
	failing map[string]error // keyed by base name
	texts   map[string]string
}

var _ driven.DocumentParser = (*mockParser)(nil)

func newMockParser() *mockParser {
	return &mockParser{failing: make(map[string]error), texts: make(map[string]string)}
}

func (p *mockParser) Parse(ctx context.Context, path string) (*driven.ParsedDocument, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, err := range p.failing {
		if baseName(path) == name {
			return nil, &domain.ParseError{Path: path, Err: err}
		}
	}
	if text, ok := p.texts[baseName(path)]; ok {
		return &driven.ParsedDocument{Text: text}, nil
	}
	return &driven.ParsedDocument{Text: "the quick brown fox jumps over the lazy dog"}, nil
}

func (p *mockParser) Supports(path string) bool {
	return true
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}

// mockSemantic returns fixed semantic metadata.
type mockSemantic struct {
	err error
}

var _ driven.SemanticExtractor = (*mockSemantic)(nil)

func (s *mockSemantic) Extract(_ context.Context, _ string) (*driven.SemanticResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &driven.SemanticResult{
		KeyPhrases:  []string{"quick", "fox"},
		Topics:      []string{"quick"},
		Readability: 80,
	}, nil
}

// mockWatcher delivers events pushed through send.
type mockWatcher struct {
	send chan driven.FileEvent
}

var _ driven.FolderWatcher = (*mockWatcher)(nil)

func (w *mockWatcher) Watch(ctx context.Context, _ string) (<-chan driven.FileEvent, error) {
	out := make(chan driven.FileEvent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.send:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (w *mockWatcher) Close() error { return nil }

type mockWatcherFactory struct {
	watcher *mockWatcher
}

var _ driven.WatcherFactory = (*mockWatcherFactory)(nil)

func newMockWatcherFactory() *mockWatcherFactory {
	return &mockWatcherFactory{watcher: &mockWatcher{send: make(chan driven.FileEvent, 16)}}
}

func (f *mockWatcherFactory) New() (driven.FolderWatcher, error) {
	return f.watcher, nil
}

// mockLifecycle records start/stop calls and serves stores by path.
type mockLifecycle struct {
	mu       sync.Mutex
	stores   map[string]driven.FolderStore
	started  []string
	stopped  []string
	startErr error
}

var _ driving.LifecycleService = (*mockLifecycle)(nil)

func newMockLifecycle() *mockLifecycle {
	return &mockLifecycle{stores: make(map[string]driven.FolderStore)}
}

func (l *mockLifecycle) StartFolder(_ context.Context, folder domain.Folder) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.startErr != nil {
		return l.startErr
	}
	l.started = append(l.started, folder.Path)
	return nil
}

func (l *mockLifecycle) StopFolder(_ context.Context, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = append(l.stopped, path)
	return nil
}

func (l *mockLifecycle) Store(path string) (driven.FolderStore, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.stores[domain.NormalizePath(path)]
	return s, ok
}

func (l *mockLifecycle) Close() error { return nil }

// mockConfigStore keeps settings in memory, recording every save.
type mockConfigStore struct {
	mu      sync.Mutex
	current domain.Settings
	saves   []domain.Settings
	saveErr error
}

var _ driven.ConfigStore = (*mockConfigStore)(nil)

func (c *mockConfigStore) Load() (domain.Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, nil
}

func (c *mockConfigStore) Save(settings domain.Settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saveErr != nil {
		return c.saveErr
	}
	c.current = settings
	c.saves = append(c.saves, settings)
	return nil
}

func (c *mockConfigStore) saveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.saves)
}

func (c *mockConfigStore) saved() domain.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
