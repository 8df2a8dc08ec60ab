package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/folderd/internal/chunker"
	"github.com/custodia-labs/folderd/internal/core/domain"
	"github.com/custodia-labs/folderd/internal/core/ports/driven"
	"github.com/custodia-labs/folderd/internal/core/ports/driving"
	"github.com/custodia-labs/folderd/internal/logger"
)

// Ensure LifecycleManager implements the interface.
var _ driving.LifecycleService = (*LifecycleManager)(nil)

// scanHashConcurrency bounds parallel content hashing during a scan.
const scanHashConcurrency = 4

// embedMaxAttempts bounds retries of transient worker failures.
const embedMaxAttempts = 4

// embedInitialBackoff is the first retry delay; it doubles per attempt.
const embedInitialBackoff = 500 * time.Millisecond

// LifecycleManager runs one state machine per configured folder:
// Pending -> Scanning -> Indexing -> Active, with Error reachable from any
// non-terminal state. Each folder owns a goroutine; the manager's methods
// only register, cancel and query runners and never block on indexing.
type LifecycleManager struct {
	settings domain.Settings
	stores   driven.StoreFactory
	pool     driven.WorkerPool
	parser   driven.DocumentParser
	semantic driven.SemanticExtractor
	watchers driven.WatcherFactory
	fmdm     driving.FMDMService

	baseCtx context.Context
	stop    context.CancelFunc

	mu      sync.Mutex
	runners map[string]*folderRunner
}

// NewLifecycleManager creates the manager. Folder work is supervised by
// an internal context so request contexts never cancel indexing.
func NewLifecycleManager(
	settings domain.Settings,
	stores driven.StoreFactory,
	pool driven.WorkerPool,
	parser driven.DocumentParser,
	semantic driven.SemanticExtractor,
	watchers driven.WatcherFactory,
	fmdm driving.FMDMService,
) *LifecycleManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &LifecycleManager{
		settings: settings,
		stores:   stores,
		pool:     pool,
		parser:   parser,
		semantic: semantic,
		watchers: watchers,
		fmdm:     fmdm,
		baseCtx:  ctx,
		stop:     cancel,
		runners:  make(map[string]*folderRunner),
	}
}

// StartFolder registers a folder and begins its lifecycle in the
// background. A store that fails validation (model/dimension mismatch,
// I/O failure) puts the folder into Error state; that is fatal and not
// retried.
func (m *LifecycleManager) StartFolder(ctx context.Context, folder domain.Folder) error {
	key := domain.NormalizePath(folder.Path)

	m.mu.Lock()
	if _, exists := m.runners[key]; exists {
		m.mu.Unlock()
		return domain.ErrFolderExists
	}
	m.mu.Unlock()

	dim, err := m.pool.Dimensions(folder.Model)
	if err != nil {
		m.publishError(folder, err)
		return fmt.Errorf("model %s: %w", folder.Model, err)
	}
	folder.Dimension = dim

	store, err := m.stores.Open(ctx, folder.Path, folder.Model, dim)
	if err != nil {
		m.publishError(folder, err)
		return fmt.Errorf("open store for %s: %w", folder.Path, err)
	}

	runCtx, cancel := context.WithCancel(m.baseCtx)
	r := &folderRunner{
		manager: m,
		folder:  folder,
		store:   store,
		cancel:  cancel,
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(domain.DefaultRescanPerSecond), domain.DefaultRescanPerSecond),
	}

	m.mu.Lock()
	m.runners[key] = r
	m.mu.Unlock()

	r.setStatus(domain.FolderStatusPending, "")
	go r.run(runCtx)
	return nil
}

// StopFolder cancels a folder's work and releases its resources. Queued
// work is dropped and in-flight results are discarded via context
// cancellation, never committed.
func (m *LifecycleManager) StopFolder(_ context.Context, path string) error {
	key := domain.NormalizePath(path)

	m.mu.Lock()
	r, ok := m.runners[key]
	if ok {
		delete(m.runners, key)
	}
	m.mu.Unlock()

	if !ok {
		return domain.ErrFolderNotConfigured
	}

	r.cancel()
	<-r.done
	if err := r.store.Close(); err != nil {
		logger.Warn("lifecycle: closing store for %s: %v", path, err)
	}
	return nil
}

// Store exposes a running folder's storage handle for read-only use.
func (m *LifecycleManager) Store(path string) (driven.FolderStore, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runners[domain.NormalizePath(path)]
	if !ok {
		return nil, false
	}
	return r.store, true
}

// Close stops all folders.
func (m *LifecycleManager) Close() error {
	m.stop()

	m.mu.Lock()
	runners := make([]*folderRunner, 0, len(m.runners))
	for _, r := range m.runners {
		runners = append(runners, r)
	}
	m.runners = make(map[string]*folderRunner)
	m.mu.Unlock()

	for _, r := range runners {
		r.cancel()
		<-r.done
		if err := r.store.Close(); err != nil {
			logger.Warn("lifecycle: closing store for %s: %v", r.folder.Path, err)
		}
	}
	return nil
}

// publishError surfaces a folder-level fatal condition through the FMDM.
func (m *LifecycleManager) publishError(folder domain.Folder, err error) {
	folder.Status = domain.FolderStatusError
	folder.LastError = err.Error()
	m.fmdm.UpdateFolder(folderInfo(folder))
}

func folderInfo(f domain.Folder) domain.FolderInfo {
	return domain.FolderInfo{
		Path:          f.Path,
		Model:         f.Model,
		Dimension:     f.Dimension,
		Status:        f.Status,
		DocumentCount: f.DocumentCount,
		LastError:     f.LastError,
	}
}

// folderRunner is one folder's state machine. All its fields are owned by
// the runner goroutine after start, except cancel/done used by the
// manager.
type folderRunner struct {
	manager *LifecycleManager
	folder  domain.Folder
	store   driven.FolderStore
	cancel  context.CancelFunc
	done    chan struct{}
	limiter *rate.Limiter
}

func (r *folderRunner) run(ctx context.Context) {
	defer close(r.done)

	r.setStatus(domain.FolderStatusScanning, "")
	changes, err := r.scan(ctx)
	if err != nil {
		r.fail(ctx, err)
		return
	}

	r.setStatus(domain.FolderStatusIndexing, "")
	if err := r.processChanges(ctx, changes); err != nil {
		r.fail(ctx, err)
		return
	}

	r.refreshCount(ctx)
	r.setStatus(domain.FolderStatusActive, "")
	logger.Info("lifecycle: folder %s active with %d documents", r.folder.Path, r.folder.DocumentCount)

	r.watchLoop(ctx)
}

// fail moves the folder to Error unless the run was cancelled.
func (r *folderRunner) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	logger.Warn("lifecycle: folder %s failed: %v", r.folder.Path, err)
	r.setStatus(domain.FolderStatusError, err.Error())
}

func (r *folderRunner) setStatus(status domain.FolderStatus, lastError string) {
	r.folder.Status = status
	r.folder.LastError = lastError
	r.manager.fmdm.UpdateFolder(folderInfo(r.folder))
}

func (r *folderRunner) refreshCount(ctx context.Context) {
	if n, err := r.store.CountDocuments(ctx); err == nil {
		r.folder.DocumentCount = n
	}
}

// scan walks the folder tree, hashes candidate files and diffs them
// against the persisted file-state table, classifying each file as
// new, modified, unchanged or deleted.
func (r *folderRunner) scan(ctx context.Context) ([]domain.FileChange, error) {
	states, err := r.store.FileStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load file states: %w", err)
	}

	var mu sync.Mutex
	var changes []domain.FileChange
	seen := make(map[string]bool)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanHashConcurrency)

	root := r.folder.Path
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			logger.Debug("scan: skipping %s: %v", path, err)
			return nil
		}
		if gctx.Err() != nil {
			return gctx.Err()
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !r.include(path) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		seen[rel] = true

		info, err := d.Info()
		if err != nil {
			return nil
		}

		prior, known := states[rel]
		if known && prior.Size == info.Size() && prior.ModifiedAt.Equal(info.ModTime().UTC()) {
			// Unchanged by cheap metadata check; skip hashing.
			return nil
		}

		g.Go(func() error {
			change, err := classifyFile(path, rel, info.Size(), info.ModTime(), states)
			if err != nil {
				logger.Debug("scan: hashing %s: %v", rel, err)
				return nil
			}
			if change.Kind == domain.FileUnchanged {
				return nil
			}
			mu.Lock()
			changes = append(changes, change)
			mu.Unlock()
			return nil
		})
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if walkErr != nil {
		return nil, fmt.Errorf("walk %s: %w", root, walkErr)
	}

	for rel, state := range states {
		if !seen[rel] {
			changes = append(changes, domain.FileChange{
				RelPath: rel,
				Kind:    domain.FileDeleted,
				State:   state,
			})
		}
	}

	// Deterministic processing order.
	sort.Slice(changes, func(i, j int) bool { return changes[i].RelPath < changes[j].RelPath })

	logger.Debug("scan: %s has %d pending changes", root, len(changes))
	return changes, nil
}

// include applies the configured extension filter, falling back to the
// parser's supported set.
func (r *folderRunner) include(path string) bool {
	if exts := r.manager.settings.IncludeExtensions; len(exts) > 0 {
		ext := strings.ToLower(filepath.Ext(path))
		for _, e := range exts {
			if ext == strings.ToLower(e) {
				return true
			}
		}
		return false
	}
	return r.manager.parser.Supports(path)
}

// classifyFile hashes the file content and diffs it against the persisted
// state.
func classifyFile(path, rel string, size int64, modTime time.Time, states map[string]domain.FileState) (domain.FileChange, error) {
	hash, err := hashFile(path)
	if err != nil {
		return domain.FileChange{}, err
	}

	state := domain.FileState{
		RelPath:     rel,
		ContentHash: hash,
		Size:        size,
		ModifiedAt:  modTime.UTC(),
	}

	prior, known := states[rel]
	switch {
	case !known:
		return domain.FileChange{RelPath: rel, Kind: domain.FileNew, State: state}, nil
	case prior.ContentHash != hash:
		return domain.FileChange{RelPath: rel, Kind: domain.FileModified, State: state}, nil
	default:
		return domain.FileChange{RelPath: rel, Kind: domain.FileUnchanged, State: state}, nil
	}
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// processChanges applies a batch of scan results. Per-file failures are
// isolated: one bad file never aborts the batch.
func (r *folderRunner) processChanges(ctx context.Context, changes []domain.FileChange) error {
	for _, change := range changes {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch change.Kind {
		case domain.FileDeleted:
			if err := r.deleteFile(ctx, change.RelPath); err != nil {
				logger.Warn("lifecycle: delete %s: %v", change.RelPath, err)
			}
		case domain.FileNew, domain.FileModified:
			if err := r.indexFile(ctx, change); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				// Fatal store conditions abort the folder.
				if errors.Is(err, domain.ErrDimensionMismatch) {
					return err
				}
				logger.Warn("lifecycle: index %s: %v", change.RelPath, err)
			}
		}
	}
	return nil
}

// deleteFile cascades removal of a document, its chunks and embeddings,
// and its scan state.
func (r *folderRunner) deleteFile(ctx context.Context, relPath string) error {
	doc, err := r.store.GetDocumentByPath(ctx, relPath)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// No document row; still drop the scan state.
	case err != nil:
		return err
	default:
		if err := r.store.DeleteDocument(ctx, doc.ID); err != nil {
			return err
		}
	}
	return r.store.DeleteFileState(ctx, relPath)
}

// indexFile runs the full pipeline for one file: parse, chunk, embed,
// semantic enrichment, then a single atomic commit. The file is never
// left half-indexed; on error the prior state is retained.
func (r *folderRunner) indexFile(ctx context.Context, change domain.FileChange) error {
	abs := filepath.Join(r.folder.Path, filepath.FromSlash(change.RelPath))

	parsed, err := r.manager.parser.Parse(ctx, abs)
	if err != nil {
		var parseErr *domain.ParseError
		if errors.As(err, &parseErr) || errors.Is(err, domain.ErrUnsupportedFile) {
			// Partial failure: mark the file errored, keep indexing.
			return r.store.MarkDocumentError(ctx, change.RelPath, err.Error(), change.State)
		}
		return err
	}

	doc := &domain.Document{
		ID:          uuid.New().String(),
		RelPath:     change.RelPath,
		ContentHash: change.State.ContentHash,
		Size:        change.State.Size,
		ModifiedAt:  change.State.ModifiedAt,
		Status:      domain.DocumentStatusIndexed,
	}
	if existing, err := r.store.GetDocumentByPath(ctx, change.RelPath); err == nil {
		doc.ID = existing.ID
		doc.CreatedAt = existing.CreatedAt
	}

	chunks := chunker.New(
		chunker.WithChunkSize(r.manager.settings.ChunkSize),
		chunker.WithOverlap(r.manager.settings.ChunkOverlap),
	).Split(doc.ID, parsed.Text)

	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i := range chunks {
			texts[i] = chunks[i].Content
		}

		vectors, err := r.embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed %s: %w", change.RelPath, err)
		}
		for i := range chunks {
			chunks[i].Embedding = vectors[i]
		}

		r.enrich(ctx, chunks)
		doc.Embedding = meanVector(vectors)
		doc.KeyPhrases = topKeyPhrases(chunks, 5)
	}

	if ctx.Err() != nil {
		// Folder removed mid-flight: discard results, never commit.
		return ctx.Err()
	}

	if err := r.store.CommitDocument(ctx, doc, chunks, change.State); err != nil {
		return fmt.Errorf("commit %s: %w", change.RelPath, err)
	}
	return nil
}

// embed submits one batch to the worker pool and waits for the completion
// signal, retrying transient failures with exponential backoff.
func (r *folderRunner) embed(ctx context.Context, texts []string) ([][]float32, error) {
	req := driven.EmbedRequest{
		Model: r.folder.Model,
		Texts: texts,
		Kind:  driven.TextKindPassage,
	}

	backoff := embedInitialBackoff
	var lastErr error

	for attempt := 0; attempt < embedMaxAttempts; attempt++ {
		select {
		case res := <-r.manager.pool.Submit(ctx, req):
			if res.Err == nil {
				return res.Vectors, nil
			}
			lastErr = res.Err
			if !errors.Is(res.Err, domain.ErrModelNotReady) && !errors.Is(res.Err, domain.ErrWorkerFailed) {
				return nil, res.Err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// enrich runs semantic extraction per chunk. Failure is non-fatal: the
// chunk's semantic fields stay unset and it remains flagged unprocessed.
func (r *folderRunner) enrich(ctx context.Context, chunks []domain.Chunk) {
	for i := range chunks {
		res, err := r.manager.semantic.Extract(ctx, chunks[i].Content)
		if err != nil {
			logger.Debug("semantic: chunk %s: %v", chunks[i].ID, err)
			continue
		}
		chunks[i].KeyPhrases = res.KeyPhrases
		chunks[i].Readability = res.Readability
		chunks[i].SemanticProcessed = true
	}
}

// watchLoop consumes debounced file-system events while the folder is
// Active, re-entering Scanning for single files. Multiple changes to the
// same file before processing collapse to one rescan of the latest
// on-disk state: earlier queued versions are discarded.
func (r *folderRunner) watchLoop(ctx context.Context) {
	watcher, err := r.manager.watchers.New()
	if err != nil {
		r.fail(ctx, fmt.Errorf("create watcher: %w", err))
		return
	}
	defer watcher.Close()

	events, err := watcher.Watch(ctx, r.folder.Path)
	if err != nil {
		r.fail(ctx, fmt.Errorf("watch %s: %w", r.folder.Path, err))
		return
	}

	pending := make(map[string]bool)
	var timerC <-chan time.Time
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			if !ev.Removed && !r.include(filepath.Join(r.folder.Path, filepath.FromSlash(ev.RelPath))) {
				continue
			}
			// Latest wins: a newer event for the same path supersedes
			// the queued one.
			pending[ev.RelPath] = ev.Removed
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(r.manager.settings.DebounceWindow)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			timer = nil
			batch := pending
			pending = make(map[string]bool)
			r.processBatch(ctx, batch)
		}
	}
}

// processBatch handles one debounced set of changed paths.
func (r *folderRunner) processBatch(ctx context.Context, batch map[string]bool) {
	if len(batch) == 0 {
		return
	}

	r.setStatus(domain.FolderStatusScanning, "")

	paths := make([]string, 0, len(batch))
	for p := range batch {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	r.setStatus(domain.FolderStatusIndexing, "")
	for _, rel := range paths {
		if ctx.Err() != nil {
			return
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
		if err := r.processPath(ctx, rel); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Warn("lifecycle: rescan %s: %v", rel, err)
		}
	}

	r.refreshCount(ctx)
	r.setStatus(domain.FolderStatusActive, "")
}

// processPath re-scans a single file: it classifies the current on-disk
// state and indexes or deletes accordingly.
func (r *folderRunner) processPath(ctx context.Context, rel string) error {
	abs := filepath.Join(r.folder.Path, filepath.FromSlash(rel))

	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return r.deleteFile(ctx, rel)
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return nil
	}

	states, err := r.store.FileStates(ctx)
	if err != nil {
		return err
	}

	change, err := classifyFile(abs, rel, info.Size(), info.ModTime(), states)
	if err != nil {
		return err
	}
	if change.Kind == domain.FileUnchanged {
		return nil
	}
	return r.indexFile(ctx, change)
}

// meanVector averages chunk vectors into one document vector.
func meanVector(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	mean := make([]float64, dim)
	for _, v := range vectors {
		for i := range v {
			mean[i] += float64(v[i])
		}
	}
	out := make([]float32, dim)
	n := float64(len(vectors))
	for i := range mean {
		out[i] = float32(mean[i] / n)
	}
	return out
}

// topKeyPhrases aggregates chunk key phrases by frequency, ties broken
// alphabetically.
func topKeyPhrases(chunks []domain.Chunk, limit int) []string {
	counts := make(map[string]int)
	for _, c := range chunks {
		for _, p := range c.KeyPhrases {
			counts[p]++
		}
	}
	if len(counts) == 0 {
		return nil
	}

	phrases := make([]string, 0, len(counts))
	for p := range counts {
		phrases = append(phrases, p)
	}
	sort.Slice(phrases, func(i, j int) bool {
		if counts[phrases[i]] != counts[phrases[j]] {
			return counts[phrases[i]] > counts[phrases[j]]
		}
		return phrases[i] < phrases[j]
	})

	if len(phrases) > limit {
		phrases = phrases[:limit]
	}
	return phrases
}
