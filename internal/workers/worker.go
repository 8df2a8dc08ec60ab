package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/custodia-labs/folderd/internal/core/domain"
	"github.com/custodia-labs/folderd/internal/core/ports/driven"
	"github.com/custodia-labs/folderd/internal/logger"
)

// worker owns a bounded LRU of loaded embedding providers. Acquiring a
// model not currently resident evicts the least-recently-used provider.
type worker struct {
	id       int
	factory  driven.ProviderFactory
	cacheCap int
	cache    *lru.Cache[string, driven.EmbeddingProvider]
}

func newWorker(id int, factory driven.ProviderFactory, cacheCap int) *worker {
	w := &worker{id: id, factory: factory, cacheCap: cacheCap}
	w.cache = newProviderCache(cacheCap)
	return w
}

func newProviderCache(size int) *lru.Cache[string, driven.EmbeddingProvider] {
	cache, _ := lru.NewWithEvict(size, func(model string, p driven.EmbeddingProvider) {
		logger.Debug("workers: evicting model %s", model)
		p.Close() //nolint:errcheck
	})
	return cache
}

// acquire returns a ready provider for the model, loading it if needed.
// Loading is retried with exponential backoff, and readiness is polled
// against the backend before the provider is handed out: an inference is
// never attempted against a model that has not finished loading.
func (w *worker) acquire(ctx context.Context, model string) (driven.EmbeddingProvider, error) {
	if p, ok := w.cache.Get(model); ok {
		return p, nil
	}

	backoff := loadInitialBackoff
	var lastErr error

	for attempt := 0; attempt < loadMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		provider, err := w.factory.Create(model)
		if err != nil {
			// Unknown models are terminal, not transient.
			return nil, err
		}

		if err := w.load(ctx, provider); err != nil {
			provider.Close() //nolint:errcheck
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %w", domain.ErrModelNotReady, err)
			}
			lastErr = err
			logger.Debug("workers: worker %d load %s attempt %d: %v", w.id, model, attempt+1, err)
			continue
		}

		w.cache.Add(model, provider)
		logger.Info("workers: worker %d loaded model %s", w.id, model)
		return provider, nil
	}

	return nil, fmt.Errorf("%w: %w", domain.ErrModelNotReady, lastErr)
}

// load starts the provider and polls readiness until the backend
// confirms the model can serve inference.
func (w *worker) load(ctx context.Context, provider driven.EmbeddingProvider) error {
	if err := provider.Load(ctx); err != nil {
		return fmt.Errorf("load: %w", err)
	}

	ticker := time.NewTicker(readinessPollInterval)
	defer ticker.Stop()

	for {
		ready, err := provider.Ready(ctx)
		if err != nil {
			return fmt.Errorf("readiness probe: %w", err)
		}
		if ready {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// reset drops all loaded providers, used when respawning after a crash.
func (w *worker) reset() {
	w.cache.Purge()
	w.cache = newProviderCache(w.cacheCap)
}

func (w *worker) close() {
	w.cache.Purge()
}
