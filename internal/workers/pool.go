// Package workers provides the embedding worker pool: a fixed set of
// off-control-plane execution units performing CPU-bound model inference.
package workers

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/custodia-labs/folderd/internal/core/domain"
	"github.com/custodia-labs/folderd/internal/core/ports/driven"
	"github.com/custodia-labs/folderd/internal/logger"
)

// Ensure Pool implements the interface.
var _ driven.WorkerPool = (*Pool)(nil)

// queueDepth bounds the shared request queue. A full queue hands the
// enqueue to a goroutine so the submitting caller never blocks.
const queueDepth = 256

// readinessPollInterval is how often a worker probes a loading model.
const readinessPollInterval = 250 * time.Millisecond

// loadMaxAttempts bounds model-switch retries. A switch can race with
// the backend evicting the model it is loading, so it is retried with
// exponential backoff.
const loadMaxAttempts = 3

// loadInitialBackoff is the first model-switch retry delay.
const loadInitialBackoff = time.Second

// DefaultSize returns the pool size: one worker per core, leaving one
// core free for the control plane.
func DefaultSize() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

type task struct {
	ctx context.Context
	req driven.EmbedRequest
	out chan driven.EmbedResult
}

// Pool dispatches embedding requests to a fixed set of workers. Each
// worker owns the models it loaded, bounded by an LRU cache; a worker is
// not handed inference until an explicit readiness probe succeeds. A
// worker crash fails only the in-flight request and the worker is
// respawned; other queued work is unaffected.
type Pool struct {
	factory  driven.ProviderFactory
	size     int
	cacheCap int
	timeout  time.Duration

	queue chan *task
	done  chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Option configures the pool.
type Option func(*Pool)

// WithSize overrides the worker count.
func WithSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.size = n
		}
	}
}

// WithModelCacheSize bounds loaded models per worker.
func WithModelCacheSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.cacheCap = n
		}
	}
}

// WithTimeout bounds one worker round-trip.
func WithTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// New creates and starts the pool.
func New(factory driven.ProviderFactory, opts ...Option) *Pool {
	p := &Pool{
		factory:  factory,
		size:     DefaultSize(),
		cacheCap: domain.DefaultModelCacheSize,
		timeout:  domain.DefaultWorkerTimeout,
		queue:    make(chan *task, queueDepth),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(p.size)
	for i := 0; i < p.size; i++ {
		go p.runWorker(i)
	}
	logger.Info("workers: pool started with %d workers", p.size)
	return p
}

// Submit enqueues a request and returns the completion channel. The
// caller is never blocked: a full queue is handled by a goroutine, and
// the result channel is buffered so delivery cannot stall a worker.
func (p *Pool) Submit(ctx context.Context, req driven.EmbedRequest) <-chan driven.EmbedResult {
	out := make(chan driven.EmbedResult, 1)
	t := &task{ctx: ctx, req: req, out: out}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		out <- driven.EmbedResult{Err: domain.ErrPoolClosed}
		return out
	}
	p.mu.Unlock()

	select {
	case p.queue <- t:
	default:
		go func() {
			select {
			case p.queue <- t:
			case <-ctx.Done():
				out <- driven.EmbedResult{Err: ctx.Err()}
			case <-p.done:
				out <- driven.EmbedResult{Err: domain.ErrPoolClosed}
			}
		}()
	}
	return out
}

// Dimensions returns the vector size for a model id.
func (p *Pool) Dimensions(model string) (int, error) {
	if dim, ok := p.factory.Models()[model]; ok {
		return dim, nil
	}
	return 0, fmt.Errorf("%w: %s", domain.ErrUnknownModel, model)
}

// Close stops all workers and fails any still-queued requests.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()

	for {
		select {
		case t := <-p.queue:
			t.out <- driven.EmbedResult{Err: domain.ErrPoolClosed}
		default:
			return nil
		}
	}
}

// runWorker is one worker's supervision loop. A panic while serving a
// request is recovered inside serve; the worker's model state is reset
// and the loop continues with the next task.
func (p *Pool) runWorker(id int) {
	defer p.wg.Done()

	w := newWorker(id, p.factory, p.cacheCap)
	defer w.close()

	for {
		select {
		case <-p.done:
			return
		case t := <-p.queue:
			if t.ctx.Err() != nil {
				// Cancelled while queued (e.g. its folder was removed):
				// drop without dispatch.
				t.out <- driven.EmbedResult{Err: t.ctx.Err()}
				continue
			}
			p.serve(w, t)
		}
	}
}

// serve runs one request on a worker with the per-round-trip timeout.
// Exactly one result is always delivered on t.out.
func (p *Pool) serve(w *worker, t *task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("workers: worker %d crashed: %v, respawning", w.id, r)
			w.reset()
			t.out <- driven.EmbedResult{Err: fmt.Errorf("%w: %v", domain.ErrWorkerFailed, r)}
		}
	}()

	ctx, cancel := context.WithTimeout(t.ctx, p.timeout)
	defer cancel()

	provider, err := w.acquire(ctx, t.req.Model)
	if err != nil {
		t.out <- driven.EmbedResult{Err: err}
		return
	}

	vectors, err := provider.EmbedBatch(ctx, t.req.Texts, t.req.Kind)
	if err != nil {
		t.out <- driven.EmbedResult{Err: fmt.Errorf("%w: %w", domain.ErrWorkerFailed, err)}
		return
	}
	t.out <- driven.EmbedResult{Vectors: vectors}
}
