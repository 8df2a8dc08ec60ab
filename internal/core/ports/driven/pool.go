package driven

import "context"

// EmbedRequest is one unit of work for the embedding worker pool.
type EmbedRequest struct {
	// Model selects the embedding model.
	Model string

	// Texts is the batch to embed.
	Texts []string

	// Kind marks the batch as query or passage input.
	Kind TextKind
}

// EmbedResult is the terminal outcome of one EmbedRequest.
type EmbedResult struct {
	Vectors [][]float32
	Err     error
}

// WorkerPool runs CPU-bound model inference off the control plane.
//
// Submit never blocks: it enqueues the request and returns a channel that
// receives exactly one EmbedResult when a worker finishes. Callers resume
// via the channel instead of waiting on a worker.
type WorkerPool interface {
	// Submit enqueues a request. The returned channel is buffered; the
	// result is delivered even if the caller reads late.
	Submit(ctx context.Context, req EmbedRequest) <-chan EmbedResult

	// Dimensions returns the vector size for a model id, or
	// domain.ErrUnknownModel.
	Dimensions(model string) (int, error)

	// Close drains and stops all workers.
	Close() error
}
