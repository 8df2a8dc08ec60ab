package driven

import "context"

// TextKind distinguishes query embeddings from passage embeddings.
// Asymmetric models produce different vectors for the two.
type TextKind string

// Embedding input kinds.
const (
	TextKindQuery   TextKind = "query"
	TextKindPassage TextKind = "passage"
)

// EmbeddingProvider is one loaded embedding model. Providers are owned by
// worker pool workers; loading can take seconds to minutes and must never
// run on the control plane.
type EmbeddingProvider interface {
	// Load starts loading the model. It may return before the model is
	// usable; callers must poll Ready before the first inference.
	Load(ctx context.Context) error

	// Ready reports whether the model can serve inference now. This is a
	// real probe against the backend, not a flag set optimistically when
	// loading starts.
	Ready(ctx context.Context) (bool, error)

	// EmbedBatch generates one vector per input text.
	EmbedBatch(ctx context.Context, texts []string, kind TextKind) ([][]float32, error)

	// Dimensions returns the vector size produced by the model.
	Dimensions() int

	// ModelName returns the model id.
	ModelName() string

	// Close releases the loaded model.
	Close() error
}

// ProviderFactory creates providers for model ids.
type ProviderFactory interface {
	// Create returns an unloaded provider for the model id, or
	// domain.ErrUnknownModel.
	Create(model string) (EmbeddingProvider, error)

	// Models lists the model ids the factory can serve with their
	// dimensions.
	Models() map[string]int
}
