// Package ollama provides an embedding provider backed by an Ollama
// server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/custodia-labs/folderd/internal/core/domain"
	"github.com/custodia-labs/folderd/internal/core/ports/driven"
)

// Ensure Provider implements the interface.
var _ driven.EmbeddingProvider = (*Provider)(nil)
var _ driven.ProviderFactory = (*Factory)(nil)

// Default configuration values.
const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultTimeout = 120 * time.Second
)

// knownModels maps supported model ids to their vector dimensions.
var knownModels = map[string]int{
	"nomic-embed-text":  768,
	"mxbai-embed-large": 1024,
	"all-minilm":        384,
	"bge-m3":            1024,
}

// Factory creates Ollama providers for known model ids.
type Factory struct {
	baseURL string
	client  *http.Client
}

// NewFactory creates a provider factory for the given Ollama base URL.
// An empty URL selects the local default.
func NewFactory(baseURL string) *Factory {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Factory{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
	}
}

// Create returns an unloaded provider for the model id.
func (f *Factory) Create(model string) (driven.EmbeddingProvider, error) {
	dimensions, ok := knownModels[model]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownModel, model)
	}
	return &Provider{
		client:     f.client,
		baseURL:    f.baseURL,
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Models lists the model ids the factory can serve with their dimensions.
func (f *Factory) Models() map[string]int {
	models := make(map[string]int, len(knownModels))
	for id, dim := range knownModels {
		models[id] = dim
	}
	return models
}

// Provider embeds text through the Ollama HTTP API. Loading a model can
// take minutes on first pull; Ready probes the backend with a real
// inference rather than trusting the load call.
type Provider struct {
	client     *http.Client
	baseURL    string
	model      string
	dimensions int
}

// embedRequest is the Ollama /api/embed request format.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
	// KeepAlive keeps the model resident between batches.
	KeepAlive string `json:"keep_alive,omitempty"`
}

// embedResponse is the Ollama /api/embed response format.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Load asks Ollama to load the model into memory. The call returns once
// the server accepts the request; readiness is confirmed by Ready.
func (p *Provider) Load(ctx context.Context) error {
	// An embed call with empty input makes Ollama load the model without
	// running inference.
	body, err := json.Marshal(map[string]any{"model": p.model, "keep_alive": "30m"})
	if err != nil {
		return fmt.Errorf("marshal load request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create load request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: load %s: %v", domain.ErrModelNotReady, p.model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: load %s: status %d: %s", domain.ErrModelNotReady, p.model, resp.StatusCode, string(msg))
	}
	return nil
}

// Ready probes the backend with a one-token inference. A reachable
// server with the model still loading reports false without error.
func (p *Provider) Ready(ctx context.Context) (bool, error) {
	vectors, err := p.embed(ctx, []string{"ready"})
	if err != nil {
		return false, nil //nolint:nilerr // not ready yet, keep polling
	}
	return len(vectors) == 1 && len(vectors[0]) == p.dimensions, nil
}

// EmbedBatch generates one vector per input text. nomic-style models are
// asymmetric and need a task prefix on each input.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string, kind driven.TextKind) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	prefixed := make([]string, len(texts))
	for i, text := range texts {
		prefixed[i] = p.prefix(kind) + text
	}

	vectors, err := p.embed(ctx, prefixed)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(vectors), len(texts))
	}
	for i, vec := range vectors {
		if len(vec) != p.dimensions {
			return nil, fmt.Errorf("%w: embedding %d has %d dimensions, expected %d",
				domain.ErrDimensionMismatch, i, len(vec), p.dimensions)
		}
	}
	return vectors, nil
}

func (p *Provider) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Input: inputs, KeepAlive: "30m"})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("ollama error (status %d): failed to read response", resp.StatusCode)
		}
		return nil, fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(msg))
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	return decoded.Embeddings, nil
}

// prefix returns the task prefix nomic-style asymmetric models expect.
func (p *Provider) prefix(kind driven.TextKind) string {
	if !strings.HasPrefix(p.model, "nomic-") {
		return ""
	}
	if kind == driven.TextKindQuery {
		return "search_query: "
	}
	return "search_document: "
}

// Dimensions returns the embedding vector size.
func (p *Provider) Dimensions() int {
	return p.dimensions
}

// ModelName returns the model id.
func (p *Provider) ModelName() string {
	return p.model
}

// Close releases the loaded model on the server side. Best effort; a
// stopped server is not an error during shutdown.
func (p *Provider) Close() error {
	body, err := json.Marshal(map[string]any{"model": p.model, "keep_alive": 0})
	if err != nil {
		return fmt.Errorf("marshal unload request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create unload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil //nolint:nilerr // server already gone
	}
	resp.Body.Close()
	return nil
}
