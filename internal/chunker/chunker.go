// Package chunker splits document text into fixed-size overlapping chunks,
// the unit of embedding and fine-grained search.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/custodia-labs/folderd/internal/core/domain"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 200

// Chunker splits document content into fixed-size chunks.
type Chunker struct {
	chunkSize int
	overlap   int
}

// Option configures the chunker.
type Option func(*Chunker)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// New creates a chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}

	for _, opt := range opts {
		opt(c)
	}

	// Ensure overlap doesn't exceed chunk size
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}

	return c
}

// Split divides text into chunks for the given document id. Chunk
// boundaries prefer the last whitespace inside the window so words are
// not cut mid-way. Empty content produces no chunks.
func (c *Chunker) Split(documentID, text string) []domain.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	total := len(runes)

	estimated := (total / (c.chunkSize - c.overlap)) + 1
	chunks := make([]domain.Chunk, 0, estimated)

	position := 0
	start := 0

	for start < total {
		end := start + c.chunkSize
		if end > total {
			end = total
		} else {
			// Back up to the last whitespace inside the window, if any
			// is reasonably close, so words stay intact.
			cut := end
			for cut > start+c.chunkSize/2 {
				if isSpace(runes[cut-1]) {
					end = cut
					break
				}
				cut--
			}
		}

		content := strings.TrimSpace(string(runes[start:end]))
		if content != "" {
			chunks = append(chunks, domain.Chunk{
				ID:         uuid.New().String(),
				DocumentID: documentID,
				Position:   position,
				Content:    content,
				TokenCount: EstimateTokens(content),
			})
			position++
		}

		if end == total {
			break
		}

		next := end - c.overlap
		if next <= start {
			// Guarantee forward progress when overlap nearly covers
			// the effective window.
			next = end
		}
		start = next
	}

	return chunks
}

// EstimateTokens approximates the token count of text. Embedding models
// tokenise at roughly four characters per token for English prose; word
// count is used as a floor for whitespace-heavy input.
func EstimateTokens(text string) int {
	byChars := utf8.RuneCountInString(text) / 4
	byWords := len(strings.Fields(text))
	if byWords > byChars {
		return byWords
	}
	if byChars == 0 && text != "" {
		return 1
	}
	return byChars
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}
