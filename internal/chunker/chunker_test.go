package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEmptyContent(t *testing.T) {
	c := New()
	assert.Nil(t, c.Split("doc-1", ""))
	assert.Nil(t, c.Split("doc-1", "   \n\t "))
}

func TestSplitSingleChunk(t *testing.T) {
	c := New(WithChunkSize(100), WithOverlap(20))

	chunks := c.Split("doc-1", "a short document")
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short document", chunks[0].Content)
	assert.Equal(t, 0, chunks[0].Position)
	assert.Equal(t, "doc-1", chunks[0].DocumentID)
	assert.NotEmpty(t, chunks[0].ID)
}

func TestSplitPositionsAreOrdinal(t *testing.T) {
	c := New(WithChunkSize(50), WithOverlap(10))

	text := strings.Repeat("some words to fill the chunk window here ", 20)
	chunks := c.Split("doc-1", text)
	require.Greater(t, len(chunks), 2)

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Position)
		assert.Positive(t, chunk.TokenCount)
	}
}

func TestSplitPrefersWordBoundaries(t *testing.T) {
	c := New(WithChunkSize(30), WithOverlap(5))

	text := "alpha beta gamma delta epsilon zeta eta theta iota kappa"
	chunks := c.Split("doc-1", text)
	require.NotEmpty(t, chunks)

	words := strings.Fields(text)
	for _, chunk := range chunks {
		for _, w := range strings.Fields(chunk.Content) {
			assert.Contains(t, words, w, "chunk %q split a word", chunk.Content)
		}
	}
}

func TestSplitOverlapClamped(t *testing.T) {
	// Overlap >= size falls back to size/4 instead of looping forever.
	c := New(WithChunkSize(40), WithOverlap(40))

	text := strings.Repeat("word ", 100)
	chunks := c.Split("doc-1", text)
	assert.NotEmpty(t, chunks)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Positive(t, EstimateTokens("hello world"))
	// Long prose is roughly chars/4.
	text := strings.Repeat("abcd", 100)
	assert.Equal(t, 100, EstimateTokens(text))
}
