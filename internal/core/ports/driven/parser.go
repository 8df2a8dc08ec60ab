package driven

import "context"

// ParsedDocument is the parser collaborator's output: plain text plus
// structural hints. The core never interprets file formats itself.
type ParsedDocument struct {
	// Text is the extracted plain text.
	Text string

	// Outline lists structural headings in document order, when the
	// format carries them.
	Outline []string
}

// DocumentParser extracts plain text from files. Unsupported or corrupt
// input yields a typed *domain.ParseError; the core marks the file errored
// and continues indexing other files.
type DocumentParser interface {
	// Parse extracts text from the file at path.
	Parse(ctx context.Context, path string) (*ParsedDocument, error)

	// Supports reports whether the parser handles the file extension.
	Supports(path string) bool
}

// SemanticResult is the semantic-extraction collaborator's output for one
// chunk of text.
type SemanticResult struct {
	KeyPhrases  []string
	Topics      []string
	Readability float64
}

// SemanticExtractor derives key phrases, topics and a readability score
// from chunk text. Failure is non-fatal: the chunk's semantic fields stay
// unset and the chunk is flagged unprocessed.
type SemanticExtractor interface {
	Extract(ctx context.Context, text string) (*SemanticResult, error)
}
