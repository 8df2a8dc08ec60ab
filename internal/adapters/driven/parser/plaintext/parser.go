// Package plaintext parses plain-text and Markdown files into indexable
// text. Markdown additionally yields a heading outline.
package plaintext

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/custodia-labs/folderd/internal/core/domain"
	"github.com/custodia-labs/folderd/internal/core/ports/driven"
)

// Ensure Parser implements the interface.
var _ driven.DocumentParser = (*Parser)(nil)

// maxFileSize caps how much a single file may contribute to the index.
const maxFileSize = 32 << 20 // 32 MiB

// binarySniffLen is how many leading bytes are checked for binary content.
const binarySniffLen = 8192

// supportedExtensions maps handled extensions to whether they are Markdown.
var supportedExtensions = map[string]bool{
	".txt":      false,
	".text":     false,
	".log":      false,
	".md":       true,
	".markdown": true,
	".mdx":      true,
}

// Parser extracts text from plain-text and Markdown files.
type Parser struct {
	markdown goldmark.Markdown
}

// New creates a parser.
func New() *Parser {
	return &Parser{markdown: goldmark.New()}
}

// Supports reports whether the parser handles the file extension.
func (p *Parser) Supports(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// Parse extracts text from the file at path. Unsupported extensions,
// oversized files and binary content yield a *domain.ParseError so the
// caller can mark the file errored and continue.
func (p *Parser) Parse(ctx context.Context, path string) (*driven.ParsedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	isMarkdown, ok := supportedExtensions[ext]
	if !ok {
		return nil, &domain.ParseError{Path: path, Err: domain.ErrUnsupportedFile}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &domain.ParseError{Path: path, Err: err}
	}
	if info.Size() > maxFileSize {
		return nil, &domain.ParseError{Path: path, Err: fmt.Errorf("file too large: %d bytes", info.Size())}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ParseError{Path: path, Err: err}
	}
	if looksBinary(data) {
		return nil, &domain.ParseError{Path: path, Err: fmt.Errorf("binary content: %w", domain.ErrUnsupportedFile)}
	}

	if isMarkdown {
		return &driven.ParsedDocument{
			Text:    string(data),
			Outline: p.outline(data),
		}, nil
	}
	return &driven.ParsedDocument{Text: string(data)}, nil
}

// outline walks the Markdown AST and collects headings in document order.
func (p *Parser) outline(source []byte) []string {
	root := p.markdown.Parser().Parse(text.NewReader(source))

	var headings []string
	_ = ast.Walk(root, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if heading, ok := node.(*ast.Heading); ok {
			title := headingText(heading, source)
			if title != "" {
				headings = append(headings, title)
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return headings
}

func headingText(heading *ast.Heading, source []byte) string {
	var sb strings.Builder
	for child := heading.FirstChild(); child != nil; child = child.NextSibling() {
		if textNode, ok := child.(*ast.Text); ok {
			sb.Write(textNode.Segment.Value(source))
		}
	}
	return strings.TrimSpace(sb.String())
}

// looksBinary sniffs the leading bytes for null bytes or invalid UTF-8.
func looksBinary(data []byte) bool {
	sniff := data
	truncated := false
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
		truncated = true
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return true
	}
	if truncated {
		// The window may end mid-rune; drop at most one partial rune tail.
		for i := 0; i < utf8.UTFMax-1 && len(sniff) > 0 && !utf8.Valid(sniff); i++ {
			sniff = sniff[:len(sniff)-1]
		}
	}
	return !utf8.Valid(sniff)
}
