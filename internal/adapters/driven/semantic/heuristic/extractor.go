// Package heuristic derives key phrases, topics and a readability score
// from chunk text without calling out to a model. The scores feed search
// ranking boosts and document aggregates; they need to be stable and
// cheap, not state of the art.
package heuristic

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/custodia-labs/folderd/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.SemanticExtractor = (*Extractor)(nil)

const (
	maxKeyPhrases = 8
	maxTopics     = 3
	minWordLen    = 3
)

// stopwords are excluded from key-phrase candidates.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		a an the and or but if then else when while for nor so yet
		of in on at by to from with without into onto over under
		is are was were be been being am has have had do does did
		will would shall should can could may might must
		this that these those it its they them their there here
		i you he she we me him her us my your his our
		not no yes all any both each few more most other some such
		as about above after again against before below between
		during through until up down out off only own same than
		too very just also because what which who whom how why where
	`) {
		stopwords[w] = struct{}{}
	}
}

// Extractor scores text with word-frequency key phrases and a
// Flesch-style reading-ease heuristic.
type Extractor struct{}

// New creates an extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract derives semantic attributes from one chunk of text.
func (e *Extractor) Extract(ctx context.Context, text string) (*driven.SemanticResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := tokenize(text)
	phrases := keyPhrases(words)

	topics := phrases
	if len(topics) > maxTopics {
		topics = topics[:maxTopics]
	}

	return &driven.SemanticResult{
		KeyPhrases:  phrases,
		Topics:      topics,
		Readability: readingEase(text, words),
	}, nil
}

// tokenize lowercases and splits on non-letter, non-digit runes.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// keyPhrases ranks non-stopword words by frequency, ties alphabetical.
func keyPhrases(words []string) []string {
	counts := make(map[string]int)
	for _, word := range words {
		word = strings.Trim(word, "'")
		if len(word) < minWordLen {
			continue
		}
		if _, stop := stopwords[word]; stop {
			continue
		}
		counts[word]++
	}
	if len(counts) == 0 {
		return nil
	}

	ranked := make([]string, 0, len(counts))
	for word := range counts {
		ranked = append(ranked, word)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if counts[ranked[i]] != counts[ranked[j]] {
			return counts[ranked[i]] > counts[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > maxKeyPhrases {
		ranked = ranked[:maxKeyPhrases]
	}
	return ranked
}

// readingEase is a Flesch reading-ease approximation clamped to [0, 100].
// Higher means easier text.
func readingEase(text string, words []string) float64 {
	if len(words) == 0 {
		return 0
	}

	sentences := countSentences(text)
	syllables := 0
	for _, word := range words {
		syllables += countSyllables(word)
	}

	score := 206.835 -
		1.015*(float64(len(words))/float64(sentences)) -
		84.6*(float64(syllables)/float64(len(words)))

	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}

func countSentences(text string) int {
	n := 0
	for _, r := range text {
		if r == '.' || r == '!' || r == '?' {
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return n
}

// countSyllables approximates syllables as vowel groups, with a silent-e
// adjustment.
func countSyllables(word string) int {
	vowels := "aeiouy"
	n := 0
	prevVowel := false
	for _, r := range word {
		isVowel := strings.ContainsRune(vowels, r)
		if isVowel && !prevVowel {
			n++
		}
		prevVowel = isVowel
	}
	if strings.HasSuffix(word, "e") && n > 1 {
		n--
	}
	if n == 0 {
		return 1
	}
	return n
}
