// Package tokenizer normalises sentence tokens and query terms for the
// term index, and stems entity surface forms into group terms using a
// dataset-specific suffix list.
package tokenizer

import (
	"sort"
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/annotation"
)

// Token represents a single normalised term and its position in the
// original token sequence.
type Token struct {
	Term     string
	Position int
}

// Normalize lower-cases a token and strips surrounding punctuation. It
// returns "" for tokens made only of punctuation.
func Normalize(tok string) string {
	tok = strings.ToLower(tok)
	return strings.TrimFunc(tok, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Tokenize normalises an already tokenised sentence. Positions are the
// original token indexes, so punctuation-only tokens leave gaps.
func Tokenize(tokens []string) []Token {
	out := make([]Token, 0, len(tokens))
	for i, tok := range tokens {
		term := Normalize(tok)
		if term == "" {
			continue
		}
		out = append(out, Token{Term: term, Position: i})
	}
	return out
}

// Split breaks free text (a query or a group term) on whitespace and
// normalises each word.
func Split(text string) []string {
	words := strings.Fields(text)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if n := Normalize(w); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Stemmer strips configured suffixes from every word of a surface form.
type Stemmer struct {
	suffixes []string
}

// NewStemmer builds a stemmer. Longer suffixes are tried first.
func NewStemmer(suffixes []string) *Stemmer {
	sorted := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			sorted = append(sorted, s)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i]) > len(sorted[j])
	})
	return &Stemmer{suffixes: sorted}
}

// Suffixes returns the suffix list in matching order.
func (s *Stemmer) Suffixes() []string {
	return append([]string(nil), s.suffixes...)
}

// Stem lower-cases surface and removes at most one suffix per word. A word
// is never stemmed to nothing.
func (s *Stemmer) Stem(surface string) annotation.Term {
	words := strings.Fields(strings.ToLower(surface))
	for i, w := range words {
		words[i] = s.stemWord(w)
	}
	return annotation.Term(strings.Join(words, " "))
}

func (s *Stemmer) stemWord(word string) string {
	for _, suffix := range s.suffixes {
		if len(word) > len(suffix) && strings.HasSuffix(word, suffix) {
			return word[:len(word)-len(suffix)]
		}
	}
	return word
}
