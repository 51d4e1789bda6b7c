// Package corpus persists the sentences of each dataset and, per user, the
// committed spans and annotated-term index of their sessions.
package corpus

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/annotation"
)

// Annotations is what a user has committed on a dataset.
type Annotations struct {
	// Index maps a group term to the sentences saved with a label.
	Index annotation.TermIndex
	// Spans holds the committed spans of every annotated sentence.
	Spans map[annotation.SentenceID][]annotation.Span
}

// NewAnnotations returns empty annotations.
func NewAnnotations() Annotations {
	return Annotations{
		Index: make(annotation.TermIndex),
		Spans: make(map[annotation.SentenceID][]annotation.Span),
	}
}

// Document is one imported document: its id and tokenised sentences.
type Document struct {
	ID        string
	Sentences [][]string
}

// ReadPlainText reads documents from r. Every non-blank line is one
// sentence of whitespace-separated tokens and a blank line ends a document.
// Documents are named prefix-0, prefix-1 and so on.
func ReadPlainText(r io.Reader, prefix string) ([]Document, error) {
	var (
		docs    []Document
		current [][]string
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		docs = append(docs, Document{
			ID:        fmt.Sprintf("%s-%d", prefix, len(docs)),
			Sentences: current,
		})
		current = nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			flush()
			continue
		}
		current = append(current, fields)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading corpus: %w", err)
	}
	flush()
	return docs, nil
}

// Records converts a document into sentence records.
func (d Document) Records() []*annotation.Sentence {
	out := make([]*annotation.Sentence, 0, len(d.Sentences))
	for i, toks := range d.Sentences {
		out = append(out, annotation.NewSentence(annotation.NewSentenceID(d.ID, i), toks))
	}
	return out
}

// split separates sentences with spans from those without.
func split(sents []*annotation.Sentence) (annotated, cleared []*annotation.Sentence) {
	for _, s := range sents {
		if s.HasSpans() {
			annotated = append(annotated, s)
		} else {
			cleared = append(cleared, s)
		}
	}
	return annotated, cleared
}
