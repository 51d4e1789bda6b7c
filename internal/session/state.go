// Package session owns the per-user annotation state and exposes the
// operations of the bootstrapping loop: load a dataset, label spans, save
// groups, search, summarise progress and refresh patterns.
package session

import (
	"context"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/annotation"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/annotation/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/bootstrap/group"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/bootstrap/pattern"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/events"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/store"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/config"
)

// SpecialGroupPrefix marks ad-hoc search groups. Saving one never records
// an annotated-term entry.
const SpecialGroupPrefix = "specialgroup-"

// Repository loads corpora and persists what users commit.
type Repository interface {
	LoadCorpus(ctx context.Context, dataset string) ([]*annotation.Sentence, error)
	LoadAnnotations(ctx context.Context, dataset, username string) (corpus.Annotations, error)
	SaveAnnotations(ctx context.Context, dataset, username string, index annotation.TermIndex, sents []*annotation.Sentence) error
}

// EventSink receives annotation activity. Track must not block.
type EventSink interface {
	Track(event events.Event)
}

type nopSink struct{}

func (nopSink) Track(events.Event) {}

// State is everything one session knows about its dataset. It is created
// by LoadDataset, mutated only under the session lock and dropped on
// logout; it is never shared between sessions.
type State struct {
	Dataset string
	Labels  []config.LabelConfig

	// Terms are the seed and discovered group keys.
	Terms annotation.TermSet
	// Groups are candidate sentences per term, pending review.
	Groups group.Groups
	// Annotated maps a saved group to the sentences committed with a label.
	Annotated annotation.TermIndex
	// Patterns is the table of the last pattern pass.
	Patterns pattern.Table

	Stemmer *tokenizer.Stemmer
	Store   *store.SentenceStore
}

// isSpecialGroup reports whether a group id must not be recorded as an
// annotated term.
func isSpecialGroup(groupID string) bool {
	id := strings.TrimSpace(groupID)
	return id == "" || strings.HasPrefix(id, SpecialGroupPrefix)
}

// labelsTerm reports whether some span of sent has term in its surface.
// Terms are lower case, so the comparison is too.
func labelsTerm(sent *annotation.Sentence, term annotation.Term) bool {
	for _, sp := range sent.Spans {
		if strings.Contains(strings.ToLower(sent.Surface(sp)), string(term)) {
			return true
		}
	}
	return false
}

// findText returns the start of every token-aligned, case-insensitive
// occurrence of words in tokens.
func findText(tokens, words []string) []int {
	var starts []int
	for p := 0; p+len(words) <= len(tokens); p++ {
		matched := true
		for i, w := range words {
			if !strings.EqualFold(tokens[p+i], w) {
				matched = false
				break
			}
		}
		if matched {
			starts = append(starts, p)
		}
	}
	return starts
}
