package annotation

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sentenceWith(spans ...Span) *Sentence {
	s := NewSentence("doc1:0", []string{"a", "b", "c", "d", "e", "f", "g", "h"})
	for _, sp := range spans {
		s.insert(sp)
	}
	return s
}

func TestApplySpan(t *testing.T) {
	tests := []struct {
		name     string
		existing []Span
		cand     Span
		want     []Span
		outcome  Outcome
	}{
		{
			name:    "insert into empty sentence",
			cand:    Span{2, 4, "PER"},
			want:    []Span{{2, 4, "PER"}},
			outcome: OutcomeInserted,
		},
		{
			name:     "disjoint spans coexist",
			existing: []Span{{0, 1, "LOC"}},
			cand:     Span{2, 4, "PER"},
			want:     []Span{{0, 1, "LOC"}, {2, 4, "PER"}},
			outcome:  OutcomeInserted,
		},
		{
			name:     "extend end on shared start",
			existing: []Span{{2, 4, "LOC"}},
			cand:     Span{2, 5, "LOC"},
			want:     []Span{{2, 5, "LOC"}},
			outcome:  OutcomeReplaced,
		},
		{
			name:     "extend start on shared end",
			existing: []Span{{3, 5, "ORG"}},
			cand:     Span{1, 5, "ORG"},
			want:     []Span{{1, 5, "ORG"}},
			outcome:  OutcomeReplaced,
		},
		{
			name:     "relabel same range",
			existing: []Span{{2, 4, "LOC"}},
			cand:     Span{2, 4, "PER"},
			want:     []Span{{2, 4, "PER"}},
			outcome:  OutcomeReplaced,
		},
		{
			name:     "fully interior candidate discarded",
			existing: []Span{{2, 5, "LOC"}},
			cand:     Span{3, 4, "LOC"},
			want:     []Span{{2, 5, "LOC"}},
			outcome:  OutcomeDiscarded,
		},
		{
			name:     "shrinking end is not a boundary edit",
			existing: []Span{{2, 5, "LOC"}},
			cand:     Span{2, 4, "LOC"},
			want:     []Span{{2, 5, "LOC"}},
			outcome:  OutcomeDiscarded,
		},
		{
			name:     "crossing overlap discarded",
			existing: []Span{{2, 5, "LOC"}},
			cand:     Span{4, 7, "LOC"},
			want:     []Span{{2, 5, "LOC"}},
			outcome:  OutcomeDiscarded,
		},
		{
			name:     "value-equal duplicate is a no-op",
			existing: []Span{{2, 4, "PER"}},
			cand:     Span{2, 4, "PER"},
			want:     []Span{{2, 4, "PER"}},
			outcome:  OutcomeDuplicate,
		},
		{
			name:     "one of two overlaps fails the rule",
			existing: []Span{{2, 4, "PER"}, {5, 7, "LOC"}},
			cand:     Span{2, 6, "PER"},
			want:     []Span{{2, 4, "PER"}, {5, 7, "LOC"}},
			outcome:  OutcomeDiscarded,
		},
		{
			name:     "extension reaching past the old end",
			existing: []Span{{2, 4, "PER"}},
			cand:     Span{2, 7, "PER"},
			want:     []Span{{2, 7, "PER"}},
			outcome:  OutcomeReplaced,
		},
		{
			name:    "no-entity label never materialised",
			cand:    Span{2, 4, NoEntity},
			want:    []Span{},
			outcome: OutcomeNoEntity,
		},
		{
			name:    "out of range",
			cand:    Span{6, 9, "PER"},
			want:    []Span{},
			outcome: OutcomeInvalid,
		},
		{
			name:    "empty range",
			cand:    Span{3, 3, "PER"},
			want:    []Span{},
			outcome: OutcomeInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sent := sentenceWith(tt.existing...)
			got := NewEditor().ApplySpan(sent, tt.cand)
			assert.Equal(t, tt.outcome, got)
			assert.Equal(t, tt.want, sent.Spans)
		})
	}
}

func TestApplySpansInOrder(t *testing.T) {
	sent := sentenceWith()
	out := NewEditor().ApplySpans(sent, []Span{
		{2, 3, "LOC"},
		{2, 4, "LOC"}, // sees the first edit and extends it
		{3, 4, "PER"}, // now interior to [2,4)
	})
	assert.Equal(t, []Outcome{OutcomeInserted, OutcomeReplaced, OutcomeDiscarded}, out)
	assert.Equal(t, []Span{{2, 4, "LOC"}}, sent.Spans)
}

func TestRemoveToken(t *testing.T) {
	tests := []struct {
		name    string
		span    Span
		tok     int
		want    []Span
		touched bool
	}{
		{"first token trims start", Span{2, 5, "PER"}, 2, []Span{{3, 5, "PER"}}, true},
		{"last token trims end", Span{2, 5, "PER"}, 4, []Span{{2, 4, "PER"}}, true},
		{"single token deletes span", Span{2, 3, "PER"}, 2, []Span{}, true},
		{"interior token deletes span", Span{2, 5, "PER"}, 3, []Span{}, true},
		{"uncovered token is a no-op", Span{2, 5, "PER"}, 6, []Span{{2, 5, "PER"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sent := sentenceWith(tt.span)
			touched := NewEditor().RemoveToken(sent, tt.tok)
			assert.Equal(t, tt.touched, touched)
			assert.Equal(t, tt.want, sent.Spans)
		})
	}
}

func TestEditsNeverOverlap(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	labels := []Label{"PER", "LOC", "ORG", NoEntity}
	ed := NewEditor()
	sent := NewSentence("doc:1", make([]string, 12))

	for i := 0; i < 5000; i++ {
		if rng.Intn(4) == 0 {
			ed.RemoveToken(sent, rng.Intn(12))
		} else {
			start := rng.Intn(12)
			end := start + 1 + rng.Intn(4)
			ed.ApplySpan(sent, Span{start, end, labels[rng.Intn(len(labels))]})
		}
		for a := 0; a < len(sent.Spans); a++ {
			require.NotEqual(t, NoEntity, sent.Spans[a].Label)
			for b := a + 1; b < len(sent.Spans); b++ {
				require.False(t, sent.Spans[a].Overlaps(sent.Spans[b]),
					"step %d: %v overlaps %v", i, sent.Spans[a], sent.Spans[b])
			}
		}
	}
}
