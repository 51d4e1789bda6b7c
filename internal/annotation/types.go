// Package annotation defines the sentence and span model shared by the
// bootstrapping components, and the span editor that keeps a sentence's
// labeled spans non-overlapping.
package annotation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Term is a normalised (possibly stemmed) surface string. It is both a
// retrieval key and the identifier of a group.
type Term string

// Label is an entity label such as PER or LOC.
type Label string

// FeatureLabel names a contextual feature, e.g. "full-string=Paris".
type FeatureLabel string

// NoEntity is the label that marks "not an entity". Spans carrying it are
// never stored.
const NoEntity Label = "O"

// SentenceID identifies a sentence as "<document-id>:<sentence-index>".
type SentenceID string

// NewSentenceID builds the id of the index-th sentence of a document.
func NewSentenceID(docID string, index int) SentenceID {
	return SentenceID(docID + ":" + strconv.Itoa(index))
}

// Parse splits the id into its document id and sentence index.
func (id SentenceID) Parse() (docID string, index int, err error) {
	s := string(id)
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return "", 0, fmt.Errorf("malformed sentence id %q", s)
	}
	index, err = strconv.Atoi(s[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed sentence index in %q: %w", s, err)
	}
	return s[:i], index, nil
}

// Span is a labeled token range [Start, End) within one sentence.
type Span struct {
	Start int   `json:"start"`
	End   int   `json:"end"`
	Label Label `json:"label"`
}

// Equal reports value equality on (start, end, label).
func (s Span) Equal(o Span) bool {
	return s.Start == o.Start && s.End == o.End && s.Label == o.Label
}

// Len is the number of tokens covered.
func (s Span) Len() int {
	return s.End - s.Start
}

// Overlaps reports whether the two ranges share at least one token.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Covers reports whether token index tok lies inside the span.
func (s Span) Covers(tok int) bool {
	return s.Start <= tok && tok < s.End
}

func (s Span) String() string {
	return fmt.Sprintf("[%d,%d)%s", s.Start, s.End, s.Label)
}

// Sentence is a tokenised sentence with its labeled spans. Spans are kept
// sorted by start offset and never overlap.
type Sentence struct {
	ID     SentenceID `json:"id"`
	Tokens []string   `json:"tokens"`
	Spans  []Span     `json:"spans"`
}

// NewSentence returns a sentence with no spans.
func NewSentence(id SentenceID, tokens []string) *Sentence {
	return &Sentence{ID: id, Tokens: tokens, Spans: make([]Span, 0)}
}

// Clone returns a deep copy.
func (s *Sentence) Clone() *Sentence {
	c := &Sentence{
		ID:     s.ID,
		Tokens: append([]string(nil), s.Tokens...),
		Spans:  append(make([]Span, 0, len(s.Spans)), s.Spans...),
	}
	return c
}

// Text is the space-joined token sequence.
func (s *Sentence) Text() string {
	return strings.Join(s.Tokens, " ")
}

// Surface returns the space-joined tokens covered by sp.
func (s *Sentence) Surface(sp Span) string {
	start, end := sp.Start, sp.End
	if start < 0 {
		start = 0
	}
	if end > len(s.Tokens) {
		end = len(s.Tokens)
	}
	if start >= end {
		return ""
	}
	return strings.Join(s.Tokens[start:end], " ")
}

// HasSpans reports whether any span is committed on the sentence.
func (s *Sentence) HasSpans() bool {
	return len(s.Spans) > 0
}

// LabeledTokens counts the tokens covered by spans.
func (s *Sentence) LabeledTokens() int {
	n := 0
	for _, sp := range s.Spans {
		n += sp.Len()
	}
	return n
}

// SpanAt returns the span covering tok.
func (s *Sentence) SpanAt(tok int) (Span, bool) {
	for _, sp := range s.Spans {
		if sp.Covers(tok) {
			return sp, true
		}
	}
	return Span{}, false
}

// Contains reports whether a value-equal span is present.
func (s *Sentence) Contains(sp Span) bool {
	for _, existing := range s.Spans {
		if existing.Equal(sp) {
			return true
		}
	}
	return false
}

func (s *Sentence) overlapping(sp Span) []Span {
	var out []Span
	for _, existing := range s.Spans {
		if existing.Overlaps(sp) {
			out = append(out, existing)
		}
	}
	return out
}

func (s *Sentence) insert(sp Span) {
	s.Spans = append(s.Spans, sp)
	sort.Slice(s.Spans, func(i, j int) bool {
		return s.Spans[i].Start < s.Spans[j].Start
	})
}

func (s *Sentence) remove(sp Span) {
	for i, existing := range s.Spans {
		if existing.Equal(sp) {
			s.Spans = append(s.Spans[:i], s.Spans[i+1:]...)
			return
		}
	}
}

// SentenceSet is an unordered set of sentence ids.
type SentenceSet map[SentenceID]struct{}

// NewSentenceSet builds a set from ids.
func NewSentenceSet(ids ...SentenceID) SentenceSet {
	s := make(SentenceSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id and reports whether it was new.
func (s SentenceSet) Add(id SentenceID) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Has reports membership. A nil set has no members.
func (s SentenceSet) Has(id SentenceID) bool {
	_, ok := s[id]
	return ok
}

// Len is the set size.
func (s SentenceSet) Len() int {
	return len(s)
}

// AddAll inserts every member of o.
func (s SentenceSet) AddAll(o SentenceSet) {
	for id := range o {
		s[id] = struct{}{}
	}
}

// Clone returns a copy.
func (s SentenceSet) Clone() SentenceSet {
	c := make(SentenceSet, len(s))
	c.AddAll(s)
	return c
}

// Sorted returns the members in lexical order.
func (s SentenceSet) Sorted() []SentenceID {
	out := make([]SentenceID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TermSet is an unordered set of terms.
type TermSet map[Term]struct{}

// NewTermSet builds a set from terms.
func NewTermSet(terms ...Term) TermSet {
	s := make(TermSet, len(terms))
	for _, t := range terms {
		s[t] = struct{}{}
	}
	return s
}

// Add inserts t and reports whether it was new.
func (s TermSet) Add(t Term) bool {
	if _, ok := s[t]; ok {
		return false
	}
	s[t] = struct{}{}
	return true
}

// Has reports membership.
func (s TermSet) Has(t Term) bool {
	_, ok := s[t]
	return ok
}

// Sorted returns the members in lexical order.
func (s TermSet) Sorted() []Term {
	out := make([]Term, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TermIndex maps a term to a set of sentence ids. It backs both the
// candidate groups and the committed annotated-term index.
type TermIndex map[Term]SentenceSet

// Members returns the union of every set.
func (ti TermIndex) Members() SentenceSet {
	all := make(SentenceSet)
	for _, set := range ti {
		all.AddAll(set)
	}
	return all
}

// Terms returns the keys in lexical order.
func (ti TermIndex) Terms() []Term {
	out := make([]Term, 0, len(ti))
	for t := range ti {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone deep-copies the index.
func (ti TermIndex) Clone() TermIndex {
	c := make(TermIndex, len(ti))
	for t, set := range ti {
		c[t] = set.Clone()
	}
	return c
}
