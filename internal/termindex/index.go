// Package termindex provides the retrieval index the bootstrapping loop
// queries: unranked full retrieval of every sentence matching a term, ranked
// top-K retrieval with exclusions, and lookup of a sentence by id.
package termindex

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/annotation"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/annotation/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/errors"
	"github.com/RoaringBitmap/roaring/v2"
)

// Index is the retrieval collaborator of the sentence store. An unmatched
// term yields an empty result, not an error.
type Index interface {
	Search(term annotation.Term) (annotation.SentenceSet, error)
	SearchTopK(term annotation.Term, exclude annotation.SentenceSet, k int) ([]annotation.SentenceID, error)
	Fetch(id annotation.SentenceID) (*annotation.Sentence, error)
}

// MemoryIndex is an in-memory inverted index over sentences. Every word of
// a query term matches index tokens it is a prefix of, so stemmed terms
// ("pari") find their inflected forms ("paris"); multi-word terms must
// match consecutive tokens.
type MemoryIndex struct {
	mu          sync.RWMutex
	ordinals    map[annotation.SentenceID]uint32
	sentences   []*annotation.Sentence
	normalized  [][]string
	postings    map[string]*roaring.Bitmap
	vocab       []string
	vocabDirty  bool
	totalTokens int64
	logger      *slog.Logger
}

var _ Index = (*MemoryIndex)(nil)

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		ordinals: make(map[annotation.SentenceID]uint32),
		postings: make(map[string]*roaring.Bitmap),
		logger:   slog.Default().With("component", "term-index"),
	}
}

// Add indexes a sentence. Corpus sentences are immutable within a run, so
// re-adding a known id is a no-op.
func (m *MemoryIndex) Add(sent *annotation.Sentence) {
	tokens := tokenizer.Tokenize(sent.Tokens)
	norm := make([]string, len(sent.Tokens))
	for _, tok := range tokens {
		norm[tok.Position] = tok.Term
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.ordinals[sent.ID]; exists {
		return
	}
	ord := uint32(len(m.sentences))
	m.ordinals[sent.ID] = ord
	m.sentences = append(m.sentences, stripSpans(sent))
	m.normalized = append(m.normalized, norm)
	m.totalTokens += int64(len(sent.Tokens))

	for _, tok := range tokens {
		bm, ok := m.postings[tok.Term]
		if !ok {
			bm = roaring.New()
			m.postings[tok.Term] = bm
			m.vocabDirty = true
		}
		bm.Add(ord)
	}
}

// AddAll indexes every sentence.
func (m *MemoryIndex) AddAll(sents []*annotation.Sentence) {
	for _, s := range sents {
		m.Add(s)
	}
	m.logger.Info("sentences indexed", "added", len(sents), "total", m.Len())
}

// Len is the number of indexed sentences.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sentences)
}

// Search returns every sentence matching term.
func (m *MemoryIndex) Search(term annotation.Term) (annotation.SentenceSet, error) {
	words := tokenizer.Split(string(term))
	result := make(annotation.SentenceSet)
	if len(words) == 0 {
		return result, nil
	}

	m.rlockFresh()
	defer m.mu.RUnlock()
	candidates := m.candidatesLocked(words)
	it := candidates.Iterator()
	for it.HasNext() {
		ord := it.Next()
		if len(words) == 1 || m.matchCountLocked(ord, words) > 0 {
			result.Add(m.sentences[ord].ID)
		}
	}
	return result, nil
}

// SearchTopK returns up to k sentence ids matching term, best BM25 score
// first, skipping ids in exclude.
func (m *MemoryIndex) SearchTopK(term annotation.Term, exclude annotation.SentenceSet, k int) ([]annotation.SentenceID, error) {
	words := tokenizer.Split(string(term))
	if len(words) == 0 || k <= 0 {
		return []annotation.SentenceID{}, nil
	}

	m.rlockFresh()
	defer m.mu.RUnlock()
	candidates := m.candidatesLocked(words)
	if len(exclude) > 0 {
		excluded := roaring.New()
		for id := range exclude {
			if ord, ok := m.ordinals[id]; ok {
				excluded.Add(ord)
			}
		}
		candidates.AndNot(excluded)
	}

	hits := make([]hit, 0, candidates.GetCardinality())
	it := candidates.Iterator()
	for it.HasNext() {
		ord := it.Next()
		if tf := m.matchCountLocked(ord, words); tf > 0 {
			hits = append(hits, hit{
				id:     m.sentences[ord].ID,
				tf:     tf,
				docLen: len(m.sentences[ord].Tokens),
			})
		}
	}

	var avg float64
	if n := len(m.sentences); n > 0 {
		avg = float64(m.totalTokens) / float64(n)
	}
	ranked := rank(hits, rankParams{TotalDocs: int64(len(m.sentences)), AvgDocLength: avg}, k)
	out := make([]annotation.SentenceID, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.ID)
	}
	return out, nil
}

// Fetch returns a span-free copy of the indexed sentence.
func (m *MemoryIndex) Fetch(id annotation.SentenceID) (*annotation.Sentence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ord, ok := m.ordinals[id]
	if !ok {
		return nil, apperrors.SentenceNotFound(string(id))
	}
	return m.sentences[ord].Clone(), nil
}

// candidatesLocked intersects, per query word, the union of postings of
// every vocabulary entry the word is a prefix of.
func (m *MemoryIndex) candidatesLocked(words []string) *roaring.Bitmap {
	var acc *roaring.Bitmap
	for _, w := range words {
		union := roaring.New()
		start := sort.SearchStrings(m.vocab, w)
		for i := start; i < len(m.vocab) && strings.HasPrefix(m.vocab[i], w); i++ {
			union.Or(m.postings[m.vocab[i]])
		}
		if acc == nil {
			acc = union
		} else {
			acc.And(union)
		}
		if acc.IsEmpty() {
			break
		}
	}
	return acc
}

// matchCountLocked counts the positions where words match consecutive
// tokens of the sentence.
func (m *MemoryIndex) matchCountLocked(ord uint32, words []string) int {
	norm := m.normalized[ord]
	count := 0
	for p := 0; p+len(words) <= len(norm); p++ {
		matched := true
		for i, w := range words {
			if norm[p+i] == "" || !strings.HasPrefix(norm[p+i], w) {
				matched = false
				break
			}
		}
		if matched {
			count++
		}
	}
	return count
}

// rlockFresh read-locks the index after rebuilding the sorted vocabulary
// if sentences were added since the last query.
func (m *MemoryIndex) rlockFresh() {
	m.mu.RLock()
	if !m.vocabDirty {
		return
	}
	m.mu.RUnlock()
	m.mu.Lock()
	m.refreshVocabLocked()
	m.mu.Unlock()
	m.mu.RLock()
}

func (m *MemoryIndex) refreshVocabLocked() {
	if !m.vocabDirty {
		return
	}
	vocab := make([]string, 0, len(m.postings))
	for term := range m.postings {
		vocab = append(vocab, term)
	}
	sort.Strings(vocab)
	m.vocab = vocab
	m.vocabDirty = false
}

func stripSpans(sent *annotation.Sentence) *annotation.Sentence {
	return annotation.NewSentence(sent.ID, append([]string(nil), sent.Tokens...))
}
