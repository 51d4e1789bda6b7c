package corpus

import (
	"context"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/annotation"
)

// MemoryRepository keeps everything in process memory. It backs tests and
// deployments without a database.
type MemoryRepository struct {
	mu          sync.RWMutex
	corpora     map[string][]*annotation.Sentence
	annotations map[string]Annotations
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		corpora:     make(map[string][]*annotation.Sentence),
		annotations: make(map[string]Annotations),
	}
}

// Import appends documents to a dataset's corpus.
func (m *MemoryRepository) Import(_ context.Context, dataset string, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		m.corpora[dataset] = append(m.corpora[dataset], d.Records()...)
	}
	return nil
}

// LoadCorpus returns copies of the dataset's sentences ordered by id.
func (m *MemoryRepository) LoadCorpus(_ context.Context, dataset string) ([]*annotation.Sentence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.corpora[dataset]
	out := make([]*annotation.Sentence, 0, len(src))
	for _, s := range src {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) LoadAnnotations(_ context.Context, dataset, username string) (Annotations, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored, ok := m.annotations[annotationKey(dataset, username)]
	if !ok {
		return NewAnnotations(), nil
	}
	return cloneAnnotations(stored), nil
}

// SaveAnnotations replaces the user's term index and upserts the spans of
// sents; sentences that no longer carry spans are forgotten.
func (m *MemoryRepository) SaveAnnotations(_ context.Context, dataset, username string, index annotation.TermIndex, sents []*annotation.Sentence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := annotationKey(dataset, username)
	stored, ok := m.annotations[key]
	if !ok {
		stored = NewAnnotations()
	}
	stored.Index = index.Clone()
	annotated, cleared := split(sents)
	for _, s := range annotated {
		stored.Spans[s.ID] = append([]annotation.Span(nil), s.Spans...)
	}
	for _, s := range cleared {
		delete(stored.Spans, s.ID)
	}
	m.annotations[key] = stored
	return nil
}

func annotationKey(dataset, username string) string {
	return dataset + "\x00" + username
}

func cloneAnnotations(a Annotations) Annotations {
	out := Annotations{
		Index: a.Index.Clone(),
		Spans: make(map[annotation.SentenceID][]annotation.Span, len(a.Spans)),
	}
	for id, spans := range a.Spans {
		out.Spans[id] = append([]annotation.Span(nil), spans...)
	}
	return out
}
