// Package store caches sentence records for one session and memoises the
// full retrieval result of every term it has been asked about.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/annotation"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/termindex"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

// ResultCache is a shared memo of full retrieval results, consulted after
// the store's own memo and before the term index. Implementations must
// treat failures as misses.
type ResultCache interface {
	Get(ctx context.Context, term annotation.Term) (annotation.SentenceSet, bool)
	Set(ctx context.Context, term annotation.Term, ids annotation.SentenceSet)
}

// Option configures a SentenceStore.
type Option func(*SentenceStore)

// WithResultCache layers a shared cache under the per-store memo.
func WithResultCache(c ResultCache) Option {
	return func(s *SentenceStore) { s.cache = c }
}

// WithMetrics records retrievals and cache lookups.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *SentenceStore) { s.metrics = m }
}

// SentenceStore maps sentence ids to records. Records not yet seen are
// fetched from the term index on first use and then owned by the store, so
// span edits made through GetSentence persist for the store's lifetime.
type SentenceStore struct {
	index   termindex.Index
	cache   ResultCache
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu        sync.RWMutex
	sentences map[annotation.SentenceID]*annotation.Sentence
	results   map[annotation.Term]annotation.SentenceSet
	fills     singleflight.Group
}

// New creates a store over index.
func New(index termindex.Index, opts ...Option) *SentenceStore {
	s := &SentenceStore{
		index:     index,
		logger:    slog.Default().With("component", "sentence-store"),
		sentences: make(map[annotation.SentenceID]*annotation.Sentence),
		results:   make(map[annotation.Term]annotation.SentenceSet),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the record for id, fetching it from the index on a miss. It
// fails with ErrSentenceNotFound when neither knows the id.
func (s *SentenceStore) Get(id annotation.SentenceID) (*annotation.Sentence, error) {
	s.mu.RLock()
	sent, ok := s.sentences[id]
	s.mu.RUnlock()
	if ok {
		return sent, nil
	}

	fetched, err := s.index.Fetch(id)
	if err != nil {
		return nil, fmt.Errorf("fetching sentence: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sentences[id]; ok {
		return existing, nil
	}
	s.sentences[id] = fetched
	return fetched, nil
}

// GetSentence is Get with the span set guaranteed to be initialised, ready
// for the span editor.
func (s *SentenceStore) GetSentence(id annotation.SentenceID) (*annotation.Sentence, error) {
	sent, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if sent.Spans == nil {
		sent.Spans = make([]annotation.Span, 0)
	}
	s.mu.Unlock()
	return sent, nil
}

// Put inserts or overwrites a record, e.g. a previously annotated sentence
// restored from the repository.
func (s *SentenceStore) Put(sent *annotation.Sentence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentences[sent.ID] = sent
}

// Len is the number of records held.
func (s *SentenceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sentences)
}

// GetAllResults returns every sentence matching term. The result is
// memoised for the store's lifetime and must not be modified by callers.
// An unmatched term yields an empty set.
func (s *SentenceStore) GetAllResults(ctx context.Context, term annotation.Term) (annotation.SentenceSet, error) {
	s.mu.RLock()
	ids, ok := s.results[term]
	s.mu.RUnlock()
	if ok {
		return ids, nil
	}

	v, err, _ := s.fills.Do(string(term), func() (interface{}, error) {
		s.mu.RLock()
		ids, ok := s.results[term]
		s.mu.RUnlock()
		if ok {
			return ids, nil
		}
		ids, err := s.fill(ctx, term)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.results[term] = ids
		s.mu.Unlock()
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(annotation.SentenceSet), nil
}

func (s *SentenceStore) fill(ctx context.Context, term annotation.Term) (annotation.SentenceSet, error) {
	if s.cache != nil {
		ids, hit := s.cache.Get(ctx, term)
		s.metrics.ObserveCache(hit)
		if hit {
			return ids, nil
		}
	}

	start := time.Now()
	ids, err := s.index.Search(term)
	s.metrics.ObserveRetrieval("full", time.Since(start).Seconds(), len(ids), err)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", term, err)
	}
	if ids == nil {
		ids = make(annotation.SentenceSet)
	}
	if s.cache != nil {
		s.cache.Set(ctx, term, ids)
	}
	s.logger.Debug("full results memoised", "term", term, "matches", len(ids))
	return ids, nil
}

// GatherTopK returns up to k ranked sentence ids for term, skipping any in
// exclude.
func (s *SentenceStore) GatherTopK(ctx context.Context, term annotation.Term, exclude annotation.SentenceSet, k int) ([]annotation.SentenceID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	ids, err := s.index.SearchTopK(term, exclude, k)
	s.metrics.ObserveRetrieval("topk", time.Since(start).Seconds(), len(ids), err)
	if err != nil {
		return nil, fmt.Errorf("top-%d search for %q: %w", k, term, err)
	}
	return ids, nil
}
