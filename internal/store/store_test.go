package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/annotation"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/termindex"
	apperrors "github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingIndex struct {
	*termindex.MemoryIndex
	searches atomic.Int32
	fetches  atomic.Int32
	failOn   annotation.Term
}

func (c *countingIndex) Search(term annotation.Term) (annotation.SentenceSet, error) {
	c.searches.Add(1)
	if term == c.failOn {
		return nil, errors.New("index unavailable")
	}
	return c.MemoryIndex.Search(term)
}

func (c *countingIndex) Fetch(id annotation.SentenceID) (*annotation.Sentence, error) {
	c.fetches.Add(1)
	return c.MemoryIndex.Fetch(id)
}

func newIndex() *countingIndex {
	idx := termindex.NewMemoryIndex()
	for id, text := range map[string]string{
		"d:1": "Paris in spring",
		"d:2": "Flights to Paris",
		"d:3": "Paris and London",
		"d:4": "London calling",
	} {
		idx.Add(annotation.NewSentence(annotation.SentenceID(id), strings.Fields(text)))
	}
	return &countingIndex{MemoryIndex: idx}
}

func TestGetFetchesOnceAndOwnsRecord(t *testing.T) {
	idx := newIndex()
	s := New(idx)

	sent, err := s.GetSentence("d:3")
	require.NoError(t, err)
	sent.Spans = append(sent.Spans, annotation.Span{Start: 0, End: 1, Label: "LOC"})

	again, err := s.Get("d:3")
	require.NoError(t, err)
	assert.Same(t, sent, again)
	assert.Len(t, again.Spans, 1, "edits persist in the store")
	assert.Equal(t, int32(1), idx.fetches.Load())
	assert.Equal(t, 1, s.Len())
}

func TestGetUnknownID(t *testing.T) {
	s := New(newIndex())
	_, err := s.Get("nope:0")
	assert.ErrorIs(t, err, apperrors.ErrSentenceNotFound)
}

func TestPutOverwrites(t *testing.T) {
	s := New(newIndex())
	restored := annotation.NewSentence("d:1", []string{"Paris", "in", "spring"})
	restored.Spans = []annotation.Span{{Start: 0, End: 1, Label: "LOC"}}
	s.Put(restored)

	got, err := s.Get("d:1")
	require.NoError(t, err)
	assert.Same(t, restored, got)
}

func TestGetAllResultsMemoised(t *testing.T) {
	idx := newIndex()
	s := New(idx)
	ctx := context.Background()

	ids, err := s.GetAllResults(ctx, "paris")
	require.NoError(t, err)
	assert.Equal(t, []annotation.SentenceID{"d:1", "d:2", "d:3"}, ids.Sorted())

	_, err = s.GetAllResults(ctx, "paris")
	require.NoError(t, err)
	assert.Equal(t, int32(1), idx.searches.Load())

	empty, err := s.GetAllResults(ctx, "tokyo")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
}

func TestGetAllResultsConcurrentFillsCollapse(t *testing.T) {
	idx := newIndex()
	s := New(idx)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids, err := s.GetAllResults(context.Background(), "london")
			assert.NoError(t, err)
			assert.Equal(t, 2, ids.Len())
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, idx.searches.Load(), int32(16))
	ids, _ := s.GetAllResults(context.Background(), "london")
	assert.Equal(t, []annotation.SentenceID{"d:3", "d:4"}, ids.Sorted())
}

func TestGetAllResultsErrorNotMemoised(t *testing.T) {
	idx := newIndex()
	idx.failOn = "paris"
	s := New(idx)

	_, err := s.GetAllResults(context.Background(), "paris")
	require.Error(t, err)

	idx.failOn = ""
	ids, err := s.GetAllResults(context.Background(), "paris")
	require.NoError(t, err)
	assert.Equal(t, 3, ids.Len())
}

func TestGatherTopKExcludes(t *testing.T) {
	s := New(newIndex())
	ids, err := s.GatherTopK(context.Background(), "paris", annotation.NewSentenceSet("d:3"), 5)
	require.NoError(t, err)
	assert.ElementsMatch(t, []annotation.SentenceID{"d:1", "d:2"}, ids)

	ids, err = s.GatherTopK(context.Background(), "paris", nil, 2)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

type memKV struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newMemKV() *memKV { return &memKV{data: make(map[string]string)} }

func (m *memKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.data[key]
	if !ok {
		return "", errNil
	}
	return v, nil
}

func (m *memKV) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	return nil
}

func (m *memKV) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

// errNil stands in for redis.Nil; a plain error is logged as a failure
// and still reads as a miss.
var errNil = errors.New("redis: nil")

var _ kv = (*memKV)(nil)

func TestRedisResultCacheRoundTrip(t *testing.T) {
	store := newMemKV()
	c := NewRedisResultCache(store, "conll", time.Minute)
	ctx := context.Background()

	_, ok := c.Get(ctx, "paris")
	assert.False(t, ok)

	c.Set(ctx, "paris", annotation.NewSentenceSet("d:2", "d:1"))
	ids, ok := c.Get(ctx, "Paris")
	require.True(t, ok, "keys are case-normalised")
	assert.Equal(t, []annotation.SentenceID{"d:1", "d:2"}, ids.Sorted())

	other := NewRedisResultCache(store, "ontonotes", time.Minute)
	_, ok = other.Get(ctx, "paris")
	assert.False(t, ok, "datasets do not share entries")

	require.NoError(t, c.Invalidate(ctx))
	_, ok = c.Get(ctx, "paris")
	assert.False(t, ok)
}

func TestStoreUsesSharedCache(t *testing.T) {
	kvStore := newMemKV()
	cache := NewRedisResultCache(kvStore, "conll", time.Minute)

	first := newIndex()
	_, err := New(first, WithResultCache(cache)).GetAllResults(context.Background(), "london")
	require.NoError(t, err)
	assert.Equal(t, int32(1), first.searches.Load())

	second := newIndex()
	ids, err := New(second, WithResultCache(cache)).GetAllResults(context.Background(), "london")
	require.NoError(t, err)
	assert.Equal(t, int32(0), second.searches.Load(), "second session reads the shared cache")
	assert.Equal(t, 2, ids.Len())
}

func TestStoreFallsThroughBrokenCache(t *testing.T) {
	kvStore := newMemKV()
	kvStore.err = errors.New("connection refused")
	idx := newIndex()
	s := New(idx, WithResultCache(NewRedisResultCache(kvStore, "conll", time.Minute)))

	ids, err := s.GetAllResults(context.Background(), "paris")
	require.NoError(t, err)
	assert.Equal(t, 3, ids.Len())
	assert.Equal(t, int32(1), idx.searches.Load())
}
