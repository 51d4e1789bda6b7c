package group

import (
	"context"
	"errors"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/annotation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore returns fixed results; top-K keeps the listed order.
type fakeStore struct {
	full    map[annotation.Term][]annotation.SentenceID
	fail    map[annotation.Term]bool
	topKLog []annotation.Term
}

func (f *fakeStore) GetAllResults(_ context.Context, term annotation.Term) (annotation.SentenceSet, error) {
	if f.fail[term] {
		return nil, errors.New("index down")
	}
	return annotation.NewSentenceSet(f.full[term]...), nil
}

func (f *fakeStore) GatherTopK(_ context.Context, term annotation.Term, exclude annotation.SentenceSet, k int) ([]annotation.SentenceID, error) {
	f.topKLog = append(f.topKLog, term)
	if f.fail[term] {
		return nil, errors.New("index down")
	}
	out := make([]annotation.SentenceID, 0, k)
	for _, id := range f.full[term] {
		if exclude.Has(id) {
			continue
		}
		if len(out) == k {
			break
		}
		out = append(out, id)
	}
	return out, nil
}

func parisLondon() *fakeStore {
	return &fakeStore{full: map[annotation.Term][]annotation.SentenceID{
		"paris":  {"1", "2", "3"},
		"london": {"3", "4"},
	}}
}

func TestParisLondonScenario(t *testing.T) {
	store := parisLondon()
	b := NewBuilder(store, 5, nil)
	groups := make(Groups)

	b.Update(context.Background(), annotation.NewTermSet("paris", "london"), groups)

	assert.Equal(t, []annotation.SentenceID{"1", "2", "3"}, groups["paris"].Sorted())
	assert.Equal(t, []annotation.SentenceID{"3", "4"}, groups["london"].Sorted())
	assert.False(t, groups["paris"].Has("4"))
	assert.False(t, groups["london"].Has("1"))
}

func TestSeedExcludesClaimed(t *testing.T) {
	store := parisLondon()
	b := NewBuilder(store, 5, nil)
	groups := Groups{"paris": annotation.NewSentenceSet("1", "2", "3")}

	stats := b.Update(context.Background(), annotation.NewTermSet("paris", "london"), groups)

	assert.Equal(t, 1, stats.Seeded)
	assert.Equal(t, []annotation.Term{"london"}, store.topKLog, "existing groups are not reseeded")
	// 3 was claimed at seed time, expansion puts it back
	assert.Equal(t, []annotation.SentenceID{"3", "4"}, groups["london"].Sorted())
}

func TestSeedBoundedByTopK(t *testing.T) {
	store := &fakeStore{full: map[annotation.Term][]annotation.SentenceID{
		"obama": {"a", "b", "c", "d", "e", "f", "g"},
	}}
	groups := make(Groups)
	NewBuilder(store, 0, nil).Update(context.Background(), annotation.NewTermSet("obama"), groups)
	assert.Equal(t, DefaultTopK, groups["obama"].Len())
}

func TestZeroMatchesGiveEmptyGroup(t *testing.T) {
	groups := make(Groups)
	NewBuilder(parisLondon(), 5, nil).Update(context.Background(), annotation.NewTermSet("tokyo"), groups)
	require.Contains(t, groups, annotation.Term("tokyo"))
	assert.Equal(t, 0, groups["tokyo"].Len())
}

func TestIdempotence(t *testing.T) {
	store := parisLondon()
	b := NewBuilder(store, 5, nil)
	terms := annotation.NewTermSet("paris", "london")
	groups := make(Groups)

	b.Update(context.Background(), terms, groups)
	first := groups.Clone()
	stats := b.Update(context.Background(), terms, groups)

	assert.Equal(t, first, groups)
	assert.Equal(t, 0, stats.Seeded)
	assert.Equal(t, 0, stats.Expanded)
}

func TestMonotonicity(t *testing.T) {
	store := &fakeStore{full: map[annotation.Term][]annotation.SentenceID{
		"paris":  {"1", "2", "3"},
		"london": {"3", "4"},
		"france": {"2", "5"},
	}}
	b := NewBuilder(store, 5, nil)
	groups := make(Groups)

	b.Update(context.Background(), annotation.NewTermSet("paris", "london"), groups)
	before := groups.Clone()
	b.Update(context.Background(), annotation.NewTermSet("paris", "london", "france"), groups)

	for term, ids := range before {
		for id := range ids {
			assert.True(t, groups[term].Has(id), "%s lost %s", term, id)
		}
	}
	assert.Equal(t, []annotation.SentenceID{"2", "5"}, groups["france"].Sorted())
}

func TestExpansionSymmetry(t *testing.T) {
	store := &fakeStore{full: map[annotation.Term][]annotation.SentenceID{
		"obama":  {"1", "2"},
		"barack": {"2", "3", "9"},
	}}
	// restored groups from an earlier session: 9 only reachable via obama's group
	groups := Groups{
		"obama":  annotation.NewSentenceSet("1", "9"),
		"barack": annotation.NewSentenceSet("3"),
	}
	NewBuilder(store, 5, nil).Update(context.Background(), annotation.NewTermSet(), groups)

	for term, ids := range groups {
		for id := range ids {
			for other := range groups {
				if other == term {
					continue
				}
				full, _ := store.GetAllResults(context.Background(), other)
				if full.Has(id) {
					assert.True(t, groups[other].Has(id), "%s missing %s from %s", other, id, term)
				}
			}
		}
	}
	assert.True(t, groups["barack"].Has("9"))
}

func TestRetrievalFailureIsolated(t *testing.T) {
	store := parisLondon()
	store.full["berlin"] = []annotation.SentenceID{"7"}
	store.fail = map[annotation.Term]bool{"berlin": true}
	groups := make(Groups)

	stats := NewBuilder(store, 5, nil).Update(context.Background(), annotation.NewTermSet("paris", "london", "berlin"), groups)

	assert.NotContains(t, groups, annotation.Term("berlin"))
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, []annotation.SentenceID{"3", "4"}, groups["london"].Sorted())
}
