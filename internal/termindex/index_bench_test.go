package termindex

import (
	"fmt"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/annotation"
)

func benchIndex(n int) *MemoryIndex {
	idx := NewMemoryIndex()
	cities := []string{"Paris", "London", "Berlin", "Madrid", "Rome"}
	for i := 0; i < n; i++ {
		city := cities[i%len(cities)]
		text := fmt.Sprintf("The mayor of %s met delegates from New York on day %d", city, i)
		idx.Add(annotation.NewSentence(annotation.NewSentenceID("doc", i), strings.Fields(text)))
	}
	return idx
}

// BenchmarkMemoryIndexAdd measures per-sentence insert throughput.
func BenchmarkMemoryIndexAdd(b *testing.B) {
	idx := NewMemoryIndex()
	tokens := strings.Fields("this is a benchmark sentence with several tokens for indexing")
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx.Add(annotation.NewSentence(annotation.NewSentenceID("doc", i), tokens))
	}
}

// BenchmarkSearch measures unranked full retrieval over 10 000 sentences.
func BenchmarkSearch(b *testing.B) {
	idx := benchIndex(10000)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := idx.Search("pari"); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSearchTopKPhrase measures ranked phrase retrieval with an
// exclusion set.
func BenchmarkSearchTopKPhrase(b *testing.B) {
	idx := benchIndex(10000)
	exclude := annotation.NewSentenceSet("doc:0", "doc:5", "doc:10")
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := idx.SearchTopK("new york", exclude, 5); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSearchParallel measures concurrent read throughput.
func BenchmarkSearchParallel(b *testing.B) {
	idx := benchIndex(10000)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := idx.Search("london"); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
