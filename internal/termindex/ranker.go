package termindex

import (
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/annotation"
)

const (
	k1 = 1.2
	b  = 0.75
)

// ScoredSentence is a ranked retrieval hit.
type ScoredSentence struct {
	ID    annotation.SentenceID `json:"id"`
	Score float64               `json:"score"`
}

type rankParams struct {
	TotalDocs    int64
	AvgDocLength float64
}

type hit struct {
	id     annotation.SentenceID
	tf     int
	docLen int
}

// rank scores hits of a single term with BM25 and returns the best limit,
// ties broken by id so results are stable.
func rank(hits []hit, params rankParams, limit int) []ScoredSentence {
	idf := computeIDF(params.TotalDocs, int64(len(hits)))
	result := make([]ScoredSentence, 0, len(hits))
	for _, h := range hits {
		tfNorm := computeTFNorm(float64(h.tf), float64(h.docLen), params.AvgDocLength)
		result = append(result, ScoredSentence{
			ID:    h.id,
			Score: math.Round(idf*tfNorm*10000) / 10000,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func computeIDF(totalDocs int64, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq)
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func computeTFNorm(termFreq float64, docLength float64, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}
