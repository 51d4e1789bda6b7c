// Package pattern estimates which contextual features predict which label,
// using the smoothed co-occurrence estimate of Collins & Singer over the
// sentences annotated so far.
package pattern

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/annotation"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/tracing"
)

// Key identifies one (feature, label) pair.
type Key struct {
	Feature annotation.FeatureLabel
	Label   annotation.Label
}

// Table maps retained pairs to their smoothed probability.
type Table map[Key]float64

// Pattern is one table row.
type Pattern struct {
	Feature annotation.FeatureLabel `json:"feature"`
	Label   annotation.Label        `json:"label"`
	Score   float64                 `json:"score"`
}

// Sorted returns the rows best score first, ties by feature then label.
func (t Table) Sorted() []Pattern {
	out := make([]Pattern, 0, len(t))
	for k, v := range t {
		out = append(out, Pattern{Feature: k.Feature, Label: k.Label, Score: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Feature != out[j].Feature {
			return out[i].Feature < out[j].Feature
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// Params holds the smoothing constant and retention thresholds.
type Params struct {
	Alpha               float64
	Threshold           float64
	FullStringThreshold float64
}

// DefaultParams are the values from Collins & Singer.
func DefaultParams() Params {
	return Params{Alpha: 0.1, Threshold: 0.95, FullStringThreshold: 0.8}
}

type Scorer struct {
	extractor FeatureExtractor
	params    Params
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewScorer creates a Scorer. A nil extractor uses ContextExtractor and
// zero params fall back to DefaultParams.
func NewScorer(extractor FeatureExtractor, params Params, m *metrics.Metrics) *Scorer {
	if extractor == nil {
		extractor = ContextExtractor{}
	}
	def := DefaultParams()
	if params.Alpha <= 0 {
		params.Alpha = def.Alpha
	}
	if params.Threshold <= 0 {
		params.Threshold = def.Threshold
	}
	if params.FullStringThreshold <= 0 {
		params.FullStringThreshold = def.FullStringThreshold
	}
	return &Scorer{
		extractor: extractor,
		params:    params,
		metrics:   m,
		logger:    slog.Default().With("component", "pattern-scorer"),
	}
}

// Score recomputes the pattern table from scratch over sents. numLabels is
// the size of the active label set; a feature is counted once for every
// labeled span containing it.
func (s *Scorer) Score(ctx context.Context, sents []*annotation.Sentence, numLabels int) Table {
	_, span := tracing.Start(ctx, "pattern.score")
	defer span.End()
	start := time.Now()

	counts := make(map[Key]int)
	featTotals := make(map[annotation.FeatureLabel]int)
	seenLabels := make(map[annotation.Label]struct{})

	for _, sent := range sents {
		if !sent.HasSpans() {
			continue
		}
		for _, f := range s.extractor.Extract(sent) {
			label, ok := alignedLabel(sent, f.Span)
			if !ok {
				continue
			}
			counts[Key{Feature: f.Name, Label: label}]++
			featTotals[f.Name]++
			seenLabels[label] = struct{}{}
		}
	}

	k := numLabels
	if k <= 0 {
		k = len(seenLabels)
	}
	table := make(Table)
	for key, c := range counts {
		score := Smoothed(c, featTotals[key.Feature], k, s.params.Alpha)
		if score > s.threshold(key.Feature) {
			table[key] = score
		}
	}

	span.SetAttr("sentences", len(sents))
	span.SetAttr("retained", len(table))
	s.metrics.ObservePatternPass(time.Since(start).Seconds(), len(table))
	s.logger.Info("patterns updated",
		"sentences", len(sents),
		"pairs", len(counts),
		"retained", len(table),
		"duration", time.Since(start),
	)
	return table
}

func (s *Scorer) threshold(f annotation.FeatureLabel) float64 {
	if strings.HasPrefix(string(f), FullString) {
		return s.params.FullStringThreshold
	}
	return s.params.Threshold
}

// Smoothed is (count + alpha) / (total + k*alpha).
func Smoothed(count, total, k int, alpha float64) float64 {
	return (float64(count) + alpha) / (float64(total) + float64(k)*alpha)
}

// alignedLabel returns the label of the span containing rng.
func alignedLabel(sent *annotation.Sentence, rng annotation.Span) (annotation.Label, bool) {
	for _, sp := range sent.Spans {
		if sp.Start <= rng.Start && rng.End <= sp.End {
			return sp.Label, true
		}
	}
	return "", false
}
