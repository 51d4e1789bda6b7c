// Package group turns a flat term set into overlapping review groups: each
// new term is seeded with its best unclaimed sentences, then membership is
// propagated to every other term whose full results contain the sentence.
package group

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/annotation"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/tracing"
)

// DefaultTopK bounds the seed of a new group.
const DefaultTopK = 5

// Groups maps a term to its candidate sentences.
type Groups = annotation.TermIndex

// Retriever is the part of the sentence store the builder needs.
type Retriever interface {
	GetAllResults(ctx context.Context, term annotation.Term) (annotation.SentenceSet, error)
	GatherTopK(ctx context.Context, term annotation.Term, exclude annotation.SentenceSet, k int) ([]annotation.SentenceID, error)
}

// Stats summarises one Update.
type Stats struct {
	Seeded   int `json:"seeded"`
	Expanded int `json:"expanded"`
	Failed   int `json:"failed"`
}

type Builder struct {
	store   Retriever
	topK    int
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewBuilder creates a Builder. A non-positive topK uses DefaultTopK.
func NewBuilder(store Retriever, topK int, m *metrics.Metrics) *Builder {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Builder{
		store:   store,
		topK:    topK,
		metrics: m,
		logger:  slog.Default().With("component", "group-builder"),
	}
}

// Update seeds a group for every term in terms that has none and then runs
// one expansion pass over all groups. Existing groups are only ever
// extended. A retrieval failure drops that term's contribution and is
// counted in Stats.Failed; it never aborts the pass.
func (b *Builder) Update(ctx context.Context, terms annotation.TermSet, groups Groups) Stats {
	ctx, span := tracing.Start(ctx, "group.update")
	defer span.End()
	start := time.Now()

	var stats Stats
	b.seed(ctx, terms, groups, &stats)
	b.expand(ctx, groups, &stats)

	span.SetAttr("groups", len(groups))
	span.SetAttr("seeded", stats.Seeded)
	span.SetAttr("expanded", stats.Expanded)
	b.metrics.ObserveGroupBuild(time.Since(start).Seconds(), len(groups))
	b.logger.Info("groups updated",
		"groups", len(groups),
		"seeded", stats.Seeded,
		"expanded", stats.Expanded,
		"failed", stats.Failed,
		"duration", time.Since(start),
	)
	return stats
}

// seed computes the claimed set once, so two terms seeded in the same pass
// may share sentences; expansion would add them to both anyway.
func (b *Builder) seed(ctx context.Context, terms annotation.TermSet, groups Groups, stats *Stats) {
	claimed := groups.Members()
	for _, term := range terms.Sorted() {
		if _, ok := groups[term]; ok {
			continue
		}
		ids, err := b.store.GatherTopK(ctx, term, claimed, b.topK)
		if err != nil {
			stats.Failed++
			b.logger.Warn("seeding group failed", "term", term, "error", err)
			continue
		}
		groups[term] = annotation.NewSentenceSet(ids...)
		stats.Seeded++
	}
}

// expand is a single sequential pass: terms are visited in order and a
// term's members are read when its turn comes, so additions made earlier in
// the pass are propagated further but the pass is not iterated to a fixed
// point.
func (b *Builder) expand(ctx context.Context, groups Groups, stats *Stats) {
	terms := groups.Terms()
	for _, term := range terms {
		if groups[term] == nil {
			groups[term] = make(annotation.SentenceSet)
		}
	}
	full := make(map[annotation.Term]annotation.SentenceSet, len(terms))
	failed := make(map[annotation.Term]bool)

	results := func(term annotation.Term) annotation.SentenceSet {
		if ids, ok := full[term]; ok {
			return ids
		}
		if failed[term] {
			return nil
		}
		ids, err := b.store.GetAllResults(ctx, term)
		if err != nil {
			failed[term] = true
			stats.Failed++
			b.logger.Warn("full retrieval failed, term not expanded", "term", term, "error", err)
			return nil
		}
		full[term] = ids
		return ids
	}

	for _, term := range terms {
		for _, id := range groups[term].Sorted() {
			for _, other := range terms {
				if other == term {
					continue
				}
				if results(other).Has(id) && groups[other].Add(id) {
					stats.Expanded++
				}
			}
		}
	}
}
