package pattern

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/annotation"
)

// Feature kinds emitted by ContextExtractor. Features whose name starts
// with FullString are held to the lower threshold.
const (
	FullString = "full-string"
	PrevWord   = "prev-word"
	NextWord   = "next-word"

	sentenceStart = "<s>"
	sentenceEnd   = "</s>"
)

// Feature is a contextual signal attached to a token range.
type Feature struct {
	Span annotation.Span
	Name annotation.FeatureLabel
}

// FeatureExtractor derives features from a sentence, one set per labeled
// span, each aligned to the span it describes.
type FeatureExtractor interface {
	Extract(sent *annotation.Sentence) []Feature
}

// ContextExtractor emits the surface string of every labeled span and the
// words immediately around it.
type ContextExtractor struct{}

var _ FeatureExtractor = ContextExtractor{}

func (ContextExtractor) Extract(sent *annotation.Sentence) []Feature {
	out := make([]Feature, 0, 3*len(sent.Spans))
	for _, sp := range sent.Spans {
		rng := annotation.Span{Start: sp.Start, End: sp.End}
		prev, next := sentenceStart, sentenceEnd
		if sp.Start > 0 {
			prev = strings.ToLower(sent.Tokens[sp.Start-1])
		}
		if sp.End < len(sent.Tokens) {
			next = strings.ToLower(sent.Tokens[sp.End])
		}
		out = append(out,
			Feature{Span: rng, Name: annotation.FeatureLabel(FullString + "=" + sent.Surface(sp))},
			Feature{Span: rng, Name: annotation.FeatureLabel(PrevWord + "=" + prev)},
			Feature{Span: rng, Name: annotation.FeatureLabel(NextWord + "=" + next)},
		)
	}
	return out
}
