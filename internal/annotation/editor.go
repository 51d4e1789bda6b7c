package annotation

import (
	"log/slog"
)

// Outcome describes what ApplySpan did with a candidate.
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeReplaced  Outcome = "replaced"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeNoEntity  Outcome = "no_entity"
	OutcomeDiscarded Outcome = "discarded"
	OutcomeInvalid   Outcome = "invalid"
)

// Applied reports whether the sentence changed.
func (o Outcome) Applied() bool {
	return o == OutcomeInserted || o == OutcomeReplaced
}

// Editor applies candidate spans and token removals to sentences.
type Editor struct {
	logger *slog.Logger
}

// NewEditor creates an Editor.
func NewEditor() *Editor {
	return &Editor{
		logger: slog.Default().With("component", "span-editor"),
	}
}

// ApplySpan reconciles cand against the spans already on sent.
//
// A candidate that overlaps nothing is inserted. A candidate that overlaps
// existing spans replaces them only when every overlapped span shares a
// boundary with it and is extended on the other side (same start and
// cand.End >= old.End, or same end and cand.Start <= old.Start). Anything
// else is discarded without error.
func (e *Editor) ApplySpan(sent *Sentence, cand Span) Outcome {
	if cand.Start < 0 || cand.End > len(sent.Tokens) || cand.Start >= cand.End {
		e.logger.Debug("invalid span discarded",
			"sentence_id", sent.ID,
			"span", cand.String(),
			"tokens", len(sent.Tokens),
		)
		return OutcomeInvalid
	}
	if sent.Contains(cand) {
		return OutcomeDuplicate
	}

	overlaps := sent.overlapping(cand)
	for _, old := range overlaps {
		if !boundaryEdit(cand, old) {
			e.logger.Debug("span conflicts with existing span, discarded",
				"sentence_id", sent.ID,
				"span", cand.String(),
				"existing", old.String(),
			)
			return OutcomeDiscarded
		}
	}

	if cand.Label == NoEntity {
		// the sentinel is never materialised, but removal of the
		// replaced spans still stands
		for _, old := range overlaps {
			sent.remove(old)
		}
		if len(overlaps) > 0 {
			e.logger.Warn("no-entity label reached span editor", "sentence_id", sent.ID, "span", cand.String())
		}
		return OutcomeNoEntity
	}

	for _, old := range overlaps {
		sent.remove(old)
	}
	sent.insert(cand)
	if len(overlaps) > 0 {
		return OutcomeReplaced
	}
	return OutcomeInserted
}

// ApplySpans applies candidates in order; later candidates see earlier edits.
func (e *Editor) ApplySpans(sent *Sentence, cands []Span) []Outcome {
	out := make([]Outcome, 0, len(cands))
	for _, c := range cands {
		out = append(out, e.ApplySpan(sent, c))
	}
	return out
}

// RemoveToken removes token tok from the span covering it. Trimming the
// first or last token shortens the span by one; an interior or
// single-token span is deleted outright. It reports whether a span was
// touched.
func (e *Editor) RemoveToken(sent *Sentence, tok int) bool {
	old, ok := sent.SpanAt(tok)
	if !ok {
		return false
	}
	sent.remove(old)

	switch {
	case old.Len() == 1:
	case tok == old.Start:
		sent.insert(Span{Start: old.Start + 1, End: old.End, Label: old.Label})
	case tok == old.End-1:
		sent.insert(Span{Start: old.Start, End: old.End - 1, Label: old.Label})
	default:
		e.logger.Debug("interior token removed, span deleted",
			"sentence_id", sent.ID,
			"span", old.String(),
			"token", tok,
		)
	}
	return true
}

func boundaryEdit(cand, old Span) bool {
	if cand.Start == old.Start && cand.End >= old.End {
		return true
	}
	return cand.End == old.End && cand.Start <= old.Start
}
