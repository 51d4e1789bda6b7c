package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/annotation"
	apperrors "github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/logger"
)

// EditResult reports what a labeling request did.
type EditResult struct {
	Text       string                     `json:"text"`
	Label      annotation.Label           `json:"label"`
	Candidates int                        `json:"candidates"`
	Outcomes   map[annotation.Outcome]int `json:"outcomes"`
}

// AddSpan labels tokens [start, end) of sentID and, like AddText, every
// other occurrence of the same text in sentIDs.
func (m *Manager) AddSpan(ctx context.Context, id string, sentID annotation.SentenceID, start, end int, label annotation.Label, sentIDs []annotation.SentenceID) (EditResult, error) {
	var res EditResult
	err := m.withState(id, func(_ *session, st *State) error {
		sent, err := st.Store.GetSentence(sentID)
		if err != nil {
			return err
		}
		if start < 0 || end > len(sent.Tokens) || start >= end {
			return fmt.Errorf("span [%d,%d) outside sentence of %d tokens: %w", start, end, len(sent.Tokens), apperrors.ErrInvalidInput)
		}
		text := sent.Surface(annotation.Span{Start: start, End: end})
		res, err = m.addText(opContext(ctx, id, st), st, text, label, sentIDs)
		return err
	})
	return res, err
}

// AddText labels every token-aligned, case-insensitive occurrence of text
// in the given sentences. Candidates go through the span editor in order,
// so conflicting ones are discarded rather than reported as errors.
func (m *Manager) AddText(ctx context.Context, id, text string, label annotation.Label, sentIDs []annotation.SentenceID) (EditResult, error) {
	var res EditResult
	err := m.withState(id, func(_ *session, st *State) error {
		var err error
		res, err = m.addText(opContext(ctx, id, st), st, text, label, sentIDs)
		return err
	})
	return res, err
}

func (m *Manager) addText(ctx context.Context, st *State, text string, label annotation.Label, sentIDs []annotation.SentenceID) (EditResult, error) {
	words := strings.Fields(text)
	res := EditResult{
		Text:     strings.Join(words, " "),
		Label:    label,
		Outcomes: make(map[annotation.Outcome]int),
	}
	if len(words) == 0 {
		return res, fmt.Errorf("text is required: %w", apperrors.ErrInvalidInput)
	}
	if strings.TrimSpace(string(label)) == "" {
		return res, fmt.Errorf("label is required: %w", apperrors.ErrInvalidInput)
	}

	log := logger.FromContext(ctx)
	for _, sid := range sentIDs {
		sent, err := st.Store.GetSentence(sid)
		if err != nil {
			return res, err
		}
		for _, start := range findText(sent.Tokens, words) {
			cand := annotation.Span{Start: start, End: start + len(words), Label: label}
			outcome := m.editor.ApplySpan(sent, cand)
			res.Candidates++
			res.Outcomes[outcome]++
			m.metrics.ObserveSpanEdit(string(outcome))
		}
	}
	log.Debug("text labeled",
		"text", res.Text,
		"label", label,
		"sentences", len(sentIDs),
		"candidates", res.Candidates,
	)
	return res, nil
}

// RemoveToken takes token tok out of the span covering it. It reports
// whether a span was changed.
func (m *Manager) RemoveToken(ctx context.Context, id string, sentID annotation.SentenceID, tok int) (*annotation.Sentence, bool, error) {
	var (
		out     *annotation.Sentence
		changed bool
	)
	err := m.withState(id, func(_ *session, st *State) error {
		sent, err := st.Store.GetSentence(sentID)
		if err != nil {
			return err
		}
		if tok < 0 || tok >= len(sent.Tokens) {
			return fmt.Errorf("token %d outside sentence of %d tokens: %w", tok, len(sent.Tokens), apperrors.ErrInvalidInput)
		}
		changed = m.editor.RemoveToken(sent, tok)
		out = sent.Clone()
		logger.FromContext(opContext(ctx, id, st)).Debug("token removed", "sentence_id", sentID, "token", tok, "changed", changed)
		return nil
	})
	return out, changed, err
}
