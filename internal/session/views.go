package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/annotation"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/bootstrap/group"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/bootstrap/pattern"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/events"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/logger"
)

// GroupView is a group's sentences ready for review.
type GroupView struct {
	GroupID   string                 `json:"group_id"`
	Labels    []config.LabelConfig   `json:"labels"`
	Sentences []*annotation.Sentence `json:"sentences"`
}

// GroupSummary is one row of the progress overview.
type GroupSummary struct {
	Term      annotation.Term `json:"term"`
	Size      int             `json:"size"`
	Unlabeled int             `json:"unlabeled"`
}

// Summary is the progress overview of a session.
type Summary struct {
	Dataset            string               `json:"dataset"`
	Labels             []config.LabelConfig `json:"labels"`
	Annotated          []GroupSummary       `json:"annotated_groups"`
	Unannotated        []GroupSummary       `json:"unannotated_groups"`
	SentencesInGroups  int                  `json:"sentences_in_groups"`
	AnnotatedSentences int                  `json:"annotated_sentences"`
	LabeledTokens      int                  `json:"labeled_tokens"`
	TotalTokens        int                  `json:"total_tokens"`
	Patterns           []pattern.Pattern    `json:"patterns"`
}

// Group returns the sentences of one group, ordered by id.
func (m *Manager) Group(ctx context.Context, id, groupID string) (GroupView, error) {
	var view GroupView
	err := m.withState(id, func(_ *session, st *State) error {
		members, ok := st.Groups[annotation.Term(groupID)]
		if !ok {
			return fmt.Errorf("group %q: %w", groupID, apperrors.ErrGroupNotFound)
		}
		sents, err := loadAll(st, members.Sorted())
		if err != nil {
			return err
		}
		view = GroupView{GroupID: groupID, Labels: st.Labels, Sentences: sents}
		return nil
	})
	return view, err
}

// Search returns every sentence matching query as an ad-hoc group.
func (m *Manager) Search(ctx context.Context, id, query string) (GroupView, error) {
	var view GroupView
	query = strings.TrimSpace(query)
	if query == "" {
		return view, fmt.Errorf("query is required: %w", apperrors.ErrInvalidInput)
	}
	err := m.withState(id, func(_ *session, st *State) error {
		ids, err := st.Store.GetAllResults(ctx, annotation.Term(query))
		if err != nil {
			return err
		}
		sents, err := loadAll(st, ids.Sorted())
		if err != nil {
			return err
		}
		view = GroupView{GroupID: SpecialGroupPrefix + query, Labels: st.Labels, Sentences: sents}
		return nil
	})
	return view, err
}

// Summary brings the groups up to date with the term set and reports
// annotation progress. A group is annotated once every member has a span
// whose surface contains the group term. Total tokens start at one so
// ratios never divide by zero.
func (m *Manager) Summary(ctx context.Context, id string) (Summary, error) {
	var sum Summary
	err := m.withState(id, func(_ *session, st *State) error {
		ctx := opContext(ctx, id, st)
		group.NewBuilder(st.Store, m.cfg.Bootstrap.TopK, m.metrics).Update(ctx, st.Terms, st.Groups)

		sum = Summary{
			Dataset:           st.Dataset,
			Labels:            st.Labels,
			Annotated:         []GroupSummary{},
			Unannotated:       []GroupSummary{},
			SentencesInGroups: st.Groups.Members().Len(),
			TotalTokens:       1,
			Patterns:          st.Patterns.Sorted(),
		}
		for _, term := range st.Groups.Terms() {
			members := st.Groups[term]
			row := GroupSummary{Term: term, Size: members.Len()}
			for sid := range members {
				sent, err := st.Store.GetSentence(sid)
				if err != nil {
					return err
				}
				if !labelsTerm(sent, term) {
					row.Unlabeled++
				}
			}
			if row.Unlabeled > 0 {
				sum.Unannotated = append(sum.Unannotated, row)
			} else {
				sum.Annotated = append(sum.Annotated, row)
			}
		}

		committed := st.Annotated.Members()
		sum.AnnotatedSentences = committed.Len()
		for sid := range committed {
			sent, err := st.Store.Get(sid)
			if err != nil {
				return err
			}
			sum.TotalTokens += len(sent.Tokens)
			sum.LabeledTokens += sent.LabeledTokens()
		}
		return nil
	})
	return sum, err
}

// UpdatePatterns rescores patterns over every committed sentence and
// replaces the session's table.
func (m *Manager) UpdatePatterns(ctx context.Context, id string) ([]pattern.Pattern, error) {
	var out []pattern.Pattern
	err := m.withState(id, func(s *session, st *State) error {
		ctx := opContext(ctx, id, st)
		log := logger.FromContext(ctx)
		ids := st.Annotated.Members().Sorted()
		sents := make([]*annotation.Sentence, 0, len(ids))
		for _, sid := range ids {
			sent, err := st.Store.GetSentence(sid)
			if err != nil {
				log.Warn("annotated sentence unavailable, skipped", "sentence_id", sid, "error", err)
				continue
			}
			sents = append(sents, sent)
		}

		scorer := pattern.NewScorer(nil, pattern.Params{
			Alpha:               m.cfg.Bootstrap.Alpha,
			Threshold:           m.cfg.Bootstrap.Threshold,
			FullStringThreshold: m.cfg.Bootstrap.FullStringThreshold,
		}, m.metrics)
		st.Patterns = scorer.Score(ctx, sents, len(st.Labels))
		out = st.Patterns.Sorted()

		m.sink.Track(events.Event{
			Type:      events.TypePatternsUpdated,
			RequestID: logger.RequestID(ctx),
			SessionID: id,
			Username:  s.username,
			Dataset:   st.Dataset,
			Sentences: len(sents),
			Patterns:  len(out),
		})
		return nil
	})
	return out, err
}

func loadAll(st *State, ids []annotation.SentenceID) ([]*annotation.Sentence, error) {
	out := make([]*annotation.Sentence, 0, len(ids))
	for _, sid := range ids {
		sent, err := st.Store.GetSentence(sid)
		if err != nil {
			return nil, err
		}
		out = append(out, sent.Clone())
	}
	return out, nil
}
