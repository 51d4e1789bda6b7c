package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/annotation"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/events"
	apperrors "github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/tracing"
)

const persistTimeout = 10 * time.Second

// SaveResult reports what a save committed.
type SaveResult struct {
	GroupID   string            `json:"group_id"`
	Annotated int               `json:"annotated"`
	Spans     int               `json:"spans"`
	NewTerms  []annotation.Term `json:"new_terms"`
}

// Save commits the spans of sentIDs. The stemmed surface of every span
// becomes a term, and the sentences carrying spans are recorded as the
// annotated set of groupID unless it is blank or a search group. The user's
// annotations are then persisted.
func (m *Manager) Save(ctx context.Context, id, groupID string, sentIDs []annotation.SentenceID) (SaveResult, error) {
	var res SaveResult
	err := m.withState(id, func(s *session, st *State) error {
		var err error
		res, err = m.save(opContext(ctx, id, st), s, st, groupID, sentIDs)
		return err
	})
	return res, err
}

// AddTextAndSave labels text across the whole of group groupID and saves
// the group.
func (m *Manager) AddTextAndSave(ctx context.Context, id, text string, label annotation.Label, groupID string) (SaveResult, error) {
	var res SaveResult
	err := m.withState(id, func(s *session, st *State) error {
		members, ok := st.Groups[annotation.Term(groupID)]
		if !ok {
			return fmt.Errorf("group %q: %w", groupID, apperrors.ErrGroupNotFound)
		}
		ctx := opContext(ctx, id, st)
		ids := members.Sorted()
		if _, err := m.addText(ctx, st, text, label, ids); err != nil {
			return err
		}
		var err error
		res, err = m.save(ctx, s, st, groupID, ids)
		return err
	})
	return res, err
}

func (m *Manager) save(ctx context.Context, s *session, st *State, groupID string, sentIDs []annotation.SentenceID) (SaveResult, error) {
	ctx, span := tracing.Start(ctx, "session.save")
	defer span.End()

	res := SaveResult{GroupID: groupID, NewTerms: []annotation.Term{}}
	sents := make([]*annotation.Sentence, 0, len(sentIDs))
	annotated := make(annotation.SentenceSet)
	for _, sid := range sentIDs {
		sent, err := st.Store.GetSentence(sid)
		if err != nil {
			return res, err
		}
		for _, sp := range sent.Spans {
			term := st.Stemmer.Stem(sent.Surface(sp))
			if term != "" && st.Terms.Add(term) {
				res.NewTerms = append(res.NewTerms, term)
			}
		}
		if sent.HasSpans() {
			annotated.Add(sid)
			res.Spans += len(sent.Spans)
		}
		sents = append(sents, sent.Clone())
	}
	res.Annotated = annotated.Len()

	if !isSpecialGroup(groupID) {
		st.Annotated[annotation.Term(strings.TrimSpace(groupID))] = annotated
	}

	snapshot := st.Annotated.Clone()
	err := resilience.Retry(ctx, "save-annotations", m.retry, func() error {
		return resilience.WithTimeout(ctx, persistTimeout, "save-annotations", func(ctx context.Context) error {
			return m.repo.SaveAnnotations(ctx, st.Dataset, s.username, snapshot, sents)
		})
	})
	if err != nil {
		return res, fmt.Errorf("persisting annotations: %w", err)
	}

	span.SetAttr("annotated", res.Annotated)
	span.SetAttr("new_terms", len(res.NewTerms))
	m.sink.Track(events.Event{
		Type:      events.TypeAnnotationCommitted,
		RequestID: logger.RequestID(ctx),
		SessionID: s.id,
		Username:  s.username,
		Dataset:   st.Dataset,
		GroupID:   groupID,
		Sentences: res.Annotated,
		Spans:     res.Spans,
		Terms:     termStrings(res.NewTerms),
	})
	logger.FromContext(ctx).Info("group saved",
		"group_id", groupID,
		"sentences", len(sentIDs),
		"annotated", res.Annotated,
		"new_terms", len(res.NewTerms),
	)
	return res, nil
}
