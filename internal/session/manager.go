package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/annotation"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/annotation/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/bootstrap/group"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/bootstrap/pattern"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/events"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/store"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/termindex"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/tracing"
	"golang.org/x/sync/singleflight"
)

// session is one logged-in user. mu serialises every operation on it.
type session struct {
	mu       sync.Mutex
	id       string
	username string
	state    *State
	closed   bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithEventSink publishes session activity.
func WithEventSink(sink EventSink) Option {
	return func(m *Manager) { m.sink = sink }
}

// WithMetrics records session and bootstrapping metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithResultCache supplies the shared result cache of each dataset.
func WithResultCache(cacheFor func(dataset string) store.ResultCache) Option {
	return func(m *Manager) { m.cacheFor = cacheFor }
}

// WithRetry overrides how persistence calls are retried.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(m *Manager) { m.retry = cfg }
}

// Manager owns all sessions. Corpus indexes are built once per dataset and
// shared read-only between sessions; everything else is per session.
type Manager struct {
	cfg      *config.Config
	repo     Repository
	sink     EventSink
	metrics  *metrics.Metrics
	cacheFor func(dataset string) store.ResultCache
	retry    resilience.RetryConfig
	editor   *annotation.Editor
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
	indexes  map[string]*termindex.MemoryIndex
	loads    singleflight.Group
}

func NewManager(cfg *config.Config, repo Repository, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		repo:     repo,
		sink:     nopSink{},
		retry:    resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, Retryable: transient},
		editor:   annotation.NewEditor(),
		logger:   slog.Default().With("component", "session-manager"),
		sessions: make(map[string]*session),
		indexes:  make(map[string]*termindex.MemoryIndex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Login opens a session for username and returns its id.
func (m *Manager) Login(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", fmt.Errorf("username is required: %w", apperrors.ErrInvalidInput)
	}
	id, err := newSessionID()
	if err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}

	m.mu.Lock()
	m.sessions[id] = &session{id: id, username: username}
	m.mu.Unlock()

	m.metrics.SessionOpened()
	m.sink.Track(events.Event{Type: events.TypeSessionStarted, SessionID: id, Username: username})
	m.logger.Info("session started", "session_id", id, "username", username)
	return id, nil
}

// Logout destroys the session and its state.
func (m *Manager) Logout(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return apperrors.ErrSessionNotFound
	}

	s.mu.Lock()
	s.closed = true
	s.state = nil
	s.mu.Unlock()

	m.metrics.SessionClosed()
	m.sink.Track(events.Event{Type: events.TypeSessionEnded, SessionID: id, Username: s.username})
	m.logger.Info("session ended", "session_id", id, "username", s.username)
	return nil
}

// Username returns the user of a session.
func (m *Manager) Username(id string) (string, error) {
	s, err := m.lookup(id)
	if err != nil {
		return "", err
	}
	return s.username, nil
}

// LoadDataset builds fresh state for dataset: seed terms from the
// configuration, the user's saved annotations from the repository, and the
// initial groups. Any previously loaded state of the session is replaced.
func (m *Manager) LoadDataset(ctx context.Context, id, dataset string) error {
	s, err := m.lock(id)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	ctx, span := tracing.Start(logger.WithDataset(logger.WithSessionID(ctx, id), dataset), "session.load_dataset")
	defer span.End()
	span.SetAttr("dataset", dataset)
	log := logger.FromContext(ctx)

	dcfg, err := m.cfg.Dataset(dataset)
	if err != nil {
		return err
	}
	if len(dcfg.Labels) == 0 {
		return apperrors.ConfigurationMissing("dataset %q has no labels", dataset)
	}

	index, err := m.corpusIndex(ctx, dataset)
	if err != nil {
		return err
	}
	storeOpts := []store.Option{store.WithMetrics(m.metrics)}
	if m.cacheFor != nil {
		if c := m.cacheFor(dataset); c != nil {
			storeOpts = append(storeOpts, store.WithResultCache(c))
		}
	}

	st := &State{
		Dataset:   dataset,
		Labels:    dcfg.Labels,
		Terms:     annotation.NewTermSet(),
		Groups:    make(group.Groups),
		Annotated: make(annotation.TermIndex),
		Patterns:  make(pattern.Table),
		Stemmer:   tokenizer.NewStemmer(dcfg.Suffixes),
		Store:     store.New(index, storeOpts...),
	}
	for _, t := range dcfg.Terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			st.Terms.Add(annotation.Term(t))
		}
	}

	var saved struct {
		index annotation.TermIndex
		spans map[annotation.SentenceID][]annotation.Span
	}
	err = resilience.Retry(ctx, "load-annotations", m.retry, func() error {
		a, err := m.repo.LoadAnnotations(ctx, dataset, s.username)
		saved.index, saved.spans = a.Index, a.Spans
		return err
	})
	if err != nil {
		return fmt.Errorf("loading annotations of %s: %w", s.username, err)
	}

	restored := 0
	for sid, spans := range saved.spans {
		sent, err := st.Store.GetSentence(sid)
		if err != nil {
			log.Warn("saved sentence not in corpus, skipped", "sentence_id", sid, "error", err)
			continue
		}
		for _, sp := range spans {
			if m.editor.ApplySpan(sent, sp).Applied() {
				st.Terms.Add(st.Stemmer.Stem(sent.Surface(sp)))
			}
		}
		st.Store.Put(sent)
		restored++
	}
	for term, ids := range saved.index {
		st.Annotated[term] = ids.Clone()
		st.Groups[term] = ids.Clone()
	}

	builder := group.NewBuilder(st.Store, m.cfg.Bootstrap.TopK, m.metrics)
	builder.Update(ctx, st.Terms, st.Groups)

	s.state = st
	m.sink.Track(events.Event{
		Type:      events.TypeDatasetLoaded,
		RequestID: logger.RequestID(ctx),
		SessionID: id,
		Username:  s.username,
		Dataset:   dataset,
		Sentences: restored,
		Terms:     termStrings(st.Terms.Sorted()),
	})
	log.Info("dataset loaded",
		"terms", len(st.Terms),
		"groups", len(st.Groups),
		"restored_sentences", restored,
	)
	return nil
}

// corpusIndex returns the shared index of dataset, building it on first use.
func (m *Manager) corpusIndex(ctx context.Context, dataset string) (*termindex.MemoryIndex, error) {
	m.mu.RLock()
	idx, ok := m.indexes[dataset]
	m.mu.RUnlock()
	if ok {
		return idx, nil
	}

	v, err, _ := m.loads.Do(dataset, func() (interface{}, error) {
		m.mu.RLock()
		idx, ok := m.indexes[dataset]
		m.mu.RUnlock()
		if ok {
			return idx, nil
		}
		var sents []*annotation.Sentence
		err := resilience.Retry(ctx, "load-corpus", m.retry, func() error {
			var err error
			sents, err = m.repo.LoadCorpus(ctx, dataset)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("loading corpus %s: %w", dataset, err)
		}
		if len(sents) == 0 {
			m.logger.Warn("corpus is empty", "dataset", dataset)
		}
		idx = termindex.NewMemoryIndex()
		idx.AddAll(sents)

		m.mu.Lock()
		m.indexes[dataset] = idx
		m.mu.Unlock()
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*termindex.MemoryIndex), nil
}

func (m *Manager) lookup(id string) (*session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.ErrSessionNotFound
	}
	return s, nil
}

// lock returns the session locked. Callers must unlock it.
func (m *Manager) lock(id string) (*session, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, apperrors.ErrSessionNotFound
	}
	return s, nil
}

// withState runs fn under the session lock with its loaded state.
func (m *Manager) withState(id string, fn func(s *session, st *State) error) error {
	s, err := m.lock(id)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	if s.state == nil {
		return apperrors.ErrDatasetNotLoaded
	}
	return fn(s, s.state)
}

// opContext tags ctx with the session and its dataset for logging.
func opContext(ctx context.Context, id string, st *State) context.Context {
	return logger.WithDataset(logger.WithSessionID(ctx, id), st.Dataset)
}

// ActiveSessions is the number of logged-in sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func newSessionID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

func termStrings(terms []annotation.Term) []string {
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = string(t)
	}
	return out
}

// transient reports whether a persistence error may succeed on retry.
// Caller mistakes and cancellation never will.
func transient(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, apperrors.ErrInvalidInput),
		errors.Is(err, apperrors.ErrConfigurationMissing),
		errors.Is(err, apperrors.ErrSentenceNotFound):
		return false
	}
	return true
}
