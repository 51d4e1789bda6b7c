package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/session"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type client struct {
	t       *testing.T
	server  *httptest.Server
	session string
}

func newTestClient(t *testing.T, opts ...Option) *client {
	t.Helper()
	repo := corpus.NewMemoryRepository()
	require.NoError(t, repo.Import(context.Background(), "news", []corpus.Document{{
		ID: "d",
		Sentences: [][]string{
			{"Paris", "is", "lovely"},
			{"London", "and", "Paris"},
			{"London", "is", "rainy"},
		},
	}}))
	cfg := config.Default()
	cfg.Datasets = []config.DatasetConfig{{
		Name:   "news",
		Terms:  []string{"paris", "london"},
		Labels: []config.LabelConfig{{Name: "LOC"}, {Name: "PER"}},
	}}

	mux := http.NewServeMux()
	New(session.NewManager(cfg, repo), opts...).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &client{t: t, server: srv}
}

func (c *client) do(method, path string, body any, out any) int {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, c.server.URL+path, &buf)
	require.NoError(c.t, err)
	if c.session != "" {
		req.Header.Set(SessionHeader, c.session)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (c *client) login(user string) {
	c.t.Helper()
	var resp map[string]string
	require.Equal(c.t, http.StatusCreated, c.do(http.MethodPost, "/api/v1/login", map[string]string{"username": user}, &resp))
	c.session = resp["session_id"]
	require.NotEmpty(c.t, c.session)
}

func TestAnnotationFlow(t *testing.T) {
	c := newTestClient(t)
	c.login("alice")

	assert.Equal(t, http.StatusConflict, c.do(http.MethodGet, "/api/v1/groups", nil, nil))
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/v1/datasets/news/load", nil, nil))

	var group session.GroupView
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/v1/groups/paris", nil, &group))
	assert.Len(t, group.Sentences, 2)

	var saved session.SaveResult
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/v1/text/save",
		map[string]string{"text": "Paris", "label": "LOC", "group_id": "paris"}, &saved))
	assert.Equal(t, 2, saved.Annotated)

	var sum session.Summary
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/v1/groups", nil, &sum))
	require.Len(t, sum.Annotated, 1)
	assert.Equal(t, "paris", string(sum.Annotated[0].Term))
	assert.Equal(t, 2, sum.AnnotatedSentences)

	var found session.GroupView
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/v1/search?q=rainy", nil, &found))
	assert.Equal(t, session.SpecialGroupPrefix+"rainy", found.GroupID)
	require.Len(t, found.Sentences, 1)

	var edit session.EditResult
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/v1/spans",
		map[string]any{"sentence_id": "d:2", "start": 0, "end": 1, "label": "LOC"}, &edit))
	assert.Equal(t, "London", edit.Text)
	assert.Equal(t, 1, edit.Candidates)

	var removed struct {
		Changed bool `json:"changed"`
	}
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/v1/tokens/remove",
		map[string]any{"sentence_id": "d:2", "token": 0}, &removed))
	assert.True(t, removed.Changed)

	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/v1/text",
		map[string]any{"text": "London", "label": "LOC", "sentence_ids": []string{"d:1", "d:2"}}, &edit))
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/v1/save",
		map[string]any{"group_id": "london", "sentence_ids": []string{"d:1", "d:2"}}, &saved))
	assert.Equal(t, 2, saved.Annotated)

	var patterns struct {
		Patterns []map[string]any `json:"patterns"`
	}
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/v1/patterns/update", nil, &patterns))
	assert.NotEmpty(t, patterns.Patterns)

	assert.Equal(t, http.StatusNoContent, c.do(http.MethodPost, "/api/v1/logout", nil, nil))
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/api/v1/groups", nil, nil))
}

func TestErrors(t *testing.T) {
	c := newTestClient(t)

	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/api/v1/login", map[string]string{"username": ""}, nil))
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/api/v1/login", map[string]string{"user": "x"}, nil))
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodPost, "/api/v1/datasets/news/load", nil, nil))

	c.login("alice")
	assert.Equal(t, http.StatusInternalServerError, c.do(http.MethodPost, "/api/v1/datasets/absent/load", nil, nil))
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/v1/datasets/news/load", nil, nil))

	assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/api/v1/groups/tokyo", nil, nil))
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/api/v1/search?q=", nil, nil))
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodPost, "/api/v1/text/save",
		map[string]string{"text": "Paris", "label": "LOC", "group_id": "tokyo"}, nil))
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/api/v1/spans",
		map[string]any{"sentence_id": "d:0", "start": 2, "end": 1, "label": "LOC"}, nil))
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodPost, "/api/v1/tokens/remove",
		map[string]any{"sentence_id": "x:9", "token": 0}, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, c.do(http.MethodGet, "/api/v1/save", nil, nil))
}

func TestLogoutReleasesRateLimitState(t *testing.T) {
	limiter := ratelimit.New(100, time.Minute)
	c := newTestClient(t, WithLogoutHook(limiter.Reset))

	assert.Equal(t, http.StatusNotFound, c.do(http.MethodPost, "/api/v1/logout", nil, nil))

	c.login("alice")
	require.True(t, limiter.Allow(c.session))
	limiter.Allow("other-session")
	require.Equal(t, 2, limiter.Len())

	assert.Equal(t, http.StatusNoContent, c.do(http.MethodPost, "/api/v1/logout", nil, nil))
	assert.Equal(t, 1, limiter.Len(), "only the logged-out session is released")
}
