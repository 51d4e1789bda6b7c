// Package handler exposes the annotation session operations as a JSON
// HTTP API. Every call except login carries the session id in the
// X-Session-ID header.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/annotation"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/bootstrap/pattern"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/session"
	apperrors "github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/logger"
)

// SessionHeader carries the session id.
const SessionHeader = "X-Session-ID"

const maxBodyBytes = 1 << 20

// Sessions is the session manager as seen by the API.
type Sessions interface {
	Login(username string) (string, error)
	Logout(id string) error
	LoadDataset(ctx context.Context, id, dataset string) error
	Summary(ctx context.Context, id string) (session.Summary, error)
	Group(ctx context.Context, id, groupID string) (session.GroupView, error)
	Search(ctx context.Context, id, query string) (session.GroupView, error)
	AddSpan(ctx context.Context, id string, sentID annotation.SentenceID, start, end int, label annotation.Label, sentIDs []annotation.SentenceID) (session.EditResult, error)
	AddText(ctx context.Context, id, text string, label annotation.Label, sentIDs []annotation.SentenceID) (session.EditResult, error)
	AddTextAndSave(ctx context.Context, id, text string, label annotation.Label, groupID string) (session.SaveResult, error)
	RemoveToken(ctx context.Context, id string, sentID annotation.SentenceID, tok int) (*annotation.Sentence, bool, error)
	Save(ctx context.Context, id, groupID string, sentIDs []annotation.SentenceID) (session.SaveResult, error)
	UpdatePatterns(ctx context.Context, id string) ([]pattern.Pattern, error)
}

type Handler struct {
	sessions Sessions
	onLogout []func(sessionID string)
	logger   *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogoutHook registers fn to run with the session id after a
// successful logout, e.g. to release per-session rate limit state.
func WithLogoutHook(fn func(sessionID string)) Option {
	return func(h *Handler) { h.onLogout = append(h.onLogout, fn) }
}

func New(sessions Sessions, opts ...Option) *Handler {
	h := &Handler{
		sessions: sessions,
		logger:   slog.Default().With("component", "api-handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts every endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/login", h.Login)
	mux.HandleFunc("POST /api/v1/logout", h.Logout)
	mux.HandleFunc("POST /api/v1/datasets/{name}/load", h.LoadDataset)
	mux.HandleFunc("GET /api/v1/groups", h.Summary)
	mux.HandleFunc("GET /api/v1/groups/{term}", h.Group)
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/spans", h.AddSpan)
	mux.HandleFunc("POST /api/v1/text", h.AddText)
	mux.HandleFunc("POST /api/v1/text/save", h.AddTextAndSave)
	mux.HandleFunc("POST /api/v1/tokens/remove", h.RemoveToken)
	mux.HandleFunc("POST /api/v1/save", h.Save)
	mux.HandleFunc("POST /api/v1/patterns/update", h.UpdatePatterns)
}

type loginRequest struct {
	Username string `json:"username"`
}

type spanRequest struct {
	SentenceID  annotation.SentenceID   `json:"sentence_id"`
	Start       int                     `json:"start"`
	End         int                     `json:"end"`
	Label       annotation.Label        `json:"label"`
	SentenceIDs []annotation.SentenceID `json:"sentence_ids"`
}

type textRequest struct {
	Text        string                  `json:"text"`
	Label       annotation.Label        `json:"label"`
	SentenceIDs []annotation.SentenceID `json:"sentence_ids"`
	GroupID     string                  `json:"group_id"`
}

type removeTokenRequest struct {
	SentenceID annotation.SentenceID `json:"sentence_id"`
	Token      int                   `json:"token"`
}

type saveRequest struct {
	GroupID     string                  `json:"group_id"`
	SentenceIDs []annotation.SentenceID `json:"sentence_ids"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.sessions.Login(req.Username)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if err := h.sessions.Logout(id); err != nil {
		h.fail(w, r, err)
		return
	}
	for _, fn := range h.onLogout {
		fn(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) LoadDataset(w http.ResponseWriter, r *http.Request) {
	dataset := r.PathValue("name")
	if err := h.sessions.LoadDataset(h.ctx(r), sessionID(r), dataset); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"dataset": dataset, "status": "loaded"})
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.sessions.Summary(h.ctx(r), sessionID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) Group(w http.ResponseWriter, r *http.Request) {
	view, err := h.sessions.Group(h.ctx(r), sessionID(r), r.PathValue("term"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	view, err := h.sessions.Search(h.ctx(r), sessionID(r), query)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) AddSpan(w http.ResponseWriter, r *http.Request) {
	var req spanRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.SentenceIDs == nil {
		req.SentenceIDs = []annotation.SentenceID{req.SentenceID}
	}
	res, err := h.sessions.AddSpan(h.ctx(r), sessionID(r), req.SentenceID, req.Start, req.End, req.Label, req.SentenceIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) AddText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.sessions.AddText(h.ctx(r), sessionID(r), req.Text, req.Label, req.SentenceIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) AddTextAndSave(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.sessions.AddTextAndSave(h.ctx(r), sessionID(r), req.Text, req.Label, req.GroupID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) RemoveToken(w http.ResponseWriter, r *http.Request) {
	var req removeTokenRequest
	if !h.decode(w, r, &req) {
		return
	}
	sent, changed, err := h.sessions.RemoveToken(h.ctx(r), sessionID(r), req.SentenceID, req.Token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"sentence": sent, "changed": changed})
}

func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.sessions.Save(h.ctx(r), sessionID(r), req.GroupID, req.SentenceIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) UpdatePatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := h.sessions.UpdatePatterns(h.ctx(r), sessionID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"patterns": patterns})
}

func sessionID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(SessionHeader))
}

func (h *Handler) ctx(r *http.Request) context.Context {
	return logger.WithSessionID(r.Context(), sessionID(r))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// fail maps err to its status. Server-side failures are logged and their
// details withheld from the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(h.ctx(r)).Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if status == http.StatusInternalServerError && !errors.Is(err, apperrors.ErrConfigurationMissing) {
			h.writeError(w, status, "internal error")
			return
		}
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
