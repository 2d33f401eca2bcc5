// Package httpapi exposes chat sessions and turns over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rcliao/chat-memory/internal/assembler"
	"github.com/rcliao/chat-memory/internal/config"
	"github.com/rcliao/chat-memory/internal/ingest"
	"github.com/rcliao/chat-memory/internal/model"
	"github.com/rcliao/chat-memory/internal/observability"
	"github.com/rcliao/chat-memory/internal/session"
	"github.com/rcliao/chat-memory/internal/store"
)

// StatusClientClosedRequest is returned when the caller goes away mid-turn.
const StatusClientClosedRequest = 499

type Assembler interface {
	Turn(ctx context.Context, req assembler.TurnRequest) (assembler.TurnResult, error)
	Ingest(ctx context.Context, req assembler.IngestRequest) (assembler.TurnResult, error)
}

// Fetcher loads the readable text of a web page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (ingest.Page, error)
}

type Server struct {
	cfg       config.Config
	sessions  *session.Manager
	assembler Assembler
	history   store.History
	fetcher   Fetcher
	metrics   *observability.Metrics
	logger    *slog.Logger
}

func New(cfg config.Config, sessions *session.Manager, asm Assembler, history store.History, fetcher Fetcher, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		sessions:  sessions,
		assembler: asm,
		history:   history,
		fetcher:   fetcher,
		metrics:   metrics,
		logger:    logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Post("/v1/sessions/{id}/turns", s.handleTurn)
	r.Post("/v1/sessions/{id}/ingest", s.handleIngest)
	r.Post("/v1/sessions/{id}/end", s.handleEndSession)
	r.Get("/v1/users/{id}/history", s.handleHistory)
	r.Get("/v1/stats", s.handleStats)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

type createSessionRequest struct {
	UserID string `json:"user_id"`
}

type createSessionResponse struct {
	*session.Session
	InactivityTTLMS int64 `json:"inactivity_ttl_ms"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sess := s.sessions.Create(strings.TrimSpace(req.UserID))
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()
	s.logger.Info("session created", "session_id", sess.ID, "user_id", sess.UserID)

	respondJSON(w, http.StatusCreated, createSessionResponse{
		Session:         sess,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type turnRequest struct {
	Message     string   `json:"message"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	win, err := s.sessions.Window(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_active", err.Error())
		return
	}

	var req turnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	params := s.cfg.Params()
	if req.MaxTokens != nil {
		params.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		params.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		params.TopP = *req.TopP
	}

	_ = s.sessions.Touch(id)
	res, err := s.assembler.Turn(r.Context(), assembler.TurnRequest{
		UserID:  sess.UserID,
		Window:  win,
		Message: req.Message,
		Params:  params,
	})
	switch {
	case err == nil:
	case errors.Is(err, assembler.ErrInvalidParams):
		respondError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.logger.Info("turn cancelled", "session_id", id, "user_id", sess.UserID)
		respondError(w, StatusClientClosedRequest, "cancelled", err.Error())
		return
	default:
		s.logger.Error("turn failed", "session_id", id, "user_id", sess.UserID, "error", err)
		respondError(w, http.StatusInternalServerError, "turn_failed", err.Error())
		return
	}

	_ = s.sessions.RecordTurn(id)
	if res.Fallback {
		s.logger.Warn("turn answered with fallback", "session_id", id, "user_id", sess.UserID)
	}
	respondJSON(w, http.StatusOK, res)
}

type ingestRequest struct {
	URL string `json:"url"`
}

type ingestResponse struct {
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Response string `json:"response"`
	Fallback bool   `json:"fallback"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	win, err := s.sessions.Window(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_active", err.Error())
		return
	}

	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "url is required")
		return
	}

	_ = s.sessions.Touch(id)
	page, err := s.fetcher.Fetch(r.Context(), strings.TrimSpace(req.URL))
	switch {
	case err == nil:
	case errors.Is(err, ingest.ErrInvalidURL):
		respondError(w, http.StatusBadRequest, "invalid_url", err.Error())
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, StatusClientClosedRequest, "cancelled", err.Error())
		return
	default:
		s.logger.Warn("page fetch failed", "session_id", id, "url", req.URL, "error", err)
		respondError(w, http.StatusBadGateway, "fetch_failed", err.Error())
		return
	}

	res, err := s.assembler.Ingest(r.Context(), assembler.IngestRequest{
		UserID:  sess.UserID,
		Window:  win,
		URL:     page.URL,
		Content: page.Text,
	})
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.logger.Info("ingest cancelled", "session_id", id, "user_id", sess.UserID)
		respondError(w, StatusClientClosedRequest, "cancelled", err.Error())
		return
	default:
		s.logger.Error("ingest failed", "session_id", id, "user_id", sess.UserID, "error", err)
		respondError(w, http.StatusInternalServerError, "ingest_failed", err.Error())
		return
	}

	_ = s.sessions.RecordTurn(id)
	s.logger.Info("page ingested", "session_id", id, "user_id", sess.UserID, "url", page.URL, "fallback", res.Fallback)
	respondJSON(w, http.StatusOK, ingestResponse{
		URL:      page.URL,
		Title:    page.Title,
		Response: res.Response,
		Fallback: res.Fallback,
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	s.logger.Info("session ended", "session_id", sess.ID, "user_id", sess.UserID, "turns", sess.Turns)
	respondJSON(w, http.StatusOK, sess)
}

type historyResponse struct {
	UserID   string          `json:"user_id"`
	Messages []model.Message `json:"messages"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	msgs, err := s.history.Load(r.Context(), userID)
	if err != nil {
		s.logger.Error("history load failed", "user_id", userID, "error", err)
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	respondJSON(w, http.StatusOK, historyResponse{UserID: userID, Messages: msgs})
}

type statsResponse struct {
	*store.Stats
	ActiveSessions int `json:"active_sessions"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.history.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, statsResponse{Stats: st, ActiveSessions: s.sessions.ActiveCount()})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
