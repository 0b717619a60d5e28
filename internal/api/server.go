package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/triage/internal/consultation"
	"github.com/MikeSquared-Agency/triage/internal/conversation"
	"github.com/MikeSquared-Agency/triage/internal/extractor"
)

// Consultations is the service surface the API exposes.
type Consultations interface {
	Create(ctx context.Context, provider string) (*consultation.Consultation, error)
	Get(ctx context.Context, id uuid.UUID) (*consultation.Consultation, error)
	HandleTurn(ctx context.Context, id uuid.UUID, text string) (*consultation.Reply, error)
	Extract(ctx context.Context, provider string, log conversation.Log) (extractor.TurnResult, error)
}

// Options configures optional parts of the server.
type Options struct {
	APIToken  string
	Providers []string
	Gatherer  prometheus.Gatherer
}

type Server struct {
	router *chi.Mux
	port   int
	svc    Consultations
	opts   Options
	http   *http.Server
}

func NewServer(port int, svc Consultations, opts Options) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		svc:    svc,
		opts:   opts,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}

	router.Get("/health", s.health)
	if opts.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(opts.APIToken))
		r.Get("/triage/status", s.status)
		r.Post("/consultations", s.createConsultation)
		r.Get("/consultations/{id}", s.getConsultation)
		r.Post("/consultations/{id}/turns", s.postTurn)
		r.Post("/extract", s.extract)
	})

	return s
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown is called.
// Start serves until Shutdown. A Shutdown that lands first makes Start
// return nil without listening.
func (s *Server) Start() error {
	slog.Info("API server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// BearerAuthMiddleware rejects requests without the configured bearer token.
// An empty token disables the check.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":     "triage",
		"status":    "active",
		"providers": s.opts.Providers,
	})
}

type createRequest struct {
	Provider string `json:"provider"`
}

func (s *Server) createConsultation(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	c, err := s.svc.Create(r.Context(), req.Provider)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) getConsultation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type turnRequest struct {
	Text string `json:"text"`
}

func (s *Server) postTurn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	reply, err := s.svc.HandleTurn(r.Context(), id, req.Text)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

type extractRequest struct {
	Provider string `json:"provider"`
	Messages []struct {
		Role    conversation.Role `json:"role"`
		Content string            `json:"content"`
	} `json:"messages"`
}

func (s *Server) extract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	log := make(conversation.Log, 0, len(req.Messages))
	for i, m := range req.Messages {
		if m.Role != conversation.RoleUser && m.Role != conversation.RoleAssistant {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("messages[%d]: unknown role %q", i, m.Role))
			return
		}
		log = append(log, conversation.Turn{Role: m.Role, Content: m.Content})
	}

	res, err := s.svc.Extract(r.Context(), req.Provider, log)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case consultation.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, consultation.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, consultation.ErrConsultationDone):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid consultation id")
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
