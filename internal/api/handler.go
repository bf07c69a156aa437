// Package api provides HTTP handlers for the tutoring API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/tutorhub/internal/config"
	"github.com/ashureev/tutorhub/internal/domain"
	"github.com/ashureev/tutorhub/internal/identity"
	"github.com/ashureev/tutorhub/internal/tutor"
	"github.com/go-chi/chi/v5"
)

const defaultMaxRequestBodySize = 1 << 20

// Handler serves the /api/v1 routes.
type Handler struct {
	svc         *tutor.Service
	users       identity.UserGetter
	limiter     *RateLimiter
	sockets     *SocketRegistry
	maxBodySize int64
}

// NewHandler creates a new Handler. limiter, sockets and cfg may be nil.
func NewHandler(svc *tutor.Service, users identity.UserGetter, limiter *RateLimiter, sockets *SocketRegistry, cfg *config.Config) *Handler {
	maxBody := int64(defaultMaxRequestBodySize)
	if cfg != nil {
		maxBody = cfg.MaxRequestBodySize
	}
	return &Handler{
		svc:         svc,
		users:       users,
		limiter:     limiter,
		sockets:     sockets,
		maxBodySize: maxBody,
	}
}

// RegisterRoutes registers the API routes behind the identity middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(identity.Middleware(h.users))

		r.Route("/topics", func(r chi.Router) {
			r.Get("/", h.ListTopics)
			r.Get("/{topicID}", h.GetTopic)
			r.Get("/{topicID}/tree", h.GetTopicTree)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.CreateSession)
			r.Post("/resume", h.ResumeSession)
			r.Get("/me", h.ListMySessions)
			r.With(identity.RequireAdmin).Get("/all", h.ListAllSessions)
			r.Get("/stats/summary", h.SessionStats)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Put("/", h.UpdateSession)
				r.Post("/disable", h.DisableSession)
				r.Get("/chat", h.ChatHistory)
				r.Post("/chat", h.SendMessage)
			})
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// conflictBody is returned with 409 so clients can resume the existing session.
type conflictBody struct {
	Error          string  `json:"error"`
	SessionID      string  `json:"session_id"`
	CompletionRate float64 `json:"completion_rate"`
}

// writeServiceError maps tutoring errors to HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		JSON(w, http.StatusConflict, conflictBody{
			Error:          "active session already exists",
			SessionID:      conflict.SessionID,
			CompletionRate: conflict.CompletionRate,
		})
		return
	}
	if errors.Is(err, context.Canceled) {
		slog.Debug("Request canceled", "path", r.URL.Path)
		return
	}
	status, message := classifyError(err, r.URL.Path)
	Error(w, status, message)
}

// classifyError returns the status and client-facing message for err and
// logs the failures that are not the caller's fault.
func classifyError(err error, path string) (int, string) {
	var (
		notFound   *domain.NotFoundError
		conflict   *domain.ConflictError
		validation *domain.ValidationError
		provider   *domain.ProviderError
		misconfig  *domain.ConfigurationError
	)

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, notFound.Error()
	case errors.As(err, &conflict):
		return http.StatusConflict, "active session already exists"
	case errors.As(err, &validation):
		return http.StatusBadRequest, validation.Error()
	case errors.As(err, &provider):
		slog.Warn("Provider call failed", "error", err, "path", path)
		return http.StatusBadGateway, "tutor is unavailable, please try again"
	case errors.As(err, &misconfig):
		slog.Error("Agent misconfigured", "error", err, "agent_id", misconfig.AgentID)
		return http.StatusInternalServerError, "tutor is misconfigured"
	default:
		slog.Error("Request failed", "error", err, "path", path)
		return http.StatusInternalServerError, "internal error"
	}
}

// decodeJSON reads a size-limited JSON body into v.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// pageParams reads skip and limit query parameters.
func pageParams(r *http.Request, defaultLimit int) (skip, limit int, err error) {
	q := r.URL.Query()
	skip, err = intParam(q.Get("skip"), 0, "skip")
	if err != nil {
		return 0, 0, err
	}
	limit, err = intParam(q.Get("limit"), defaultLimit, "limit")
	if err != nil {
		return 0, 0, err
	}
	return skip, limit, nil
}

func intParam(raw string, fallback int, name string) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &domain.ValidationError{Field: name, Message: "must be an integer"}
	}
	return n, nil
}
