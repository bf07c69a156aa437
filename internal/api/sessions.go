package api

import (
	"net/http"
	"strings"

	"github.com/ashureev/tutorhub/internal/identity"
	"github.com/ashureev/tutorhub/internal/store"
	"github.com/ashureev/tutorhub/internal/tutor"
	"github.com/go-chi/chi/v5"
)

const defaultSessionPage = 20

type createSessionRequest struct {
	TopicID string `json:"topic_id"`
}

type updateSessionRequest struct {
	Duration        *int           `json:"duration"`
	FeedbackScore   *int           `json:"feedback_score"`
	CompletionRate  *float64       `json:"completion_rate"`
	InteractionData map[string]any `json:"interaction_data"`
}

func (h *Handler) readTopicID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req createSessionRequest
	if !h.decodeJSON(w, r, &req) {
		return "", false
	}
	req.TopicID = strings.TrimSpace(req.TopicID)
	if req.TopicID == "" {
		Error(w, http.StatusBadRequest, "topic_id is required")
		return "", false
	}
	return req.TopicID, true
}

// CreateSession handles POST /api/v1/sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	topicID, ok := h.readTopicID(w, r)
	if !ok {
		return
	}
	user := identity.UserFromContext(r.Context())

	sess, err := h.svc.CreateSession(r.Context(), user, topicID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, sess)
}

// ResumeSession handles POST /api/v1/sessions/resume. It returns the active
// session for the topic, or a new one with status 201.
func (h *Handler) ResumeSession(w http.ResponseWriter, r *http.Request) {
	topicID, ok := h.readTopicID(w, r)
	if !ok {
		return
	}
	user := identity.UserFromContext(r.Context())

	sess, created, err := h.svc.GetOrCreateSession(r.Context(), user, topicID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	JSON(w, status, sess)
}

// ListMySessions handles GET /api/v1/sessions/me.
func (h *Handler) ListMySessions(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := pageParams(r, defaultSessionPage)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	user := identity.UserFromContext(r.Context())

	sessions, err := h.svc.ListSessions(r.Context(), user, r.URL.Query().Get("topic_id"), skip, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, sessions)
}

// ListAllSessions handles GET /api/v1/sessions/all (admin only).
func (h *Handler) ListAllSessions(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := pageParams(r, defaultSessionPage)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	q := r.URL.Query()

	sessions, err := h.svc.ListAllSessions(r.Context(), store.SessionFilter{
		UserID:  q.Get("user_id"),
		TopicID: q.Get("topic_id"),
		Skip:    skip,
		Limit:   limit,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, sessions)
}

// SessionStats handles GET /api/v1/sessions/stats/summary.
func (h *Handler) SessionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context(), identity.UserFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, stats)
}

// GetSession handles GET /api/v1/sessions/{sessionID}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetSession(r.Context(), identity.UserFromContext(r.Context()), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// UpdateSession handles PUT /api/v1/sessions/{sessionID}.
func (h *Handler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	var req updateSessionRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	sess, err := h.svc.UpdateSession(r.Context(), identity.UserFromContext(r.Context()), chi.URLParam(r, "sessionID"), tutor.SessionUpdate{
		Duration:        req.Duration,
		FeedbackScore:   req.FeedbackScore,
		CompletionRate:  req.CompletionRate,
		InteractionData: req.InteractionData,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, sess)
}

// DisableSession handles POST /api/v1/sessions/{sessionID}/disable. The
// session is retired and a fresh one on the same topic is returned.
func (h *Handler) DisableSession(w http.ResponseWriter, r *http.Request) {
	oldID := chi.URLParam(r, "sessionID")
	sess, err := h.svc.DisableAndRecreate(r.Context(), identity.UserFromContext(r.Context()), oldID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if h.sockets != nil {
		h.sockets.CloseSession(oldID)
	}
	JSON(w, http.StatusCreated, sess)
}
