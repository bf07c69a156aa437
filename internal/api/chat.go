package api

import (
	"net/http"

	"github.com/ashureev/tutorhub/internal/domain"
	"github.com/ashureev/tutorhub/internal/identity"
	"github.com/ashureev/tutorhub/internal/tutor"
	"github.com/go-chi/chi/v5"
)

// ChatRequest is one user message.
type ChatRequest struct {
	Content string `json:"content"`
}

// TurnResponse carries both transcript entries written by a turn.
type TurnResponse struct {
	UserMessage      *domain.ChatMessage `json:"user_message"`
	AssistantMessage *domain.ChatMessage `json:"assistant_message"`
}

func newTurnResponse(msgs []*domain.ChatMessage) TurnResponse {
	var resp TurnResponse
	if len(msgs) == 2 {
		resp.UserMessage, resp.AssistantMessage = msgs[0], msgs[1]
	}
	return resp
}

// SendMessage handles POST /api/v1/sessions/{sessionID}/chat.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	user := identity.UserFromContext(r.Context())

	// Keyed by user, not session, so rotating sessions does not bypass it.
	if h.limiter != nil && !h.limiter.Allow(user.ID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req ChatRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	msgs, err := h.svc.ProcessTurn(r.Context(), user, chi.URLParam(r, "sessionID"), req.Content)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, newTurnResponse(msgs))
}

// ChatHistory handles GET /api/v1/sessions/{sessionID}/chat.
func (h *Handler) ChatHistory(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := pageParams(r, tutor.DefaultHistoryPage)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	history, err := h.svc.History(r.Context(), identity.UserFromContext(r.Context()), chi.URLParam(r, "sessionID"), skip, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, history)
}
