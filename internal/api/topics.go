package api

import (
	"net/http"

	"github.com/ashureev/tutorhub/internal/store"
	"github.com/go-chi/chi/v5"
)

// ListTopics handles GET /api/v1/topics.
func (h *Handler) ListTopics(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := pageParams(r, store.MaxPageSize)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	topics, err := h.svc.ListTopics(r.Context(), r.URL.Query().Get("parent_id"), skip, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, topics)
}

// GetTopic handles GET /api/v1/topics/{topicID}.
func (h *Handler) GetTopic(w http.ResponseWriter, r *http.Request) {
	topic, err := h.svc.GetTopic(r.Context(), chi.URLParam(r, "topicID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, topic)
}

// GetTopicTree handles GET /api/v1/topics/{topicID}/tree.
func (h *Handler) GetTopicTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.svc.TopicTree(r.Context(), chi.URLParam(r, "topicID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, tree)
}
