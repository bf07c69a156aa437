package api

import (
	"net/http"

	"github.com/ashureev/tutorhub/internal/identity"
	"github.com/ashureev/tutorhub/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter assembles the HTTP surface: health, the REST API and the chat
// socket.
func NewRouter(h *Handler, chat *ChatSocketHandler, health *HealthHandler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(allowedOrigins))

	// Public routes.
	health.RegisterHealth(r)

	h.RegisterRoutes(r)

	r.With(identity.Middleware(h.users)).Get("/ws/chat", chat.ServeHTTP)

	return r
}
