// Package identity resolves the calling user from the gateway-supplied
// user header.
package identity

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/ashureev/tutorhub/internal/domain"
)

// UserHeaderName carries the authenticated user ID set by the upstream gateway.
const UserHeaderName = "X-Tutor-User-ID"

type contextKey int

const userKey contextKey = iota

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)

// UserGetter loads users by ID. It returns (nil, nil) for unknown IDs.
type UserGetter interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext extracts the authenticated user from the request context.
func UserFromContext(ctx context.Context) *domain.User {
	if v, ok := ctx.Value(userKey).(*domain.User); ok {
		return v
	}
	return nil
}

// UserIDFromContext extracts the authenticated user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if u := UserFromContext(ctx); u != nil {
		return u.ID
	}
	return ""
}

func userIDFromRequest(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(UserHeaderName))
	if id == "" || !userIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// Middleware loads the calling user and stores it in the request context.
// Missing or unknown users get 401, deactivated users 403.
func Middleware(users UserGetter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := userIDFromRequest(r)
			if userID == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			user, err := users.GetUser(r.Context(), userID)
			if err != nil {
				slog.Error("Failed to load user", "error", err, "user_id", userID)
				writeError(w, http.StatusInternalServerError, "failed to load user")
				return
			}
			if user == nil {
				writeError(w, http.StatusUnauthorized, "user not found")
				return
			}
			if !user.IsActive {
				writeError(w, http.StatusForbidden, "inactive user")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequireAdmin rejects callers that are not administrators. It must run
// after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())
		if user == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !user.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin privileges required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}` + "\n"))
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
