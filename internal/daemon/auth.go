package daemon

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"clipstitch/internal/services"
)

// Header names set by the external auth collaborator.
const (
	headerPrincipal   = "X-Principal"
	headerPermissions = "X-Permissions"
	headerRequestID   = "X-Request-ID"
)

type principalKey struct{}

// authMiddleware returns a middleware that validates bearer tokens.
// If token is empty, no authentication is required and all requests pass through.
// Otherwise, requests must include "Authorization: Bearer <token>" header.
func authMiddleware(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
			writeUnauthorized(w, "missing or invalid bearer token")
			return
		}
		next(w, r)
	}
}

// principalMiddleware resolves the caller identity forwarded by the auth
// layer. Requests without a principal are rejected.
func principalMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerPrincipal))
		if id == "" {
			writeUnauthorized(w, "missing principal")
			return
		}
		p := services.Principal{ID: id, Permissions: services.ParsePermissions(r.Header.Get(headerPermissions))}
		next(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	}
}

func principalFrom(r *http.Request) services.Principal {
	p, _ := r.Context().Value(principalKey{}).(services.Principal)
	return p
}

// requestIDMiddleware tags every request with an id for log correlation,
// honouring one supplied by the caller.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","message":"` + message + `"}` + "\n"))
}
