package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/tmplhub/tmplhub/internal/auth"
	"github.com/tmplhub/tmplhub/internal/storage"
)

// SessionCookie carries the opaque session token.
const SessionCookie = "tmplhub_session"

type contextKey int

const userContextKey contextKey = iota

// SessionAuth validates the session cookie and injects the user into the
// request context. Missing, revoked, and expired sessions all produce the
// same 401.
func SessionAuth(sessions *auth.Sessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookie)
			if err != nil {
				httpError(w, http.StatusUnauthorized, "authentication_error", "authentication required")
				return
			}
			user, err := sessions.Validate(cookie.Value)
			if errors.Is(err, auth.ErrInvalidSession) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or expired session")
				return
			}
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "validating session failed")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
		})
	}
}

// userFrom returns the authenticated user injected by SessionAuth.
func userFrom(ctx context.Context) (storage.User, bool) {
	user, ok := ctx.Value(userContextKey).(storage.User)
	return user, ok
}

// optionalUser resolves the session if a cookie is present, without
// requiring one. Used by public read paths that personalize when they can.
func optionalUser(r *http.Request, sessions *auth.Sessions) (storage.User, bool) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return storage.User{}, false
	}
	user, err := sessions.Validate(cookie.Value)
	if err != nil {
		return storage.User{}, false
	}
	return user, true
}

// CORS allows the configured frontend origin with credentials.
func CORS(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
