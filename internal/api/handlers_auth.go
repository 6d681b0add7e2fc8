package api

import (
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/tmplhub/tmplhub/internal/storage"
)

const oauthStateTTL = 10 * time.Minute

func handleLogin(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := uuid.New().String()
		deps.States.Set("oauth:"+state, "1", oauthStateTTL)

		redirectURI := deps.PublicURL + "/auth/github/callback"
		http.Redirect(w, r, deps.GitHub.AuthorizeURL(state, redirectURI), http.StatusFound)
	}
}

// handleCallback finishes the OAuth flow. Provider errors never reach the
// client as raw messages: every failure redirects to the frontend error page
// with an opaque code.
func handleCallback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fail := func(code string) {
			http.Redirect(w, r, deps.FrontendOrigin+"/auth/error?code="+url.QueryEscape(code), http.StatusFound)
		}

		if r.URL.Query().Get("error") != "" {
			fail("provider_denied")
			return
		}

		state := r.URL.Query().Get("state")
		code := r.URL.Query().Get("code")
		if state == "" || code == "" {
			fail("invalid_request")
			return
		}

		// State is single-use: consume it whether or not the rest succeeds.
		if _, ok := deps.States.Get("oauth:" + state); !ok {
			fail("invalid_state")
			return
		}
		deps.States.Delete("oauth:" + state)

		token, err := deps.GitHub.Exchange(r.Context(), code)
		if err != nil {
			fail("exchange_failed")
			return
		}

		ghUser, err := deps.GitHub.FetchUser(r.Context(), token)
		if err != nil {
			fail("profile_failed")
			return
		}

		user, err := deps.Store.UpsertOAuthUser(storage.User{
			ID:        ghUser.ID,
			Email:     ghUser.Email,
			Name:      ghUser.Name,
			AvatarURL: ghUser.AvatarURL,
		})
		if err != nil {
			fail("login_failed")
			return
		}

		sess, err := deps.Sessions.Issue(user.ID, clientIP(r), r.UserAgent())
		if err != nil {
			fail("login_failed")
			return
		}

		http.SetCookie(w, sessionCookie(sess.ID, sess.ExpiresAt, deps.SecureCookies))
		http.Redirect(w, r, deps.FrontendOrigin, http.StatusFound)
	}
}

func handleLogout(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(SessionCookie); err == nil {
			if err := deps.Sessions.Revoke(cookie.Value); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "revoking session failed")
				return
			}
		}
		http.SetCookie(w, sessionCookie("", time.Unix(0, 0), deps.SecureCookies))
		writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
	}
}

func handleMe(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := userFrom(r.Context())
		if !ok {
			httpError(w, http.StatusUnauthorized, "authentication_error", "authentication required")
			return
		}
		writeJSON(w, http.StatusOK, toUserJSON(user))
	}
}

func sessionCookie(value string, expires time.Time, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
