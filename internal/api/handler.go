// Package api wires the HTTP surface: routing, session middleware, and the
// handlers for auth, checkout, webhooks, the assistant, and the catalog.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tmplhub/tmplhub/internal/assistant"
	"github.com/tmplhub/tmplhub/internal/auth"
	"github.com/tmplhub/tmplhub/internal/catalog"
	"github.com/tmplhub/tmplhub/internal/payments"
	"github.com/tmplhub/tmplhub/internal/statestore"
	"github.com/tmplhub/tmplhub/internal/storage"
)

type Deps struct {
	Store    *storage.Store
	Sessions *auth.Sessions
	GitHub   *auth.GitHubClient
	Payments *payments.Service
	Resolver *assistant.Resolver
	Catalog  *catalog.Reader
	States   statestore.KV

	WebhookSecret  string
	FrontendOrigin string
	PublicURL      string
	SecureCookies  bool
}

// NewHandler builds the top-level router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(CORS(deps.FrontendOrigin))

	r.Get("/health", handleHealth)

	// Public routes.
	r.Get("/auth/github/login", handleLogin(deps))
	r.Get("/auth/github/callback", handleCallback(deps))
	r.Post("/payments/webhook", handleWebhook(deps))
	r.Get("/templates", handleListTemplates(deps))
	r.Get("/templates/{id}", handleGetTemplate(deps))

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(SessionAuth(deps.Sessions))

		r.Get("/auth/me", handleMe(deps))
		r.Post("/auth/logout", handleLogout(deps))
		r.Post("/checkout/create-session", handleCreateCheckout(deps))
		r.Post("/ai/ask", handleAsk(deps))
		r.Post("/ai/feedback", handleFeedback(deps))
		r.Get("/recommendations", handleRecommendations(deps))
		r.Get("/templates/{id}/download", handleDownload(deps))

		// One handler, two routes: the legacy client calls /purchases.
		listPurchases := handleListPurchases(deps)
		r.Get("/user/purchases", listPurchases)
		r.Get("/purchases", listPurchases)
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
