package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tmplhub/tmplhub/internal/catalog"
	"github.com/tmplhub/tmplhub/internal/storage"
)

func handleListTemplates(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Listing is public; ownership flags appear when a session rides along.
		var userID string
		if user, ok := optionalUser(r, deps.Sessions); ok {
			userID = user.ID
		}

		views, err := deps.Catalog.List(userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing templates failed")
			return
		}
		writeJSON(w, http.StatusOK, toTemplateListJSON(views))
	}
}

func handleGetTemplate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var userID string
		if user, ok := optionalUser(r, deps.Sessions); ok {
			userID = user.ID
		}

		view, err := deps.Catalog.Get(id, userID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "template not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading template failed")
			return
		}
		writeJSON(w, http.StatusOK, toTemplateJSON(view))
	}
}

func handleRecommendations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := userFrom(r.Context())

		views, err := deps.Catalog.Recommendations(user.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading recommendations failed")
			return
		}
		writeJSON(w, http.StatusOK, toTemplateListJSON(views))
	}
}

func handleDownload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := userFrom(r.Context())
		id := chi.URLParam(r, "id")

		workflow, err := deps.Catalog.Download(user.ID, id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "template not found")
		case errors.Is(err, catalog.ErrNotOwned):
			httpError(w, http.StatusForbidden, "authorization_error", "purchase required to download this template")
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "preparing download failed")
		default:
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Content-Disposition", `attachment; filename="workflow.json"`)
			w.Write([]byte(workflow))
		}
	}
}
