package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tmplhub/tmplhub/internal/assistant"
	"github.com/tmplhub/tmplhub/internal/storage"
)

type askRequest struct {
	Prompt          string           `json:"prompt"`
	History         []assistant.Turn `json:"history"`
	TemplateContext string           `json:"templateContext"`
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := userFrom(r.Context())

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Prompt == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "prompt is required")
			return
		}

		result, err := deps.Resolver.Resolve(r.Context(), assistant.Request{
			UserID:     user.ID,
			Question:   req.Prompt,
			TemplateID: req.TemplateContext,
			History:    req.History,
		})
		if errors.Is(err, assistant.ErrRateLimited) {
			httpError(w, http.StatusTooManyRequests, "rate_limit_error", "too many requests, slow down")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"response":      result.Response,
			"source":        result.Source,
			"confidence":    result.Confidence,
			"interactionId": result.InteractionID,
		})
	}
}

type feedbackRequest struct {
	InteractionID string `json:"interactionId"`
	Helpful       bool   `json:"helpful"`
}

func handleFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req feedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.InteractionID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "interactionId is required")
			return
		}

		err := deps.Store.SetInteractionFeedback(req.InteractionID, req.Helpful)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "recording feedback failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
	}
}
