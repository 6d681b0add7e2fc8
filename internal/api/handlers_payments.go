package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tmplhub/tmplhub/internal/payments"
	"github.com/tmplhub/tmplhub/internal/storage"
)

const maxWebhookBodySize = 256 << 10 // 256KB

// handleWebhook receives provider payment events. The signature is verified
// against the raw body before anything else; a mismatch is the only path to
// a non-200. Once the event is authenticated it is acknowledged immediately
// — reconciliation outcomes, including drops, never change the response, so
// the provider does not retry an event this system has durably accepted.
func handleWebhook(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading request body: %v", err)
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if err := payments.VerifySignature(payload, sigHeader, deps.WebhookSecret, time.Now()); err != nil {
			slog.Warn("webhook signature rejected", "error", err)
			httpError(w, http.StatusBadRequest, "signature_error", "webhook signature verification failed")
			return
		}

		// Envelope fields for the acknowledgement; full parsing happens in
		// the reconciler.
		var envelope struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		}
		json.Unmarshal(payload, &envelope)

		writeJSON(w, http.StatusOK, map[string]any{
			"received":  true,
			"eventType": envelope.Type,
			"eventId":   envelope.ID,
		})

		// The response above is already committed; processing failures are
		// logged inside the service and intentionally dropped.
		if err := deps.Payments.HandleEvent(payload); err != nil && !errors.Is(err, payments.ErrEventDropped) {
			slog.Error("webhook processing failed", "event_id", envelope.ID, "error", err)
		}
	}
}

type createCheckoutRequest struct {
	TemplateID string `json:"templateId"`
}

func handleCreateCheckout(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := userFrom(r.Context())

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req createCheckoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.TemplateID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "templateId is required")
			return
		}

		session, err := deps.Payments.InitiateCheckout(r.Context(), user, req.TemplateID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "template not found")
		case errors.Is(err, payments.ErrAlreadyOwned):
			writeJSON(w, http.StatusConflict, map[string]any{"alreadyOwned": true})
		case err != nil:
			slog.Error("creating checkout session failed", "template_id", req.TemplateID, "error", err)
			httpError(w, http.StatusBadGateway, "api_error", "could not start checkout")
		default:
			writeJSON(w, http.StatusOK, map[string]any{
				"sessionId": session.ID,
				"url":       session.URL,
			})
		}
	}
}

func handleListPurchases(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := userFrom(r.Context())

		purchases, err := deps.Store.ListUserPurchases(user.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing purchases failed")
			return
		}

		out := make([]purchaseJSON, 0, len(purchases))
		for _, p := range purchases {
			out = append(out, toPurchaseJSON(p))
		}
		writeJSON(w, http.StatusOK, out)
	}
}
