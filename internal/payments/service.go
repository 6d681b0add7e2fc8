package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"

	"github.com/google/uuid"

	"github.com/tmplhub/tmplhub/internal/storage"
)

var (
	// ErrAlreadyOwned is the checkout guard: the caller holds a completed
	// purchase for the template. A conflict, not a failure.
	ErrAlreadyOwned = errors.New("template already owned")

	// ErrEventDropped marks an event whose metadata or referenced rows are
	// missing. The event is acknowledged to the provider and dropped; the
	// provider's own redelivery policy is the only retry mechanism.
	ErrEventDropped = errors.New("event dropped")
)

const maxEmailLength = 254

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Event is the envelope of a provider webhook delivery.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID            string            `json:"id"`
			CustomerEmail string            `json:"customer_email"`
			AmountTotal   int64             `json:"amount_total"`
			Currency      string            `json:"currency"`
			Metadata      map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// EventCheckoutCompleted is the only event type the reconciler acts on.
const EventCheckoutCompleted = "checkout.session.completed"

// Service implements checkout initiation and webhook reconciliation over the
// purchase ledger. The provider session id is the immutable join key between
// the two paths.
type Service struct {
	store          *storage.Store
	client         *Client
	frontendOrigin string
	logger         *slog.Logger
}

func NewService(store *storage.Store, client *Client, frontendOrigin string) *Service {
	return &Service{
		store:          store,
		client:         client,
		frontendOrigin: frontendOrigin,
		logger:         slog.Default(),
	}
}

// InitiateCheckout creates a provider checkout session for (user, template)
// and records the optimistic pending purchase under the session id.
func (s *Service) InitiateCheckout(ctx context.Context, user storage.User, templateID string) (CheckoutSession, error) {
	tmpl, err := s.store.GetTemplate(templateID)
	if err != nil {
		return CheckoutSession{}, err
	}

	owned, err := s.store.HasCompletedPurchase(user.ID, templateID)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("checking ownership: %w", err)
	}
	if owned {
		return CheckoutSession{}, ErrAlreadyOwned
	}

	session, err := s.client.CreateCheckoutSession(ctx, CheckoutParams{
		TemplateID:   tmpl.ID,
		TemplateName: tmpl.Name,
		UserID:       user.ID,
		UserEmail:    user.Email,
		Amount:       tmpl.Price,
		Currency:     tmpl.Currency,
		SuccessURL:   s.frontendOrigin + "/purchase/success?template=" + url.QueryEscape(tmpl.ID),
		CancelURL:    s.frontendOrigin + "/templates/" + url.PathEscape(tmpl.ID),
	})
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("creating checkout session: %w", err)
	}

	err = s.store.CreatePendingPurchase(storage.Purchase{
		ID:                uuid.New().String(),
		UserID:            user.ID,
		TemplateID:        tmpl.ID,
		CheckoutSessionID: session.ID,
		Amount:            tmpl.Price,
		Currency:          tmpl.Currency,
	})
	if err != nil {
		// The webhook reconciler recovers from a missing pending row by
		// inserting the purchase directly as completed, so the checkout URL
		// is still usable. Log and continue.
		s.logger.Error("recording pending purchase failed",
			"session_id", session.ID, "user_id", user.ID, "template_id", tmpl.ID, "error", err)
	}

	return session, nil
}

// HandleEvent applies one verified webhook event. Signature verification has
// already happened at the handler boundary; by the time an event reaches
// here it is authentic. Non-checkout events are ignored.
//
// Failures are classified: ErrEventDropped means the event was malformed or
// referenced unknown rows and was intentionally discarded (logged, no
// retry); any other error is an internal failure that also must not change
// the acknowledgement already owed to the provider.
func (s *Service) HandleEvent(raw []byte) error {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		s.logger.Error("webhook payload is not valid JSON", "error", err)
		return fmt.Errorf("%w: malformed payload", ErrEventDropped)
	}

	if ev.Type != EventCheckoutCompleted {
		s.logger.Debug("ignoring webhook event", "event_id", ev.ID, "type", ev.Type)
		return nil
	}

	obj := ev.Data.Object
	templateID := obj.Metadata["templateId"]
	userID := obj.Metadata["userId"]

	if obj.ID == "" || templateID == "" || (userID == "" && obj.CustomerEmail == "") {
		s.logger.Error("webhook event missing required metadata",
			"event_id", ev.ID, "session_id", obj.ID, "template_id", templateID, "user_id", userID)
		return fmt.Errorf("%w: missing metadata", ErrEventDropped)
	}

	if obj.CustomerEmail != "" && !validEmail(obj.CustomerEmail) {
		s.logger.Error("webhook event carries invalid customer email", "event_id", ev.ID, "session_id", obj.ID)
		return fmt.Errorf("%w: invalid customer email", ErrEventDropped)
	}

	outcome, err := s.store.ReconcileCompletedCheckout(
		obj.ID, userID, templateID, obj.CustomerEmail, obj.AmountTotal, obj.Currency,
	)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Error("webhook event references unknown records",
			"event_id", ev.ID, "session_id", obj.ID, "template_id", templateID, "user_id", userID, "error", err)
		return fmt.Errorf("%w: %v", ErrEventDropped, err)
	}
	if err != nil {
		s.logger.Error("reconciling checkout event failed", "event_id", ev.ID, "session_id", obj.ID, "error", err)
		return err
	}

	s.logger.Info("checkout event reconciled",
		"event_id", ev.ID, "session_id", obj.ID, "outcome", string(outcome))
	return nil
}

func validEmail(email string) bool {
	return len(email) <= maxEmailLength && emailPattern.MatchString(email)
}
