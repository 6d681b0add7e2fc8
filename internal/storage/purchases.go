package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func newPurchaseID() string {
	return uuid.New().String()
}

const purchaseColumns = "id, user_id, template_id, checkout_session_id, amount, currency, status, purchased_at, completed_at"

func scanPurchase(row interface{ Scan(...any) error }) (Purchase, error) {
	var p Purchase
	var purchasedAt string
	var completedAt sql.NullString
	err := row.Scan(&p.ID, &p.UserID, &p.TemplateID, &p.CheckoutSessionID,
		&p.Amount, &p.Currency, &p.Status, &purchasedAt, &completedAt)
	if err == sql.ErrNoRows {
		return Purchase{}, ErrNotFound
	}
	if err != nil {
		return Purchase{}, err
	}
	if p.PurchasedAt, err = parseTime(purchasedAt); err != nil {
		return Purchase{}, err
	}
	if p.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return Purchase{}, err
	}
	return p, nil
}

// CreatePendingPurchase inserts the optimistic pending row written at
// checkout initiation. The checkout session id is the uniqueness anchor
// shared with the webhook reconciler.
func (s *Store) CreatePendingPurchase(p Purchase) error {
	if p.PurchasedAt.IsZero() {
		p.PurchasedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO purchases (id, user_id, template_id, checkout_session_id, amount, currency, status, purchased_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.TemplateID, p.CheckoutSessionID, p.Amount, p.Currency, PurchasePending, fmtTime(p.PurchasedAt),
	)
	return err
}

func (s *Store) GetPurchaseBySessionID(sessionID string) (Purchase, error) {
	row := s.db.QueryRow("SELECT "+purchaseColumns+" FROM purchases WHERE checkout_session_id = ?", sessionID)
	return scanPurchase(row)
}

// HasCompletedPurchase is the canonical ownership predicate: a user owns a
// template iff a completed purchase row links the two. Every ownership
// decision (checkout guard, download gate, recommendation exclusion) goes
// through this query.
func (s *Store) HasCompletedPurchase(userID, templateID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM purchases
		WHERE user_id = ? AND template_id = ? AND status = ?`,
		userID, templateID, PurchaseCompleted,
	).Scan(&n)
	return n > 0, err
}

// HasPendingPurchase reports whether an unconfirmed checkout exists for the
// pair. Used only for optimistic "processing" display, never to gate access.
func (s *Store) HasPendingPurchase(userID, templateID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM purchases
		WHERE user_id = ? AND template_id = ? AND status = ?`,
		userID, templateID, PurchasePending,
	).Scan(&n)
	return n > 0, err
}

// OwnedTemplateIDs returns the ids of templates the user holds completed
// purchases for.
func (s *Store) OwnedTemplateIDs(userID string) (map[string]bool, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT template_id FROM purchases WHERE user_id = ? AND status = ?`,
		userID, PurchaseCompleted,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	owned := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owned[id] = true
	}
	return owned, rows.Err()
}

// PurchaseWithTemplate is the joined view returned by the purchase listing.
type PurchaseWithTemplate struct {
	Purchase
	TemplateName  string
	TemplateImage string
}

func (s *Store) ListUserPurchases(userID string) ([]PurchaseWithTemplate, error) {
	rows, err := s.db.Query(`
		SELECT p.id, p.user_id, p.template_id, p.checkout_session_id, p.amount, p.currency, p.status, p.purchased_at, p.completed_at,
		       t.name, t.image_url
		FROM purchases p
		JOIN templates t ON t.id = p.template_id
		WHERE p.user_id = ?
		ORDER BY p.purchased_at DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []PurchaseWithTemplate
	for rows.Next() {
		var p PurchaseWithTemplate
		var purchasedAt string
		var completedAt sql.NullString
		if err := rows.Scan(&p.ID, &p.UserID, &p.TemplateID, &p.CheckoutSessionID,
			&p.Amount, &p.Currency, &p.Status, &purchasedAt, &completedAt,
			&p.TemplateName, &p.TemplateImage); err != nil {
			return nil, err
		}
		if p.PurchasedAt, err = parseTime(purchasedAt); err != nil {
			return nil, err
		}
		if p.CompletedAt, err = parseNullTime(completedAt); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// ReconcileOutcome describes what a webhook reconciliation did.
type ReconcileOutcome string

const (
	ReconcileNoop      ReconcileOutcome = "noop"      // already completed, duplicate delivery
	ReconcileCompleted ReconcileOutcome = "completed" // pending row transitioned
	ReconcileCreated   ReconcileOutcome = "created"   // no pending row, inserted completed
)

// ReconcileCompletedCheckout applies a verified checkout-completion event to
// the purchase ledger. The whole read-then-write sequence runs in one
// transaction so duplicate or interleaved deliveries cannot double-complete
// a purchase: the session id lookup and the conditional status transition
// anchor idempotency.
//
// The user id from event metadata is resolved against the users table, falling
// back to a case-insensitive email match (the cross-path dedup key). A missing
// template or unresolvable user aborts with ErrNotFound; the reconciler never
// fabricates referenced rows.
func (s *Store) ReconcileCompletedCheckout(sessionID, userID, templateID, email string, amount int64, currency string) (ReconcileOutcome, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("beginning reconcile transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var existingID, status string
	err = tx.QueryRow(`SELECT id, status FROM purchases WHERE checkout_session_id = ?`, sessionID).
		Scan(&existingID, &status)
	switch {
	case err == sql.ErrNoRows:
		// No pending row (write failed or the webhook raced ahead of the
		// initiator). Validate references, then insert directly as completed.
		resolvedUser, rerr := resolveUserTx(tx, userID, email)
		if rerr != nil {
			return "", rerr
		}
		var templateExists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM templates WHERE id = ?`, templateID).Scan(&templateExists); err != nil {
			return "", err
		}
		if templateExists == 0 {
			return "", fmt.Errorf("template %s: %w", templateID, ErrNotFound)
		}
		if _, err := tx.Exec(`
			INSERT INTO purchases (id, user_id, template_id, checkout_session_id, amount, currency, status, purchased_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			newPurchaseID(), resolvedUser, templateID, sessionID, amount, currency,
			PurchaseCompleted, fmtTime(now), fmtTime(now),
		); err != nil {
			return "", fmt.Errorf("inserting completed purchase: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return "", err
		}
		return ReconcileCreated, nil

	case err != nil:
		return "", err

	case status == PurchaseCompleted:
		// Idempotent redelivery.
		return ReconcileNoop, nil

	default:
		// Pending: conditional transition. The event amount is authoritative
		// over the estimate recorded at checkout time. The status guard in
		// the WHERE clause keeps a concurrent duplicate from transitioning
		// twice.
		res, err := tx.Exec(`
			UPDATE purchases SET status = ?, amount = ?, currency = ?, completed_at = ?
			WHERE id = ? AND status = ?`,
			PurchaseCompleted, amount, currency, fmtTime(now), existingID, PurchasePending,
		)
		if err != nil {
			return "", fmt.Errorf("completing purchase: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return "", err
		}
		if err := tx.Commit(); err != nil {
			return "", err
		}
		if n == 0 {
			return ReconcileNoop, nil
		}
		return ReconcileCompleted, nil
	}
}

func resolveUserTx(tx *sql.Tx, userID, email string) (string, error) {
	var id string
	if userID != "" {
		err := tx.QueryRow(`SELECT id FROM users WHERE id = ?`, userID).Scan(&id)
		if err == nil {
			return id, nil
		}
		if err != sql.ErrNoRows {
			return "", err
		}
	}
	if email != "" {
		err := tx.QueryRow(`SELECT id FROM users WHERE email = ? COLLATE NOCASE AND email != ''`, email).Scan(&id)
		if err == nil {
			return id, nil
		}
		if err != sql.ErrNoRows {
			return "", err
		}
	}
	return "", fmt.Errorf("user %s: %w", userID, ErrNotFound)
}
