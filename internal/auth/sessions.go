package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tmplhub/tmplhub/internal/storage"
)

// ErrInvalidSession covers missing, revoked, and expired sessions alike so
// callers surface one 401 without leaking which case applied.
var ErrInvalidSession = errors.New("invalid or expired session")

const sessionTTL = 7 * 24 * time.Hour

// Sessions issues and validates the opaque session tokens carried in the
// session cookie.
type Sessions struct {
	store *storage.Store
}

func NewSessions(store *storage.Store) *Sessions {
	return &Sessions{store: store}
}

// Issue creates a session for the user and deactivates any earlier ones: a
// new login supersedes previous logins.
func (s *Sessions) Issue(userID, clientIP, userAgent string) (storage.Session, error) {
	if err := s.store.RevokeUserSessions(userID); err != nil {
		return storage.Session{}, fmt.Errorf("revoking previous sessions: %w", err)
	}
	sess := storage.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		ExpiresAt: time.Now().UTC().Add(sessionTTL),
		Active:    true,
		ClientIP:  clientIP,
		UserAgent: userAgent,
	}
	if err := s.store.CreateSession(sess); err != nil {
		return storage.Session{}, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

// Validate resolves a token to its user. A session past its expiry is
// rejected even if still flagged active; the clock wins over the flag.
func (s *Sessions) Validate(token string) (storage.User, error) {
	if token == "" {
		return storage.User{}, ErrInvalidSession
	}
	sess, err := s.store.GetSession(token)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.User{}, ErrInvalidSession
	}
	if err != nil {
		return storage.User{}, err
	}
	if !sess.Active || time.Now().After(sess.ExpiresAt) {
		return storage.User{}, ErrInvalidSession
	}
	user, err := s.store.GetUser(sess.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.User{}, ErrInvalidSession
	}
	if err != nil {
		return storage.User{}, err
	}
	if !user.Active {
		return storage.User{}, ErrInvalidSession
	}
	return user, nil
}

// Revoke invalidates a token at logout. Unknown tokens are a no-op.
func (s *Sessions) Revoke(token string) error {
	return s.store.RevokeSession(token)
}
