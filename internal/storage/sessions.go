package storage

import (
	"database/sql"
	"time"
)

func (s *Store) CreateSession(sess Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, user_id, expires_at, active, client_ip, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, fmtTime(sess.ExpiresAt), sess.Active, sess.ClientIP, sess.UserAgent, fmtTime(sess.CreatedAt),
	)
	return err
}

func (s *Store) GetSession(id string) (Session, error) {
	var sess Session
	var expiresAt, createdAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, expires_at, active, client_ip, user_agent, created_at
		FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.UserID, &expiresAt, &sess.Active, &sess.ClientIP, &sess.UserAgent, &createdAt)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if sess.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return Session{}, err
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// RevokeSession marks one session inactive. Missing rows are not an error:
// logout of an unknown token is a no-op.
func (s *Store) RevokeSession(id string) error {
	_, err := s.db.Exec(`UPDATE sessions SET active = 0 WHERE id = ?`, id)
	return err
}

// RevokeUserSessions deactivates every active session a user holds. Called
// when a new login supersedes earlier ones.
func (s *Store) RevokeUserSessions(userID string) error {
	_, err := s.db.Exec(`UPDATE sessions SET active = 0 WHERE user_id = ? AND active = 1`, userID)
	return err
}
