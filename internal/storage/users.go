package storage

import (
	"database/sql"
	"time"
)

const userColumns = "id, email, name, avatar_url, role, active, created_at, updated_at"

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	var createdAt, updatedAt string
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.AvatarURL, &u.Role, &u.Active, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return User{}, err
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *Store) CreateUser(u User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	if u.Role == "" {
		u.Role = "user"
	}
	_, err := s.db.Exec(`
		INSERT INTO users (id, email, name, avatar_url, role, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, u.AvatarURL, u.Role, u.Active, fmtTime(u.CreatedAt), fmtTime(u.UpdatedAt),
	)
	return err
}

func (s *Store) GetUser(id string) (User, error) {
	row := s.db.QueryRow("SELECT "+userColumns+" FROM users WHERE id = ?", id)
	return scanUser(row)
}

// GetUserByEmail looks a user up by email, case-insensitively. Email is the
// de-duplication key between the login path and the purchase path: two
// records carrying the same email must resolve to the same user id.
func (s *Store) GetUserByEmail(email string) (User, error) {
	row := s.db.QueryRow("SELECT "+userColumns+" FROM users WHERE email = ? COLLATE NOCASE AND email != ''", email)
	return scanUser(row)
}

// UpsertOAuthUser creates a user on first login or refreshes name/avatar on
// subsequent logins. When no row exists for the provider id but one exists
// for the same email (created by a completed purchase), that row is adopted
// rather than duplicated.
func (s *Store) UpsertOAuthUser(u User) (User, error) {
	existing, err := s.GetUser(u.ID)
	if err == nil {
		_, err = s.db.Exec(`UPDATE users SET name = ?, avatar_url = ?, updated_at = ? WHERE id = ?`,
			u.Name, u.AvatarURL, fmtTime(time.Now()), existing.ID)
		if err != nil {
			return User{}, err
		}
		return s.GetUser(existing.ID)
	}
	if err != ErrNotFound {
		return User{}, err
	}

	if u.Email != "" {
		byEmail, err := s.GetUserByEmail(u.Email)
		if err == nil {
			_, err = s.db.Exec(`UPDATE users SET name = ?, avatar_url = ?, updated_at = ? WHERE id = ?`,
				u.Name, u.AvatarURL, fmtTime(time.Now()), byEmail.ID)
			if err != nil {
				return User{}, err
			}
			return s.GetUser(byEmail.ID)
		}
		if err != ErrNotFound {
			return User{}, err
		}
	}

	u.Active = true
	if err := s.CreateUser(u); err != nil {
		return User{}, err
	}
	return s.GetUser(u.ID)
}
