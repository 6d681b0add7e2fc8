package storage

import (
	"database/sql"
	"time"
)

const templateColumns = "id, name, description, price, currency, image_url, workflow_json, public, creator_id, download_count, view_count, rating, created_at, updated_at"

func scanTemplate(row interface{ Scan(...any) error }) (Template, error) {
	var t Template
	var createdAt, updatedAt string
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Price, &t.Currency, &t.ImageURL,
		&t.WorkflowJSON, &t.Public, &t.CreatorID, &t.DownloadCount, &t.ViewCount, &t.Rating,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Template{}, ErrNotFound
	}
	if err != nil {
		return Template{}, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return Template{}, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Template{}, err
	}
	return t, nil
}

func (s *Store) CreateTemplate(t Template) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	if t.Currency == "" {
		t.Currency = "usd"
	}
	_, err := s.db.Exec(`
		INSERT INTO templates (id, name, description, price, currency, image_url, workflow_json, public, creator_id, download_count, view_count, rating, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Description, t.Price, t.Currency, t.ImageURL, t.WorkflowJSON,
		t.Public, t.CreatorID, t.DownloadCount, t.ViewCount, t.Rating,
		fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt),
	)
	return err
}

func (s *Store) GetTemplate(id string) (Template, error) {
	row := s.db.QueryRow("SELECT "+templateColumns+" FROM templates WHERE id = ?", id)
	return scanTemplate(row)
}

// ListPublicTemplates returns public templates ordered by popularity.
func (s *Store) ListPublicTemplates(limit int) ([]Template, error) {
	rows, err := s.db.Query(`
		SELECT `+templateColumns+` FROM templates
		WHERE public = 1
		ORDER BY download_count DESC, view_count DESC, created_at DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTemplates(rows)
}

// ListRecommendedTemplates returns public templates in popularity order,
// excluding templates the user already owns (completed purchases only).
func (s *Store) ListRecommendedTemplates(userID string, limit int) ([]Template, error) {
	rows, err := s.db.Query(`
		SELECT `+templateColumns+` FROM templates
		WHERE public = 1
		  AND id NOT IN (
			SELECT template_id FROM purchases WHERE user_id = ? AND status = ?
		  )
		ORDER BY download_count DESC, view_count DESC, created_at DESC
		LIMIT ?`, userID, PurchaseCompleted, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTemplates(rows)
}

func collectTemplates(rows *sql.Rows) ([]Template, error) {
	var results []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

func (s *Store) IncrementViewCount(id string) error {
	res, err := s.db.Exec(`UPDATE templates SET view_count = view_count + 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) IncrementDownloadCount(id string) error {
	res, err := s.db.Exec(`UPDATE templates SET download_count = download_count + 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
