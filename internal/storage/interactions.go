package storage

import (
	"database/sql"
	"time"
)

func (s *Store) SaveInteraction(i ChatInteraction) error {
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	if i.Category == "" {
		i.Category = "general"
	}
	var helpful any
	if i.Helpful != nil {
		helpful = *i.Helpful
	}
	_, err := s.db.Exec(`
		INSERT INTO chat_interactions (id, user_id, template_id, question, response, source, category, confidence, learning_score, helpful, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.UserID, i.TemplateID, i.Question, i.Response, i.Source, i.Category,
		i.Confidence, i.LearningScore, helpful, fmtTime(i.CreatedAt),
	)
	return err
}

func (s *Store) GetInteraction(id string) (ChatInteraction, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, template_id, question, response, source, category, confidence, learning_score, helpful, created_at
		FROM chat_interactions WHERE id = ?`, id)
	return scanInteraction(row)
}

func scanInteraction(row interface{ Scan(...any) error }) (ChatInteraction, error) {
	var i ChatInteraction
	var createdAt string
	var helpful sql.NullBool
	err := row.Scan(&i.ID, &i.UserID, &i.TemplateID, &i.Question, &i.Response,
		&i.Source, &i.Category, &i.Confidence, &i.LearningScore, &helpful, &createdAt)
	if err == sql.ErrNoRows {
		return ChatInteraction{}, ErrNotFound
	}
	if err != nil {
		return ChatInteraction{}, err
	}
	if helpful.Valid {
		v := helpful.Bool
		i.Helpful = &v
	}
	if i.CreatedAt, err = parseTime(createdAt); err != nil {
		return ChatInteraction{}, err
	}
	return i, nil
}

// SetInteractionFeedback records user feedback and adjusts the learning
// score: helpful answers become better learned-cache candidates, unhelpful
// ones sink toward the pruning threshold.
func (s *Store) SetInteractionFeedback(id string, helpful bool) error {
	delta := 0.2
	if !helpful {
		delta = -0.3
	}
	res, err := s.db.Exec(`
		UPDATE chat_interactions
		SET helpful = ?, learning_score = MIN(1.0, MAX(0.0, learning_score + ?))
		WHERE id = ?`, helpful, delta, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// LearnedResponses aggregates past answers to the exact same question text
// (case-insensitive) under the same template context since the given cutoff.
// Candidates arrive ordered by usage then helpfulness; qualification
// thresholds are applied by the resolver.
func (s *Store) LearnedResponses(question, templateID string, since time.Time) ([]LearnedResponse, error) {
	rows, err := s.db.Query(`
		SELECT response,
		       COUNT(*) AS uses,
		       AVG(CASE WHEN helpful = 1 THEN 1.0 WHEN helpful = 0 THEN 0.0 END) AS helpful_ratio
		FROM chat_interactions
		WHERE question = ? COLLATE NOCASE
		  AND template_id = ?
		  AND created_at >= ?
		GROUP BY response
		ORDER BY uses DESC, helpful_ratio DESC`,
		question, templateID, fmtTime(since),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []LearnedResponse
	for rows.Next() {
		var lr LearnedResponse
		var ratio sql.NullFloat64
		if err := rows.Scan(&lr.Response, &lr.Uses, &ratio); err != nil {
			return nil, err
		}
		if ratio.Valid {
			lr.HelpfulRatio = ratio.Float64
		}
		results = append(results, lr)
	}
	return results, rows.Err()
}

// PruneInteractions deletes interactions older than cutoff whose learning
// score fell below maxScore. Returns the number of rows removed.
func (s *Store) PruneInteractions(cutoff time.Time, maxScore float64) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM chat_interactions WHERE created_at < ? AND learning_score < ?`,
		fmtTime(cutoff), maxScore,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecomputeTemplateIntelligence rebuilds the per-template aggregate from the
// interaction log in one statement batch.
func (s *Store) RecomputeTemplateIntelligence() error {
	now := fmtTime(time.Now())
	_, err := s.db.Exec(`
		INSERT INTO template_intelligence (template_id, question_count, helpful_ratio, top_category, updated_at)
		SELECT ci.template_id,
		       COUNT(*),
		       COALESCE(AVG(CASE WHEN ci.helpful = 1 THEN 1.0 WHEN ci.helpful = 0 THEN 0.0 END), 0),
		       COALESCE((
		           SELECT c2.category FROM chat_interactions c2
		           WHERE c2.template_id = ci.template_id
		           GROUP BY c2.category ORDER BY COUNT(*) DESC LIMIT 1
		       ), ''),
		       ?
		FROM chat_interactions ci
		WHERE ci.template_id != ''
		GROUP BY ci.template_id
		ON CONFLICT(template_id) DO UPDATE SET
		    question_count = excluded.question_count,
		    helpful_ratio = excluded.helpful_ratio,
		    top_category = excluded.top_category,
		    updated_at = excluded.updated_at`,
		now,
	)
	return err
}

func (s *Store) GetTemplateIntelligence(templateID string) (TemplateIntelligence, error) {
	var ti TemplateIntelligence
	var updatedAt string
	err := s.db.QueryRow(`
		SELECT template_id, question_count, helpful_ratio, top_category, updated_at
		FROM template_intelligence WHERE template_id = ?`, templateID,
	).Scan(&ti.TemplateID, &ti.QuestionCount, &ti.HelpfulRatio, &ti.TopCategory, &updatedAt)
	if err == sql.ErrNoRows {
		return TemplateIntelligence{}, ErrNotFound
	}
	if err != nil {
		return TemplateIntelligence{}, err
	}
	if ti.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return TemplateIntelligence{}, err
	}
	return ti, nil
}
