package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vstep-prep/vstep/internal/model"
)

const resultColumns = `id, attempt_id, mock_test_id, learner_id, listening, reading, writing, speaking, overall,
	writing_feedback, speaking_feedback, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(sc rowScanner) (model.Result, error) {
	var r model.Result
	err := sc.Scan(&r.ID, &r.AttemptID, &r.MockTestID, &r.LearnerID,
		&r.Listening, &r.Reading, &r.Writing, &r.Speaking, &r.Overall,
		&r.WritingFeedback, &r.SpeakingFeedback, &r.CreatedAt)
	return r, err
}

// SaveResult appends a result. Results are never updated or deleted.
func (s *Store) SaveResult(ctx context.Context, r model.Result) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO results (attempt_id, mock_test_id, learner_id, listening, reading, writing, speaking, overall,
		 writing_feedback, speaking_feedback, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.AttemptID, r.MockTestID, r.LearnerID, r.Listening, r.Reading, r.Writing, r.Speaking, r.Overall,
		r.WritingFeedback, r.SpeakingFeedback, r.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetResult returns a result by ID.
func (s *Store) GetResult(ctx context.Context, id int64) (*model.Result, error) {
	r, err := scanResult(s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM results WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Resource: "result", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListResultsByLearner returns a learner's results, most recent first.
func (s *Store) ListResultsByLearner(ctx context.Context, learnerID int64) ([]model.Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM results WHERE learner_id = ? ORDER BY created_at DESC, id DESC`, learnerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
