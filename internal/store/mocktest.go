package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vstep-prep/vstep/internal/model"
)

// CreateMockTest stores a mock test and its ordered content references.
func (s *Store) CreateMockTest(ctx context.Context, mt model.MockTest) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO mock_tests (title, description, active, created_at) VALUES (?, ?, 1, ?)`,
		mt.Title, mt.Description, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, skill := range model.Skills {
		for ordinal, contentID := range mt.ItemIDs(skill) {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO mock_test_items (mock_test_id, skill, ordinal, content_id) VALUES (?, ?, ?, ?)`,
				id, skill, ordinal, contentID,
			)
			if err != nil {
				return 0, err
			}
		}
	}

	return id, tx.Commit()
}

// GetMockTest returns a mock test with its content references in stored order.
func (s *Store) GetMockTest(ctx context.Context, id int64) (*model.MockTest, error) {
	var mt model.MockTest
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, active, created_at FROM mock_tests WHERE id = ?`, id,
	).Scan(&mt.ID, &mt.Title, &mt.Description, &mt.Active, &mt.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Resource: "mock test", ID: id}
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT skill, content_id FROM mock_test_items WHERE mock_test_id = ? ORDER BY skill, ordinal`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var skill model.Skill
		var contentID int64
		if err := rows.Scan(&skill, &contentID); err != nil {
			return nil, err
		}
		switch skill {
		case model.SkillListening:
			if mt.Listening == nil {
				mt.Listening = &contentID
			}
		case model.SkillReading:
			mt.Reading = append(mt.Reading, contentID)
		case model.SkillWriting:
			mt.Writing = append(mt.Writing, contentID)
		case model.SkillSpeaking:
			mt.Speaking = append(mt.Speaking, contentID)
		}
	}
	return &mt, rows.Err()
}

// ListMockTests returns mock tests newest first without their references.
func (s *Store) ListMockTests(ctx context.Context, activeOnly bool) ([]model.MockTest, error) {
	query := `SELECT id, title, description, active, created_at FROM mock_tests`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tests []model.MockTest
	for rows.Next() {
		var mt model.MockTest
		if err := rows.Scan(&mt.ID, &mt.Title, &mt.Description, &mt.Active, &mt.CreatedAt); err != nil {
			return nil, err
		}
		tests = append(tests, mt)
	}
	return tests, rows.Err()
}

// SetMockTestActive updates the only mutable field of a mock test.
func (s *Store) SetMockTestActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE mock_tests SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &model.NotFoundError{Resource: "mock test", ID: id}
	}
	return nil
}
