package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/vstep-prep/vstep/internal/model"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Slot narrows unfiltered sampling to one writing task or speaking part.
// The zero value means no narrowing.
type Slot struct {
	Task model.WritingTask
	Part int
}

type sampleFilter struct {
	slot  Slot
	level model.Level
	topic string
}

func poolTable(skill model.Skill) (string, error) {
	switch skill {
	case model.SkillListening:
		return "listening_items", nil
	case model.SkillReading:
		return "reading_passages", nil
	case model.SkillWriting:
		return "writing_prompts", nil
	case model.SkillSpeaking:
		return "speaking_prompts", nil
	}
	return "", fmt.Errorf("unknown skill %q", skill)
}

// SampleUnfiltered picks up to count ids uniformly at random from the whole
// pool of a skill, ignoring level and topic. An empty pool yields no ids.
func (s *Store) SampleUnfiltered(ctx context.Context, skill model.Skill, slot Slot, count int) ([]int64, error) {
	return s.sampleIDs(ctx, skill, sampleFilter{slot: slot}, count)
}

// SampleFiltered picks up to count ids at random among items matching level
// and topic. Empty filter values match everything.
func (s *Store) SampleFiltered(ctx context.Context, skill model.Skill, level model.Level, topic string, count int) ([]int64, error) {
	return s.sampleIDs(ctx, skill, sampleFilter{level: level, topic: topic}, count)
}

func (s *Store) sampleIDs(ctx context.Context, skill model.Skill, f sampleFilter, count int) ([]int64, error) {
	if count <= 0 {
		return nil, nil
	}
	table, err := poolTable(skill)
	if err != nil {
		return nil, err
	}
	query := `SELECT id FROM ` + table + ` WHERE 1=1`
	var args []any
	if f.level != "" {
		query += ` AND level = ?`
		args = append(args, f.level)
	}
	if f.topic != "" {
		query += ` AND topic = ?`
		args = append(args, f.topic)
	}
	if skill == model.SkillWriting && f.slot.Task != "" {
		query += ` AND task = ?`
		args = append(args, f.slot.Task)
	}
	if skill == model.SkillSpeaking && f.slot.Part != 0 {
		query += ` AND part = ?`
		args = append(args, f.slot.Part)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rand.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})
	if count < len(ids) {
		ids = ids[:count]
	}
	return ids, nil
}

// GetContentItem resolves one content item of the given skill.
func (s *Store) GetContentItem(ctx context.Context, skill model.Skill, id int64) (model.ContentItem, error) {
	switch skill {
	case model.SkillListening:
		return s.GetListeningItem(ctx, id)
	case model.SkillReading:
		return s.GetReadingPassage(ctx, id)
	case model.SkillWriting:
		return s.GetWritingPrompt(ctx, id)
	case model.SkillSpeaking:
		return s.GetSpeakingPrompt(ctx, id)
	}
	return nil, fmt.Errorf("unknown skill %q", skill)
}

// GetListeningItem returns a listening item with its questions.
func (s *Store) GetListeningItem(ctx context.Context, id int64) (*model.ListeningItem, error) {
	var it model.ListeningItem
	err := s.db.QueryRowContext(ctx,
		`SELECT id, level, topic, title, audio_url, transcript FROM listening_items WHERE id = ?`, id,
	).Scan(&it.ID, &it.Level, &it.Topic, &it.Title, &it.AudioURL, &it.Transcript)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Resource: "listening item", ID: id}
	}
	if err != nil {
		return nil, err
	}
	if it.Questions, err = s.choiceQuestions(ctx, model.SkillListening, id); err != nil {
		return nil, err
	}
	return &it, nil
}

// GetReadingPassage returns a reading passage with its questions.
func (s *Store) GetReadingPassage(ctx context.Context, id int64) (*model.ReadingPassage, error) {
	var p model.ReadingPassage
	err := s.db.QueryRowContext(ctx,
		`SELECT id, level, topic, title, body FROM reading_passages WHERE id = ?`, id,
	).Scan(&p.ID, &p.Level, &p.Topic, &p.Title, &p.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Resource: "reading passage", ID: id}
	}
	if err != nil {
		return nil, err
	}
	if p.Questions, err = s.choiceQuestions(ctx, model.SkillReading, id); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetWritingPrompt returns a writing prompt.
func (s *Store) GetWritingPrompt(ctx context.Context, id int64) (*model.WritingPrompt, error) {
	var p model.WritingPrompt
	err := s.db.QueryRowContext(ctx,
		`SELECT id, level, topic, task, prompt FROM writing_prompts WHERE id = ?`, id,
	).Scan(&p.ID, &p.Level, &p.Topic, &p.Task, &p.Prompt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Resource: "writing prompt", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetSpeakingPrompt returns a speaking prompt.
func (s *Store) GetSpeakingPrompt(ctx context.Context, id int64) (*model.SpeakingPrompt, error) {
	var p model.SpeakingPrompt
	err := s.db.QueryRowContext(ctx,
		`SELECT id, level, topic, part, prompt FROM speaking_prompts WHERE id = ?`, id,
	).Scan(&p.ID, &p.Level, &p.Topic, &p.Part, &p.Prompt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Resource: "speaking prompt", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) choiceQuestions(ctx context.Context, skill model.Skill, itemID int64) ([]model.ChoiceQuestion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ordinal, text, option_a, option_b, option_c, option_d, correct_option
		 FROM choice_questions WHERE skill = ? AND item_id = ? ORDER BY ordinal, id`, skill, itemID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.ChoiceQuestion
	for rows.Next() {
		var q model.ChoiceQuestion
		if err := rows.Scan(&q.ID, &q.Ordinal, &q.Text,
			&q.Options[0], &q.Options[1], &q.Options[2], &q.Options[3], &q.CorrectOption); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// ImportContent inserts every item of the document and records hash as the
// last import of name, all in one transaction. It returns the number of
// items stored.
func (s *Store) ImportContent(ctx context.Context, name, hash string, doc model.ContentImport) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for i := range doc.Listening {
		if _, err := insertListeningItem(ctx, tx, &doc.Listening[i]); err != nil {
			return 0, fmt.Errorf("listening item %d: %w", i, err)
		}
	}
	for i := range doc.Reading {
		if _, err := insertReadingPassage(ctx, tx, &doc.Reading[i]); err != nil {
			return 0, fmt.Errorf("reading passage %d: %w", i, err)
		}
	}
	for i := range doc.Writing {
		if _, err := insertWritingPrompt(ctx, tx, &doc.Writing[i]); err != nil {
			return 0, fmt.Errorf("writing prompt %d: %w", i, err)
		}
	}
	for i := range doc.Speaking {
		if _, err := insertSpeakingPrompt(ctx, tx, &doc.Speaking[i]); err != nil {
			return 0, fmt.Errorf("speaking prompt %d: %w", i, err)
		}
	}
	if err := setImportedFileHash(ctx, tx, name, hash); err != nil {
		return 0, fmt.Errorf("record import of %s: %w", name, err)
	}
	return doc.Count(), tx.Commit()
}

// InsertListeningItem stores a listening item and its questions, filling in ids.
func (s *Store) InsertListeningItem(ctx context.Context, it *model.ListeningItem) (int64, error) {
	return inTx(ctx, s.db, func(tx *sql.Tx) (int64, error) { return insertListeningItem(ctx, tx, it) })
}

// InsertReadingPassage stores a reading passage and its questions, filling in ids.
func (s *Store) InsertReadingPassage(ctx context.Context, p *model.ReadingPassage) (int64, error) {
	return inTx(ctx, s.db, func(tx *sql.Tx) (int64, error) { return insertReadingPassage(ctx, tx, p) })
}

// InsertWritingPrompt stores a writing prompt.
func (s *Store) InsertWritingPrompt(ctx context.Context, p *model.WritingPrompt) (int64, error) {
	return insertWritingPrompt(ctx, s.db, p)
}

// InsertSpeakingPrompt stores a speaking prompt.
func (s *Store) InsertSpeakingPrompt(ctx context.Context, p *model.SpeakingPrompt) (int64, error) {
	return insertSpeakingPrompt(ctx, s.db, p)
}

func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) (int64, error)) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	id, err := fn(tx)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

func insertListeningItem(ctx context.Context, ex execer, it *model.ListeningItem) (int64, error) {
	res, err := ex.ExecContext(ctx,
		`INSERT INTO listening_items (level, topic, title, audio_url, transcript) VALUES (?, ?, ?, ?, ?)`,
		it.Level, it.Topic, it.Title, it.AudioURL, it.Transcript,
	)
	if err != nil {
		return 0, err
	}
	if it.ID, err = res.LastInsertId(); err != nil {
		return 0, err
	}
	return it.ID, insertChoiceQuestions(ctx, ex, model.SkillListening, it.ID, it.Questions)
}

func insertReadingPassage(ctx context.Context, ex execer, p *model.ReadingPassage) (int64, error) {
	res, err := ex.ExecContext(ctx,
		`INSERT INTO reading_passages (level, topic, title, body) VALUES (?, ?, ?, ?)`,
		p.Level, p.Topic, p.Title, p.Body,
	)
	if err != nil {
		return 0, err
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return 0, err
	}
	return p.ID, insertChoiceQuestions(ctx, ex, model.SkillReading, p.ID, p.Questions)
}

func insertWritingPrompt(ctx context.Context, ex execer, p *model.WritingPrompt) (int64, error) {
	res, err := ex.ExecContext(ctx,
		`INSERT INTO writing_prompts (level, topic, task, prompt) VALUES (?, ?, ?, ?)`,
		p.Level, p.Topic, p.Task, p.Prompt,
	)
	if err != nil {
		return 0, err
	}
	p.ID, err = res.LastInsertId()
	return p.ID, err
}

func insertSpeakingPrompt(ctx context.Context, ex execer, p *model.SpeakingPrompt) (int64, error) {
	res, err := ex.ExecContext(ctx,
		`INSERT INTO speaking_prompts (level, topic, part, prompt) VALUES (?, ?, ?, ?)`,
		p.Level, p.Topic, p.Part, p.Prompt,
	)
	if err != nil {
		return 0, err
	}
	p.ID, err = res.LastInsertId()
	return p.ID, err
}

func insertChoiceQuestions(ctx context.Context, ex execer, skill model.Skill, itemID int64, questions []model.ChoiceQuestion) error {
	for i := range questions {
		q := &questions[i]
		if q.Ordinal == 0 {
			q.Ordinal = i + 1
		}
		res, err := ex.ExecContext(ctx,
			`INSERT INTO choice_questions (skill, item_id, ordinal, text, option_a, option_b, option_c, option_d, correct_option)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			skill, itemID, q.Ordinal, q.Text, q.Options[0], q.Options[1], q.Options[2], q.Options[3],
			strings.ToUpper(q.CorrectOption),
		)
		if err != nil {
			return err
		}
		if q.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	return nil
}
