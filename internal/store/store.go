package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is the relational persistence layer for content, mock tests,
// results and users.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'student',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS listening_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		level TEXT NOT NULL,
		topic TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		audio_url TEXT NOT NULL DEFAULT '',
		transcript TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS reading_passages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		level TEXT NOT NULL,
		topic TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS choice_questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		skill TEXT NOT NULL,
		item_id INTEGER NOT NULL,
		ordinal INTEGER NOT NULL,
		text TEXT NOT NULL,
		option_a TEXT NOT NULL,
		option_b TEXT NOT NULL,
		option_c TEXT NOT NULL,
		option_d TEXT NOT NULL,
		correct_option TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_choice_questions_item ON choice_questions(skill, item_id);

	CREATE TABLE IF NOT EXISTS writing_prompts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		level TEXT NOT NULL,
		topic TEXT NOT NULL DEFAULT '',
		task TEXT NOT NULL,
		prompt TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS speaking_prompts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		level TEXT NOT NULL,
		topic TEXT NOT NULL DEFAULT '',
		part INTEGER NOT NULL,
		prompt TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS mock_tests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS mock_test_items (
		mock_test_id INTEGER NOT NULL,
		skill TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		content_id INTEGER NOT NULL,
		PRIMARY KEY (mock_test_id, skill, ordinal),
		FOREIGN KEY (mock_test_id) REFERENCES mock_tests(id)
	);
	CREATE INDEX IF NOT EXISTS idx_mock_test_items_test ON mock_test_items(mock_test_id);

	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		attempt_id TEXT NOT NULL UNIQUE,
		mock_test_id INTEGER NOT NULL,
		learner_id INTEGER NOT NULL,
		listening REAL NOT NULL DEFAULT 0,
		reading REAL NOT NULL DEFAULT 0,
		writing REAL NOT NULL DEFAULT 0,
		speaking REAL NOT NULL DEFAULT 0,
		overall REAL NOT NULL DEFAULT 0,
		writing_feedback TEXT NOT NULL DEFAULT '',
		speaking_feedback TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (mock_test_id) REFERENCES mock_tests(id)
	);
	CREATE INDEX IF NOT EXISTS idx_results_learner ON results(learner_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}
