// Package store keeps the topic catalog in SQLite.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pavelanni/surgieval/internal/model"

	_ "modernc.org/sqlite"
)

// ErrInvalidTopic is returned for a topic with an unknown mode or a blank name.
var ErrInvalidTopic = errors.New("invalid topic")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each pooled connection would get its own empty database.
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
	CREATE TABLE IF NOT EXISTS topics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mode TEXT NOT NULL,
		name TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		UNIQUE (mode, name)
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS catalog_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// InsertTopic stores a topic at the end of its mode's list. Inserting an
// existing (mode, name) pair is a no-op and reports false.
func (s *Store) InsertTopic(mode model.ExamMode, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if !mode.Valid() || name == "" {
		return false, fmt.Errorf("%w: mode %q name %q", ErrInvalidTopic, mode, name)
	}
	res, err := s.db.Exec(
		`INSERT INTO topics (mode, name, position)
		 SELECT ?, ?, COALESCE(MAX(position), 0) + 1 FROM topics WHERE mode = ?
		 ON CONFLICT(mode, name) DO NOTHING`,
		string(mode), name, string(mode),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListTopics returns the topics of a mode in catalog order. An empty mode
// lists every topic.
func (s *Store) ListTopics(mode model.ExamMode) ([]model.Topic, error) {
	query := `SELECT id, mode, name, position FROM topics`
	var args []any
	if mode != "" {
		query += ` WHERE mode = ?`
		args = append(args, string(mode))
	}
	query += ` ORDER BY mode, position, id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var topics []model.Topic
	for rows.Next() {
		var t model.Topic
		if err := rows.Scan(&t.ID, &t.Mode, &t.Name, &t.Position); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// TopicNames returns just the names of a mode's topics.
func (s *Store) TopicNames(mode model.ExamMode) ([]string, error) {
	topics, err := s.ListTopics(mode)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(topics))
	for _, t := range topics {
		names = append(names, t.Name)
	}
	return names, nil
}

// TopicCount returns the number of catalog entries.
func (s *Store) TopicCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM topics`).Scan(&n)
	return n, err
}

// GetImportedFileHash returns the stored hash for a file path, or "" if not found.
func (s *Store) GetImportedFileHash(path string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT hash FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash upserts the hash for a file path.
func (s *Store) SetImportedFileHash(path, hash string) error {
	_, err := s.db.Exec(
		`INSERT INTO imported_files (path, hash) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = ?`,
		path, hash, hash,
	)
	return err
}

// SeedDefaults loads the built-in topic lists once per database.
func (s *Store) SeedDefaults() error {
	done, err := s.GetMetadata(metaDefaultsSeeded)
	if err != nil {
		return err
	}
	if done != "" {
		return nil
	}
	lists := []struct {
		mode  model.ExamMode
		names []string
	}{
		{model.ModeCase, model.DefaultCaseTopics},
		{model.ModeProcedure, model.DefaultProcedureTopics},
	}
	for _, l := range lists {
		for _, name := range l.names {
			if _, err := s.InsertTopic(l.mode, name); err != nil {
				return fmt.Errorf("seed %s topic %q: %w", l.mode, name, err)
			}
		}
	}
	return s.SetMetadata(metaDefaultsSeeded, "1")
}

// ImportTopics loads a JSON array of {mode, name} objects. A file whose
// content hash matches the previous import is skipped. It returns the number
// of new topics.
func (s *Store) ImportTopics(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read topics file: %w", err)
	}
	hash := sha256sum(data)

	storedHash, err := s.GetImportedFileHash(path)
	if err != nil {
		return 0, fmt.Errorf("check file hash: %w", err)
	}
	if storedHash == hash {
		slog.Info("topics file unchanged, skipping import", "file", path)
		return 0, nil
	}

	var topics []model.TopicImport
	if err := json.Unmarshal(data, &topics); err != nil {
		return 0, fmt.Errorf("parse topics: %w", err)
	}
	added := 0
	for i, t := range topics {
		ok, err := s.InsertTopic(model.ExamMode(strings.ToUpper(strings.TrimSpace(string(t.Mode)))), t.Name)
		if err != nil {
			return added, fmt.Errorf("topic %d: %w", i+1, err)
		}
		if ok {
			added++
		}
	}
	if err := s.SetImportedFileHash(path, hash); err != nil {
		return added, fmt.Errorf("store file hash: %w", err)
	}
	slog.Info("imported topics", "file", path, "added", added, "total", len(topics))
	return added, nil
}

func sha256sum(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}
