// Package memory is the durable personal-memory store backed by SQLite.
// Entries survive across conversations and execution contexts; background
// runs read them to personalize unattended work.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type Entry struct {
	ID        int64
	Category  string
	Content   string
	CreatedAt time.Time
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening memory db: %w", err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS memories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		category TEXT NOT NULL DEFAULT 'other',
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("initializing memory schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Remember(ctx context.Context, category, content string) (int64, error) {
	if strings.TrimSpace(content) == "" {
		return 0, fmt.Errorf("memory content is empty")
	}
	if category == "" {
		category = "other"
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO memories (category, content, created_at) VALUES (?, ?, ?)",
		category, content, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Recall returns entries whose content matches the query, newest first.
// An empty query returns the most recent entries.
func (s *Store) Recall(ctx context.Context, query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows *sql.Rows
	var err error
	if strings.TrimSpace(query) == "" {
		rows, err = s.db.QueryContext(ctx,
			"SELECT id, category, content, created_at FROM memories ORDER BY created_at DESC LIMIT ?",
			limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			"SELECT id, category, content, created_at FROM memories WHERE content LIKE ? OR category LIKE ? ORDER BY created_at DESC LIMIT ?",
			"%"+query+"%", "%"+query+"%", limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) Forget(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory %d not found", id)
	}
	return nil
}

// ContextBlock renders the most recent entries as a block for a system
// prompt. Empty string when nothing is stored.
func (s *Store) ContextBlock(ctx context.Context, limit int) (string, error) {
	entries, err := s.Recall(ctx, "", limit)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString("Known facts about the user:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "- [%s] %s\n", e.Category, e.Content)
	}
	return b.String(), nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Category, &e.Content, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
