package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shopglue/chatwidget/pkg/session"
)

// Store persists the last authoritative session per website key so a
// restarted process resumes the same conversation. Write-through on every
// authoritative update; read once at bootstrap before connect.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	website_key TEXT PRIMARY KEY,
	session_json TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

// Open creates or opens the cache database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: database ping failed: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Save writes the session for a website key, replacing any previous entry.
func (s *Store) Save(websiteKey string, sess *session.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("cache: marshal session: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (website_key, session_json, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(website_key) DO UPDATE SET session_json = excluded.session_json, updated_at = excluded.updated_at`,
		websiteKey, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cache: save session: %w", err)
	}
	return nil
}

// Load returns the cached session for a website key, or (nil, nil) when
// there is none.
func (s *Store) Load(websiteKey string) (*session.Session, error) {
	var data string
	err := s.db.QueryRow(
		`SELECT session_json FROM sessions WHERE website_key = ?`, websiteKey).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: load session: %w", err)
	}

	var sess session.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("cache: unmarshal session: %w", err)
	}
	return &sess, nil
}

// Delete removes the cached session for a website key.
func (s *Store) Delete(websiteKey string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE website_key = ?`, websiteKey); err != nil {
		return fmt.Errorf("cache: delete session: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
