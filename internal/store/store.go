// Package store persists generation drafts and finished cases in sqlite.
// Drafts are mutable across pipeline stages and enable resume; cases are
// append-only, keyed by case date.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"caseweaver/internal/mystery"
)

// ErrNotFound is returned when a draft or case key does not exist.
var ErrNotFound = errors.New("store: not found")

// Store manages the caseweaver database.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// DraftMeta summarises a saved draft without loading its state blob.
type DraftMeta struct {
	DraftID   string
	CaseDate  string
	Stage     string
	UpdatedAt time.Time
}

// Open creates or opens the database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS drafts (
		draft_id TEXT PRIMARY KEY,
		case_date TEXT NOT NULL,
		stage TEXT NOT NULL,
		state_json TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_drafts_date ON drafts(case_date);

	CREATE TABLE IF NOT EXISTS cases (
		case_date TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		case_json TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveDraft upserts a draft's accumulator. stage names the last stage that
// completed successfully.
func (s *Store) SaveDraft(draftID, caseDate, stage string, state any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal draft state: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO drafts (draft_id, case_date, stage, state_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(draft_id) DO UPDATE SET
			case_date = excluded.case_date,
			stage = excluded.stage,
			state_json = excluded.state_json,
			updated_at = excluded.updated_at`,
		draftID, caseDate, stage, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}
	return nil
}

// LoadDraft reads a draft's accumulator into state.
func (s *Store) LoadDraft(draftID string, state any) (DraftMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var meta DraftMeta
	var blob string
	err := s.db.QueryRow(`
		SELECT draft_id, case_date, stage, state_json, updated_at
		FROM drafts WHERE draft_id = ?`, draftID).
		Scan(&meta.DraftID, &meta.CaseDate, &meta.Stage, &blob, &meta.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return meta, fmt.Errorf("draft %s: %w", draftID, ErrNotFound)
	}
	if err != nil {
		return meta, fmt.Errorf("failed to load draft: %w", err)
	}

	if err := json.Unmarshal([]byte(blob), state); err != nil {
		return meta, fmt.Errorf("failed to parse draft state: %w", err)
	}
	return meta, nil
}

// DraftMetaFor returns a draft's summary without decoding its state blob.
func (s *Store) DraftMetaFor(draftID string) (DraftMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var meta DraftMeta
	err := s.db.QueryRow(`
		SELECT draft_id, case_date, stage, updated_at
		FROM drafts WHERE draft_id = ?`, draftID).
		Scan(&meta.DraftID, &meta.CaseDate, &meta.Stage, &meta.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return meta, fmt.Errorf("draft %s: %w", draftID, ErrNotFound)
	}
	if err != nil {
		return meta, fmt.Errorf("failed to load draft meta: %w", err)
	}
	return meta, nil
}

// DeleteDraft removes a draft. Deleting a missing draft is not an error.
func (s *Store) DeleteDraft(draftID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM drafts WHERE draft_id = ?`, draftID); err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return nil
}

// ListDrafts returns draft summaries, most recently updated first.
func (s *Store) ListDrafts() ([]DraftMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT draft_id, case_date, stage, updated_at
		FROM drafts ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	defer rows.Close()

	var metas []DraftMeta
	for rows.Next() {
		var m DraftMeta
		if err := rows.Scan(&m.DraftID, &m.CaseDate, &m.Stage, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan draft row: %w", err)
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// SaveCase writes a finished case under its date key. Cases are append-only:
// overwriting an existing date is an error.
func (s *Store) SaveCase(c *mystery.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal case: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO cases (case_date, title, case_json, created_at)
		VALUES (?, ?, ?, ?)`,
		c.Date, c.Title, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save case %s: %w", c.Date, err)
	}
	return nil
}

// LoadCase reads the case stored under caseDate.
func (s *Store) LoadCase(caseDate string) (*mystery.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blob string
	err := s.db.QueryRow(`SELECT case_json FROM cases WHERE case_date = ?`, caseDate).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("case %s: %w", caseDate, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load case: %w", err)
	}

	var c mystery.Case
	if err := json.Unmarshal([]byte(blob), &c); err != nil {
		return nil, fmt.Errorf("failed to parse case: %w", err)
	}
	return &c, nil
}
