// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/ragent/internal/conversation"
	"github.com/jeranaias/ragent/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrSessionNotFound is returned when a session file or ID is unknown.
	ErrSessionNotFound = errors.New("session not found")

	// ErrAmbiguousSession is returned when an ID prefix matches several sessions.
	ErrAmbiguousSession = errors.New("session ID prefix is ambiguous")

	// ErrInvalidRecord is returned for files that are not session records.
	ErrInvalidRecord = errors.New("invalid session record")
)

// =============================================================================
// RECORD
// =============================================================================

// Record is the persisted form of a session.
type Record struct {
	SessionID           string              `json:"session_id"`
	SessionCost         float64             `json:"session_cost"`
	TotalRequests       int                 `json:"total_requests"`
	ConversationHistory []conversation.Turn `json:"conversation_history"`
	IterationLogs       []IterationLog      `json:"iteration_logs"`
	CreatedAt           time.Time           `json:"created_at"`
	SavedAt             time.Time           `json:"saved_at"`
	Timestamp           time.Time           `json:"timestamp"`
}

// FileName is the record's file name within the sessions directory. It is
// derived from the creation time so repeated saves overwrite one file.
func (r *Record) FileName() string {
	id := r.SessionID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("session_%s_%s.json", r.CreatedAt.Format("20060102_150405"), id)
}

// Preview is the first user message on one line, for listings.
func (r *Record) Preview(maxRunes int) string {
	for _, t := range r.ConversationHistory {
		if t.Role == conversation.RoleUser {
			if text := t.Text(); text != "" {
				return util.TruncateRunes(util.OneLine(text), maxRunes)
			}
		}
	}
	return ""
}

// Summary is one row of the session index.
type Summary struct {
	SessionID     string
	Path          string
	CreatedAt     time.Time
	SavedAt       time.Time
	SessionCost   float64
	TotalRequests int
	Turns         int
	Preview       string
}

// =============================================================================
// STORE
// =============================================================================

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

const previewRunes = 80

// Store writes session records to a directory and indexes them in
// <dir>/index.db.
type Store struct {
	dir string
	db  *sql.DB
}

// OpenStore opens (creating if needed) the sessions directory and its index.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open session index: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize session index: %w", err)
	}

	return &Store{dir: dir, db: db}, nil
}

const indexSchema = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id     TEXT PRIMARY KEY,
    path           TEXT NOT NULL,
    created_at     INTEGER NOT NULL, -- Unix nanoseconds
    saved_at       INTEGER NOT NULL,
    session_cost   REAL NOT NULL,
    total_requests INTEGER NOT NULL,
    turns          INTEGER NOT NULL,
    preview        TEXT
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS idx_sessions_saved_at ON sessions(saved_at);
`

// Dir returns the sessions directory.
func (s *Store) Dir() string {
	return s.dir
}

// Close closes the index.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save writes the record atomically and upserts its index row. It returns
// the file path.
func (s *Store) Save(ctx context.Context, rec *Record) (string, error) {
	if rec == nil || rec.SessionID == "" {
		return "", fmt.Errorf("%w: missing session_id", ErrInvalidRecord)
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, rec.FileName())
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write session: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, path, created_at, saved_at, session_cost, total_requests, turns, preview)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			path = excluded.path,
			saved_at = excluded.saved_at,
			session_cost = excluded.session_cost,
			total_requests = excluded.total_requests,
			turns = excluded.turns,
			preview = excluded.preview`,
		rec.SessionID, path, rec.CreatedAt.UnixNano(), rec.SavedAt.UnixNano(),
		rec.SessionCost, rec.TotalRequests, len(rec.ConversationHistory), rec.Preview(previewRunes))
	if err != nil {
		return path, fmt.Errorf("failed to index session: %w", err)
	}
	return path, nil
}

// List returns indexed sessions, most recently saved first.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, path, created_at, saved_at, session_cost, total_requests, turns, COALESCE(preview, '')
		FROM sessions ORDER BY saved_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum              Summary
			created, savedAt int64
		)
		if err := rows.Scan(&sum.SessionID, &sum.Path, &created, &savedAt,
			&sum.SessionCost, &sum.TotalRequests, &sum.Turns, &sum.Preview); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sum.CreatedAt = time.Unix(0, created).UTC()
		sum.SavedAt = time.Unix(0, savedAt).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Resolve maps a file path, a session ID, or a unique ID prefix to the
// path of a saved session.
func (s *Store) Resolve(ctx context.Context, ref string) (string, error) {
	if info, err := os.Stat(ref); err == nil && !info.IsDir() {
		return ref, nil
	}
	if candidate := filepath.Join(s.dir, ref); fileExists(candidate) {
		return candidate, nil
	}
	if ref == "" {
		return "", ErrSessionNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM sessions WHERE substr(session_id, 1, length(?)) = ? LIMIT 2`, ref, ref)
	if err != nil {
		return "", fmt.Errorf("failed to query session index: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return "", err
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	switch len(paths) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, ref)
	case 1:
		return paths[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousSession, ref)
	}
}

// Load reads a session record from a file.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, path)
		}
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if rec.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session_id", ErrInvalidRecord)
	}
	if rec.ConversationHistory == nil {
		rec.ConversationHistory = []conversation.Turn{}
	}
	if rec.IterationLogs == nil {
		rec.IterationLogs = []IterationLog{}
	}
	return &rec, nil
}

func encodeRecord(rec *Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return buf.Bytes(), nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
