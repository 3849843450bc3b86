package cache

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/ghostkellz/zeke/provider"
)

const schema = `
CREATE TABLE IF NOT EXISTS response_cache (
	input_hash        INTEGER NOT NULL UNIQUE,
	model             TEXT NOT NULL,
	input_text        TEXT NOT NULL,
	response_content  TEXT NOT NULL,
	response_model    TEXT NOT NULL,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens      INTEGER NOT NULL DEFAULT 0,
	timestamp         INTEGER NOT NULL,
	access_count      INTEGER NOT NULL DEFAULT 0,
	last_access       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_response_cache_hash ON response_cache(input_hash);
CREATE INDEX IF NOT EXISTS idx_response_cache_model ON response_cache(model);
CREATE INDEX IF NOT EXISTS idx_response_cache_timestamp ON response_cache(timestamp);
CREATE INDEX IF NOT EXISTS idx_response_cache_access ON response_cache(access_count);
`

// Entry is one cached response with its bookkeeping.
type Entry struct {
	InputHash   uint64
	Model       string
	InputText   string
	Response    provider.ChatResponse
	Timestamp   time.Time
	AccessCount int64
	LastAccess  time.Time
}

// Store is the durable cache tier, persisted in a SQLite database. It is a
// cold-start optimization: losing writes is acceptable, corruption is not,
// so every statement is parameterized.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the cache database at dbPath and ensures the
// schema exists. The caller is responsible for calling Close.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Put inserts or replaces the entry for its input hash.
func (s *Store) Put(e *Entry) error {
	_, err := s.db.Exec(`
		INSERT INTO response_cache
			(input_hash, model, input_text, response_content, response_model,
			 prompt_tokens, completion_tokens, total_tokens,
			 timestamp, access_count, last_access)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(input_hash) DO UPDATE SET
			model=excluded.model,
			input_text=excluded.input_text,
			response_content=excluded.response_content,
			response_model=excluded.response_model,
			prompt_tokens=excluded.prompt_tokens,
			completion_tokens=excluded.completion_tokens,
			total_tokens=excluded.total_tokens,
			timestamp=excluded.timestamp,
			access_count=excluded.access_count,
			last_access=excluded.last_access`,
		int64(e.InputHash), e.Model, e.InputText,
		e.Response.Content, e.Response.Model,
		e.Response.Usage.PromptTokens, e.Response.Usage.CompletionTokens, e.Response.Usage.TotalTokens,
		e.Timestamp.Unix(), e.AccessCount, e.LastAccess.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert cache entry: %w", err)
	}
	return nil
}

// Get returns the entry for the hash, or nil when absent.
func (s *Store) Get(hash uint64) (*Entry, error) {
	row := s.db.QueryRow(`
		SELECT input_hash, model, input_text, response_content, response_model,
		       prompt_tokens, completion_tokens, total_tokens,
		       timestamp, access_count, last_access
		FROM response_cache WHERE input_hash = ?`, int64(hash))
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// Touch records a hit: increments access_count and updates last_access.
func (s *Store) Touch(hash uint64, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE response_cache
		SET access_count = access_count + 1, last_access = ?
		WHERE input_hash = ?`, at.Unix(), int64(hash))
	if err != nil {
		return fmt.Errorf("touch cache entry: %w", err)
	}
	return nil
}

// DeleteExpired removes entries inserted before cutoff and returns how
// many were removed.
func (s *Store) DeleteExpired(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM response_cache WHERE timestamp < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired entries: %w", err)
	}
	return res.RowsAffected()
}

// EvictToCapacity removes the oldest entries by insertion timestamp until
// at most max remain.
func (s *Store) EvictToCapacity(max int) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM response_cache WHERE input_hash NOT IN (
			SELECT input_hash FROM response_cache
			ORDER BY timestamp DESC LIMIT ?
		)`, max)
	if err != nil {
		return 0, fmt.Errorf("evict cache entries: %w", err)
	}
	return res.RowsAffected()
}

// Warm returns up to limit of the newest entries for seeding the memory
// tier on startup.
func (s *Store) Warm(limit int) ([]*Entry, error) {
	rows, err := s.db.Query(`
		SELECT input_hash, model, input_text, response_content, response_model,
		       prompt_tokens, completion_tokens, total_tokens,
		       timestamp, access_count, last_access
		FROM response_cache ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("warm cache: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Len returns the number of durable entries.
func (s *Store) Len() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM response_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}

// scanner abstracts sql.Row and sql.Rows for scanEntry.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var e Entry
	var hash, ts, lastAccess int64

	err := s.Scan(
		&hash, &e.Model, &e.InputText,
		&e.Response.Content, &e.Response.Model,
		&e.Response.Usage.PromptTokens, &e.Response.Usage.CompletionTokens, &e.Response.Usage.TotalTokens,
		&ts, &e.AccessCount, &lastAccess,
	)
	if err != nil {
		return nil, err
	}
	e.InputHash = uint64(hash)
	e.Timestamp = time.Unix(ts, 0)
	e.LastAccess = time.Unix(lastAccess, 0)
	return &e, nil
}
