// Package storage persists swaps in SQLite so that claims and refunds can
// be resumed after a restart.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DatabaseFileName is the name of the SQLite file inside the data directory.
const DatabaseFileName = "swaps.db"

var ErrSettingNotFound = errors.New("setting not found")

// Storage provides persistent storage for swaps.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DatabaseFileName)

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.dbPath
}

func (s *Storage) initSchema() error {
	schema := `
	-- Key/value settings (monitor progress)
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);

	-- One row per HTLC output we can spend
	CREATE TABLE IF NOT EXISTS swaps (
		id TEXT PRIMARY KEY,
		network TEXT NOT NULL,

		-- submarine or reverse script, and which branch we hold the key for
		kind TEXT NOT NULL,
		role TEXT NOT NULL,

		-- Script
		redeem_script TEXT NOT NULL,
		output_type TEXT NOT NULL,
		address TEXT NOT NULL,
		preimage_hash TEXT NOT NULL,
		claim_pubkey TEXT NOT NULL,
		refund_pubkey TEXT NOT NULL,
		timeout_height INTEGER NOT NULL,

		-- Expected lockup
		expected_amount INTEGER NOT NULL DEFAULT 0,
		asset TEXT,

		-- Preimage, set once known
		preimage TEXT,

		-- Lockup output
		lockup_txid TEXT,
		lockup_vout INTEGER DEFAULT 0,
		lockup_amount INTEGER DEFAULT 0,
		lockup_height INTEGER DEFAULT 0,

		-- created, mempool, confirmed, claimed, refunded, failed
		state TEXT NOT NULL DEFAULT 'created',

		-- Result
		claim_txid TEXT,
		refund_txid TEXT,
		failure_reason TEXT,

		-- Timing
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_swaps_state ON swaps(state);
	CREATE INDEX IF NOT EXISTS idx_swaps_timeout ON swaps(timeout_height);
	CREATE INDEX IF NOT EXISTS idx_swaps_address ON swaps(address);
	CREATE INDEX IF NOT EXISTS idx_swaps_lockup ON swaps(lockup_txid);
	`

	_, err := s.db.Exec(schema)
	return err
}

// GetSetting returns a stored setting.
func (s *Storage) GetSetting(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value sql.NullString
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrSettingNotFound
	}
	if err != nil {
		return "", err
	}
	return value.String, nil
}

// SetSetting stores a setting, replacing any previous value.
func (s *Storage) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	return err
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
