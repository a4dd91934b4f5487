// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message/job persistence with automatic schema creation

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store and JobStore interfaces using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	// instruction read-through cache, invalidated on write
	instruction instructionCache

	// per-conversation append locks so racing appends to the same
	// conversation commit in a definite order
	appendMu sync.Mutex
	appends  map[string]*sync.Mutex
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		path:    path,
		logger:  logger,
		appends: make(map[string]*sync.Mutex),
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			last_updated DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_last_updated
			ON conversations(last_updated);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			file_original_name TEXT,
			file_stored_name TEXT,
			file_media_type TEXT,
			file_path TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_conversation_position
			ON messages(conversation_id, position);

		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			audio_path TEXT NOT NULL,
			media_type TEXT NOT NULL,
			state TEXT NOT NULL,
			transcript TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,

			CHECK (state IN ('queued', 'processing', 'done', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_jobs_state_created
			ON jobs(state, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}

	return nil
}

// Path returns the filesystem path of the backing database.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// convLock returns the append mutex for a conversation id, creating it on
// first use. Lock instances are never removed; the conversation universe is
// small and bounded by actual usage.
func (s *SQLiteStore) convLock(id string) *sync.Mutex {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	mu, ok := s.appends[id]
	if !ok {
		mu = &sync.Mutex{}
		s.appends[id] = mu
	}
	return mu
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
