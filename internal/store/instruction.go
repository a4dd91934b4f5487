// ABOUTME: Global assistant instruction with a read-through cache over the settings table
// ABOUTME: Writes are durable-first; the cache only updates after a successful commit

package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// DefaultInstruction is used whenever no instruction has been stored.
// The instruction is global: every conversation shares the same one.
const DefaultInstruction = "You are a helpful AI assistant named Skyhammer AI. " +
	"Your goal is to provide information, complete tasks, and engage in conversation. " +
	"You have a wide range of knowledge on various topics including science, technology, " +
	"history, culture, and current events. You can assist with analysis, question answering, " +
	"coding, creative writing, and general discussion. Always strive to give accurate and " +
	"helpful responses while being respectful and ethical. If you're unsure about something, " +
	"it's okay to say so. Try to tailor your language and tone to what seems most appropriate " +
	"for each user and conversation."

const instructionKey = "system_instruction"

// instructionCache holds the in-memory copy of the instruction. It is owned
// by the store and only ever mutated after a successful durable write, so a
// crash between write and cache update merely forces a reload on restart.
type instructionCache struct {
	mu    sync.RWMutex
	value string
	valid bool
}

func (c *instructionCache) get() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.valid
}

func (c *instructionCache) set(v string) {
	c.mu.Lock()
	c.value = v
	c.valid = true
	c.mu.Unlock()
}

// Instruction returns the global assistant instruction, falling back to
// DefaultInstruction when none has been stored.
func (s *SQLiteStore) Instruction(ctx context.Context) (string, error) {
	if v, ok := s.instruction.get(); ok {
		return v, nil
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, instructionKey).Scan(&value)
	if err == sql.ErrNoRows {
		value = ""
	} else if err != nil {
		return "", fmt.Errorf("reading instruction: %w", err)
	}

	if value == "" {
		value = DefaultInstruction
	}
	s.instruction.set(value)
	return value, nil
}

// SetInstruction replaces the global assistant instruction. The durable
// write happens before the cache update. An empty text resets to the
// built-in default.
func (s *SQLiteStore) SetInstruction(ctx context.Context, text string) error {
	if text == "" {
		text = DefaultInstruction
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, instructionKey, text, time.Now().UTC())
	if err != nil {
		return storageErr("writing instruction", err)
	}

	s.instruction.set(text)
	s.logger.Debug("instruction updated", "length", len(text))
	return nil
}
