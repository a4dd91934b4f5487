// ABOUTME: Conversation and message persistence on the SQLite store
// ABOUTME: Appends are serialized per conversation id and committed atomically

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GetMessages returns the messages of a conversation in append order.
// An unknown conversation id yields an empty slice, not an error.
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string) ([]Message, error) {
	query := `
		SELECT id, role, content,
			file_original_name, file_stored_name, file_media_type, file_path,
			created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY position ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var (
			msg                                            Message
			role                                           string
			origName, storedName, mediaType, filePath      sql.NullString
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content,
			&origName, &storedName, &mediaType, &filePath,
			&msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Role = ParseRole(role)
		if origName.Valid || storedName.Valid || mediaType.Valid || filePath.Valid {
			msg.File = &FileRef{
				OriginalName: origName.String,
				StoredName:   storedName.String,
				MediaType:    mediaType.String,
				Path:         filePath.String,
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return messages, nil
}

// AppendMessage adds a message to a conversation, creating the conversation
// row on first use. The conversation row update and the message insert commit
// in a single transaction: a failed write leaves no partial state behind.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg Message) error {
	mu := s.convLock(conversationID)
	mu.Lock()
	defer mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("beginning append", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, name, created_at, last_updated)
		VALUES (?, '', ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_updated = excluded.last_updated
	`, conversationID, now, now); err != nil {
		return storageErr("upserting conversation", err)
	}

	if err := insertMessage(ctx, tx, conversationID, &msg); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("committing append", err)
	}

	s.logger.Debug("message appended",
		"conversation_id", conversationID,
		"message_id", msg.ID,
		"role", msg.Role)
	return nil
}

// insertMessage inserts a message at the next free position within its
// conversation. Position assignment happens inside the caller's transaction.
func insertMessage(ctx context.Context, tx *sql.Tx, conversationID string, msg *Message) error {
	var fileOrig, fileStored, fileMedia, filePath any
	if msg.File != nil {
		fileOrig = nullString(msg.File.OriginalName)
		fileStored = nullString(msg.File.StoredName)
		fileMedia = nullString(msg.File.MediaType)
		filePath = nullString(msg.File.Path)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (
			id, conversation_id, position, role, content,
			file_original_name, file_stored_name, file_media_type, file_path,
			created_at
		) VALUES (
			?, ?,
			(SELECT COALESCE(MAX(position), -1) + 1 FROM messages WHERE conversation_id = ?),
			?, ?, ?, ?, ?, ?, ?
		)
	`, msg.ID, conversationID, conversationID,
		string(msg.Role), msg.Content,
		fileOrig, fileStored, fileMedia, filePath,
		msg.CreatedAt)
	if err != nil {
		return storageErr("inserting message", err)
	}
	return nil
}

// ListConversations returns conversation summaries ordered by recency.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at, last_updated
		FROM conversations
		ORDER BY last_updated DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	summaries := []ConversationSummary{}
	for rows.Next() {
		var c ConversationSummary
		if err := rows.Scan(&c.ID, &c.Name, &c.Created, &c.LastUpdated); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		summaries = append(summaries, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}

	return summaries, nil
}

// GetConversation retrieves a conversation summary by id.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*ConversationSummary, error) {
	var c ConversationSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at, last_updated
		FROM conversations
		WHERE id = ?
	`, id).Scan(&c.ID, &c.Name, &c.Created, &c.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return &c, nil
}

// CreateConversation creates a named conversation seeded with its first
// message. The row and the message commit together.
func (s *SQLiteStore) CreateConversation(ctx context.Context, id, name string, first Message) error {
	mu := s.convLock(id)
	mu.Lock()
	defer mu.Unlock()

	if first.ID == "" {
		first.ID = uuid.New().String()
	}
	if first.CreatedAt.IsZero() {
		first.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("beginning create", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, name, created_at, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, last_updated = excluded.last_updated
	`, id, name, now, now); err != nil {
		return storageErr("inserting conversation", err)
	}

	if err := insertMessage(ctx, tx, id, &first); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("committing create", err)
	}

	s.logger.Debug("conversation created", "conversation_id", id, "name", name)
	return nil
}

// RenameConversation updates a conversation's display name.
func (s *SQLiteStore) RenameConversation(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET name = ?, last_updated = ? WHERE id = ?
	`, name, time.Now().UTC(), id)
	if err != nil {
		return storageErr("renaming conversation", err)
	}
	return nil
}

// DeleteConversation removes a conversation and its messages.
// Deleting an unknown id is a no-op, not an error.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return storageErr("deleting conversation", err)
	}
	s.logger.Debug("conversation deleted", "conversation_id", id)
	return nil
}

// ClearMessages removes all messages of a conversation while keeping the
// conversation row itself.
func (s *SQLiteStore) ClearMessages(ctx context.Context, id string) error {
	mu := s.convLock(id)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("beginning clear", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return storageErr("clearing messages", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET last_updated = ? WHERE id = ?
	`, time.Now().UTC(), id); err != nil {
		return storageErr("touching conversation", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("committing clear", err)
	}
	return nil
}

// storageErr wraps a driver error so it matches both ErrStorageIO and the
// underlying error via errors.Is/As.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStorageIO, err))
}
