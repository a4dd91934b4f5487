// ABOUTME: Store interface and data types for skyhammer persistence
// ABOUTME: Defines Conversation, Message, Job structs and storage error sentinels

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrStorageIO marks a durable-write failure. Callers can match it with
// errors.Is to distinguish storage trouble from logic errors.
var ErrStorageIO = errors.New("storage write failed")

// Role identifies who authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ParseRole normalizes a stored role string. The legacy "assistant" label
// maps to RoleModel; anything that is not the model's own output role is
// treated as user-originated.
func ParseRole(s string) Role {
	switch s {
	case string(RoleModel), "assistant":
		return RoleModel
	default:
		return RoleUser
	}
}

// FileRef records the metadata of a file attached to a message. Only the
// metadata is persisted; transformed attachment content never is.
type FileRef struct {
	OriginalName string
	StoredName   string
	MediaType    string
	Path         string
}

// Message is a single turn within a conversation. Messages are immutable
// once appended; their position is their append order.
type Message struct {
	ID        string
	Role      Role
	Content   string
	File      *FileRef
	CreatedAt time.Time
}

// ConversationSummary is the listing view of a conversation.
type ConversationSummary struct {
	ID          string
	Name        string
	Created     time.Time
	LastUpdated time.Time
}

// Store defines the interface for conversation and instruction persistence.
type Store interface {
	GetMessages(ctx context.Context, conversationID string) ([]Message, error)
	AppendMessage(ctx context.Context, conversationID string, msg Message) error
	ListConversations(ctx context.Context) ([]ConversationSummary, error)
	GetConversation(ctx context.Context, id string) (*ConversationSummary, error)
	CreateConversation(ctx context.Context, id, name string, first Message) error
	RenameConversation(ctx context.Context, id, name string) error
	DeleteConversation(ctx context.Context, id string) error
	ClearMessages(ctx context.Context, id string) error

	Instruction(ctx context.Context) (string, error)
	SetInstruction(ctx context.Context, text string) error
}

// JobState is the lifecycle state of a transcription job.
type JobState string

const (
	JobStateQueued     JobState = "queued"
	JobStateProcessing JobState = "processing"
	JobStateDone       JobState = "done"
	JobStateFailed     JobState = "failed"
)

// Job is a queued attachment transformation. The queue owns the row until
// the job reaches a terminal state; callers hold only the job ID.
type Job struct {
	ID         string
	AudioPath  string
	MediaType  string
	State      JobState
	Transcript string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// JobStore defines the durable work-queue operations backing transcription.
type JobStore interface {
	EnqueueJob(ctx context.Context, job *Job) error
	ClaimJob(ctx context.Context) (*Job, error)
	CompleteJob(ctx context.Context, id, transcript string) error
	FailJob(ctx context.Context, id, errMsg string) error
	GetJob(ctx context.Context, id string) (*Job, error)
	RequeueStaleJobs(ctx context.Context) (int, error)
}
