// Package store provides persistent storage for skyhammer conversations,
// the global assistant instruction, and the transcription job queue.
//
// # Storage Backend
//
// The production implementation uses SQLite (modernc.org/sqlite, pure Go)
// with WAL mode enabled. The schema is created automatically on startup.
//
// # Data Model
//
//   - conversations: id, display name, created/last-updated timestamps
//   - messages: append-ordered turns within a conversation, each carrying a
//     role (user or model), text content, and optional attached-file metadata
//   - settings: key/value rows, currently only the global instruction
//   - jobs: durable transcription work queue rows
//
// # Ordering
//
// Message order within a conversation is definitional: a per-conversation
// mutex plus a transactional position assignment guarantee that concurrent
// appends to the same conversation id commit in a definite order, with no
// lost updates. Appends to different conversations never serialize against
// each other.
//
// # Instruction Cache
//
// The global assistant instruction is read-through cached in memory. Writes
// go to durable storage first and update the cache only after commit, so
// SetInstruction followed by Instruction always observes the new value while
// a crash in between is safe.
//
// # Job Queue
//
// The jobs table is an at-least-once queue: ClaimJob flips queued rows to
// processing atomically, and RequeueStaleJobs returns orphaned processing
// rows to the queue at startup so a worker crash never loses a job.
package store
