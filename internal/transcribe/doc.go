// Package transcribe runs audio transcription as durable queued jobs.
//
// Jobs are persisted before execution and claimed transactionally by a
// worker pool, giving at-least-once semantics: a crash mid-job leaves the
// row in the processing state, and the next Start requeues it. Callers
// hold a Handle and await the terminal state with their own context
// timeout; the queue enforces none and never retries a failed job.
package transcribe
