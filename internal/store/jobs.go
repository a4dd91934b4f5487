// ABOUTME: Durable transcription job rows implementing an at-least-once work queue
// ABOUTME: Claim flips queued to processing atomically; stale claims are re-deliverable

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnqueueJob persists a new job in the queued state.
func (s *SQLiteStore) EnqueueJob(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	job.State = JobStateQueued

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, audio_path, media_type, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, job.ID, job.AudioPath, job.MediaType, string(job.State), job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return storageErr("inserting job", err)
	}

	s.logger.Debug("job enqueued", "job_id", job.ID, "media_type", job.MediaType)
	return nil
}

// ClaimJob atomically transitions the oldest queued job to processing and
// returns it. Returns ErrNotFound when the queue is empty.
func (s *SQLiteStore) ClaimJob(ctx context.Context) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim: %w", err)
	}
	defer tx.Rollback()

	job := &Job{}
	var state string
	err = tx.QueryRowContext(ctx, `
		SELECT id, audio_path, media_type, state, created_at, updated_at
		FROM jobs
		WHERE state = ?
		ORDER BY created_at ASC
		LIMIT 1
	`, string(JobStateQueued)).Scan(
		&job.ID, &job.AudioPath, &job.MediaType, &state, &job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting queued job: %w", err)
	}

	job.State = JobStateProcessing
	job.UpdatedAt = time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET state = ?, updated_at = ? WHERE id = ? AND state = ?
	`, string(JobStateProcessing), job.UpdatedAt, job.ID, string(JobStateQueued))
	if err != nil {
		return nil, storageErr("claiming job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking claim: %w", err)
	}
	if n == 0 {
		// Another worker won the race for this row
		return nil, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("committing claim", err)
	}

	s.logger.Debug("job claimed", "job_id", job.ID)
	return job, nil
}

// CompleteJob marks a job done and records its transcript.
func (s *SQLiteStore) CompleteJob(ctx context.Context, id, transcript string) error {
	return s.finishJob(ctx, id, JobStateDone, transcript, "")
}

// FailJob marks a job failed and records the error for the waiting caller.
func (s *SQLiteStore) FailJob(ctx context.Context, id, errMsg string) error {
	return s.finishJob(ctx, id, JobStateFailed, "", errMsg)
}

func (s *SQLiteStore) finishJob(ctx context.Context, id string, state JobState, transcript, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, transcript = ?, error = ?, updated_at = ?
		WHERE id = ? AND state = ?
	`, string(state), transcript, errMsg, time.Now().UTC(), id, string(JobStateProcessing))
	if err != nil {
		return storageErr("finishing job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking finish: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.logger.Debug("job finished", "job_id", id, "state", state)
	return nil
}

// GetJob retrieves a job by id. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	job := &Job{}
	var state string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, audio_path, media_type, state, transcript, error, created_at, updated_at
		FROM jobs
		WHERE id = ?
	`, id).Scan(&job.ID, &job.AudioPath, &job.MediaType, &state,
		&job.Transcript, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying job: %w", err)
	}
	job.State = JobState(state)
	return job, nil
}

// RequeueStaleJobs returns processing jobs to the queued state. Called at
// startup so that jobs orphaned by a worker crash are re-delivered rather
// than silently lost.
func (s *SQLiteStore) RequeueStaleJobs(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, updated_at = ? WHERE state = ?
	`, string(JobStateQueued), time.Now().UTC(), string(JobStateProcessing))
	if err != nil {
		return 0, storageErr("requeueing stale jobs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking requeue: %w", err)
	}
	if n > 0 {
		s.logger.Info("requeued stale jobs", "count", n)
	}
	return int(n), nil
}
