// ABOUTME: Worker pool over the durable job store with awaitable job handles
// ABOUTME: Jobs run to completion once claimed; waiters block with caller-supplied timeouts

package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/skyhammer/internal/store"
)

// ErrJobFailed wraps the stored error of a job that reached the failed state.
var ErrJobFailed = errors.New("transcription job failed")

// defaultPollInterval bounds how long a waiter can miss a wakeup, and paces
// idle workers. Wakeups normally arrive through in-memory notification.
const defaultPollInterval = 500 * time.Millisecond

// Transcriber turns an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Queue executes transcription jobs from the durable store with a pool of
// workers. Enqueue hands back a Handle the caller awaits; the job itself is
// owned by the queue until it reaches a terminal state.
type Queue struct {
	jobs    store.JobStore
	tr      Transcriber
	workers int
	poll    time.Duration
	logger  *slog.Logger

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	waiters map[string][]chan struct{}
}

// NewQueue creates a queue with the given worker count. Pass nil logger for
// default.
func NewQueue(jobs store.JobStore, tr Transcriber, workers int, logger *slog.Logger) *Queue {
	if workers <= 0 {
		workers = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		jobs:    jobs,
		tr:      tr,
		workers: workers,
		poll:    defaultPollInterval,
		logger:  logger.With("component", "transcribe"),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		waiters: make(map[string][]chan struct{}),
	}
}

// SetPollInterval overrides the fallback poll interval used by idle workers
// and waiters. Call before Start.
func (q *Queue) SetPollInterval(d time.Duration) {
	if d > 0 {
		q.poll = d
	}
}

// Start requeues jobs orphaned by a previous crash and launches the workers.
func (q *Queue) Start() {
	if _, err := q.jobs.RequeueStaleJobs(context.Background()); err != nil {
		q.logger.Error("requeueing stale jobs failed", "error", err)
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.Info("transcription workers started", "workers", q.workers)
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (q *Queue) Stop() {
	close(q.stop)
	q.wg.Wait()
	q.logger.Info("transcription workers stopped")
}

// Handle refers to a submitted job and lets the caller await its terminal
// state. The caller supplies its own timeout through ctx; the queue itself
// enforces none.
type Handle struct {
	JobID string
	queue *Queue
}

// Enqueue persists a new job and returns a handle for awaiting it.
func (q *Queue) Enqueue(ctx context.Context, audioPath, mediaType string) (*Handle, error) {
	job := &store.Job{AudioPath: audioPath, MediaType: mediaType}
	if err := q.jobs.EnqueueJob(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueueing transcription: %w", err)
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return &Handle{JobID: job.ID, queue: q}, nil
}

// Transcribe is the blocking convenience wrapper: enqueue and await.
func (q *Queue) Transcribe(ctx context.Context, audioPath, mediaType string) (string, error) {
	handle, err := q.Enqueue(ctx, audioPath, mediaType)
	if err != nil {
		return "", err
	}
	return handle.Wait(ctx)
}

// Wait blocks until the job reaches a terminal state or ctx expires. A done
// job yields its transcript; a failed job yields ErrJobFailed wrapping the
// stored error.
func (h *Handle) Wait(ctx context.Context) (string, error) {
	q := h.queue
	for {
		notify := q.addWaiter(h.JobID)

		job, err := q.jobs.GetJob(ctx, h.JobID)
		if err != nil {
			q.removeWaiter(h.JobID, notify)
			return "", fmt.Errorf("looking up job %s: %w", h.JobID, err)
		}
		switch job.State {
		case store.JobStateDone:
			q.removeWaiter(h.JobID, notify)
			return job.Transcript, nil
		case store.JobStateFailed:
			q.removeWaiter(h.JobID, notify)
			return "", fmt.Errorf("%w: %s", ErrJobFailed, job.Error)
		}

		select {
		case <-notify:
		case <-time.After(q.poll):
			// Covers completions from another process sharing the store
			q.removeWaiter(h.JobID, notify)
		case <-ctx.Done():
			q.removeWaiter(h.JobID, notify)
			return "", ctx.Err()
		}
	}
}

func (q *Queue) addWaiter(jobID string) chan struct{} {
	ch := make(chan struct{})
	q.mu.Lock()
	q.waiters[jobID] = append(q.waiters[jobID], ch)
	q.mu.Unlock()
	return ch
}

func (q *Queue) removeWaiter(jobID string, ch chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.waiters[jobID]
	for i, c := range list {
		if c == ch {
			q.waiters[jobID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(q.waiters[jobID]) == 0 {
		delete(q.waiters, jobID)
	}
}

func (q *Queue) notify(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, ch := range q.waiters[jobID] {
		close(ch)
	}
	delete(q.waiters, jobID)
}

// worker claims and executes jobs until Stop. Claimed jobs always run to
// completion; they are not cancelable, only awaited or failed.
func (q *Queue) worker(id int) {
	defer q.wg.Done()
	logger := q.logger.With("worker", id)

	for {
		select {
		case <-q.stop:
			return
		default:
		}

		job, err := q.jobs.ClaimJob(context.Background())
		if err == store.ErrNotFound {
			select {
			case <-q.wake:
			case <-time.After(q.poll):
			case <-q.stop:
				return
			}
			continue
		}
		if err != nil {
			logger.Error("claiming job failed", "error", err)
			select {
			case <-time.After(q.poll):
			case <-q.stop:
				return
			}
			continue
		}

		q.run(logger, job)
	}
}

func (q *Queue) run(logger *slog.Logger, job *store.Job) {
	logger.Debug("transcribing", "job_id", job.ID, "audio_path", job.AudioPath)

	transcript, err := q.tr.Transcribe(context.Background(), job.AudioPath)
	if err != nil {
		logger.Error("transcription failed", "job_id", job.ID, "error", err)
		if ferr := q.jobs.FailJob(context.Background(), job.ID, err.Error()); ferr != nil {
			logger.Error("recording job failure failed", "job_id", job.ID, "error", ferr)
		}
	} else {
		if cerr := q.jobs.CompleteJob(context.Background(), job.ID, transcript); cerr != nil {
			logger.Error("recording job completion failed", "job_id", job.ID, "error", cerr)
		}
	}

	q.notify(job.ID)
}
