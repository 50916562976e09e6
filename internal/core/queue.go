package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orrn/printdispatch/internal/config"
	"github.com/orrn/printdispatch/internal/db"
	"github.com/orrn/printdispatch/internal/notify"
	"github.com/orrn/printdispatch/internal/receipt"
)

const maxBackoff = 5 * time.Minute

type Publisher interface {
	Publish(e notify.Event)
}

// Queue is the durable print queue shared by every instance through the job
// store. Ownership of a job is only ever taken with TryClaim.
type Queue struct {
	jobs      *db.JobOperations
	config    config.QueueConfig
	publisher Publisher
	now       func() time.Time
}

// NewQueue builds a queue over store. pub may be nil.
func NewQueue(store *db.DB, cfg config.QueueConfig, pub Publisher) *Queue {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 10
	}
	return &Queue{
		jobs:      db.NewJobOperations(store),
		config:    cfg,
		publisher: pub,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (q *Queue) publish(eventType string, job *Job) {
	if q.publisher == nil {
		return
	}
	q.publisher.Publish(notify.Event{Type: eventType, JobID: job.ID, Status: string(job.Status)})
}

func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*Job, error) {
	if strings.TrimSpace(req.Document) == "" {
		return nil, ErrEmptyDocument
	}
	if req.Kind == "" {
		req.Kind = receipt.KindKitchen
	}
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKind, req.Kind)
	}

	now := q.now()
	job := &Job{
		ID:              uuid.NewString(),
		Document:        req.Document,
		Kind:            string(req.Kind),
		OrderID:         req.OrderID,
		SubmittedByID:   req.SubmittedByID,
		SubmittedByName: req.SubmittedByName,
		CreatedAt:       now,
		AvailableAt:     now,
	}
	if err := q.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	log.Printf("[queue] enqueued job %s (%s) for order %q", job.ID, job.Kind, job.OrderID)
	q.publish(notify.EventJobEnqueued, job)
	return job, nil
}

// EnqueueBestEffort enqueues without surfacing failure. Order finalization
// must not fail because printing could not be scheduled.
func (q *Queue) EnqueueBestEffort(ctx context.Context, req EnqueueRequest) *Job {
	job, err := q.Enqueue(ctx, req)
	if err != nil {
		log.Printf("[queue] failed to enqueue %s for order %q: %v", req.Kind, req.OrderID, err)
		return nil
	}
	return job
}

// ClaimBatch lists up to limit claimable jobs, oldest first. It takes no
// ownership.
func (q *Queue) ClaimBatch(ctx context.Context, limit int) ([]*Job, error) {
	if limit < 1 {
		limit = q.config.BatchSize
	}
	return q.jobs.ListClaimable(ctx, q.now(), limit)
}

// TryClaim atomically moves a pending job to in progress. Losing the race to
// another claimer is reported as false with a nil error.
func (q *Queue) TryClaim(ctx context.Context, id, claimer string) (bool, error) {
	return q.jobs.Claim(ctx, id, claimer, q.now())
}

func (q *Queue) MarkDone(ctx context.Context, id string) error {
	ok, err := q.jobs.Complete(ctx, id, q.now())
	if err != nil {
		return err
	}
	if !ok {
		return q.notInProgress(ctx, id)
	}
	q.publish(notify.EventJobUpdated, &Job{ID: id, Status: JobStatusDone})
	return nil
}

// MarkFailed releases a claimed job after a failed submission. The job goes
// back to pending behind a backoff, or to failed once MaxAttempts is reached.
// It returns the status the job ended in.
func (q *Queue) MarkFailed(ctx context.Context, id string, cause error) (JobStatus, error) {
	job, err := q.GetJob(ctx, id)
	if err != nil {
		return "", err
	}
	if job.Status != JobStatusInProgress {
		return job.Status, ErrJobNotInProgress
	}

	attempts := job.Attempts + 1
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	now := q.now()

	if q.config.MaxAttempts > 0 && attempts >= q.config.MaxAttempts {
		ok, err := q.jobs.DeadLetter(ctx, id, attempts, msg, now)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrJobNotInProgress
		}
		log.Printf("[queue] job %s dead-lettered after %d attempts: %s", id, attempts, msg)
		q.publish(notify.EventJobUpdated, &Job{ID: id, Status: JobStatusFailed})
		return JobStatusFailed, nil
	}

	delay := q.backoff(attempts)
	ok, err := q.jobs.Requeue(ctx, id, attempts, msg, now.Add(delay))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrJobNotInProgress
	}
	log.Printf("[queue] job %s failed (attempt %d), retry in %s: %s", id, attempts, delay, msg)
	q.publish(notify.EventJobUpdated, &Job{ID: id, Status: JobStatusPending})
	return JobStatusPending, nil
}

func (q *Queue) backoff(attempts int) time.Duration {
	if q.config.RetryDelay <= 0 || attempts < 1 {
		return 0
	}
	backoff := q.config.RetryDelay
	for i := 1; i < attempts; i++ {
		backoff *= 2
		if backoff >= maxBackoff {
			return maxBackoff
		}
	}
	return backoff
}

// ReclaimStuck returns jobs claimed longer than olderThan ago to pending.
func (q *Queue) ReclaimStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := q.now()
	n, err := q.jobs.ReclaimStuck(ctx, now.Add(-olderThan), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[queue] reclaimed %d stuck job(s) claimed before %s", n, now.Add(-olderThan).Format(time.RFC3339))
	}
	return n, nil
}

func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	job, err := q.jobs.GetJob(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return job, err
}

func (q *Queue) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	return q.jobs.ListJobs(ctx, filter)
}

func (q *Queue) GetStats(ctx context.Context) (*QueueStats, error) {
	return q.jobs.Stats(ctx)
}

// RetryJob puts a dead-lettered job back in the queue with a fresh attempt
// budget.
func (q *Queue) RetryJob(ctx context.Context, id string) error {
	ok, err := q.jobs.ResetDeadLetter(ctx, id, q.now())
	if err != nil {
		return err
	}
	if !ok {
		if _, err := q.GetJob(ctx, id); err != nil {
			return err
		}
		return ErrJobNotFailed
	}
	log.Printf("[queue] job %s requeued by operator", id)
	q.publish(notify.EventJobEnqueued, &Job{ID: id, Status: JobStatusPending})
	return nil
}

// ReprintJob enqueues a copy of an existing job's document.
func (q *Queue) ReprintJob(ctx context.Context, id string) (*Job, error) {
	job, err := q.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return q.Enqueue(ctx, EnqueueRequest{
		Document:        job.Document,
		Kind:            receipt.Kind(job.Kind),
		OrderID:         job.OrderID,
		SubmittedByID:   job.SubmittedByID,
		SubmittedByName: job.SubmittedByName,
	})
}

func (q *Queue) notInProgress(ctx context.Context, id string) error {
	if _, err := q.GetJob(ctx, id); err != nil {
		return err
	}
	return ErrJobNotInProgress
}
