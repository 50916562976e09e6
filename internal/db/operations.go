package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*PrintJob, error) {
	j := &PrintJob{}
	err := s.Scan(
		&j.ID, &j.Seq, &j.Document, &j.Kind, &j.OrderID, &j.Status, &j.Attempts, &j.LastError,
		&j.SubmittedByID, &j.SubmittedByName, &j.ClaimedBy, &j.CreatedAt, &j.AvailableAt,
		&j.ClaimedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}

func collectJobs(rows *sql.Rows) ([]*PrintJob, error) {
	defer rows.Close()
	var jobs []*PrintJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func affectedOne(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// JobOperations holds the print_jobs statements. Every state transition is
// a single UPDATE guarded by the expected current status.
type JobOperations struct {
	db *DB
}

func NewJobOperations(d *DB) *JobOperations {
	return &JobOperations{db: d}
}

func (o *JobOperations) CreateJob(ctx context.Context, j *PrintJob) error {
	err := o.db.QueryRowContext(ctx, InsertJob,
		j.ID, j.Document, j.Kind, j.OrderID, j.SubmittedByID, j.SubmittedByName,
		j.CreatedAt, j.AvailableAt).Scan(&j.Seq)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	j.Status = StatusPending
	return nil
}

// GetJob returns sql.ErrNoRows unwrapped when the job does not exist.
func (o *JobOperations) GetJob(ctx context.Context, id string) (*PrintJob, error) {
	j, err := scanJob(o.db.QueryRowContext(ctx, GetJobByID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

func (o *JobOperations) ListClaimable(ctx context.Context, now time.Time, limit int) ([]*PrintJob, error) {
	rows, err := o.db.QueryContext(ctx, ListClaimable, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list claimable jobs: %w", err)
	}
	return collectJobs(rows)
}

func (o *JobOperations) Claim(ctx context.Context, id, claimer string, now time.Time) (bool, error) {
	result, err := o.db.ExecContext(ctx, ClaimJob, now, claimer, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	return affectedOne(result)
}

func (o *JobOperations) Complete(ctx context.Context, id string, now time.Time) (bool, error) {
	result, err := o.db.ExecContext(ctx, CompleteJob, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to complete job: %w", err)
	}
	return affectedOne(result)
}

func (o *JobOperations) Requeue(ctx context.Context, id string, attempts int, lastError string, availableAt time.Time) (bool, error) {
	result, err := o.db.ExecContext(ctx, RequeueJob, attempts, lastError, availableAt, id)
	if err != nil {
		return false, fmt.Errorf("failed to requeue job: %w", err)
	}
	return affectedOne(result)
}

func (o *JobOperations) DeadLetter(ctx context.Context, id string, attempts int, lastError string, now time.Time) (bool, error) {
	result, err := o.db.ExecContext(ctx, DeadLetterJob, attempts, lastError, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to dead-letter job: %w", err)
	}
	return affectedOne(result)
}

func (o *JobOperations) ResetDeadLetter(ctx context.Context, id string, now time.Time) (bool, error) {
	result, err := o.db.ExecContext(ctx, ResetDeadLetter, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to reset job: %w", err)
	}
	return affectedOne(result)
}

func (o *JobOperations) ReclaimStuck(ctx context.Context, claimedBefore, now time.Time) (int64, error) {
	result, err := o.db.ExecContext(ctx, ReclaimStuckJobs, now, claimedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stuck jobs: %w", err)
	}
	return result.RowsAffected()
}

func (o *JobOperations) ListJobs(ctx context.Context, filter JobFilter) ([]*PrintJob, error) {
	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.OrderID != "" {
		conditions = append(conditions, "order_id = ?")
		args = append(args, filter.OrderID)
	}

	query := "SELECT " + jobColumns + " FROM print_jobs"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, seq DESC LIMIT ? OFFSET ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	rows, err := o.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return collectJobs(rows)
}

func (o *JobOperations) Stats(ctx context.Context) (*QueueStats, error) {
	rows, err := o.db.QueryContext(ctx, CountJobsByStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	stats := &QueueStats{}
	for rows.Next() {
		var status JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		switch status {
		case StatusPending:
			stats.Pending = count
		case StatusInProgress:
			stats.InProgress = count
		case StatusDone:
			stats.Done = count
		case StatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var oldest time.Time
	err = o.db.QueryRowContext(ctx, OldestPendingJob).Scan(&oldest)
	switch {
	case err == nil:
		stats.OldestPending = &oldest
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("failed to read oldest pending job: %w", err)
	}
	return stats, nil
}

func (o *JobOperations) JobsForArchival(ctx context.Context, completedBefore time.Time) ([]*PrintJob, error) {
	rows, err := o.db.QueryContext(ctx, GetJobsForArchival, completedBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs for archival: %w", err)
	}
	return collectJobs(rows)
}

func (o *JobOperations) DeleteArchived(ctx context.Context, completedBefore time.Time) (int64, error) {
	result, err := o.db.ExecContext(ctx, DeleteArchivedJobs, completedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to delete archived jobs: %w", err)
	}
	return result.RowsAffected()
}

type WebhookOperations struct {
	db *DB
}

func NewWebhookOperations(d *DB) *WebhookOperations {
	return &WebhookOperations{db: d}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanWebhooks(rows *sql.Rows) ([]*Webhook, error) {
	defer rows.Close()
	var webhooks []*Webhook
	for rows.Next() {
		w := &Webhook{}
		if err := rows.Scan(
			&w.ID, &w.Name, &w.URL, &w.Secret, &w.EventsJSON, &w.Enabled, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

func (o *WebhookOperations) CreateWebhook(ctx context.Context, w *Webhook) error {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	err := o.db.QueryRowContext(ctx, InsertWebhook,
		w.Name, w.URL, w.Secret, w.EventsJSON, boolToInt(w.Enabled), w.CreatedAt).Scan(&w.ID)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	return nil
}

func (o *WebhookOperations) GetWebhook(ctx context.Context, id int64) (*Webhook, error) {
	w := &Webhook{}
	err := o.db.QueryRowContext(ctx, GetWebhookByID, id).Scan(
		&w.ID, &w.Name, &w.URL, &w.Secret, &w.EventsJSON, &w.Enabled, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return w, nil
}

func (o *WebhookOperations) ListWebhooks(ctx context.Context) ([]*Webhook, error) {
	rows, err := o.db.QueryContext(ctx, ListWebhooks)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	return scanWebhooks(rows)
}

func (o *WebhookOperations) ListActiveWebhooksForEvent(ctx context.Context, event string) ([]*Webhook, error) {
	pattern := "%\"" + event + "\"%"
	rows, err := o.db.QueryContext(ctx, ListWebhooksForEvent, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks for event: %w", err)
	}
	return scanWebhooks(rows)
}

func (o *WebhookOperations) DeleteWebhook(ctx context.Context, id int64) (bool, error) {
	result, err := o.db.ExecContext(ctx, DeleteWebhook, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete webhook: %w", err)
	}
	return affectedOne(result)
}

type SettingsOperations struct {
	db *DB
}

func NewSettingsOperations(d *DB) *SettingsOperations {
	return &SettingsOperations{db: d}
}

func (o *SettingsOperations) GetSetting(ctx context.Context, key string) (*Setting, error) {
	s := &Setting{Key: key}
	err := o.db.QueryRowContext(ctx, GetSetting, key).Scan(&s.Value, &s.Encrypted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return s, nil
}

func (o *SettingsOperations) SetSetting(ctx context.Context, key, value string, encrypted bool) error {
	_, err := o.db.ExecContext(ctx, SetSetting, key, value, boolToInt(encrypted))
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

func (o *SettingsOperations) DeleteSetting(ctx context.Context, key string) error {
	_, err := o.db.ExecContext(ctx, DeleteSetting, key)
	if err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}
	return nil
}

type ArchiveOperations struct {
	db *DB
}

func NewArchiveOperations(d *DB) *ArchiveOperations {
	return &ArchiveOperations{db: d}
}

func (o *ArchiveOperations) RecordRun(ctx context.Context, r *ArchiveRun) error {
	if r.ArchivedAt.IsZero() {
		r.ArchivedAt = time.Now().UTC()
	}
	_, err := o.db.ExecContext(ctx, InsertArchiveRun, r.ArchiveFile, r.JobCount, r.ArchivedAt)
	if err != nil {
		return fmt.Errorf("failed to record archive run: %w", err)
	}
	return nil
}

func (o *ArchiveOperations) ListRuns(ctx context.Context, limit int) ([]*ArchiveRun, error) {
	rows, err := o.db.QueryContext(ctx, ListArchiveRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive runs: %w", err)
	}
	defer rows.Close()

	var runs []*ArchiveRun
	for rows.Next() {
		r := &ArchiveRun{}
		if err := rows.Scan(&r.ID, &r.ArchiveFile, &r.JobCount, &r.ArchivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan archive run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
