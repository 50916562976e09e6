package db

const jobColumns = `id, seq, document, kind, order_id, status, attempts, last_error, submitted_by_id, submitted_by_name, claimed_by, created_at, available_at, claimed_at, completed_at`

const (
	InsertJob = `
		INSERT INTO print_jobs (id, document, kind, order_id, status, submitted_by_id, submitted_by_name, created_at, available_at)
		VALUES (?, ?, ?, ?, 'pendente', ?, ?, ?, ?)
		RETURNING seq
	`

	GetJobByID = `SELECT ` + jobColumns + ` FROM print_jobs WHERE id = ?`

	// Read-only; ownership is taken per job with ClaimJob.
	ListClaimable = `
		SELECT ` + jobColumns + `
		FROM print_jobs
		WHERE status = 'pendente' AND available_at <= ?
		ORDER BY created_at ASC, seq ASC
		LIMIT ?
	`

	ClaimJob = `
		UPDATE print_jobs SET status = 'imprimindo', claimed_at = ?, claimed_by = ?
		WHERE id = ? AND status = 'pendente'
	`

	CompleteJob = `
		UPDATE print_jobs SET status = 'impresso', completed_at = ?
		WHERE id = ? AND status = 'imprimindo'
	`

	RequeueJob = `
		UPDATE print_jobs SET status = 'pendente', attempts = ?, last_error = ?, available_at = ?, claimed_at = NULL, claimed_by = ''
		WHERE id = ? AND status = 'imprimindo'
	`

	DeadLetterJob = `
		UPDATE print_jobs SET status = 'falhou', attempts = ?, last_error = ?, completed_at = ?, claimed_at = NULL, claimed_by = ''
		WHERE id = ? AND status = 'imprimindo'
	`

	ResetDeadLetter = `
		UPDATE print_jobs SET status = 'pendente', attempts = 0, last_error = '', available_at = ?, completed_at = NULL
		WHERE id = ? AND status = 'falhou'
	`

	ReclaimStuckJobs = `
		UPDATE print_jobs SET status = 'pendente', available_at = ?, claimed_at = NULL, claimed_by = '',
			last_error = 'reclaimed after stalled print'
		WHERE status = 'imprimindo' AND claimed_at < ?
	`

	CountJobsByStatus = `SELECT status, COUNT(*) FROM print_jobs GROUP BY status`

	OldestPendingJob = `
		SELECT created_at FROM print_jobs WHERE status = 'pendente'
		ORDER BY created_at ASC, seq ASC LIMIT 1
	`

	GetJobsForArchival = `
		SELECT ` + jobColumns + `
		FROM print_jobs
		WHERE status IN ('impresso', 'falhou') AND completed_at < ?
		ORDER BY created_at ASC, seq ASC
	`

	DeleteArchivedJobs = `
		DELETE FROM print_jobs WHERE status IN ('impresso', 'falhou') AND completed_at < ?
	`
)

const (
	InsertWebhook = `
		INSERT INTO webhooks (name, url, secret, events_json, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	GetWebhookByID = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE id = ?
	`

	ListWebhooks = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks ORDER BY name ASC
	`

	ListWebhooksForEvent = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE enabled = 1 AND events_json LIKE ?
	`

	DeleteWebhook = `DELETE FROM webhooks WHERE id = ?`
)

const (
	GetSetting = `SELECT value, encrypted FROM settings WHERE key = ?`

	SetSetting = `
		INSERT INTO settings (key, value, encrypted, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, encrypted = excluded.encrypted, updated_at = CURRENT_TIMESTAMP
	`

	DeleteSetting = `DELETE FROM settings WHERE key = ?`
)

const (
	InsertArchiveRun = `
		INSERT INTO archive_runs (archive_file, job_count, archived_at)
		VALUES (?, ?, ?)
	`

	ListArchiveRuns = `
		SELECT id, archive_file, job_count, archived_at
		FROM archive_runs ORDER BY archived_at DESC LIMIT ?
	`
)

const (
	GetAppliedMigrations = `SELECT version FROM schema_migrations`

	RecordMigration = `INSERT INTO schema_migrations (version) VALUES (?)`
)
