package db

import "time"

type JobStatus string

const (
	StatusPending    JobStatus = "pendente"
	StatusInProgress JobStatus = "imprimindo"
	StatusDone       JobStatus = "impresso"
	StatusFailed     JobStatus = "falhou"
)

func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusDone, StatusFailed:
		return true
	}
	return false
}

// PrintJob is one unit of print work. Document is written once at insert.
type PrintJob struct {
	ID              string     `json:"id"`
	Seq             int64      `json:"seq"`
	Document        string     `json:"document"`
	Kind            string     `json:"kind"`
	OrderID         string     `json:"order_id,omitempty"`
	Status          JobStatus  `json:"status"`
	Attempts        int        `json:"attempts"`
	LastError       string     `json:"last_error,omitempty"`
	SubmittedByID   string     `json:"submitted_by_id,omitempty"`
	SubmittedByName string     `json:"submitted_by_name,omitempty"`
	ClaimedBy       string     `json:"claimed_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	AvailableAt     time.Time  `json:"available_at"`
	ClaimedAt       *time.Time `json:"claimed_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

type JobFilter struct {
	Status  JobStatus
	Kind    string
	OrderID string
	Limit   int
	Offset  int
}

type QueueStats struct {
	Pending       int        `json:"pending"`
	InProgress    int        `json:"in_progress"`
	Done          int        `json:"done"`
	Failed        int        `json:"failed"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}

type Webhook struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Secret     string    `json:"secret,omitempty"`
	EventsJSON string    `json:"events_json"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Encrypted bool      `json:"encrypted"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ArchiveRun struct {
	ID          int64     `json:"id"`
	ArchiveFile string    `json:"archive_file"`
	JobCount    int       `json:"job_count"`
	ArchivedAt  time.Time `json:"archived_at"`
}
