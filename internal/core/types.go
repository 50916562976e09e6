package core

import (
	"errors"

	"github.com/orrn/printdispatch/internal/db"
	"github.com/orrn/printdispatch/internal/receipt"
)

type (
	Job        = db.PrintJob
	JobStatus  = db.JobStatus
	JobFilter  = db.JobFilter
	QueueStats = db.QueueStats
)

const (
	JobStatusPending    = db.StatusPending
	JobStatusInProgress = db.StatusInProgress
	JobStatusDone       = db.StatusDone
	JobStatusFailed     = db.StatusFailed
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrJobNotInProgress = errors.New("job is not in progress")
	ErrJobNotFailed     = errors.New("only dead-lettered jobs can be retried")
	ErrEmptyDocument    = errors.New("document is empty")
	ErrInvalidKind      = errors.New("invalid job kind")
	ErrBusy             = errors.New("processor run already in progress")
	ErrNotPrimary       = errors.New("processor role is not primary")
)

type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
)

type EnqueueRequest struct {
	Document        string       `json:"document"`
	Kind            receipt.Kind `json:"kind"`
	OrderID         string       `json:"order_id,omitempty"`
	SubmittedByID   string       `json:"submitted_by_id,omitempty"`
	SubmittedByName string       `json:"submitted_by_name,omitempty"`
}

// Outcome events forwarded to an OutcomeSink.
const (
	EventPrintDone         = "print_done"
	EventPrintFailed       = "print_failed"
	EventPrintDeadLettered = "print_dead_lettered"
)

type OutcomeSink interface {
	SendPrintOutcome(event string, job *Job, errMsg string)
}
