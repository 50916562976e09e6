package core

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/orrn/printdispatch/internal/notify"
)

// JobQueue is the part of the queue the processor drives.
type JobQueue interface {
	ClaimBatch(ctx context.Context, limit int) ([]*Job, error)
	TryClaim(ctx context.Context, id, claimer string) (bool, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) (JobStatus, error)
	ReclaimStuck(ctx context.Context, olderThan time.Duration) (int64, error)
	GetJob(ctx context.Context, id string) (*Job, error)
}

// Submitter delivers a document to the printer. An empty printer name means
// the locally saved printer.
type Submitter interface {
	Submit(ctx context.Context, document, printerName string) error
}

// PrinterSource reports whether a submission currently has somewhere to go.
type PrinterSource interface {
	PrinterConfigured() bool
}

// Subscriber streams queue-change events until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context) <-chan notify.Event
}

type ProcessorConfig struct {
	InstanceID   string
	BatchSize    int
	PollInterval time.Duration
	NotifyDelay  time.Duration
	// StuckAfter enables the in-progress watchdog when positive.
	StuckAfter    time.Duration
	Notifications []Subscriber
	Outcomes      OutcomeSink
}

// Processor drains the queue on the primary instance. Activation, the poll
// ticker and push notifications all feed one work channel; one run at a time
// consumes it.
type Processor struct {
	queue     JobQueue
	transport Submitter
	printers  PrinterSource
	role      Role
	config    ProcessorConfig

	work    chan struct{}
	running atomic.Bool
}

func NewProcessor(q JobQueue, t Submitter, printers PrinterSource, role Role, cfg ProcessorConfig) *Processor {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = "local"
	}
	return &Processor{
		queue:     q,
		transport: t,
		printers:  printers,
		role:      role,
		config:    cfg,
		work:      make(chan struct{}, 1),
	}
}

// Run processes the queue until ctx is done. Non-primary processors return
// ErrNotPrimary immediately.
func (p *Processor) Run(ctx context.Context) error {
	if p.role != RolePrimary {
		return ErrNotPrimary
	}
	log.Printf("[processor] %s started (poll %s, batch %d)", p.config.InstanceID, p.config.PollInterval, p.config.BatchSize)
	defer log.Printf("[processor] %s stopped", p.config.InstanceID)

	for _, sub := range p.config.Notifications {
		go p.follow(ctx, sub)
	}

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	var watchdog <-chan time.Time
	if p.config.StuckAfter > 0 {
		wt := time.NewTicker(p.config.StuckAfter / 2)
		defer wt.Stop()
		watchdog = wt.C
	}

	p.signal()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.signal()
		case <-watchdog:
			n, err := p.queue.ReclaimStuck(ctx, p.config.StuckAfter)
			if err != nil {
				log.Printf("[processor] watchdog: %v", err)
			} else if n > 0 {
				p.signal()
			}
		case <-p.work:
			if _, err := p.RunOnce(ctx); err != nil && err != ErrBusy {
				log.Printf("[processor] run failed: %v", err)
			}
		}
	}
}

// Notify asks for a run after NotifyDelay. Calls arriving before the pending
// run starts coalesce into it.
func (p *Processor) Notify() {
	if p.config.NotifyDelay <= 0 {
		p.signal()
		return
	}
	time.AfterFunc(p.config.NotifyDelay, p.signal)
}

func (p *Processor) signal() {
	select {
	case p.work <- struct{}{}:
	default:
	}
}

func (p *Processor) follow(ctx context.Context, sub Subscriber) {
	for e := range sub.Subscribe(ctx) {
		if e.Type == notify.EventJobEnqueued {
			p.Notify()
		}
	}
}

// RunOnce processes one batch and returns the number of jobs printed. A call
// made while another run is active returns ErrBusy without touching the
// queue. Cancelling ctx stops the batch after the current job.
func (p *Processor) RunOnce(ctx context.Context) (int, error) {
	if !p.running.CompareAndSwap(false, true) {
		return 0, ErrBusy
	}
	defer p.running.Store(false)

	if p.printers != nil && !p.printers.PrinterConfigured() {
		return 0, nil
	}

	jobs, err := p.queue.ClaimBatch(ctx, p.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list claimable jobs: %w", err)
	}

	printed := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		if p.process(context.WithoutCancel(ctx), job) {
			printed++
		}
	}
	return printed, nil
}

func (p *Processor) process(ctx context.Context, job *Job) bool {
	claimed, err := p.queue.TryClaim(ctx, job.ID, p.config.InstanceID)
	if err != nil {
		log.Printf("[processor] claim %s: %v", job.ID, err)
		return false
	}
	if !claimed {
		return false
	}

	if err := p.submit(ctx, job); err != nil {
		status, markErr := p.queue.MarkFailed(ctx, job.ID, err)
		if markErr != nil {
			log.Printf("[processor] failed to release job %s: %v", job.ID, markErr)
			return false
		}
		event := EventPrintFailed
		if status == JobStatusFailed {
			event = EventPrintDeadLettered
		}
		p.outcome(event, p.reload(ctx, job, status), err.Error())
		return false
	}

	if err := p.queue.MarkDone(ctx, job.ID); err != nil {
		log.Printf("[processor] failed to complete job %s: %v", job.ID, err)
		return false
	}
	log.Printf("[processor] printed job %s (%s)", job.ID, job.Kind)
	p.outcome(EventPrintDone, p.reload(ctx, job, JobStatusDone), "")
	return true
}

// reload reads the job back after a transition so outcomes carry the stored
// status and attempt count. If the read fails, the claimed copy is returned
// with status applied.
func (p *Processor) reload(ctx context.Context, job *Job, status JobStatus) *Job {
	fresh, err := p.queue.GetJob(ctx, job.ID)
	if err == nil {
		return fresh
	}
	log.Printf("[processor] reload job %s: %v", job.ID, err)
	cp := *job
	cp.Status = status
	return &cp
}

func (p *Processor) submit(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("submit panicked: %v", r)
		}
	}()
	return p.transport.Submit(ctx, job.Document, "")
}

func (p *Processor) outcome(event string, job *Job, errMsg string) {
	if p.config.Outcomes != nil {
		p.config.Outcomes.SendPrintOutcome(event, job, errMsg)
	}
}
