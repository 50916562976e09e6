package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orrn/printdispatch/internal/config"
	"github.com/orrn/printdispatch/internal/notify"
	"github.com/orrn/printdispatch/internal/receipt"
	"github.com/orrn/printdispatch/internal/testutil"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type capturePublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *capturePublisher) Publish(e notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func newTestQueue(t *testing.T, cfg config.QueueConfig) (*Queue, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	q := NewQueue(testutil.SetUpDB(t), cfg, nil)
	q.now = clock.Now
	return q, clock
}

func enqueue(t *testing.T, q *Queue, doc string) *Job {
	t.Helper()
	job, err := q.Enqueue(context.Background(), EnqueueRequest{Document: doc, Kind: receipt.KindKitchen, OrderID: "o-" + doc})
	testutil.AssertNotError(t, err)
	return job
}

func ids(jobs []*Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}

func TestTryClaimMutualExclusion(t *testing.T) {
	q, _ := newTestQueue(t, config.QueueConfig{})
	job := enqueue(t, q, "one")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := q.TryClaim(context.Background(), job.ID, "worker")
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", got)
	}
}

func TestBatchClaimRetryScenario(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(t, config.QueueConfig{RetryDelay: 0})

	j1 := enqueue(t, q, "1")
	clock.Advance(time.Second)
	j2 := enqueue(t, q, "2")
	clock.Advance(time.Second)
	j3 := enqueue(t, q, "3")

	batch, err := q.ClaimBatch(ctx, 2)
	testutil.AssertNotError(t, err)
	testutil.AssertEquals(t, ids(batch), []string{j1.ID, j2.ID})
	for _, j := range batch {
		ok, err := q.TryClaim(ctx, j.ID, "p1")
		testutil.AssertNotError(t, err)
		testutil.AssertEquals(t, ok, true)
	}

	for id, want := range map[string]JobStatus{j1.ID: JobStatusInProgress, j2.ID: JobStatusInProgress, j3.ID: JobStatusPending} {
		got, err := q.GetJob(ctx, id)
		testutil.AssertNotError(t, err)
		testutil.AssertEquals(t, got.Status, want)
	}

	testutil.AssertNotError(t, q.MarkDone(ctx, j1.ID))
	status, err := q.MarkFailed(ctx, j2.ID, errors.New("paper out"))
	testutil.AssertNotError(t, err)
	testutil.AssertEquals(t, status, JobStatusPending)

	batch, err = q.ClaimBatch(ctx, 2)
	testutil.AssertNotError(t, err)
	testutil.AssertEquals(t, ids(batch), []string{j2.ID, j3.ID})
}

func TestRetryKeepsDocument(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, config.QueueConfig{})
	job := enqueue(t, q, "<p>ticket</p>")

	ok, _ := q.TryClaim(ctx, job.ID, "a")
	testutil.AssertEquals(t, ok, true)
	_, err := q.MarkFailed(ctx, job.ID, errors.New("offline"))
	testutil.AssertNotError(t, err)

	ok, _ = q.TryClaim(ctx, job.ID, "b")
	testutil.AssertEquals(t, ok, true)
	testutil.AssertNotError(t, q.MarkDone(ctx, job.ID))

	got, err := q.GetJob(ctx, job.ID)
	testutil.AssertNotError(t, err)
	testutil.AssertEquals(t, got.Status, JobStatusDone)
	testutil.AssertEquals(t, got.Document, "<p>ticket</p>")
	testutil.AssertEquals(t, got.Attempts, 1)
	testutil.AssertEquals(t, got.LastError, "offline")
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestFailedJobWaitsForBackoff(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(t, config.QueueConfig{RetryDelay: 5 * time.Second})
	job := enqueue(t, q, "x")

	q.TryClaim(ctx, job.ID, "a")
	_, err := q.MarkFailed(ctx, job.ID, errors.New("boom"))
	testutil.AssertNotError(t, err)

	batch, _ := q.ClaimBatch(ctx, 10)
	testutil.AssertEquals(t, len(batch), 0)

	clock.Advance(5 * time.Second)
	batch, _ = q.ClaimBatch(ctx, 10)
	testutil.AssertEquals(t, ids(batch), []string{job.ID})
}

func TestBackoffSchedule(t *testing.T) {
	q := &Queue{config: config.QueueConfig{RetryDelay: 5 * time.Second}}
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{7, 5 * time.Minute},
		{40, 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := q.backoff(tt.attempts); got != tt.want {
			t.Errorf("backoff(%d) = %s, want %s", tt.attempts, got, tt.want)
		}
	}
	q.config.RetryDelay = 0
	if got := q.backoff(3); got != 0 {
		t.Errorf("zero retry delay should retry immediately, got %s", got)
	}
}

func TestDeadLetterAndRetry(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, config.QueueConfig{MaxAttempts: 2})
	job := enqueue(t, q, "x")

	q.TryClaim(ctx, job.ID, "a")
	status, _ := q.MarkFailed(ctx, job.ID, errors.New("one"))
	testutil.AssertEquals(t, status, JobStatusPending)

	q.TryClaim(ctx, job.ID, "a")
	status, err := q.MarkFailed(ctx, job.ID, errors.New("two"))
	testutil.AssertNotError(t, err)
	testutil.AssertEquals(t, status, JobStatusFailed)

	got, _ := q.GetJob(ctx, job.ID)
	testutil.AssertEquals(t, got.Status, JobStatusFailed)
	testutil.AssertEquals(t, got.Attempts, 2)
	if got.CompletedAt == nil {
		t.Error("dead-lettered job should carry completed_at")
	}
	batch, _ := q.ClaimBatch(ctx, 10)
	testutil.AssertEquals(t, len(batch), 0)

	testutil.AssertNotError(t, q.RetryJob(ctx, job.ID))
	got, _ = q.GetJob(ctx, job.ID)
	testutil.AssertEquals(t, got.Status, JobStatusPending)
	testutil.AssertEquals(t, got.Attempts, 0)

	if err := q.RetryJob(ctx, job.ID); !errors.Is(err, ErrJobNotFailed) {
		t.Errorf("retry of pending job: got %v", err)
	}
	if err := q.RetryJob(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("retry of missing job: got %v", err)
	}
}

func TestUnboundedRetryWhenMaxAttemptsZero(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, config.QueueConfig{MaxAttempts: 0})
	job := enqueue(t, q, "x")
	for i := 0; i < 8; i++ {
		q.TryClaim(ctx, job.ID, "a")
		status, err := q.MarkFailed(ctx, job.ID, errors.New("again"))
		testutil.AssertNotError(t, err)
		testutil.AssertEquals(t, status, JobStatusPending)
	}
}

func TestTransitionsRequireClaim(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, config.QueueConfig{})
	job := enqueue(t, q, "x")

	if err := q.MarkDone(ctx, job.ID); !errors.Is(err, ErrJobNotInProgress) {
		t.Errorf("MarkDone on pending: got %v", err)
	}
	if _, err := q.MarkFailed(ctx, job.ID, nil); !errors.Is(err, ErrJobNotInProgress) {
		t.Errorf("MarkFailed on pending: got %v", err)
	}
	if err := q.MarkDone(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("MarkDone on missing: got %v", err)
	}
}

func TestReclaimStuck(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(t, config.QueueConfig{})
	stuck := enqueue(t, q, "stuck")
	fresh := enqueue(t, q, "fresh")

	q.TryClaim(ctx, stuck.ID, "crashed")
	clock.Advance(10 * time.Minute)
	q.TryClaim(ctx, fresh.ID, "alive")

	n, err := q.ReclaimStuck(ctx, 5*time.Minute)
	testutil.AssertNotError(t, err)
	testutil.AssertEquals(t, n, int64(1))

	got, _ := q.GetJob(ctx, stuck.ID)
	testutil.AssertEquals(t, got.Status, JobStatusPending)
	testutil.AssertEquals(t, got.ClaimedBy, "")
	got, _ = q.GetJob(ctx, fresh.ID)
	testutil.AssertEquals(t, got.Status, JobStatusInProgress)
}

func TestEnqueueValidationAndEvents(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	q := NewQueue(testutil.SetUpDB(t), config.QueueConfig{}, pub)

	if _, err := q.Enqueue(ctx, EnqueueRequest{Document: "  "}); !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("empty document: got %v", err)
	}
	if _, err := q.Enqueue(ctx, EnqueueRequest{Document: "x", Kind: "label"}); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("bad kind: got %v", err)
	}
	if job := q.EnqueueBestEffort(ctx, EnqueueRequest{}); job != nil {
		t.Error("best effort enqueue of invalid request should return nil")
	}

	job, err := q.Enqueue(ctx, EnqueueRequest{Document: "x"})
	testutil.AssertNotError(t, err)
	testutil.AssertEquals(t, job.Kind, string(receipt.KindKitchen))
	testutil.AssertEquals(t, job.Status, JobStatusPending)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.events) != 1 || pub.events[0].Type != notify.EventJobEnqueued || pub.events[0].JobID != job.ID {
		t.Errorf("unexpected events %+v", pub.events)
	}
}

func TestReprintAndStats(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, config.QueueConfig{})
	orig := enqueue(t, q, "doc")
	q.TryClaim(ctx, orig.ID, "a")
	testutil.AssertNotError(t, q.MarkDone(ctx, orig.ID))

	copyJob, err := q.ReprintJob(ctx, orig.ID)
	testutil.AssertNotError(t, err)
	if copyJob.ID == orig.ID {
		t.Error("reprint must create a new job")
	}
	testutil.AssertEquals(t, copyJob.Document, "doc")
	testutil.AssertEquals(t, copyJob.OrderID, orig.OrderID)

	stats, err := q.GetStats(ctx)
	testutil.AssertNotError(t, err)
	testutil.AssertEquals(t, stats.Pending, 1)
	testutil.AssertEquals(t, stats.Done, 1)
	if stats.OldestPending == nil {
		t.Error("oldest pending not reported")
	}

	done, err := q.ListJobs(ctx, JobFilter{Status: JobStatusDone})
	testutil.AssertNotError(t, err)
	testutil.AssertEquals(t, ids(done), []string{orig.ID})

	if _, err := q.ReprintJob(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("got %v", err)
	}
}
