package workqueue

import (
	"context"
	"errors"
	"time"

	"github.com/trawlhq/trawl/pkg/scrape"
)

var (
	// ErrUnavailable wraps store errors. The queue entry self-heals through
	// the active-entry TTL, so callers surface this without rolling back.
	ErrUnavailable = errors.New("worker queue unavailable")

	// ErrNotFound is returned while a job has not materialized in the queue.
	ErrNotFound = errors.New("job not found in worker queue")

	// ErrEmpty signals an idle queue to pulling workers.
	ErrEmpty = errors.New("no job ready")
)

type JobState string

const (
	StatePending   JobState = "pending"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// Terminal reports whether no further transitions happen from s.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// JobHandle is a caller-side reference to a queued job.
type JobHandle struct {
	ID        string
	State     JobState
	CreatedAt time.Time
}

// JobResult is the terminal record of a job.
type JobResult struct {
	State JobState
	Docs  []scrape.Document
	// Error holds the serialized failure for failed jobs. It may be a
	// transportable error or plain text.
	Error      []byte
	FinishedAt time.Time
}

type EnqueueOpts struct {
	// Delay holds the job back from workers until it elapses. Used to space
	// out jobs of a crawl configured with a delay.
	Delay time.Duration
}

// Subscription delivers a single completion event for one job.
type Subscription interface {
	// Done is closed once the job reaches a terminal state.
	Done() <-chan struct{}
	Close() error
}

// Queue is the primary worker queue. The dispatcher appends, workers pull,
// and the wait coordinator observes outcomes.
type Queue interface {
	Enqueue(ctx context.Context, job *scrape.Job, opts EnqueueOpts) (*JobHandle, error)
	// Lookup returns ErrNotFound until the job has materialized.
	Lookup(ctx context.Context, jobID string) (*JobHandle, error)
	// Next pops the most urgent ready job, marking it active. ErrEmpty when
	// nothing is ready.
	Next(ctx context.Context) (*scrape.Job, error)
	Complete(ctx context.Context, jobID string, docs []scrape.Document) error
	Fail(ctx context.Context, jobID string, cause error) error
	// WriteOutcome records a terminal failure for a job that never reached
	// the queue, creating its record so waiters observe it.
	WriteOutcome(ctx context.Context, job *scrape.Job, cause error) error
	State(ctx context.Context, jobID string) (JobState, error)
	Result(ctx context.Context, jobID string) (*JobResult, error)
	// SubscribeDone registers for the job's completion event. Subscribe
	// before re-checking state to leave no missed-event window.
	SubscribeDone(ctx context.Context, jobID string) (Subscription, error)
}
