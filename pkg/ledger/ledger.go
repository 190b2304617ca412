package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trawlhq/trawl/pkg/scrape"
)

// ErrUnavailable wraps every store error the ledger surfaces. Callers treat
// it as transient and may retry the submission.
var ErrUnavailable = errors.New("concurrency ledger unavailable")

// DeferredJob is a parked admission awaiting a freed slot.
type DeferredJob struct {
	Job        *scrape.Job `json:"job"`
	EnqueuedAt time.Time   `json:"enqueued_at"`

	// HoldUntil is the parking deadline. The zero value parks the job
	// indefinitely, which is how crawl jobs are held.
	HoldUntil time.Time `json:"hold_until,omitempty"`
}

// Expired reports whether the hold deadline has passed.
func (d *DeferredJob) Expired(now time.Time) bool {
	return !d.HoldUntil.IsZero() && now.After(d.HoldUntil)
}

// Ledger is the authoritative store of currently-active jobs per tenant and
// per crawl, plus the holding area for deferred jobs. It does not interpret
// job contents beyond the ordering fields.
//
// Active entries expire by score at their TTL; explicit removal at completion
// is the precise path and expiry the safety net for crashed workers. Pushing
// an active entry again refreshes its expiry; pushing a deferred entry again
// replaces the prior one.
type Ledger interface {
	// PushActive records jobID as occupying one of teamID's slots until
	// now+ttl.
	PushActive(ctx context.Context, teamID, jobID string, ttl time.Duration) error
	// RemoveActive releases the slot explicitly.
	RemoveActive(ctx context.Context, teamID, jobID string) error
	// CleanExpired drops entries whose expiry is at or before now. Callers
	// pair it with CountActive before every admission decision.
	CleanExpired(ctx context.Context, teamID string, now time.Time) error
	// CountActive returns the number of entries expiring after now.
	CountActive(ctx context.Context, teamID string, now time.Time) (int, error)

	// Crawl-scoped variants of the active set. CrawlCountActive cleans
	// expired entries and counts in a single round trip.
	CrawlPushActive(ctx context.Context, crawlID, jobID string, ttl time.Duration) error
	CrawlRemoveActive(ctx context.Context, crawlID, jobID string) error
	CrawlCountActive(ctx context.Context, crawlID string, now time.Time) (int, error)

	// PushDeferred parks a job, ordered by priority then enqueue time.
	PushDeferred(ctx context.Context, teamID string, job *DeferredJob) error
	// PopDeferred removes and returns up to n parked jobs in order.
	PopDeferred(ctx context.Context, teamID string, n int) ([]*DeferredJob, error)
	CountDeferred(ctx context.Context, teamID string) (int, error)
	// DeferredTeams lists tenants with a non-empty deferred queue.
	DeferredTeams(ctx context.Context) ([]string, error)

	// GetCrawl returns the crawl's admission attributes, nil when the crawl
	// is unknown.
	GetCrawl(ctx context.Context, crawlID string) (*scrape.CrawlRecord, error)
	PutCrawl(ctx context.Context, crawlID string, rec *scrape.CrawlRecord) error

	// MarkNotified atomically checks and records a notification send for
	// (teamID, kind). It returns true when the caller owns the window and
	// should send; false while a previous send is within the window.
	MarkNotified(ctx context.Context, teamID, kind string, window time.Duration) (bool, error)
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnavailable, err)
}
