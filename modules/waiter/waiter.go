// Package waiter is the synchronous result primitive behind request-blocking
// endpoints: it holds the caller until their job finishes, times out, or the
// caller goes away.
package waiter

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	"github.com/pkg/errors"

	"github.com/trawlhq/trawl/pkg/blobstore"
	"github.com/trawlhq/trawl/pkg/scrape"
	"github.com/trawlhq/trawl/pkg/workqueue"
)

type WaitOpts struct {
	// Timeout bounds the whole wait, materialization included. Zero means
	// the configured default.
	Timeout time.Duration

	// ZeroDataRetention deletes a blob-store result right after this read.
	ZeroDataRetention bool
}

// Waiter resolves job outcomes for synchronous callers.
type Waiter struct {
	cfg    Config
	queue  workqueue.Queue
	store  blobstore.Store
	logger log.Logger
}

func New(cfg Config, queue workqueue.Queue, store blobstore.Store, logger log.Logger) *Waiter {
	return &Waiter{
		cfg:    cfg,
		queue:  queue,
		store:  store,
		logger: logger,
	}
}

// Wait blocks until the job reaches a terminal state and returns its
// documents, or fails with a typed error: queue-timeout when the job never
// reached the worker queue in time, scrape-timeout when it did not finish in
// time, the job's own transported error when it failed. Caller cancellation
// returns promptly.
func (w *Waiter) Wait(ctx context.Context, jobID string, opts WaitOpts) ([]scrape.Document, error) {
	start := time.Now()
	docs, err := w.wait(ctx, jobID, opts)
	metricWaits.WithLabelValues(outcome(err)).Inc()
	metricWaitDuration.Observe(time.Since(start).Seconds())
	return docs, err
}

func (w *Waiter) wait(ctx context.Context, jobID string, opts WaitOpts) ([]scrape.Document, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = w.cfg.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := w.awaitMaterialized(ctx, jobID); err != nil {
		return nil, err
	}

	// subscribe first, then re-check: a completion landing between the two
	// is observed either way
	sub, err := w.queue.SubscribeDone(ctx, jobID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sub.Close() }()

	state, err := w.queue.State(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if state.Terminal() {
		return w.collect(ctx, jobID, opts)
	}

	select {
	case <-sub.Done():
		return w.collect(ctx, jobID, opts)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, scrape.ErrScrapeTimeout
	}
}

// awaitMaterialized polls until the job shows up in the worker queue.
// Deferred jobs sit in the ledger until the drainer admits them, so this can
// legitimately take a while.
func (w *Waiter) awaitMaterialized(ctx context.Context, jobID string) error {
	b := backoff.New(ctx, backoff.Config{
		MinBackoff: w.cfg.PollInterval,
		MaxBackoff: w.cfg.PollInterval,
	})

	for b.Ongoing() {
		_, err := w.queue.Lookup(ctx, jobID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, workqueue.ErrNotFound) {
			return err
		}
		metricPolls.Inc()
		b.Wait()
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return scrape.ErrScrapeTimeoutInQueue
}

func (w *Waiter) collect(ctx context.Context, jobID string, opts WaitOpts) ([]scrape.Document, error) {
	res, err := w.queue.Result(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch res.State {
	case workqueue.StateFailed:
		if te, ok := scrape.ParseTransportableError(res.Error); ok {
			return nil, te
		}
		return nil, errors.Errorf("job failed: %s", string(res.Error))

	case workqueue.StateCompleted:
		if len(res.Docs) > 0 {
			return res.Docs, nil
		}
		return w.fetchSpilled(ctx, jobID, opts)

	default:
		return nil, errors.Errorf("job signaled done in state %s", res.State)
	}
}

// fetchSpilled retrieves a result the worker persisted out-of-band because
// it was too large for the queue record.
func (w *Waiter) fetchSpilled(ctx context.Context, jobID string, opts WaitOpts) ([]scrape.Document, error) {
	docs, err := w.store.Get(ctx, jobID)
	if errors.Is(err, blobstore.ErrDoesNotExist) {
		return nil, scrape.ErrResultNotFound
	}
	if err != nil {
		return nil, err
	}
	metricSpillReads.Inc()

	if opts.ZeroDataRetention {
		if err := w.store.Delete(ctx, jobID); err != nil {
			level.Error(w.logger).Log("msg", "zero-data-retention delete failed", "job", jobID, "err", err)
		}
	}
	return docs, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, scrape.ErrScrapeTimeoutInQueue):
		return "queue-timeout"
	case errors.Is(err, scrape.ErrScrapeTimeout):
		return "timeout"
	case errors.Is(err, scrape.ErrResultNotFound):
		return "not-found"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "failed"
	}
}
