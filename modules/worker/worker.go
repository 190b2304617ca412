// Package worker pulls ready jobs off the queue, runs them through the
// scrape engine and writes outcomes back, releasing concurrency slots as
// jobs finish.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/services"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/trawlhq/trawl/pkg/blobstore"
	"github.com/trawlhq/trawl/pkg/ledger"
	"github.com/trawlhq/trawl/pkg/scrape"
	"github.com/trawlhq/trawl/pkg/workqueue"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// Engine runs one scrape job. Implementations must honor ctx; the worker
// enforces the job's scrape timeout through it.
type Engine interface {
	Scrape(ctx context.Context, job *scrape.Job) ([]scrape.Document, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, job *scrape.Job) ([]scrape.Document, error)

func (f EngineFunc) Scrape(ctx context.Context, job *scrape.Job) ([]scrape.Document, error) {
	return f(ctx, job)
}

// Kicker pokes the drainer when a slot frees up.
type Kicker interface {
	Kick(teamID string)
}

// Worker runs the pull loop.
type Worker struct {
	services.Service

	cfg    Config
	queue  workqueue.Queue
	ledger ledger.Ledger
	store  blobstore.Store
	kicker Kicker
	engine Engine
	logger log.Logger
}

func New(cfg Config, queue workqueue.Queue, l ledger.Ledger, store blobstore.Store, kicker Kicker, engine Engine, logger log.Logger) (*Worker, error) {
	if err := ValidateConfig(&cfg); err != nil {
		return nil, errors.Wrap(err, "invalid worker config")
	}

	w := &Worker{
		cfg:    cfg,
		queue:  queue,
		ledger: l,
		store:  store,
		kicker: kicker,
		engine: engine,
		logger: logger,
	}
	w.Service = services.NewBasicService(nil, w.running, nil)
	return w, nil
}

func (w *Worker) running(ctx context.Context) error {
	level.Info(w.logger).Log("msg", "worker running", "concurrency", w.cfg.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.pull(ctx)
		}()
	}

	wg.Wait()
	return nil
}

func (w *Worker) pull(ctx context.Context) {
	b := backoff.New(ctx, w.cfg.Backoff)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			job, err := w.queue.Next(ctx)
			if err != nil {
				if !errors.Is(err, workqueue.ErrEmpty) {
					level.Warn(w.logger).Log("msg", "error pulling next job", "err", err, "backoff", b.NextDelay())
				}
				b.Wait()
				continue
			}

			b.Reset()
			w.run(ctx, job)
		}
	}
}

func (w *Worker) run(ctx context.Context, job *scrape.Job) {
	inflightJobs.Inc()
	defer inflightJobs.Dec()
	defer w.release(ctx, job)

	start := time.Now()
	status := w.execute(ctx, job)
	metricJobs.WithLabelValues(status).Inc()
	metricJobDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

func (w *Worker) execute(ctx context.Context, job *scrape.Job) string {
	jobCtx, cancel := context.WithTimeout(ctx, job.ScrapeTimeout())
	defer cancel()

	docs, err := w.engine.Scrape(jobCtx, job)
	if err != nil {
		status := "failed"
		cause := error(scrape.Wrap(err))
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
			cause = scrape.ErrScrapeTimeout
		}
		if ferr := w.queue.Fail(ctx, job.ID, cause); ferr != nil {
			level.Error(w.logger).Log("msg", "failed recording job failure", "job", job.ID, "err", ferr)
		}
		return status
	}

	if err := w.complete(ctx, job, docs); err != nil {
		level.Error(w.logger).Log("msg", "failed recording job completion", "job", job.ID, "err", err)
		return "lost"
	}
	return "completed"
}

// complete writes the result inline, or spills it to the blob store and
// completes the record empty when it is too large to travel through the
// queue.
func (w *Worker) complete(ctx context.Context, job *scrape.Job, docs []scrape.Document) error {
	body, err := jsonCodec.Marshal(docs)
	if err != nil {
		return err
	}

	if len(body) > w.cfg.SpillBytes {
		if perr := w.store.Put(ctx, job.ID, docs); perr != nil {
			level.Warn(w.logger).Log("msg", "blob spill failed, completing inline", "job", job.ID, "size", len(body), "err", perr)
		} else {
			metricSpills.Inc()
			return w.queue.Complete(ctx, job.ID, nil)
		}
	}

	return w.queue.Complete(ctx, job.ID, docs)
}

// release frees the job's concurrency slots and wakes the drainer. Failures
// are logged only; the entry TTL is the backstop.
func (w *Worker) release(ctx context.Context, job *scrape.Job) {
	if err := w.ledger.RemoveActive(ctx, job.TeamID, job.ID); err != nil {
		metricReleaseFailures.WithLabelValues("team").Inc()
		level.Warn(w.logger).Log("msg", "active entry release failed", "team", job.TeamID, "job", job.ID, "err", err)
	}
	if job.CrawlID != "" {
		if err := w.ledger.CrawlRemoveActive(ctx, job.CrawlID, job.ID); err != nil {
			metricReleaseFailures.WithLabelValues("crawl").Inc()
			level.Warn(w.logger).Log("msg", "crawl active entry release failed", "crawl", job.CrawlID, "job", job.ID, "err", err)
		}
	}

	if w.kicker != nil {
		w.kicker.Kick(job.TeamID)
	}
}
