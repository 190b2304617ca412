package admission

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/trawlhq/trawl/modules/overrides"
	"github.com/trawlhq/trawl/pkg/ledger"
	"github.com/trawlhq/trawl/pkg/scrape"
	"github.com/trawlhq/trawl/pkg/workqueue"
)

// Notifier gates tenant-facing saturation events. Failures stay inside the
// gate; the dispatcher never waits on delivery.
type Notifier interface {
	ConcurrencyLimitReached(ctx context.Context, teamID string, crawlBatch bool)
}

type SubmitOpts struct {
	// DirectToQueue bypasses admission control, for administrative
	// resubmission. The active-job entry is still written so the tenant's
	// counts stay truthful.
	DirectToQueue bool
}

// Dispatcher turns verdicts into effects: admitted jobs get active entries
// and a queue append, deferred jobs get parked with a hold deadline.
type Dispatcher struct {
	cfg      Config
	ledger   ledger.Ledger
	queue    workqueue.Queue
	admitter *Admitter
	notifier Notifier
	mirror   *Mirror
	logger   log.Logger
}

// NewDispatcher wires the dispatcher. notifier and mirror may be nil.
func NewDispatcher(cfg Config, l ledger.Ledger, q workqueue.Queue, limits overrides.Interface, notifier Notifier, mirror *Mirror, logger log.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		ledger:   l,
		queue:    q,
		admitter: NewAdmitter(l, limits, logger),
		notifier: notifier,
		mirror:   mirror,
		logger:   logger,
	}
}

func (d *Dispatcher) prepare(job *scrape.Job) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
}

// SubmitOne admits or parks a single job. The returned handle is nil when
// the job was deferred.
func (d *Dispatcher) SubmitOne(ctx context.Context, job *scrape.Job, opts SubmitOpts) (*workqueue.JobHandle, error) {
	d.prepare(job)
	now := time.Now()

	if opts.DirectToQueue {
		var rec *scrape.CrawlRecord
		if job.CrawlID != "" {
			rec = d.admitter.getCrawl(ctx, job.CrawlID)
		}
		return d.Admit(ctx, job, rec)
	}

	verdict, rec, err := d.admitter.AdmitOne(ctx, job, now)
	if err != nil {
		metricSubmissionErrors.WithLabelValues(job.TeamID, "ledger").Inc()
		return nil, err
	}

	if verdict == Admit {
		handle, err := d.Admit(ctx, job, rec)
		if err != nil {
			return nil, err
		}
		d.offerMirror(job)
		return handle, nil
	}

	if err := d.park(ctx, job, verdict, now); err != nil {
		return nil, err
	}
	return nil, nil
}

// SubmitMany admits or parks a batch. Batches may mix tenants; they are
// partitioned and each tenant's slice decided in one bulk admission.
func (d *Dispatcher) SubmitMany(ctx context.Context, jobs []*scrape.Job, opts SubmitOpts) error {
	if len(jobs) == 0 {
		return nil
	}
	for _, job := range jobs {
		d.prepare(job)
	}

	var teamOrder []string
	byTeam := make(map[string][]*scrape.Job)
	for _, job := range jobs {
		if _, ok := byTeam[job.TeamID]; !ok {
			teamOrder = append(teamOrder, job.TeamID)
		}
		byTeam[job.TeamID] = append(byTeam[job.TeamID], job)
	}

	var errs error
	for _, teamID := range teamOrder {
		if err := d.submitTeam(ctx, teamID, byTeam[teamID], opts); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (d *Dispatcher) submitTeam(ctx context.Context, teamID string, jobs []*scrape.Job, opts SubmitOpts) error {
	now := time.Now()

	if opts.DirectToQueue {
		var errs error
		crawls := make(map[string]*scrape.CrawlRecord)
		for _, job := range jobs {
			var rec *scrape.CrawlRecord
			if job.CrawlID != "" {
				var ok bool
				if rec, ok = crawls[job.CrawlID]; !ok {
					rec = d.admitter.getCrawl(ctx, job.CrawlID)
					crawls[job.CrawlID] = rec
				}
			}
			if _, err := d.Admit(ctx, job, rec); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		return errs
	}

	bulk, err := d.admitter.AdmitMany(ctx, jobs, now)
	if err != nil {
		metricSubmissionErrors.WithLabelValues(teamID, "ledger").Inc()
		return err
	}

	var errs error
	for _, dec := range bulk.Decisions {
		if dec.Verdict == Admit {
			if _, err := d.Admit(ctx, dec.Job, bulk.Crawls[dec.Job.CrawlID]); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			d.offerMirror(dec.Job)
			continue
		}
		if err := d.park(ctx, dec.Job, dec.Verdict, now); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if bulk.NotifyBacklog && d.notifier != nil {
		d.notifier.ConcurrencyLimitReached(ctx, teamID, bulk.CrawlBatch)
	}
	return errs
}

// Admit runs the admit path for an already-decided job: active entries
// first, then the queue append. rec is the job's crawl record, nil when the
// job has no crawl or the crawl is unknown. A queue failure after the ledger
// writes surfaces to the caller but is not rolled back; the active-entry TTL
// expunges the phantom slot.
func (d *Dispatcher) Admit(ctx context.Context, job *scrape.Job, rec *scrape.CrawlRecord) (*workqueue.JobHandle, error) {
	if err := d.ledger.PushActive(ctx, job.TeamID, job.ID, d.cfg.ActiveTTL); err != nil {
		metricSubmissionErrors.WithLabelValues(job.TeamID, "ledger").Inc()
		return nil, err
	}

	var opts workqueue.EnqueueOpts
	if job.CrawlID != "" && rec.Gated() {
		if err := d.ledger.CrawlPushActive(ctx, job.CrawlID, job.ID, d.cfg.ActiveTTL); err != nil {
			metricSubmissionErrors.WithLabelValues(job.TeamID, "ledger").Inc()
			return nil, err
		}
		opts.Delay = rec.Delay
	}

	handle, err := d.queue.Enqueue(ctx, job, opts)
	if err != nil {
		metricEnqueueFailures.Inc()
		level.Error(d.logger).Log("msg", "enqueue failed after ledger writes, active entry left to expire", "team", job.TeamID, "job", job.ID, "err", err)
		return nil, err
	}
	return handle, nil
}

func (d *Dispatcher) park(ctx context.Context, job *scrape.Job, verdict Verdict, now time.Time) error {
	job.Deferred = true
	entry := &ledger.DeferredJob{Job: job, EnqueuedAt: now}
	if job.CrawlID == "" {
		entry.HoldUntil = now.Add(job.ScrapeTimeout())
	}

	if err := d.ledger.PushDeferred(ctx, job.TeamID, entry); err != nil {
		metricSubmissionErrors.WithLabelValues(job.TeamID, "ledger").Inc()
		return err
	}
	level.Debug(d.logger).Log("msg", "job deferred", "team", job.TeamID, "job", job.ID, "verdict", verdict.String())
	return nil
}

func (d *Dispatcher) offerMirror(job *scrape.Job) {
	if d.mirror != nil {
		d.mirror.Offer(job)
	}
}
