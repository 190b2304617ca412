package drainer

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"

	"github.com/trawlhq/trawl/modules/admission"
	"github.com/trawlhq/trawl/modules/overrides"
	"github.com/trawlhq/trawl/pkg/ledger"
	"github.com/trawlhq/trawl/pkg/scrape"
	"github.com/trawlhq/trawl/pkg/workqueue"
)

// Drainer moves deferred jobs into freed slots. It runs a periodic sweep
// over every backlogged tenant and accepts kicks from completing jobs so a
// freed slot is refilled without waiting for the next sweep.
type Drainer struct {
	services.Service

	cfg        Config
	ledger     ledger.Ledger
	queue      workqueue.Queue
	dispatcher *admission.Dispatcher
	limits     overrides.Interface
	logger     log.Logger

	kicks chan string
}

func New(cfg Config, l ledger.Ledger, q workqueue.Queue, dispatcher *admission.Dispatcher, limits overrides.Interface, logger log.Logger) *Drainer {
	d := &Drainer{
		cfg:        cfg,
		ledger:     l,
		queue:      q,
		dispatcher: dispatcher,
		limits:     limits,
		logger:     logger,
		kicks:      make(chan string, cfg.KickQueueSize),
	}
	d.Service = services.NewBasicService(nil, d.loop, nil)
	return d
}

// Kick requests an immediate drain of one tenant. Never blocks; a dropped
// kick is covered by the next sweep.
func (d *Drainer) Kick(teamID string) {
	select {
	case d.kicks <- teamID:
	default:
	}
}

func (d *Drainer) loop(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case teamID := <-d.kicks:
			if err := d.DrainTeam(ctx, teamID); err != nil {
				level.Warn(d.logger).Log("msg", "kick drain failed", "team", teamID, "err", err)
			}

		case <-ticker.C:
			d.sweep(ctx)

		case <-ctx.Done():
			return nil
		}
	}
}

func (d *Drainer) sweep(ctx context.Context) {
	start := time.Now()
	metricSweeps.Inc()

	teams, err := d.ledger.DeferredTeams(ctx)
	if err != nil {
		level.Warn(d.logger).Log("msg", "sweep failed listing backlogged teams", "err", err)
		return
	}

	for _, teamID := range teams {
		if ctx.Err() != nil {
			return
		}
		if err := d.DrainTeam(ctx, teamID); err != nil {
			level.Warn(d.logger).Log("msg", "drain failed", "team", teamID, "err", err)
		}
	}

	metricSweepDuration.Observe(time.Since(start).Seconds())
}

// DrainTeam pops as many deferred jobs as the tenant has free slots and
// re-admits them. Jobs whose crawl has no free slot go back to the queue
// with their original enqueue time; jobs held past their deadline are
// dropped with a queue-timeout outcome so waiters observe the failure.
func (d *Drainer) DrainTeam(ctx context.Context, teamID string) error {
	now := time.Now()

	if err := d.ledger.CleanExpired(ctx, teamID, now); err != nil {
		return err
	}
	active, err := d.ledger.CountActive(ctx, teamID, now)
	if err != nil {
		return err
	}

	free := d.limits.ConcurrencyLimit(teamID, overrides.ConcurrencyCrawl) - active
	if free <= 0 {
		return nil
	}

	entries, err := d.ledger.PopDeferred(ctx, teamID, free)
	if err != nil {
		return err
	}

	// crawl counts are read once per crawl per round; slots handed out in
	// this round are tracked locally
	crawlActive := make(map[string]int)
	crawlUsed := make(map[string]int)

	for _, entry := range entries {
		job := entry.Job

		if entry.Expired(now) {
			d.dropExpired(ctx, teamID, entry)
			continue
		}

		var rec *scrape.CrawlRecord
		if job.CrawlID != "" {
			rec, err = d.ledger.GetCrawl(ctx, job.CrawlID)
			if err != nil {
				level.Warn(d.logger).Log("msg", "crawl record unreadable, treating crawl as unbounded", "crawl", job.CrawlID, "err", err)
				rec = nil
			}
			if ceiling, bounded := rec.Ceiling(); bounded {
				if _, ok := crawlActive[job.CrawlID]; !ok {
					n, err := d.ledger.CrawlCountActive(ctx, job.CrawlID, now)
					if err != nil {
						d.requeue(ctx, teamID, entry, "error")
						return err
					}
					crawlActive[job.CrawlID] = n
				}
				if ceiling-crawlActive[job.CrawlID]-crawlUsed[job.CrawlID] <= 0 {
					d.requeue(ctx, teamID, entry, "crawl-gate")
					continue
				}
			}
		}

		if _, err := d.dispatcher.Admit(ctx, job, rec); err != nil {
			level.Warn(d.logger).Log("msg", "drain admit failed, job requeued", "team", teamID, "job", job.ID, "err", err)
			d.requeue(ctx, teamID, entry, "error")
			continue
		}

		if job.CrawlID != "" {
			crawlUsed[job.CrawlID]++
		}
		metricDrained.WithLabelValues(teamID).Inc()
	}

	return nil
}

func (d *Drainer) dropExpired(ctx context.Context, teamID string, entry *ledger.DeferredJob) {
	if err := d.queue.WriteOutcome(ctx, entry.Job, scrape.ErrScrapeTimeoutInQueue); err != nil {
		level.Error(d.logger).Log("msg", "failed writing queue-timeout outcome", "team", teamID, "job", entry.Job.ID, "err", err)
		return
	}
	metricDroppedExpired.WithLabelValues(teamID).Inc()
	level.Debug(d.logger).Log("msg", "deferred job dropped, hold deadline passed", "team", teamID, "job", entry.Job.ID)
}

// requeue pushes a popped entry back, keeping its enqueue time so it does
// not lose its place.
func (d *Drainer) requeue(ctx context.Context, teamID string, entry *ledger.DeferredJob, reason string) {
	if err := d.ledger.PushDeferred(ctx, teamID, entry); err != nil {
		level.Error(d.logger).Log("msg", "requeue failed, deferred job lost", "team", teamID, "job", entry.Job.ID, "err", err)
		return
	}
	metricRequeued.WithLabelValues(teamID, reason).Inc()
}
