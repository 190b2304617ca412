package admission

import (
	"context"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/trawlhq/trawl/modules/overrides"
	"github.com/trawlhq/trawl/pkg/ledger"
	"github.com/trawlhq/trawl/pkg/scrape"
)

// Verdict is the admission decision for one job.
type Verdict int

const (
	// Admit sends the job straight to the worker queue.
	Admit Verdict = iota
	// DeferTeam parks the job because the tenant's ceiling is reached.
	DeferTeam
	// DeferCrawl parks the job because its crawl's ceiling is reached.
	DeferCrawl
)

func (v Verdict) String() string {
	switch v {
	case Admit:
		return "admit"
	case DeferTeam:
		return "defer-team"
	case DeferCrawl:
		return "defer-crawl"
	default:
		return "unknown"
	}
}

// Decision pairs a job with its verdict.
type Decision struct {
	Job     *scrape.Job
	Verdict Verdict
}

// BulkDecision is the outcome of admitting one tenant-homogeneous batch.
type BulkDecision struct {
	// Decisions holds one entry per input job, in input order.
	Decisions []Decision
	// Crawls caches the crawl records consulted, so dispatching does not
	// re-read them.
	Crawls map[string]*scrape.CrawlRecord
	// NotifyBacklog is set when this submission alone pushed the tenant's
	// deferred backlog past twice its ceiling.
	NotifyBacklog bool
	// CrawlBatch marks submissions carrying crawl jobs; those suppress the
	// saturation notification.
	CrawlBatch bool
}

// Admitter applies the three-tier limit rule: per-crawl ceiling first, then
// the tenant ceiling, consulting the ledger for live counts.
type Admitter struct {
	ledger ledger.Ledger
	limits overrides.Interface
	logger log.Logger
}

func NewAdmitter(l ledger.Ledger, limits overrides.Interface, logger log.Logger) *Admitter {
	return &Admitter{
		ledger: l,
		limits: limits,
		logger: logger,
	}
}

func kindFor(job *scrape.Job) overrides.ConcurrencyKind {
	switch {
	case strings.HasPrefix(job.TeamID, "preview"):
		return overrides.ConcurrencyPreview
	case job.IsExtract:
		return overrides.ConcurrencyExtract
	default:
		return overrides.ConcurrencyCrawl
	}
}

// getCrawl reads the crawl record, degrading to an unbounded crawl when the
// record is unreadable. Only the counts themselves are fatal to a submission.
func (a *Admitter) getCrawl(ctx context.Context, crawlID string) *scrape.CrawlRecord {
	rec, err := a.ledger.GetCrawl(ctx, crawlID)
	if err != nil {
		level.Warn(a.logger).Log("msg", "crawl record unreadable, treating crawl as unbounded", "crawl", crawlID, "err", err)
		return nil
	}
	return rec
}

// AdmitOne decides a single job. The returned crawl record, possibly nil, is
// handed back so the dispatch path does not re-read it.
func (a *Admitter) AdmitOne(ctx context.Context, job *scrape.Job, now time.Time) (Verdict, *scrape.CrawlRecord, error) {
	var rec *scrape.CrawlRecord
	if job.CrawlID != "" {
		rec = a.getCrawl(ctx, job.CrawlID)
		if ceiling, bounded := rec.Ceiling(); bounded {
			active, err := a.ledger.CrawlCountActive(ctx, job.CrawlID, now)
			if err != nil {
				return 0, nil, err
			}
			if ceiling-active <= 0 {
				metricVerdicts.WithLabelValues(job.TeamID, DeferCrawl.String()).Inc()
				return DeferCrawl, rec, nil
			}
		}
	}

	ceiling := a.limits.ConcurrencyLimit(job.TeamID, kindFor(job))
	if err := a.ledger.CleanExpired(ctx, job.TeamID, now); err != nil {
		return 0, nil, err
	}
	active, err := a.ledger.CountActive(ctx, job.TeamID, now)
	if err != nil {
		return 0, nil, err
	}

	if active >= ceiling {
		metricVerdicts.WithLabelValues(job.TeamID, DeferTeam.String()).Inc()
		return DeferTeam, rec, nil
	}
	metricVerdicts.WithLabelValues(job.TeamID, Admit.String()).Inc()
	return Admit, rec, nil
}

// AdmitMany decides a batch of jobs for one tenant. Verdicts preserve input
// order; per-crawl headroom is consumed in input order within each crawl.
// Ledger round trips stay proportional to the number of distinct crawls, not
// the batch size.
func (a *Admitter) AdmitMany(ctx context.Context, jobs []*scrape.Job, now time.Time) (*BulkDecision, error) {
	if len(jobs) == 0 {
		return &BulkDecision{}, nil
	}
	teamID := jobs[0].TeamID

	// partition input positions by crawl
	var bucketOrder []string
	buckets := make(map[string][]int)
	crawlBatch := false
	for i, job := range jobs {
		if job.CrawlID == "" {
			continue
		}
		crawlBatch = true
		if _, ok := buckets[job.CrawlID]; !ok {
			bucketOrder = append(bucketOrder, job.CrawlID)
		}
		buckets[job.CrawlID] = append(buckets[job.CrawlID], i)
	}

	// per-crawl gating: jobs beyond a crawl's free slots are force-deferred
	// before tenant headroom is considered
	crawls := make(map[string]*scrape.CrawlRecord, len(bucketOrder))
	forced := make([]bool, len(jobs))
	for _, crawlID := range bucketOrder {
		rec := a.getCrawl(ctx, crawlID)
		crawls[crawlID] = rec

		ceiling, bounded := rec.Ceiling()
		if !bounded {
			continue
		}
		active, err := a.ledger.CrawlCountActive(ctx, crawlID, now)
		if err != nil {
			return nil, err
		}
		free := ceiling - active
		if free < 0 {
			free = 0
		}
		for pos, idx := range buckets[crawlID] {
			if pos >= free {
				forced[idx] = true
			}
		}
	}

	ceiling := a.limits.ConcurrencyLimit(teamID, kindFor(jobs[0]))
	if err := a.ledger.CleanExpired(ctx, teamID, now); err != nil {
		return nil, err
	}
	active, err := a.ledger.CountActive(ctx, teamID, now)
	if err != nil {
		return nil, err
	}
	free := ceiling - active
	if free < 0 {
		free = 0
	}

	decisions := make([]Decision, len(jobs))
	admissible, admitted := 0, 0
	for i, job := range jobs {
		verdict := DeferCrawl
		if !forced[i] {
			admissible++
			if admitted < free {
				verdict = Admit
				admitted++
			} else {
				verdict = DeferTeam
			}
		}
		decisions[i] = Decision{Job: job, Verdict: verdict}
		metricVerdicts.WithLabelValues(teamID, verdict.String()).Inc()
	}

	return &BulkDecision{
		Decisions:     decisions,
		Crawls:        crawls,
		NotifyBacklog: admissible-free > ceiling,
		CrawlBatch:    crawlBatch,
	}, nil
}
