package scrape

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultScrapeTimeout bounds a single scrape when the caller supplies none.
	DefaultScrapeTimeout = 60 * time.Second

	// DefaultWaitTimeout bounds a synchronous wait when the caller supplies none.
	DefaultWaitTimeout = 180 * time.Second
)

// Mode is the kind of work a job carries. Unknown modes are carried through
// opaquely; only the values below receive special treatment.
type Mode string

const (
	ModeSingleURLs Mode = "single_urls"
	ModeCrawl      Mode = "crawl"
	ModeKickoff    Mode = "kickoff"
	ModeExtract    Mode = "extract"
)

// Job is the unit of admission. It is produced by the HTTP layer and consumed
// by the dispatcher, the deferred queue and the worker runner, so it round
// trips through JSON unchanged.
type Job struct {
	ID                string        `json:"id"`
	TeamID            string        `json:"team_id"`
	CrawlID           string        `json:"crawl_id,omitempty"`
	Mode              Mode          `json:"mode"`
	Priority          int           `json:"priority"`
	Timeout           time.Duration `json:"timeout,omitempty"`
	Payload           Payload       `json:"payload"`
	IsExtract         bool          `json:"is_extract,omitempty"`
	FromExtract       bool          `json:"from_extract,omitempty"`
	ZeroDataRetention bool          `json:"zero_data_retention,omitempty"`

	// Deferred is set by the dispatcher when the job was parked in the
	// deferred queue at least once before reaching a worker.
	Deferred bool `json:"deferred,omitempty"`
}

// NewJob returns a job with a generated id and the given tenant.
func NewJob(teamID string) *Job {
	return &Job{
		ID:     uuid.New().String(),
		TeamID: teamID,
		Mode:   ModeSingleURLs,
	}
}

// ScrapeTimeout returns the job's timeout, defaulted.
func (j *Job) ScrapeTimeout() time.Duration {
	if j.Timeout > 0 {
		return j.Timeout
	}
	return DefaultScrapeTimeout
}

// Payload is the serialized request a worker executes. Options the admission
// layer does not interpret ride along in Extra.
type Payload struct {
	URL     string                     `json:"url"`
	Options Options                    `json:"options,omitempty"`
	Extra   map[string]json.RawMessage `json:"extra,omitempty"`
}

// Options are the scrape options the core understands.
type Options struct {
	Formats         []string          `json:"formats,omitempty"`
	OnlyMainContent bool              `json:"only_main_content,omitempty"`
	IncludeTags     []string          `json:"include_tags,omitempty"`
	ExcludeTags     []string          `json:"exclude_tags,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	Mobile          bool              `json:"mobile,omitempty"`
}

// Document is one scraped page as returned to the caller.
type Document struct {
	URL        string            `json:"url"`
	Title      string            `json:"title,omitempty"`
	Markdown   string            `json:"markdown,omitempty"`
	HTML       string            `json:"html,omitempty"`
	StatusCode int               `json:"status_code,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CrawlRecord carries the per-crawl admission attributes written by the crawl
// orchestrator. A nil record means the crawl imposes no gate of its own.
type CrawlRecord struct {
	TeamID         string        `json:"team_id,omitempty"`
	OriginURL      string        `json:"origin_url,omitempty"`
	MaxConcurrency int           `json:"max_concurrency,omitempty"`
	Delay          time.Duration `json:"delay,omitempty"`
}

// Ceiling returns the crawl's concurrency ceiling and whether one applies.
// An explicit max_concurrency wins; a configured delay alone caps the crawl
// at one job at a time; otherwise the crawl is unbounded.
func (c *CrawlRecord) Ceiling() (int, bool) {
	if c == nil {
		return 0, false
	}
	if c.MaxConcurrency > 0 {
		return c.MaxConcurrency, true
	}
	if c.Delay > 0 {
		return 1, true
	}
	return 0, false
}

// Gated reports whether jobs of this crawl occupy per-crawl slots.
func (c *CrawlRecord) Gated() bool {
	_, bounded := c.Ceiling()
	return bounded
}
