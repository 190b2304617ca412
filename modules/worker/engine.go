package worker

import (
	"context"
	"flag"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/trawlhq/trawl/pkg/scrape"
	"github.com/trawlhq/trawl/pkg/util"
)

type EngineConfig struct {
	UserAgent    string `yaml:"user_agent"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

func (cfg *EngineConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.UserAgent, util.PrefixConfig(prefix, "user-agent"), "trawl/1.0", "User-Agent header sent by the built-in fetch engine.")
	cfg.MaxBodyBytes = 10 << 20
}

// HTTPEngine is the built-in fetch engine: one GET per job, raw HTML out, no
// rendering. Deployments with a browser fleet plug their own Engine in.
type HTTPEngine struct {
	cfg    EngineConfig
	client *http.Client
}

var _ Engine = (*HTTPEngine)(nil)

func NewHTTPEngine(cfg EngineConfig) *HTTPEngine {
	return &HTTPEngine{
		cfg:    cfg,
		client: &http.Client{},
	}
}

func (e *HTTPEngine) Scrape(ctx context.Context, job *scrape.Job) ([]scrape.Document, error) {
	if job.Payload.URL == "" {
		return nil, errors.New("job carries no url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.Payload.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	for k, v := range job.Payload.Options.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxBodyBytes))
	if err != nil {
		return nil, err
	}

	return []scrape.Document{{
		URL:        job.Payload.URL,
		HTML:       string(body),
		StatusCode: resp.StatusCode,
		Metadata: map[string]string{
			"content_type": resp.Header.Get("Content-Type"),
		},
	}}, nil
}
