package admission

import (
	"bytes"
	"context"
	"flag"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"

	"github.com/trawlhq/trawl/pkg/scrape"
	"github.com/trawlhq/trawl/pkg/util"
)

type MirrorConfig struct {
	// URL receives a POST with the job body for each sampled admission.
	// Empty disables mirroring.
	URL       string        `yaml:"url"`
	SampleRPS float64       `yaml:"sample_rps"`
	Burst     int           `yaml:"burst"`
	Timeout   time.Duration `yaml:"timeout"`
	QueueSize int           `yaml:"queue_size"`
	Workers   int           `yaml:"workers"`
}

func (cfg *MirrorConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.URL, util.PrefixConfig(prefix, "url"), "", "Endpoint that receives sampled admitted jobs. Empty disables mirroring.")
	f.Float64Var(&cfg.SampleRPS, util.PrefixConfig(prefix, "sample-rps"), 1, "Jobs per second offered to the mirror endpoint.")
	cfg.Burst = 5
	cfg.Timeout = 5 * time.Second
	cfg.QueueSize = 100
	cfg.Workers = 2
}

// Mirror replays a sampled stream of admitted jobs to a secondary endpoint,
// fire and forget. Jobs beyond the sample rate or the queue capacity are
// dropped, never the submission itself.
type Mirror struct {
	services.Service

	cfg    MirrorConfig
	logger log.Logger

	limiter *rate.Limiter
	client  *http.Client
	jobs    chan *scrape.Job
}

func NewMirror(cfg MirrorConfig, logger log.Logger) *Mirror {
	m := &Mirror{
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.SampleRPS), cfg.Burst),
		client:  &http.Client{Timeout: cfg.Timeout},
		jobs:    make(chan *scrape.Job, cfg.QueueSize),
	}
	m.Service = services.NewBasicService(nil, m.running, nil)
	return m
}

func (m *Mirror) running(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < m.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.worker(ctx)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (m *Mirror) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.jobs:
			m.send(ctx, job)
		}
	}
}

// Offer enqueues a job for mirroring if the sampler and the queue allow it.
// Never blocks.
func (m *Mirror) Offer(job *scrape.Job) {
	if !m.limiter.Allow() {
		metricMirrorDropped.WithLabelValues("sampled").Inc()
		return
	}

	select {
	case m.jobs <- job:
	default:
		metricMirrorDropped.WithLabelValues("queue_full").Inc()
	}
}

func (m *Mirror) send(ctx context.Context, job *scrape.Job) {
	body, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(job)
	if err != nil {
		metricMirrorDropped.WithLabelValues("encode").Inc()
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.URL, bytes.NewReader(body))
	if err != nil {
		metricMirrorDropped.WithLabelValues("request").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		metricMirrorDropped.WithLabelValues("send").Inc()
		level.Debug(m.logger).Log("msg", "mirror send failed", "job", job.ID, "err", err)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	metricMirrored.Inc()
}
