package blobstore

import (
	"bytes"
	"context"
	"flag"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/cristalhq/hedgedhttp"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/flagext"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/trawlhq/trawl/pkg/hedgedmetrics"
	"github.com/trawlhq/trawl/pkg/scrape"
	"github.com/trawlhq/trawl/pkg/util"
)

var metricHedgedRequests = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "trawl",
	Name:      "blobstore_hedged_roundtrips_total",
	Help:      "Total number of hedged blob store requests. Registered as a gauge for code sanity. This is a counter.",
})

type S3Config struct {
	Bucket            string         `yaml:"bucket"`
	Prefix            string         `yaml:"prefix"`
	Endpoint          string         `yaml:"endpoint"`
	Region            string         `yaml:"region"`
	AccessKey         string         `yaml:"access_key"`
	SecretKey         flagext.Secret `yaml:"secret_key"`
	Insecure          bool           `yaml:"insecure"`
	ForcePathStyle    bool           `yaml:"force_path_style"`
	HedgeRequestsAt   time.Duration  `yaml:"hedge_requests_at"`
	HedgeRequestsUpTo int            `yaml:"hedge_requests_up_to"`
}

func (cfg *S3Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Bucket, util.PrefixConfig(prefix, "bucket"), "", "Bucket name in s3.")
	f.StringVar(&cfg.Prefix, util.PrefixConfig(prefix, "prefix"), "job-results", "Prefix for objects within the bucket.")
	f.StringVar(&cfg.Endpoint, util.PrefixConfig(prefix, "endpoint"), "", "S3 endpoint to push blobs to.")
	f.StringVar(&cfg.Region, util.PrefixConfig(prefix, "region"), "", "S3 region. Optional with some endpoints.")
	f.StringVar(&cfg.AccessKey, util.PrefixConfig(prefix, "access-key"), "", "S3 access key.")
	f.Var(&cfg.SecretKey, util.PrefixConfig(prefix, "secret-key"), "S3 secret key.")
	f.DurationVar(&cfg.HedgeRequestsAt, util.PrefixConfig(prefix, "hedge-requests-at"), 0, "If set, hedge read requests after this duration. 0 disables hedging.")
	f.IntVar(&cfg.HedgeRequestsUpTo, util.PrefixConfig(prefix, "hedge-requests-up-to"), 2, "Maximum number of hedged requests per read.")
}

type s3Store struct {
	cfg        S3Config
	logger     log.Logger
	core       *minio.Core
	hedgedCore *minio.Core
}

func newS3(cfg S3Config, logger log.Logger) (Store, error) {
	core, err := createCore(cfg, false)
	if err != nil {
		return nil, errors.Wrap(err, "creating core")
	}
	hedgedCore, err := createCore(cfg, true)
	if err != nil {
		return nil, errors.Wrap(err, "creating hedged core")
	}
	return &s3Store{
		cfg:        cfg,
		logger:     logger,
		core:       core,
		hedgedCore: hedgedCore,
	}, nil
}

func createCore(cfg S3Config, hedge bool) (*minio.Core, error) {
	creds := credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.Static{
			Value: credentials.Value{
				AccessKeyID:     cfg.AccessKey,
				SecretAccessKey: cfg.SecretKey.String(),
			},
		},
		&credentials.EnvMinio{},
		&credentials.IAM{
			Client: &http.Client{
				Transport: http.DefaultTransport,
			},
		},
	})

	customTransport, err := minio.DefaultTransport(!cfg.Insecure)
	if err != nil {
		return nil, errors.Wrap(err, "create minio.DefaultTransport")
	}

	var transport http.RoundTripper = customTransport
	if hedge && cfg.HedgeRequestsAt != 0 {
		var stats *hedgedhttp.Stats
		transport, stats, err = hedgedhttp.NewRoundTripperAndStats(cfg.HedgeRequestsAt, cfg.HedgeRequestsUpTo, transport)
		if err != nil {
			return nil, err
		}
		hedgedmetrics.Publish(stats, metricHedgedRequests)
	}

	opts := &minio.Options{
		Region:    cfg.Region,
		Secure:    !cfg.Insecure,
		Creds:     creds,
		Transport: transport,
	}
	if cfg.ForcePathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}

	return minio.NewCore(cfg.Endpoint, opts)
}

func (s *s3Store) object(jobID string) string {
	return path.Join(s.cfg.Prefix, jobID+".json.gz")
}

func (s *s3Store) Get(ctx context.Context, jobID string) ([]scrape.Document, error) {
	reader, _, _, err := s.hedgedCore.GetObject(ctx, s.cfg.Bucket, s.object(jobID), minio.GetObjectOptions{})
	if err != nil {
		return nil, readError(err)
	}
	defer func() { _ = reader.Close() }()

	buf, err := io.ReadAll(reader)
	if err != nil {
		return nil, readError(err)
	}
	return decodeDocs(bytes.NewReader(buf))
}

func (s *s3Store) Put(ctx context.Context, jobID string, docs []scrape.Document) error {
	buf, err := encodeDocs(docs)
	if err != nil {
		return err
	}

	info, err := s.core.Client.PutObject(ctx, s.cfg.Bucket, s.object(jobID), bytes.NewReader(buf), int64(len(buf)), minio.PutObjectOptions{
		ContentType: "application/gzip",
	})
	if err != nil {
		return errors.Wrapf(err, "error writing blob for job %s", jobID)
	}
	level.Debug(s.logger).Log("msg", "blob uploaded to s3", "object", s.object(jobID), "size", info.Size)
	return nil
}

func (s *s3Store) Delete(ctx context.Context, jobID string) error {
	err := s.core.Client.RemoveObject(ctx, s.cfg.Bucket, s.object(jobID), minio.RemoveObjectOptions{})
	return errors.Wrap(err, "deleting blob")
}

func readError(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrDoesNotExist
	}
	return err
}
