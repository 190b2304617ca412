package blobstore

import (
	"context"
	"flag"
	"fmt"

	"github.com/go-kit/log"
	"github.com/pkg/errors"

	"github.com/trawlhq/trawl/pkg/scrape"
	"github.com/trawlhq/trawl/pkg/util"
)

// ErrDoesNotExist is returned when no blob was persisted for the job.
var ErrDoesNotExist = errors.New("does not exist")

const (
	// Local is the local filesystem backend.
	Local = "local"
	// S3 is the AWS S3 (or compatible) backend.
	S3 = "s3"
)

// Store holds job results persisted out-of-band when they are too large to
// travel inline through the worker queue. Workers write, the wait coordinator
// reads, and only zero-data-retention reads delete.
type Store interface {
	Get(ctx context.Context, jobID string) ([]scrape.Document, error)
	Put(ctx context.Context, jobID string, docs []scrape.Document) error
	Delete(ctx context.Context, jobID string) error
}

type Config struct {
	Backend string      `yaml:"backend"`
	Local   LocalConfig `yaml:"local"`
	S3      S3Config    `yaml:"s3"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Backend, util.PrefixConfig(prefix, "backend"), Local, "Blob store backend to use (local, s3).")
	cfg.Local.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "local"), f)
	cfg.S3.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "s3"), f)
}

// New builds the configured backend.
func New(cfg Config, logger log.Logger) (Store, error) {
	switch cfg.Backend {
	case Local:
		return newLocal(cfg.Local, logger)
	case S3:
		return newS3(cfg.S3, logger)
	default:
		return nil, fmt.Errorf("unknown blob store backend %q", cfg.Backend)
	}
}
