package worker

import (
	"flag"
	"fmt"
	"time"

	"github.com/grafana/dskit/backoff"

	"github.com/trawlhq/trawl/pkg/util"
)

type Config struct {
	// Concurrency is the number of jobs one process runs at a time.
	Concurrency int `yaml:"concurrency"`

	// SpillBytes is the inline result ceiling. Larger results go to the
	// blob store and the queue record completes empty.
	SpillBytes int `yaml:"spill_bytes"`

	Backoff backoff.Config `yaml:"backoff"`

	Engine EngineConfig `yaml:"engine"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.Concurrency, util.PrefixConfig(prefix, "concurrency"), 4, "Number of jobs to run concurrently.")
	f.IntVar(&cfg.SpillBytes, util.PrefixConfig(prefix, "spill-bytes"), 1<<20, "Results larger than this many bytes are persisted to the blob store instead of the queue record.")

	f.DurationVar(&cfg.Backoff.MinBackoff, util.PrefixConfig(prefix, "backoff-min-period"), 100*time.Millisecond, "Minimum delay when the queue is empty or erroring.")
	f.DurationVar(&cfg.Backoff.MaxBackoff, util.PrefixConfig(prefix, "backoff-max-period"), 5*time.Second, "Maximum delay when the queue is empty or erroring.")
	cfg.Backoff.MaxRetries = 0

	cfg.Engine.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "engine"), f)
}

func ValidateConfig(cfg *Config) error {
	if cfg.Concurrency <= 0 {
		return fmt.Errorf("positive worker concurrency required")
	}
	if cfg.Backoff.MinBackoff <= 0 || cfg.Backoff.MaxBackoff <= 0 {
		return fmt.Errorf("positive backoff periods required")
	}
	return nil
}
