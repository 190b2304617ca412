package waiter

import (
	"flag"
	"time"

	"github.com/trawlhq/trawl/pkg/util"
)

type Config struct {
	// PollInterval paces the materialization poll while a job is still
	// deferred or in flight to the queue.
	PollInterval time.Duration `yaml:"poll_interval"`

	// DefaultTimeout bounds waits whose caller did not supply a budget.
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&cfg.PollInterval, util.PrefixConfig(prefix, "poll-interval"), 500*time.Millisecond, "Interval between checks for a job appearing in the worker queue.")
	f.DurationVar(&cfg.DefaultTimeout, util.PrefixConfig(prefix, "default-timeout"), 180*time.Second, "Wait budget applied when the caller does not supply one.")
}
