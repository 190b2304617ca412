package drainer

import (
	"flag"
	"time"

	"github.com/trawlhq/trawl/pkg/util"
)

type Config struct {
	// SweepInterval is how often every backlogged tenant is visited. Kicks
	// from completing jobs drain tenants sooner; the sweep is the floor.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// KickQueueSize bounds pending completion kicks. Overflowing kicks are
	// dropped; the next sweep covers them.
	KickQueueSize int `yaml:"kick_queue_size"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&cfg.SweepInterval, util.PrefixConfig(prefix, "sweep-interval"), 5*time.Second, "Interval between full sweeps of tenants with deferred jobs.")
	cfg.KickQueueSize = 128
}
