package admission

import (
	"flag"
	"time"

	"github.com/trawlhq/trawl/pkg/util"
)

type Config struct {
	// ActiveTTL guards active-job entries against crashed workers. Precise
	// release still happens at completion.
	ActiveTTL time.Duration `yaml:"active_ttl"`

	Mirror MirrorConfig `yaml:"mirror"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&cfg.ActiveTTL, util.PrefixConfig(prefix, "active-ttl"), 60*time.Second, "TTL of active-job entries in the concurrency ledger.")

	cfg.Mirror.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "mirror"), f)
}
