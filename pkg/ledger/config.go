package ledger

import (
	"flag"
	"time"

	"github.com/grafana/dskit/flagext"

	"github.com/trawlhq/trawl/pkg/util"
)

type Config struct {
	Endpoint string         `yaml:"endpoint"`
	DB       int            `yaml:"db"`
	Password flagext.Secret `yaml:"password"`
	Timeout  time.Duration  `yaml:"timeout"`
	PoolSize int            `yaml:"pool_size"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Endpoint, util.PrefixConfig(prefix, "endpoint"), "localhost:6379", "Redis endpoint (host:port) backing the ledger.")
	f.IntVar(&cfg.DB, util.PrefixConfig(prefix, "db"), 0, "Redis database to select.")
	f.Var(&cfg.Password, util.PrefixConfig(prefix, "password"), "Redis password, if any.")
	f.DurationVar(&cfg.Timeout, util.PrefixConfig(prefix, "timeout"), 500*time.Millisecond, "Dial, read and write timeout for ledger operations.")
	f.IntVar(&cfg.PoolSize, util.PrefixConfig(prefix, "pool-size"), 100, "Maximum number of pooled connections.")
}
