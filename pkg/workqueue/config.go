package workqueue

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

	// RecordTTL bounds how long finished job records stay readable.
	RecordTTL time.Duration `yaml:"record_ttl"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Endpoint, util.PrefixConfig(prefix, "endpoint"), "localhost:6379", "Redis endpoint (host:port) backing the worker queue.")
	f.IntVar(&cfg.DB, util.PrefixConfig(prefix, "db"), 0, "Redis database to select.")
	f.Var(&cfg.Password, util.PrefixConfig(prefix, "password"), "Redis password, if any.")
	f.DurationVar(&cfg.Timeout, util.PrefixConfig(prefix, "timeout"), time.Second, "Dial, read and write timeout for queue operations.")
	f.IntVar(&cfg.PoolSize, util.PrefixConfig(prefix, "pool-size"), 100, "Maximum number of pooled connections.")
	f.DurationVar(&cfg.RecordTTL, util.PrefixConfig(prefix, "record-ttl"), 24*time.Hour, "Retention of job records after they are written.")
}
