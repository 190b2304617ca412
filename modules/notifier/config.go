package notifier

import (
	"flag"
	"time"

	"github.com/trawlhq/trawl/pkg/util"
)

type Config struct {
	// Address seeds the Kafka cluster carrying tenant notifications. Empty
	// disables the notifier entirely.
	Address  string `yaml:"address"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`

	WriteTimeout time.Duration `yaml:"write_timeout"`

	// GuardTTL suppresses repeat sends for a tenant in-process, keeping the
	// shared window check off the hot path.
	GuardTTL  time.Duration `yaml:"guard_ttl"`
	GuardSize int           `yaml:"guard_size"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Address, util.PrefixConfig(prefix, "address"), "", "Kafka seed broker for tenant notifications. Empty disables the notifier.")
	f.StringVar(&cfg.Topic, util.PrefixConfig(prefix, "topic"), "tenant-notifications", "Kafka topic receiving notification events.")
	cfg.ClientID = "trawl"
	cfg.WriteTimeout = 10 * time.Second
	cfg.GuardTTL = time.Minute
	cfg.GuardSize = 10_000
}

// Enabled reports whether a notification sink is configured.
func (cfg *Config) Enabled() bool {
	return cfg.Address != ""
}
