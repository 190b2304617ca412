package app

import (
	"flag"
	"fmt"
	"time"

	dslog "github.com/grafana/dskit/log"

	"github.com/trawlhq/trawl/modules/admission"
	"github.com/trawlhq/trawl/modules/drainer"
	"github.com/trawlhq/trawl/modules/notifier"
	"github.com/trawlhq/trawl/modules/overrides"
	"github.com/trawlhq/trawl/modules/waiter"
	"github.com/trawlhq/trawl/modules/worker"
	"github.com/trawlhq/trawl/pkg/blobstore"
	"github.com/trawlhq/trawl/pkg/ledger"
	"github.com/trawlhq/trawl/pkg/util"
	"github.com/trawlhq/trawl/pkg/workqueue"
)

// Config is the root config for App.
type Config struct {
	HTTPListenAddress string        `yaml:"http_listen_address,omitempty"`
	HTTPListenPort    int           `yaml:"http_listen_port,omitempty"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout,omitempty"`

	LogLevel  dslog.Level `yaml:"log_level,omitempty"`
	LogFormat string      `yaml:"log_format,omitempty"`

	// WorkerEnabled turns the embedded scrape worker off so a node serves
	// admission and draining only, with workers deployed separately.
	WorkerEnabled bool `yaml:"worker_enabled,omitempty"`

	Ledger    ledger.Config    `yaml:"ledger,omitempty"`
	Queue     workqueue.Config `yaml:"work_queue,omitempty"`
	Blobstore blobstore.Config `yaml:"blob_store,omitempty"`
	Overrides overrides.Limits `yaml:"overrides,omitempty"`
	Admission admission.Config `yaml:"admission,omitempty"`
	Drainer   drainer.Config   `yaml:"drainer,omitempty"`
	Notifier  notifier.Config  `yaml:"notifier,omitempty"`
	Waiter    waiter.Config    `yaml:"waiter,omitempty"`
	Worker    worker.Config    `yaml:"worker,omitempty"`
}

// RegisterFlagsAndApplyDefaults registers flag.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.HTTPListenAddress, util.PrefixConfig(prefix, "server.http-listen-address"), "", "Address the admin HTTP server binds to. Empty binds all interfaces.")
	f.IntVar(&c.HTTPListenPort, util.PrefixConfig(prefix, "server.http-listen-port"), 3002, "Port the admin HTTP server binds to.")
	f.DurationVar(&c.ShutdownTimeout, util.PrefixConfig(prefix, "server.graceful-shutdown-timeout"), 30*time.Second, "How long to wait for in-flight admin requests on shutdown.")

	_ = c.LogLevel.Set("info")
	f.Var(&c.LogLevel, util.PrefixConfig(prefix, "log.level"), "Only log messages with the given severity or above. Valid levels: [debug, info, warn, error].")
	f.StringVar(&c.LogFormat, util.PrefixConfig(prefix, "log.format"), "logfmt", "Output log messages in the given format. Valid formats: [logfmt, json].")

	f.BoolVar(&c.WorkerEnabled, util.PrefixConfig(prefix, "worker.enabled"), true, "Run the embedded scrape worker in this process.")

	c.Ledger.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "ledger"), f)
	c.Queue.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "work-queue"), f)
	c.Blobstore.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "blob-store"), f)
	c.Overrides.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "overrides"), f)
	c.Admission.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "admission"), f)
	c.Drainer.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "drainer"), f)
	c.Notifier.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "notifier"), f)
	c.Waiter.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "waiter"), f)
	c.Worker.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "worker"), f)
}

// NewDefaultConfig returns a Config with all defaults applied and no flags
// bound anywhere visible.
func NewDefaultConfig() *Config {
	defaultConfig := &Config{}
	defaultFS := flag.NewFlagSet("", flag.PanicOnError)
	defaultConfig.RegisterFlagsAndApplyDefaults("", defaultFS)
	return defaultConfig
}

// ConfigWarning bundles a warning message with an explanation and is produced
// by CheckConfig for suspect configurations.
type ConfigWarning struct {
	Message string
	Explain string
}

var (
	warnBlobstoreLocal = ConfigWarning{
		Message: "blob store is configured with the local backend",
		Explain: "spilled results are only readable by waiters on the same node",
	}
	warnNotifierDisabled = ConfigWarning{
		Message: "notifier is disabled",
		Explain: "tenants will not hear when their concurrency limit starts parking jobs",
	}
	warnRecordTTLBelowWaitBudget = ConfigWarning{
		Message: "work_queue.record_ttl is shorter than waiter.default_timeout",
		Explain: "a waiter can outlive the record of the job it waits on and report the result missing",
	}
	warnMirrorWithoutSampling = ConfigWarning{
		Message: "admission mirror has a url but a non-positive sample rate",
		Explain: "no jobs will ever be mirrored",
	}
)

// CheckConfig checks if config values are suspect.
func (c *Config) CheckConfig() []ConfigWarning {
	var warnings []ConfigWarning

	if c.Blobstore.Backend == blobstore.Local {
		warnings = append(warnings, warnBlobstoreLocal)
	}
	if !c.Notifier.Enabled() {
		warnings = append(warnings, warnNotifierDisabled)
	}
	if c.Queue.RecordTTL < c.Waiter.DefaultTimeout {
		warnings = append(warnings, warnRecordTTLBelowWaitBudget)
	}
	if c.Admission.Mirror.URL != "" && c.Admission.Mirror.SampleRPS <= 0 {
		warnings = append(warnings, warnMirrorWithoutSampling)
	}

	return warnings
}

func (c *Config) listenAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPListenAddress, c.HTTPListenPort)
}
