package overrides

import (
	"flag"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/model"
)

// ConcurrencyKind selects which per-tenant ceiling applies to a job.
type ConcurrencyKind string

const (
	ConcurrencyCrawl   ConcurrencyKind = "crawl"
	ConcurrencyExtract ConcurrencyKind = "extract"
	ConcurrencyPreview ConcurrencyKind = "extract-agent-preview"

	// metrics
	MetricMaxConcurrentCrawlJobs   = "max_concurrent_crawl_jobs"
	MetricMaxConcurrentExtractJobs = "max_concurrent_extract_jobs"
	MetricMaxConcurrentPreviewJobs = "max_concurrent_preview_jobs"
	MetricNotificationResend       = "notification_resend_interval_seconds"
)

var metricLimitsDesc = prometheus.NewDesc(
	"trawl_limits_defaults",
	"Default per-tenant admission limits",
	[]string{"limit_name"},
	nil,
)

type ConcurrencyConfig struct {
	Crawl   int `yaml:"crawl,omitempty" json:"crawl,omitempty"`
	Extract int `yaml:"extract,omitempty" json:"extract,omitempty"`
	Preview int `yaml:"preview,omitempty" json:"preview,omitempty"`
}

type NotificationConfig struct {
	ResendInterval model.Duration `yaml:"resend_interval,omitempty" json:"resend_interval,omitempty"`
}

type Limits struct {
	// Concurrency ceilings enforced by the admission controller.
	Concurrency ConcurrencyConfig `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`
	// Notification gate settings.
	Notification NotificationConfig `yaml:"notification,omitempty" json:"notification,omitempty"`

	PerTenantOverrideConfig string         `yaml:"per_tenant_override_config,omitempty" json:"per_tenant_override_config,omitempty"`
	PerTenantOverridePeriod model.Duration `yaml:"per_tenant_override_period,omitempty" json:"per_tenant_override_period,omitempty"`
}

// RegisterFlagsAndApplyDefaults adds the flags required to configure the
// default limits to the given FlagSet.
func (l *Limits) RegisterFlagsAndApplyDefaults(_ string, f *flag.FlagSet) {
	f.IntVar(&l.Concurrency.Crawl, "limits.max-concurrent-crawl-jobs", 2, "Maximum simultaneously-active scrape jobs per tenant.")
	f.IntVar(&l.Concurrency.Extract, "limits.max-concurrent-extract-jobs", 2, "Maximum simultaneously-active extract jobs per tenant.")
	f.IntVar(&l.Concurrency.Preview, "limits.max-concurrent-preview-jobs", 2, "Maximum simultaneously-active extract-agent-preview jobs per tenant.")

	l.Notification.ResendInterval = model.Duration(15 * 24 * time.Hour)
	f.Var(&l.Notification.ResendInterval, "limits.notification-resend-interval", "Minimum interval between concurrency-limit notifications per tenant.")

	f.StringVar(&l.PerTenantOverrideConfig, "limits.per-tenant-override-config", "", "Path to a file of per-tenant limits overrides, reloaded at runtime.")
	l.PerTenantOverridePeriod = model.Duration(10 * time.Second)
	f.Var(&l.PerTenantOverridePeriod, "limits.per-tenant-override-period", "How often the per-tenant override file is reloaded.")
}

func (l *Limits) Describe(ch chan<- *prometheus.Desc) {
	ch <- metricLimitsDesc
}

func (l *Limits) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(metricLimitsDesc, prometheus.GaugeValue, float64(l.Concurrency.Crawl), MetricMaxConcurrentCrawlJobs)
	ch <- prometheus.MustNewConstMetric(metricLimitsDesc, prometheus.GaugeValue, float64(l.Concurrency.Extract), MetricMaxConcurrentExtractJobs)
	ch <- prometheus.MustNewConstMetric(metricLimitsDesc, prometheus.GaugeValue, float64(l.Concurrency.Preview), MetricMaxConcurrentPreviewJobs)
	ch <- prometheus.MustNewConstMetric(metricLimitsDesc, prometheus.GaugeValue, time.Duration(l.Notification.ResendInterval).Seconds(), MetricNotificationResend)
}
