package overrides

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/grafana/dskit/runtimeconfig"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gopkg.in/yaml.v2"

	"github.com/trawlhq/trawl/pkg/util/log"
)

const wildcardTenant = "*"

var metricOverridesLimits = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "trawl",
	Name:      "limits_overrides",
	Help:      "Per-tenant admission limits",
}, []string{"limit_name", "team"})

// Interface is the read side consumed by the admission controller, the
// drainer and the notification gate.
type Interface interface {
	// ConcurrencyLimit returns the tenant's ceiling for the given kind. An
	// explicit zero means the tenant may run nothing.
	ConcurrencyLimit(teamID string, kind ConcurrencyKind) int
	// NotificationResendInterval returns the minimum gap between
	// concurrency-limit notifications for the tenant.
	NotificationResendInterval(teamID string) time.Duration
}

// perTenantOverrides represents the overrides config file
type perTenantOverrides struct {
	TeamLimits map[string]*Limits `yaml:"overrides"`
}

func (o *perTenantOverrides) forTeam(teamID string) *Limits {
	l, ok := o.TeamLimits[teamID]
	if !ok || l == nil {
		return nil
	}
	return l
}

// loadPerTenantOverrides is of type runtimeconfig.Loader
func loadPerTenantOverrides(r io.Reader) (interface{}, error) {
	overrides := &perTenantOverrides{}

	decoder := yaml.NewDecoder(r)
	decoder.SetStrict(true)
	if err := decoder.Decode(&overrides); err != nil {
		return nil, err
	}

	for team, limits := range overrides.TeamLimits {
		metricOverridesLimits.WithLabelValues(MetricMaxConcurrentCrawlJobs, team).Set(float64(limits.Concurrency.Crawl))
		metricOverridesLimits.WithLabelValues(MetricMaxConcurrentExtractJobs, team).Set(float64(limits.Concurrency.Extract))
		metricOverridesLimits.WithLabelValues(MetricMaxConcurrentPreviewJobs, team).Set(float64(limits.Concurrency.Preview))
	}

	return overrides, nil
}

// Config is a struct used to print the complete runtime config (defaults + overrides)
type Config struct {
	Defaults           *Limits            `yaml:"defaults"`
	PerTenantOverrides perTenantOverrides `yaml:",inline"`
}

// Overrides periodically reloads a set of per-tenant limits and answers
// lookups with the tenant's value, the wildcard value, or the default.
type Overrides struct {
	services.Service

	defaultLimits    *Limits
	runtimeConfigMgr *runtimeconfig.Manager

	subservices        *services.Manager
	subservicesWatcher *services.FailureWatcher
}

var _ Interface = (*Overrides)(nil)

// NewOverrides makes a new Overrides.
func NewOverrides(defaults Limits) (*Overrides, error) {
	var manager *runtimeconfig.Manager
	subservices := []services.Service(nil)

	if defaults.PerTenantOverrideConfig != "" {
		runtimeCfg := runtimeconfig.Config{
			LoadPath:     []string{defaults.PerTenantOverrideConfig},
			ReloadPeriod: time.Duration(defaults.PerTenantOverridePeriod),
			Loader:       loadPerTenantOverrides,
		}
		runtimeCfgMgr, err := runtimeconfig.New(runtimeCfg, "overrides", prometheus.WrapRegistererWithPrefix("trawl_", prometheus.DefaultRegisterer), log.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create runtime config manager %w", err)
		}
		manager = runtimeCfgMgr
		subservices = append(subservices, runtimeCfgMgr)
	}

	o := &Overrides{
		runtimeConfigMgr: manager,
		defaultLimits:    &defaults,
	}

	if len(subservices) > 0 {
		var err error
		o.subservices, err = services.NewManager(subservices...)
		if err != nil {
			return nil, fmt.Errorf("failed to create subservices %w", err)
		}
		o.subservicesWatcher = services.NewFailureWatcher()
		o.subservicesWatcher.WatchManager(o.subservices)
	}

	o.Service = services.NewBasicService(o.starting, o.running, o.stopping)

	return o, nil
}

func (o *Overrides) starting(ctx context.Context) error {
	if o.subservices != nil {
		err := services.StartManagerAndAwaitHealthy(ctx, o.subservices)
		if err != nil {
			return fmt.Errorf("failed to start subservices %w", err)
		}
	}

	return nil
}

func (o *Overrides) running(ctx context.Context) error {
	if o.subservices != nil {
		select {
		case <-ctx.Done():
			return nil
		case err := <-o.subservicesWatcher.Chan():
			return fmt.Errorf("overrides subservices failed %w", err)
		}
	}
	<-ctx.Done()
	return nil
}

func (o *Overrides) stopping(_ error) error {
	if o.subservices != nil {
		return services.StopManagerAndAwaitStopped(context.Background(), o.subservices)
	}
	return nil
}

func (o *Overrides) tenantOverrides() *perTenantOverrides {
	if o.runtimeConfigMgr == nil {
		return nil
	}
	cfg, ok := o.runtimeConfigMgr.GetConfig().(*perTenantOverrides)
	if !ok || cfg == nil {
		return nil
	}

	return cfg
}

// ConcurrencyLimit returns the ceiling for the tenant and kind. Tenants with
// an override record use it wholesale; otherwise the defaults apply.
func (o *Overrides) ConcurrencyLimit(teamID string, kind ConcurrencyKind) int {
	l := o.getOverridesForTeam(teamID)
	switch kind {
	case ConcurrencyExtract:
		return l.Concurrency.Extract
	case ConcurrencyPreview:
		return l.Concurrency.Preview
	default:
		return l.Concurrency.Crawl
	}
}

func (o *Overrides) NotificationResendInterval(teamID string) time.Duration {
	if d := time.Duration(o.getOverridesForTeam(teamID).Notification.ResendInterval); d > 0 {
		return d
	}
	return time.Duration(o.defaultLimits.Notification.ResendInterval)
}

func (o *Overrides) getOverridesForTeam(teamID string) *Limits {
	if tenantOverrides := o.tenantOverrides(); tenantOverrides != nil {
		l := tenantOverrides.forTeam(teamID)
		if l != nil {
			return l
		}

		l = tenantOverrides.forTeam(wildcardTenant)
		if l != nil {
			return l
		}
	}

	return o.defaultLimits
}

// WriteStatusRuntimeConfig renders the complete runtime config (defaults plus
// loaded overrides) for the status endpoint.
func (o *Overrides) WriteStatusRuntimeConfig(w io.Writer, _ *http.Request) error {
	var tenantOverrides perTenantOverrides
	if o.tenantOverrides() != nil {
		tenantOverrides = *o.tenantOverrides()
	}
	cfg := Config{
		Defaults:           o.defaultLimits,
		PerTenantOverrides: tenantOverrides,
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	_, err = w.Write(out)
	return err
}
