package overrides

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/grafana/dskit/services"
	"github.com/stretchr/testify/require"
)

func defaultLimits(t *testing.T) Limits {
	t.Helper()
	limits := Limits{}
	fs := flag.NewFlagSet("test", flag.PanicOnError)
	limits.RegisterFlagsAndApplyDefaults("", fs)
	return limits
}

func startOverrides(t *testing.T, limits Limits) *Overrides {
	t.Helper()
	o, err := NewOverrides(limits)
	require.NoError(t, err)
	require.NoError(t, services.StartAndAwaitRunning(context.Background(), o))
	t.Cleanup(func() {
		require.NoError(t, services.StopAndAwaitTerminated(context.Background(), o))
	})
	return o
}

func TestOverridesDefaults(t *testing.T) {
	o := startOverrides(t, defaultLimits(t))

	require.Equal(t, 2, o.ConcurrencyLimit("team-a", ConcurrencyCrawl))
	require.Equal(t, 2, o.ConcurrencyLimit("team-a", ConcurrencyExtract))
	require.Equal(t, 2, o.ConcurrencyLimit("team-a", ConcurrencyPreview))
	require.Equal(t, 15*24*time.Hour, o.NotificationResendInterval("team-a"))
}

func TestOverridesPerTenantFile(t *testing.T) {
	overridesFile := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(overridesFile, []byte(`
overrides:
  team-big:
    concurrency:
      crawl: 50
      extract: 10
    notification:
      resend_interval: 1h
  team-blocked:
    concurrency:
      crawl: 0
  "*":
    concurrency:
      crawl: 5
      extract: 5
      preview: 5
`), 0o600))

	limits := defaultLimits(t)
	limits.PerTenantOverrideConfig = overridesFile

	o := startOverrides(t, limits)

	require.Equal(t, 50, o.ConcurrencyLimit("team-big", ConcurrencyCrawl))
	require.Equal(t, 10, o.ConcurrencyLimit("team-big", ConcurrencyExtract))
	require.Equal(t, time.Hour, o.NotificationResendInterval("team-big"))

	// an override record applies wholesale: unset fields read zero
	require.Equal(t, 0, o.ConcurrencyLimit("team-big", ConcurrencyPreview))

	// an explicit zero ceiling admits nothing
	require.Equal(t, 0, o.ConcurrencyLimit("team-blocked", ConcurrencyCrawl))

	// unknown tenants fall through to the wildcard before the defaults
	require.Equal(t, 5, o.ConcurrencyLimit("team-other", ConcurrencyCrawl))

	// zero resend interval falls back to the default
	require.Equal(t, 15*24*time.Hour, o.NotificationResendInterval("team-blocked"))
}
