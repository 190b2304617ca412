package notifier

import (
	"context"
	"flag"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kit/log"
	"github.com/go-redis/redis/v8"
	"github.com/grafana/dskit/services"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/trawlhq/trawl/modules/overrides"
	"github.com/trawlhq/trawl/pkg/ledger"
)

const testTopic = "tenant-notifications"

type fakeLimits struct {
	resend time.Duration
}

func (f fakeLimits) ConcurrencyLimit(string, overrides.ConcurrencyKind) int { return 2 }
func (f fakeLimits) NotificationResendInterval(string) time.Duration       { return f.resend }

func testNotifier(t *testing.T, resend time.Duration) (*Notifier, *ledger.RedisLedger, *kgo.Client) {
	t.Helper()

	fake, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(1, testTopic))
	require.NoError(t, err)
	t.Cleanup(fake.Close)
	addr := fake.ListenAddrs()[0]

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := ledger.NewWithClient(client, log.NewNopLogger())

	cfg := Config{}
	cfg.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("test", flag.PanicOnError))
	cfg.Address = addr
	cfg.Topic = testTopic

	n, err := New(cfg, l, fakeLimits{resend: resend}, log.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, services.StartAndAwaitRunning(context.Background(), n))
	t.Cleanup(func() {
		require.NoError(t, services.StopAndAwaitTerminated(context.Background(), n))
	})

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(addr),
		kgo.ConsumeTopics(testTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	t.Cleanup(consumer.Close)

	return n, l, consumer
}

func pollEvents(t *testing.T, consumer *kgo.Client, wait time.Duration) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	var events []Event
	for {
		fetches := consumer.PollFetches(ctx)
		for _, record := range fetches.Records() {
			var event Event
			require.NoError(t, jsonCodec.Unmarshal(record.Value, &event))
			events = append(events, event)
		}
		if ctx.Err() != nil {
			return events
		}
	}
}

func TestNotifierPublishesOncePerWindow(t *testing.T) {
	n, _, consumer := testNotifier(t, 15*24*time.Hour)
	ctx := context.Background()

	n.ConcurrencyLimitReached(ctx, "team-a", false)
	n.ConcurrencyLimitReached(ctx, "team-a", false)

	events := pollEvents(t, consumer, time.Second)
	require.Len(t, events, 1)
	require.Equal(t, EventConcurrencyLimit, events[0].Type)
	require.Equal(t, "team-a", events[0].TeamID)
	require.False(t, events[0].SentAt.IsZero())
}

func TestNotifierSeparateTenants(t *testing.T) {
	n, _, consumer := testNotifier(t, 15*24*time.Hour)
	ctx := context.Background()

	n.ConcurrencyLimitReached(ctx, "team-a", false)
	n.ConcurrencyLimitReached(ctx, "team-b", false)

	events := pollEvents(t, consumer, time.Second)
	require.Len(t, events, 2)

	teams := map[string]bool{}
	for _, event := range events {
		teams[event.TeamID] = true
	}
	require.True(t, teams["team-a"])
	require.True(t, teams["team-b"])
}

func TestNotifierSuppressesCrawlBatches(t *testing.T) {
	n, _, consumer := testNotifier(t, 15*24*time.Hour)

	n.ConcurrencyLimitReached(context.Background(), "team-a", true)

	require.Empty(t, pollEvents(t, consumer, 300*time.Millisecond))
}

func TestNotifierHonorsExistingWindow(t *testing.T) {
	n, l, consumer := testNotifier(t, 15*24*time.Hour)
	ctx := context.Background()

	// a previous process already notified this tenant
	owned, err := l.MarkNotified(ctx, "team-a", EventConcurrencyLimit, 15*24*time.Hour)
	require.NoError(t, err)
	require.True(t, owned)

	n.ConcurrencyLimitReached(ctx, "team-a", false)

	require.Empty(t, pollEvents(t, consumer, 300*time.Millisecond))
}

func TestConfigEnabled(t *testing.T) {
	cfg := Config{}
	require.False(t, cfg.Enabled())
	cfg.Address = "localhost:9092"
	require.True(t, cfg.Enabled())
}
