// Package notifier publishes tenant-facing saturation events, rate limited
// so a tenant hears about a saturated ceiling once per resend window rather
// than once per submission.
package notifier

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/hashicorp/golang-lru/v2/expirable"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/trawlhq/trawl/modules/overrides"
	"github.com/trawlhq/trawl/pkg/ledger"
)

// EventConcurrencyLimit tells a tenant their submissions are being deferred
// because every concurrency slot is taken.
const EventConcurrencyLimit = "concurrency-limit-reached"

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// Event is the wire form of one notification.
type Event struct {
	Type   string    `json:"type"`
	TeamID string    `json:"team_id"`
	SentAt time.Time `json:"sent_at"`
}

// Notifier decides whether a saturation event reaches the tenant and
// publishes it to Kafka when it does. Send failures are logged and counted,
// never surfaced; notifications are advisory.
type Notifier struct {
	services.Service

	cfg    Config
	ledger ledger.Ledger
	limits overrides.Interface
	logger log.Logger

	client *kgo.Client
	guard  *expirable.LRU[string, time.Time]
}

func New(cfg Config, l ledger.Ledger, limits overrides.Interface, logger log.Logger) (*Notifier, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Address),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.AllowAutoTopicCreation(),
		kgo.ClientID(cfg.ClientID),
		kgo.ProduceRequestTimeout(cfg.WriteTimeout),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating kafka client")
	}

	n := &Notifier{
		cfg:    cfg,
		ledger: l,
		limits: limits,
		logger: logger,
		client: client,
		guard:  expirable.NewLRU[string, time.Time](cfg.GuardSize, nil, cfg.GuardTTL),
	}
	n.Service = services.NewIdleService(nil, n.stopping)
	return n, nil
}

func (n *Notifier) stopping(_ error) error {
	n.client.Close()
	return nil
}

// ConcurrencyLimitReached emits a saturation event for the tenant unless it
// is suppressed. Crawl batches are always suppressed: a bounded crawl defers
// jobs as a matter of course and the tenant asked for that pacing.
func (n *Notifier) ConcurrencyLimitReached(ctx context.Context, teamID string, crawlBatch bool) {
	if crawlBatch {
		metricSuppressed.WithLabelValues("crawl-batch").Inc()
		return
	}

	if _, recent := n.guard.Get(teamID); recent {
		metricSuppressed.WithLabelValues("recent").Inc()
		return
	}
	n.guard.Add(teamID, time.Now())

	window := n.limits.NotificationResendInterval(teamID)
	owned, err := n.ledger.MarkNotified(ctx, teamID, EventConcurrencyLimit, window)
	if err != nil {
		metricErrors.Inc()
		level.Warn(n.logger).Log("msg", "notification window check failed", "team", teamID, "err", err)
		return
	}
	if !owned {
		metricSuppressed.WithLabelValues("window").Inc()
		return
	}

	n.publish(ctx, Event{
		Type:   EventConcurrencyLimit,
		TeamID: teamID,
		SentAt: time.Now().UTC(),
	})
}

func (n *Notifier) publish(ctx context.Context, event Event) {
	body, err := jsonCodec.Marshal(event)
	if err != nil {
		metricErrors.Inc()
		level.Error(n.logger).Log("msg", "notification encode failed", "team", event.TeamID, "err", err)
		return
	}

	record := &kgo.Record{Key: []byte(event.TeamID), Value: body}
	if err := n.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		metricErrors.Inc()
		level.Error(n.logger).Log("msg", "notification publish failed", "team", event.TeamID, "err", err)
		return
	}

	metricSent.WithLabelValues(event.Type).Inc()
	level.Info(n.logger).Log("msg", "notification sent", "team", event.TeamID, "type", event.Type)
}
