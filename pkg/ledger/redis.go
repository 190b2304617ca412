package ledger

import (
	"context"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"

	"github.com/trawlhq/trawl/pkg/scrape"
)

const (
	activePrefix       = "concurrency-limiter:"
	crawlActivePrefix  = "crawl-concurrency-limiter:"
	deferredPrefix     = "concurrency-limit-queue:"
	deferredJobsPrefix = "concurrency-limit-jobs:"
	deferredTeamsKey   = "concurrency-limited-teams"
	crawlPrefix        = "crawl:"
	notifyPrefix       = "last-concurrency-notification:"

	// crawl records are written by the crawl orchestrator and read for the
	// lifetime of the crawl.
	crawlRecordTTL = 24 * time.Hour
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// RedisLedger implements Ledger over a single Redis instance. All mutation
// happens through per-key atomic commands or MULTI pipelines; there is no
// cross-process locking.
type RedisLedger struct {
	client redis.UniversalClient
	logger log.Logger
}

var _ Ledger = (*RedisLedger)(nil)

// New builds a ledger from config, dialing Redis lazily.
func New(cfg Config, logger log.Logger) *RedisLedger {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Endpoint,
		DB:           cfg.DB,
		Password:     cfg.Password.String(),
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		PoolSize:     cfg.PoolSize,
	})
	return NewWithClient(client, logger)
}

// NewWithClient wraps an existing client, which the caller owns.
func NewWithClient(client redis.UniversalClient, logger log.Logger) *RedisLedger {
	return &RedisLedger{client: client, logger: logger}
}

func activeKey(teamID string) string       { return activePrefix + teamID }
func crawlActiveKey(crawlID string) string { return crawlActivePrefix + crawlID }
func deferredKey(teamID string) string     { return deferredPrefix + teamID }
func deferredJobsKey(teamID string) string { return deferredJobsPrefix + teamID }
func crawlKey(crawlID string) string       { return crawlPrefix + crawlID }
func notifyKey(teamID, kind string) string { return notifyPrefix + teamID + ":" + kind }

func unixMilli(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// deferredScore orders parked jobs by priority ascending, then enqueue time
// ascending. The enqueue milli timestamp is folded into the fraction so it
// never crosses a priority boundary.
func deferredScore(priority int, enqueuedAt time.Time) float64 {
	return float64(priority) + float64(enqueuedAt.UnixMilli())/1e16
}

func (l *RedisLedger) pushActive(ctx context.Context, key, jobID string, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl)
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, &redis.Z{Score: float64(expiresAt.UnixMilli()), Member: jobID})
		// the key may vanish wholesale once every member has expired
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return unavailable(err)
}

func (l *RedisLedger) PushActive(ctx context.Context, teamID, jobID string, ttl time.Duration) error {
	return l.pushActive(ctx, activeKey(teamID), jobID, ttl)
}

func (l *RedisLedger) RemoveActive(ctx context.Context, teamID, jobID string) error {
	return unavailable(l.client.ZRem(ctx, activeKey(teamID), jobID).Err())
}

func (l *RedisLedger) CleanExpired(ctx context.Context, teamID string, now time.Time) error {
	return unavailable(l.client.ZRemRangeByScore(ctx, activeKey(teamID), "-inf", unixMilli(now)).Err())
}

func (l *RedisLedger) CountActive(ctx context.Context, teamID string, now time.Time) (int, error) {
	n, err := l.client.ZCount(ctx, activeKey(teamID), "("+unixMilli(now), "+inf").Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

func (l *RedisLedger) CrawlPushActive(ctx context.Context, crawlID, jobID string, ttl time.Duration) error {
	return l.pushActive(ctx, crawlActiveKey(crawlID), jobID, ttl)
}

func (l *RedisLedger) CrawlRemoveActive(ctx context.Context, crawlID, jobID string) error {
	return unavailable(l.client.ZRem(ctx, crawlActiveKey(crawlID), jobID).Err())
}

func (l *RedisLedger) CrawlCountActive(ctx context.Context, crawlID string, now time.Time) (int, error) {
	var count *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, crawlActiveKey(crawlID), "-inf", unixMilli(now))
		count = pipe.ZCount(ctx, crawlActiveKey(crawlID), "("+unixMilli(now), "+inf")
		return nil
	})
	if err != nil {
		return 0, unavailable(err)
	}
	return int(count.Val()), nil
}

func (l *RedisLedger) PushDeferred(ctx context.Context, teamID string, job *DeferredJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	buf, err := jsonCodec.Marshal(job)
	if err != nil {
		return err
	}

	score := deferredScore(job.Job.Priority, job.EnqueuedAt)
	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, deferredKey(teamID), &redis.Z{Score: score, Member: job.Job.ID})
		pipe.HSet(ctx, deferredJobsKey(teamID), job.Job.ID, buf)
		pipe.SAdd(ctx, deferredTeamsKey, teamID)
		return nil
	})
	return unavailable(err)
}

func (l *RedisLedger) PopDeferred(ctx context.Context, teamID string, n int) ([]*DeferredJob, error) {
	if n <= 0 {
		return nil, nil
	}

	popped, err := l.client.ZPopMin(ctx, deferredKey(teamID), int64(n)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(popped) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(popped))
	for _, z := range popped {
		if id, ok := z.Member.(string); ok {
			ids = append(ids, id)
		}
	}

	var (
		vals *redis.SliceCmd
		card *redis.IntCmd
	)
	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		vals = pipe.HMGet(ctx, deferredJobsKey(teamID), ids...)
		pipe.HDel(ctx, deferredJobsKey(teamID), ids...)
		card = pipe.ZCard(ctx, deferredKey(teamID))
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	if card.Val() == 0 {
		if err := l.client.SRem(ctx, deferredTeamsKey, teamID).Err(); err != nil {
			level.Warn(l.logger).Log("msg", "failed to unregister drained team", "team", teamID, "err", err)
		}
	}

	jobs := make([]*DeferredJob, 0, len(ids))
	for i, v := range vals.Val() {
		raw, ok := v.(string)
		if !ok {
			// entry vanished between pop and fetch; nothing to promote
			level.Warn(l.logger).Log("msg", "deferred entry missing its payload", "team", teamID, "job", ids[i])
			continue
		}
		var dj DeferredJob
		if err := jsonCodec.Unmarshal([]byte(raw), &dj); err != nil {
			level.Error(l.logger).Log("msg", "corrupt deferred entry dropped", "team", teamID, "job", ids[i], "err", err)
			continue
		}
		jobs = append(jobs, &dj)
	}
	return jobs, nil
}

func (l *RedisLedger) CountDeferred(ctx context.Context, teamID string) (int, error) {
	n, err := l.client.ZCard(ctx, deferredKey(teamID)).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

func (l *RedisLedger) DeferredTeams(ctx context.Context) ([]string, error) {
	teams, err := l.client.SMembers(ctx, deferredTeamsKey).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	return teams, nil
}

func (l *RedisLedger) GetCrawl(ctx context.Context, crawlID string) (*scrape.CrawlRecord, error) {
	buf, err := l.client.Get(ctx, crawlKey(crawlID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err)
	}

	var rec scrape.CrawlRecord
	if err := jsonCodec.Unmarshal(buf, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (l *RedisLedger) PutCrawl(ctx context.Context, crawlID string, rec *scrape.CrawlRecord) error {
	buf, err := jsonCodec.Marshal(rec)
	if err != nil {
		return err
	}
	return unavailable(l.client.Set(ctx, crawlKey(crawlID), buf, crawlRecordTTL).Err())
}

func (l *RedisLedger) MarkNotified(ctx context.Context, teamID, kind string, window time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, notifyKey(teamID, kind), time.Now().UTC().Format(time.RFC3339), window).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}
