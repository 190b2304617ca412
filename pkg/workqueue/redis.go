package workqueue

import (
	"context"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/trawlhq/trawl/pkg/scrape"
)

const (
	pendingKey    = "scrape-queue:pending"
	delayedKey    = "scrape-queue:delayed"
	jobKeyPrefix  = "scrape-queue:job:"
	doneKeyPrefix = "scrape-queue:done:"

	// upper bound on delayed jobs promoted per Next call
	promoteBatch = 128
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// RedisQueue implements Queue on Redis: a ready zset ordered by priority then
// enqueue time, a delayed zset ordered by ready time, a hash per job, and a
// pub/sub channel per job for completion events.
type RedisQueue struct {
	client    redis.UniversalClient
	logger    log.Logger
	recordTTL time.Duration
}

var _ Queue = (*RedisQueue)(nil)

func New(cfg Config, logger log.Logger) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Endpoint,
		DB:           cfg.DB,
		Password:     cfg.Password.String(),
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		PoolSize:     cfg.PoolSize,
	})
	return NewWithClient(client, cfg, logger)
}

// NewWithClient wraps an existing client, which the caller owns.
func NewWithClient(client redis.UniversalClient, cfg Config, logger log.Logger) *RedisQueue {
	if cfg.RecordTTL <= 0 {
		cfg.RecordTTL = 24 * time.Hour
	}
	return &RedisQueue{
		client:    client,
		logger:    logger,
		recordTTL: cfg.RecordTTL,
	}
}

func jobKey(jobID string) string      { return jobKeyPrefix + jobID }
func doneChannel(jobID string) string { return doneKeyPrefix + jobID }

func unixMilli(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// queueScore orders ready jobs by priority ascending, then enqueue time
// ascending, in a single zset score.
func queueScore(priority int, at time.Time) float64 {
	return float64(priority) + float64(at.UnixMilli())/1e16
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(ErrUnavailable, err.Error())
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *scrape.Job, opts EnqueueOpts) (*JobHandle, error) {
	payload, err := jsonCodec.Marshal(job)
	if err != nil {
		return nil, errors.Wrap(err, "encoding job payload")
	}

	now := time.Now()
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, jobKey(job.ID),
			"payload", payload,
			"state", string(StatePending),
			"priority", job.Priority,
			"created_at", now.UnixMilli(),
		)
		pipe.Expire(ctx, jobKey(job.ID), q.recordTTL)
		if opts.Delay > 0 {
			pipe.ZAdd(ctx, delayedKey, &redis.Z{Score: float64(now.Add(opts.Delay).UnixMilli()), Member: job.ID})
		} else {
			pipe.ZAdd(ctx, pendingKey, &redis.Z{Score: queueScore(job.Priority, now), Member: job.ID})
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	metricEnqueued.Inc()
	return &JobHandle{ID: job.ID, State: StatePending, CreatedAt: now}, nil
}

func (q *RedisQueue) Lookup(ctx context.Context, jobID string) (*JobHandle, error) {
	vals, err := q.client.HMGet(ctx, jobKey(jobID), "state", "created_at").Result()
	if err != nil {
		return nil, unavailable(err)
	}
	state, ok := vals[0].(string)
	if !ok {
		return nil, ErrNotFound
	}

	handle := &JobHandle{ID: jobID, State: JobState(state)}
	if raw, ok := vals[1].(string); ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			handle.CreatedAt = time.UnixMilli(ms)
		}
	}
	return handle, nil
}

func (q *RedisQueue) Next(ctx context.Context) (*scrape.Job, error) {
	if err := q.promoteDue(ctx, time.Now()); err != nil {
		return nil, err
	}

	popped, err := q.client.ZPopMin(ctx, pendingKey, 1).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(popped) == 0 {
		return nil, ErrEmpty
	}
	jobID, _ := popped[0].Member.(string)

	buf, err := q.client.HGet(ctx, jobKey(jobID), "payload").Bytes()
	if err == redis.Nil {
		// record expired while parked; nothing to run
		level.Warn(q.logger).Log("msg", "pending job lost its record", "job", jobID)
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, unavailable(err)
	}

	var job scrape.Job
	if err := jsonCodec.Unmarshal(buf, &job); err != nil {
		return nil, errors.Wrap(err, "decoding job payload")
	}

	err = q.client.HSet(ctx, jobKey(jobID), "state", string(StateActive), "started_at", time.Now().UnixMilli()).Err()
	if err != nil {
		return nil, unavailable(err)
	}

	metricDequeued.Inc()
	return &job, nil
}

// promoteDue moves delayed jobs whose ready time has passed onto the ready
// zset. Concurrent promoters may race; the zsets keep members unique so the
// worst case is wasted work.
func (q *RedisQueue) promoteDue(ctx context.Context, now time.Time) error {
	ids, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   unixMilli(now),
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return unavailable(err)
	}
	if len(ids) == 0 {
		return nil
	}

	pipe := q.client.Pipeline()
	prios := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		prios[i] = pipe.HGet(ctx, jobKey(id), "priority")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return unavailable(err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			pipe.ZRem(ctx, delayedKey, id)
			if prios[i].Err() == redis.Nil {
				// record expired while delayed
				continue
			}
			priority, _ := strconv.Atoi(prios[i].Val())
			pipe.ZAdd(ctx, pendingKey, &redis.Z{Score: queueScore(priority, now), Member: id})
		}
		return nil
	})
	return unavailable(err)
}

func (q *RedisQueue) Complete(ctx context.Context, jobID string, docs []scrape.Document) error {
	buf, err := jsonCodec.Marshal(docs)
	if err != nil {
		return errors.Wrap(err, "encoding result documents")
	}
	return q.finish(ctx, jobID, StateCompleted, "docs", buf)
}

func (q *RedisQueue) Fail(ctx context.Context, jobID string, cause error) error {
	return q.finish(ctx, jobID, StateFailed, "error", encodeFailure(cause))
}

func (q *RedisQueue) WriteOutcome(ctx context.Context, job *scrape.Job, cause error) error {
	payload, err := jsonCodec.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "encoding job payload")
	}
	return q.finish(ctx, job.ID, StateFailed, "error", encodeFailure(cause), "payload", payload)
}

func (q *RedisQueue) finish(ctx context.Context, jobID string, state JobState, fields ...interface{}) error {
	args := append([]interface{}{
		"state", string(state),
		"finished_at", time.Now().UnixMilli(),
	}, fields...)

	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, jobKey(jobID), args...)
		pipe.Expire(ctx, jobKey(jobID), q.recordTTL)
		pipe.Publish(ctx, doneChannel(jobID), string(state))
		return nil
	})
	if err != nil {
		return unavailable(err)
	}

	metricOutcomes.WithLabelValues(string(state)).Inc()
	return nil
}

func encodeFailure(cause error) []byte {
	var te *scrape.TransportableError
	if errors.As(cause, &te) {
		if buf, err := te.Marshal(); err == nil {
			return buf
		}
	}
	return []byte(cause.Error())
}

func (q *RedisQueue) State(ctx context.Context, jobID string) (JobState, error) {
	state, err := q.client.HGet(ctx, jobKey(jobID), "state").Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", unavailable(err)
	}
	return JobState(state), nil
}

func (q *RedisQueue) Result(ctx context.Context, jobID string) (*JobResult, error) {
	vals, err := q.client.HMGet(ctx, jobKey(jobID), "state", "docs", "error", "finished_at").Result()
	if err != nil {
		return nil, unavailable(err)
	}
	state, ok := vals[0].(string)
	if !ok {
		return nil, ErrNotFound
	}

	res := &JobResult{State: JobState(state)}
	if raw, ok := vals[1].(string); ok && raw != "" {
		if err := jsonCodec.Unmarshal([]byte(raw), &res.Docs); err != nil {
			return nil, errors.Wrap(err, "decoding result documents")
		}
	}
	if raw, ok := vals[2].(string); ok {
		res.Error = []byte(raw)
	}
	if raw, ok := vals[3].(string); ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			res.FinishedAt = time.UnixMilli(ms)
		}
	}
	return res, nil
}

func (q *RedisQueue) SubscribeDone(ctx context.Context, jobID string) (Subscription, error) {
	pubsub := q.client.Subscribe(ctx, doneChannel(jobID))
	// wait for the subscription to be confirmed, otherwise an event racing
	// the subscribe could be missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, unavailable(err)
	}

	sub := &doneSub{pubsub: pubsub, done: make(chan struct{})}
	go func() {
		ch := pubsub.Channel()
		if _, ok := <-ch; ok {
			close(sub.done)
		}
		// drain until the pubsub is closed
		for range ch {
		}
	}()
	return sub, nil
}

type doneSub struct {
	pubsub *redis.PubSub
	done   chan struct{}
}

func (s *doneSub) Done() <-chan struct{} { return s.done }
func (s *doneSub) Close() error          { return s.pubsub.Close() }
