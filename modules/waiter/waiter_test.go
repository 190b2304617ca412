package waiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kit/log"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/trawlhq/trawl/pkg/blobstore"
	"github.com/trawlhq/trawl/pkg/scrape"
	"github.com/trawlhq/trawl/pkg/workqueue"
)

func testWaiter(t *testing.T) (*Waiter, *workqueue.RedisQueue, blobstore.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := workqueue.NewWithClient(client, workqueue.Config{}, log.NewNopLogger())

	store, err := blobstore.New(blobstore.Config{
		Backend: blobstore.Local,
		Local:   blobstore.LocalConfig{Path: t.TempDir()},
	}, log.NewNopLogger())
	require.NoError(t, err)

	cfg := Config{PollInterval: 20 * time.Millisecond, DefaultTimeout: 5 * time.Second}
	return New(cfg, q, store, log.NewNopLogger()), q, store
}

func enqueued(t *testing.T, q *workqueue.RedisQueue) *scrape.Job {
	t.Helper()
	job := scrape.NewJob("team-a")
	_, err := q.Enqueue(context.Background(), job, workqueue.EnqueueOpts{})
	require.NoError(t, err)
	return job
}

func docs(urls ...string) []scrape.Document {
	out := make([]scrape.Document, 0, len(urls))
	for _, u := range urls {
		out = append(out, scrape.Document{URL: u, Markdown: "# " + u})
	}
	return out
}

func TestWaitReturnsInlineResult(t *testing.T) {
	w, q, _ := testWaiter(t)
	ctx := context.Background()
	job := enqueued(t, q)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = q.Complete(ctx, job.ID, docs("https://example.com"))
	}()

	got, err := w.Wait(ctx, job.ID, WaitOpts{Timeout: time.Second})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "https://example.com", got[0].URL)
}

func TestWaitObservesAlreadyFinishedJob(t *testing.T) {
	w, q, _ := testWaiter(t)
	ctx := context.Background()
	job := enqueued(t, q)

	require.NoError(t, q.Complete(ctx, job.ID, docs("https://example.com")))

	got, err := w.Wait(ctx, job.ID, WaitOpts{Timeout: time.Second})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestWaitQueueTimeoutWhenJobNeverMaterializes(t *testing.T) {
	w, _, _ := testWaiter(t)

	start := time.Now()
	_, err := w.Wait(context.Background(), "never-enqueued", WaitOpts{Timeout: 150 * time.Millisecond})
	require.ErrorIs(t, err, scrape.ErrScrapeTimeoutInQueue)
	require.Less(t, time.Since(start), time.Second)
}

func TestWaitPicksUpLateMaterialization(t *testing.T) {
	w, q, _ := testWaiter(t)
	ctx := context.Background()
	job := scrape.NewJob("team-a")

	// the job reaches the queue only after a drain, then completes
	go func() {
		time.Sleep(80 * time.Millisecond)
		_, _ = q.Enqueue(ctx, job, workqueue.EnqueueOpts{})
		time.Sleep(50 * time.Millisecond)
		_ = q.Complete(ctx, job.ID, docs("https://late.example.com"))
	}()

	got, err := w.Wait(ctx, job.ID, WaitOpts{Timeout: 2 * time.Second})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestWaitDeadlineWhileRunning(t *testing.T) {
	w, q, _ := testWaiter(t)
	job := enqueued(t, q)

	_, err := w.Wait(context.Background(), job.ID, WaitOpts{Timeout: 150 * time.Millisecond})
	require.ErrorIs(t, err, scrape.ErrScrapeTimeout)
}

func TestWaitReturnsTypedFailure(t *testing.T) {
	w, q, _ := testWaiter(t)
	ctx := context.Background()
	job := enqueued(t, q)

	cause := scrape.New(scrape.KindScrapeTimeout, "upstream closed the tab")
	require.NoError(t, q.Fail(ctx, job.ID, cause))

	_, err := w.Wait(ctx, job.ID, WaitOpts{Timeout: time.Second})
	require.ErrorIs(t, err, scrape.ErrScrapeTimeout)

	var te *scrape.TransportableError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "upstream closed the tab", te.Message)
}

func TestWaitReturnsGenericFailure(t *testing.T) {
	w, q, _ := testWaiter(t)
	ctx := context.Background()
	job := enqueued(t, q)

	require.NoError(t, q.Fail(ctx, job.ID, errors.New("browser crashed")))

	_, err := w.Wait(ctx, job.ID, WaitOpts{Timeout: time.Second})
	require.Error(t, err)
	require.Contains(t, err.Error(), "browser crashed")
}

func TestWaitFetchesSpilledResult(t *testing.T) {
	w, q, store := testWaiter(t)
	ctx := context.Background()
	job := enqueued(t, q)

	// the worker spilled the payload and completed with an empty record
	require.NoError(t, store.Put(ctx, job.ID, docs("https://big.example.com")))
	require.NoError(t, q.Complete(ctx, job.ID, nil))

	got, err := w.Wait(ctx, job.ID, WaitOpts{Timeout: time.Second})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "https://big.example.com", got[0].URL)

	// without zero data retention the blob stays
	_, err = store.Get(ctx, job.ID)
	require.NoError(t, err)
}

func TestWaitDeletesBlobForZeroDataRetention(t *testing.T) {
	w, q, store := testWaiter(t)
	ctx := context.Background()
	job := enqueued(t, q)

	require.NoError(t, store.Put(ctx, job.ID, docs("https://zdr.example.com")))
	require.NoError(t, q.Complete(ctx, job.ID, nil))

	got, err := w.Wait(ctx, job.ID, WaitOpts{Timeout: time.Second, ZeroDataRetention: true})
	require.NoError(t, err)
	require.Len(t, got, 1)

	_, err = store.Get(ctx, job.ID)
	require.ErrorIs(t, err, blobstore.ErrDoesNotExist)
}

func TestWaitResultNotFoundWhenSpillMissing(t *testing.T) {
	w, q, _ := testWaiter(t)
	ctx := context.Background()
	job := enqueued(t, q)

	require.NoError(t, q.Complete(ctx, job.ID, nil))

	_, err := w.Wait(ctx, job.ID, WaitOpts{Timeout: time.Second})
	require.ErrorIs(t, err, scrape.ErrResultNotFound)
}

func TestWaitCancellationReturnsPromptly(t *testing.T) {
	leakOpts := goleak.IgnoreCurrent()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := workqueue.NewWithClient(client, workqueue.Config{}, log.NewNopLogger())

	store, err := blobstore.New(blobstore.Config{
		Backend: blobstore.Local,
		Local:   blobstore.LocalConfig{Path: t.TempDir()},
	}, log.NewNopLogger())
	require.NoError(t, err)

	w := New(Config{PollInterval: 20 * time.Millisecond, DefaultTimeout: 5 * time.Second}, q, store, log.NewNopLogger())

	job := scrape.NewJob("team-a")
	_, err = q.Enqueue(context.Background(), job, workqueue.EnqueueOpts{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := w.Wait(ctx, job.ID, WaitOpts{Timeout: time.Minute})
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("wait did not return after cancellation")
	}

	require.NoError(t, client.Close())
	mr.Close()
	goleak.VerifyNone(t, leakOpts)
}

func TestWaitDefaultTimeoutApplies(t *testing.T) {
	w, _, _ := testWaiter(t)
	w.cfg.DefaultTimeout = 100 * time.Millisecond

	_, err := w.Wait(context.Background(), "missing", WaitOpts{})
	require.ErrorIs(t, err, scrape.ErrScrapeTimeoutInQueue)
}
