package admission

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/grafana/dskit/services"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"

	"github.com/trawlhq/trawl/pkg/scrape"
)

func startMirror(t *testing.T, cfg MirrorConfig) *Mirror {
	t.Helper()
	m := NewMirror(cfg, log.NewNopLogger())
	require.NoError(t, services.StartAndAwaitRunning(context.Background(), m))
	t.Cleanup(func() {
		require.NoError(t, services.StopAndAwaitTerminated(context.Background(), m))
	})
	return m
}

func TestMirrorPostsSampledJobs(t *testing.T) {
	var posts atomic.Int64
	var lastID atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var job scrape.Job
		require.NoError(t, jsoniter.Unmarshal(body, &job))
		lastID.Store(job.ID)
		posts.Add(1)
	}))
	t.Cleanup(srv.Close)

	m := startMirror(t, MirrorConfig{
		URL:       srv.URL,
		SampleRPS: 1000,
		Burst:     1000,
		Timeout:   time.Second,
		QueueSize: 10,
		Workers:   1,
	})

	job := scrape.NewJob("team-a")
	m.Offer(job)

	require.Eventually(t, func() bool {
		return posts.Load() == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, job.ID, lastID.Load())
}

func TestMirrorSamplerDropsExcess(t *testing.T) {
	var posts atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		posts.Add(1)
	}))
	t.Cleanup(srv.Close)

	m := startMirror(t, MirrorConfig{
		URL:       srv.URL,
		SampleRPS: 0.001,
		Burst:     1,
		Timeout:   time.Second,
		QueueSize: 10,
		Workers:   1,
	})

	for i := 0; i < 10; i++ {
		m.Offer(scrape.NewJob("team-a"))
	}

	require.Eventually(t, func() bool {
		return posts.Load() == 1
	}, time.Second, 10*time.Millisecond)

	// the remaining offers were shed by the sampler, never sent
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int64(1), posts.Load())
}
