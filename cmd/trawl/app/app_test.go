package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/trawlhq/trawl/modules/admission"
	"github.com/trawlhq/trawl/modules/waiter"
	"github.com/trawlhq/trawl/pkg/scrape"
	"github.com/trawlhq/trawl/pkg/util"
)

func TestApp_RunStop(t *testing.T) {
	mr := miniredis.RunT(t)

	config := NewDefaultConfig()
	config.HTTPListenPort = util.MustGetFreePort()
	config.Ledger.Endpoint = mr.Addr()
	config.Queue.Endpoint = mr.Addr()
	config.Blobstore.Local.Path = t.TempDir()
	config.Drainer.SweepInterval = 50 * time.Millisecond
	config.Waiter.PollInterval = 20 * time.Millisecond
	config.Worker.Backoff.MinBackoff = 10 * time.Millisecond
	config.Worker.Backoff.MaxBackoff = 50 * time.Millisecond

	app, err := New(*config)
	require.NoError(t, err)

	// start Trawl
	go func() {
		require.NoError(t, app.Run())
	}()

	// check health endpoint is reachable
	healthCheckURL := fmt.Sprintf("http://localhost:%d/ready", config.HTTPListenPort)
	require.Eventually(t, func() bool {
		t.Log("Checking Trawl is up...")
		// #nosec G107
		resp, httpErr := http.Get(healthCheckURL)
		return httpErr == nil && resp.StatusCode == http.StatusOK
	}, 30*time.Second, 100*time.Millisecond)

	// drive a few jobs through while it is up. The origin holds each fetch
	// long enough that the third submission lands while both slots are taken.
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(250 * time.Millisecond)
		_, _ = w.Write([]byte("<html><body><h1>fetched</h1></body></html>"))
	}))
	defer origin.Close()

	ctx := context.Background()
	jobs := make([]*scrape.Job, 0, 3)
	for i := 0; i < 3; i++ {
		job := scrape.NewJob("team-e2e")
		job.Payload.URL = origin.URL
		jobs = append(jobs, job)
	}

	handles := make([]bool, 0, 3)
	for _, job := range jobs {
		handle, err := app.Dispatcher().SubmitOne(ctx, job, admission.SubmitOpts{})
		require.NoError(t, err)
		handles = append(handles, handle != nil)
	}
	require.Equal(t, []bool{true, true, false}, handles, "default ceiling is 2, third job parks")

	for _, job := range jobs {
		docs, err := app.Waiter().Wait(ctx, job.ID, waiter.WaitOpts{Timeout: 15 * time.Second})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		require.Contains(t, docs[0].HTML, "fetched")
	}

	// admission status table renders
	statusURL := fmt.Sprintf("http://localhost:%d/status/admission", config.HTTPListenPort)
	resp, err := http.Get(statusURL) // #nosec G107
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	// stop Trawl
	app.Stop()

	// check health endpoint is not reachable anymore
	require.Eventually(t, func() bool {
		t.Log("Checking Trawl is down...")
		// #nosec G107
		_, httpErr := http.Get(healthCheckURL)
		return httpErr != nil
	}, 30*time.Second, 100*time.Millisecond)
}
