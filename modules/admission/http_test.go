package admission

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trawlhq/trawl/pkg/ledger"
	"github.com/trawlhq/trawl/pkg/scrape"
)

func TestStatusHandler(t *testing.T) {
	d, l, _, _ := testDispatcher(t, fakeLimits{crawl: 2})
	ctx := context.Background()

	require.NoError(t, l.PushActive(ctx, "team-a", "job-1", time.Minute))
	require.NoError(t, l.PushDeferred(ctx, "team-a", &ledger.DeferredJob{
		Job:        &scrape.Job{ID: "job-2", TeamID: "team-a"},
		EnqueuedAt: time.Now(),
	}))

	rec := httptest.NewRecorder()
	d.StatusHandler(rec, httptest.NewRequest("GET", "/status/admission", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "team-a")
	require.Contains(t, body, "TEAM")
	require.Contains(t, body, "CEILING")
}

func TestStatusHandlerTeamFilter(t *testing.T) {
	d, l, _, _ := testDispatcher(t, fakeLimits{crawl: 2})
	ctx := context.Background()

	require.NoError(t, l.PushActive(ctx, "team-a", "job-1", time.Minute))

	rec := httptest.NewRecorder()
	d.StatusHandler(rec, httptest.NewRequest("GET", "/status/admission?team=team-a&team=team-b", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "team-a")
	require.Contains(t, body, "team-b")
}
