package scrape

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCrawlRecordCeiling(t *testing.T) {
	tests := []struct {
		name    string
		rec     *CrawlRecord
		ceiling int
		bounded bool
	}{
		{name: "nil record", rec: nil},
		{name: "empty record", rec: &CrawlRecord{}},
		{name: "max concurrency", rec: &CrawlRecord{MaxConcurrency: 5}, ceiling: 5, bounded: true},
		{name: "delay alone caps at one", rec: &CrawlRecord{Delay: 5 * time.Second}, ceiling: 1, bounded: true},
		{name: "max concurrency wins over delay", rec: &CrawlRecord{MaxConcurrency: 3, Delay: time.Second}, ceiling: 3, bounded: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ceiling, bounded := tc.rec.Ceiling()
			require.Equal(t, tc.bounded, bounded)
			require.Equal(t, tc.ceiling, ceiling)
			require.Equal(t, tc.bounded, tc.rec.Gated())
		})
	}
}

func TestScrapeTimeoutDefault(t *testing.T) {
	j := NewJob("team-a")
	require.NotEmpty(t, j.ID)
	require.Equal(t, DefaultScrapeTimeout, j.ScrapeTimeout())

	j.Timeout = 5 * time.Second
	require.Equal(t, 5*time.Second, j.ScrapeTimeout())
}
