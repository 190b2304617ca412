package blobstore

import (
	"context"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/trawlhq/trawl/pkg/scrape"
)

func testStore(t *testing.T) Store {
	t.Helper()
	store, err := newLocal(LocalConfig{Path: t.TempDir()}, log.NewNopLogger())
	require.NoError(t, err)
	return store
}

func TestLocalRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	docs := []scrape.Document{
		{URL: "https://example.com", Title: "Example", Markdown: "# Example", StatusCode: 200},
		{URL: "https://example.com/about", Markdown: "about", Metadata: map[string]string{"lang": "en"}},
	}

	require.NoError(t, store.Put(ctx, "job-1", docs))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, docs, got)
}

func TestLocalGetMissing(t *testing.T) {
	store := testStore(t)

	_, err := store.Get(context.Background(), "absent")
	require.ErrorIs(t, err, ErrDoesNotExist)
}

func TestLocalDelete(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "job-1", []scrape.Document{{URL: "https://example.com"}}))
	require.NoError(t, store.Delete(ctx, "job-1"))

	_, err := store.Get(ctx, "job-1")
	require.ErrorIs(t, err, ErrDoesNotExist)

	require.ErrorIs(t, store.Delete(ctx, "job-1"), ErrDoesNotExist)
}

func TestLocalPutOverwrites(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "job-1", []scrape.Document{{URL: "https://a.example"}}))
	require.NoError(t, store.Put(ctx, "job-1", []scrape.Document{{URL: "https://b.example"}}))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "https://b.example", got[0].URL)
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(Config{Backend: "tape"}, log.NewNopLogger())
	require.Error(t, err)
}
