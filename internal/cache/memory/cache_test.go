package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/batch-crawler/internal/crawler"
)

func TestCacheSetGetExpire(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	c := New(time.Minute)
	c.now = func() time.Time { return now }

	page := crawler.CachedPage{URL: "https://example.com", StatusCode: 200, HTML: "<p>hi</p>"}
	require.NoError(t, c.Set(ctx, page.URL, page))

	got, ok, err := c.Get(ctx, page.URL)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, page, got)

	now = now.Add(2 * time.Minute)
	_, ok, err = c.Get(ctx, page.URL)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCacheClear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := New(0)
	require.NoError(t, c.Set(ctx, "a", crawler.CachedPage{HTML: "a"}))
	require.NoError(t, c.Clear(ctx))

	_, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)
}
