package headless

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/batch-crawler/internal/crawler"
)

func staticRender(page rendering) renderFunc {
	return func(context.Context, string, http.Header) (rendering, error) {
		return page, nil
	}
}

func testRenderer(t *testing.T, cfg Config, render renderFunc) *Renderer {
	t.Helper()
	cfg, err := cfg.normalize()
	require.NoError(t, err)
	return newRenderer(cfg, render)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxParallel: -1})
	require.ErrorContains(t, err, "max parallel")
	_, err = New(Config{MaxBodyBytes: -1})
	require.ErrorContains(t, err, "max body bytes")

	r, err := New(Config{MaxParallel: 2})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	require.Equal(t, 2, cap(r.slots))
	require.Equal(t, defaultNavigationTimeout, r.cfg.NavigationTimeout)
	require.Equal(t, defaultSettleDelay, r.cfg.SettleDelay)
}

func TestFetchReportsMainDocument(t *testing.T) {
	t.Parallel()

	r := testRenderer(t, Config{}, staticRender(rendering{
		html:     "<html><body>app</body></html>",
		location: "https://example.com/home",
		documents: []document{
			{url: "https://ads.test/frame", status: http.StatusNotFound},
			{url: "https://example.com/home", status: http.StatusOK, headers: http.Header{"X-Served-By": {"edge"}}},
		},
	}))

	resp, err := r.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/", UseHeadless: true})
	require.NoError(t, err)
	require.Equal(t, "https://example.com/home", resp.URL)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "edge", resp.Headers.Get("X-Served-By"))
	require.Equal(t, "text/html; charset=utf-8", resp.Headers.Get("Content-Type"))
	require.Equal(t, "<html><body>app</body></html>", string(resp.Body))
	require.True(t, resp.UsedHeadless)
}

func TestFetchFallsBackWithoutMatchingDocument(t *testing.T) {
	t.Parallel()

	r := testRenderer(t, Config{}, staticRender(rendering{
		html:      "<html></html>",
		location:  "https://example.com/#/route",
		documents: []document{{url: "https://example.com/", status: http.StatusGone}},
	}))
	resp, err := r.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/"})
	require.NoError(t, err)
	require.Equal(t, "https://example.com/#/route", resp.URL)
	require.Equal(t, http.StatusGone, resp.StatusCode)

	r = testRenderer(t, Config{}, staticRender(rendering{html: "<html></html>"}))
	resp, err = r.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/a"})
	require.NoError(t, err)
	require.Equal(t, "https://example.com/a", resp.URL)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFetchCapsBody(t *testing.T) {
	t.Parallel()

	r := testRenderer(t, Config{MaxBodyBytes: 10}, staticRender(rendering{html: "<html><body>long body</body></html>"}))
	resp, err := r.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, "<html><bod", string(resp.Body))
}

func TestFetchForwardsHeadersAndDeadline(t *testing.T) {
	t.Parallel()

	var (
		gotHeaders  http.Header
		hasDeadline bool
	)
	r := testRenderer(t, Config{NavigationTimeout: time.Minute},
		func(ctx context.Context, _ string, headers http.Header) (rendering, error) {
			gotHeaders = headers
			_, hasDeadline = ctx.Deadline()
			return rendering{html: "<html></html>"}, nil
		})
	_, err := r.Fetch(context.Background(), crawler.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"Accept-Language": {"en"}},
	})
	require.NoError(t, err)
	require.Equal(t, "en", gotHeaders.Get("Accept-Language"))
	require.True(t, hasDeadline)
}

func TestFetchRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := testRenderer(t, Config{}, func(context.Context, string, http.Header) (rendering, error) {
		calls.Add(1)
		return rendering{}, nil
	})
	for _, raw := range []string{"", "ftp://example.com/file", "/relative"} {
		_, err := r.Fetch(context.Background(), crawler.FetchRequest{URL: raw})
		require.ErrorIs(t, err, crawler.ErrInvalidURL, raw)
	}
	require.Zero(t, calls.Load())
}

func TestFetchWrapsRenderErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("target crashed")
	r := testRenderer(t, Config{}, func(context.Context, string, http.Header) (rendering, error) {
		return rendering{}, boom
	})
	_, err := r.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com"})
	require.ErrorIs(t, err, boom)
}

func TestFetchBoundsParallelism(t *testing.T) {
	t.Parallel()

	var (
		active, peak atomic.Int32
		entered      = make(chan struct{}, 4)
		release      = make(chan struct{})
	)
	r := testRenderer(t, Config{MaxParallel: 1}, func(context.Context, string, http.Header) (rendering, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		entered <- struct{}{}
		<-release
		active.Add(-1)
		return rendering{html: "<html></html>"}, nil
	})

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com"})
			assert.NoError(t, err)
		}()
	}
	for range 3 {
		<-entered
		release <- struct{}{}
	}
	wg.Wait()
	require.Equal(t, int32(1), peak.Load())
}

func TestFetchGivesUpWaitingForSlot(t *testing.T) {
	t.Parallel()

	r := testRenderer(t, Config{MaxParallel: 1}, staticRender(rendering{}))
	r.slots <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Fetch(ctx, crawler.FetchRequest{URL: "https://example.com"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHeaderConversions(t *testing.T) {
	t.Parallel()

	h := toHTTPHeader(network.Headers{"Content-Type": "text/html", "X-Multi": []any{"a", "b"}, "X-Num": 3})
	require.Equal(t, "text/html", h.Get("Content-Type"))
	require.Equal(t, []string{"a", "b"}, h.Values("X-Multi"))
	require.Equal(t, "3", h.Get("X-Num"))

	n := toNetworkHeaders(http.Header{"Accept": {"text/html", "application/xhtml+xml"}, "Empty": {}})
	require.Equal(t, network.Headers{"Accept": "text/html, application/xhtml+xml"}, n)
}
