// Package headless renders pages that need JavaScript with headless Chrome.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/batch-crawler/internal/crawler"
	"github.com/JakeFAU/batch-crawler/internal/metrics"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettleDelay       = 500 * time.Millisecond
)

// Config controls the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait once <body> is ready so client-side
	// rendering can finish.
	SettleDelay time.Duration
	// MaxBodyBytes caps the serialized DOM, matching the static fetcher's
	// body limit. Zero means unlimited.
	MaxBodyBytes int
}

func (c Config) normalize() (Config, error) {
	if c.MaxParallel < 0 {
		return Config{}, fmt.Errorf("max parallel must be >= 0")
	}
	if c.MaxBodyBytes < 0 {
		return Config{}, fmt.Errorf("max body bytes must be >= 0")
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavigationTimeout
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = defaultSettleDelay
	}
	return c, nil
}

// document is one top-level document response seen while rendering.
type document struct {
	url     string
	status  int
	headers http.Header
}

// rendering is what the browser produced for one navigation.
type rendering struct {
	html      string
	location  string
	documents []document
}

type renderFunc func(ctx context.Context, pageURL string, headers http.Header) (rendering, error)

// Renderer implements crawler.Fetcher by rendering pages in headless Chrome.
// It is only consulted for pages the static fetch could not serve well, so
// its parallelism is bounded separately from the worker pool.
type Renderer struct {
	cfg         Config
	slots       chan struct{}
	render      renderFunc
	allocCancel context.CancelFunc
}

// New creates a Renderer backed by a shared Chrome allocator. Chrome is
// started lazily on the first render.
func New(cfg Config) (*Renderer, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	r := newRenderer(cfg, chromeRender(allocCtx, cfg))
	r.allocCancel = allocCancel
	return r, nil
}

func newRenderer(cfg Config, render renderFunc) *Renderer {
	var slots chan struct{}
	if cfg.MaxParallel > 0 {
		slots = make(chan struct{}, cfg.MaxParallel)
	}
	return &Renderer{cfg: cfg, slots: slots, render: render}
}

// Close shuts down the browser.
func (r *Renderer) Close() {
	if r.allocCancel != nil {
		r.allocCancel()
	}
}

// Fetch renders request.URL and returns the serialized DOM. Status and
// headers come from the main document response; iframe documents are ignored.
func (r *Renderer) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	target, err := url.Parse(request.URL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return crawler.FetchResponse{}, fmt.Errorf("render %q: %w", request.URL, crawler.ErrInvalidURL)
	}
	if err := r.acquire(ctx); err != nil {
		return crawler.FetchResponse{}, err
	}
	defer r.release()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.NavigationTimeout)
	defer cancel()

	start := time.Now()
	page, err := r.render(ctx, request.URL, request.Headers)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, err)
	}
	elapsed := time.Since(start)
	metrics.ObserveFetch("chromedp", elapsed)

	doc := page.mainDocument(request.URL)
	return crawler.FetchResponse{
		URL:          doc.url,
		StatusCode:   doc.status,
		Headers:      doc.headers,
		Body:         truncate([]byte(page.html), r.cfg.MaxBodyBytes),
		Duration:     elapsed,
		UsedHeadless: true,
	}, nil
}

// mainDocument picks the response for the page the browser ended on. Chrome
// reports redirects on the request, so the first document response is the
// main frame when nothing matches the final location.
func (p rendering) mainDocument(requestURL string) document {
	finalURL := p.location
	if finalURL == "" {
		finalURL = requestURL
	}
	doc := document{status: http.StatusOK}
	if i := slices.IndexFunc(p.documents, func(d document) bool { return d.url == finalURL }); i >= 0 {
		doc = p.documents[i]
	} else if len(p.documents) > 0 {
		doc = p.documents[0]
	}
	doc.url = finalURL
	if doc.status == 0 {
		doc.status = http.StatusOK
	}
	headers := http.Header{}
	for k, v := range doc.headers {
		headers[k] = slices.Clone(v)
	}
	// The body is always serialized HTML, whatever the server sent.
	headers.Set("Content-Type", "text/html; charset=utf-8")
	doc.headers = headers
	return doc
}

func chromeRender(allocCtx context.Context, cfg Config) renderFunc {
	return func(ctx context.Context, pageURL string, headers http.Header) (rendering, error) {
		taskCtx, taskCancel := chromedp.NewContext(allocCtx)
		defer taskCancel()
		stop := context.AfterFunc(ctx, taskCancel)
		defer stop()

		var (
			mu        sync.Mutex
			documents []document
			page      rendering
		)
		chromedp.ListenTarget(taskCtx, func(ev any) {
			resp, ok := ev.(*network.EventResponseReceived)
			if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
				return
			}
			mu.Lock()
			documents = append(documents, document{
				url:     resp.Response.URL,
				status:  int(resp.Response.Status),
				headers: toHTTPHeader(resp.Response.Headers),
			})
			mu.Unlock()
		})

		err := chromedp.Run(taskCtx,
			networkSetup(cfg.UserAgent, headers),
			chromedp.Navigate(pageURL),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Sleep(cfg.SettleDelay),
			chromedp.Location(&page.location),
			chromedp.OuterHTML("html", &page.html, chromedp.ByQuery),
		)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return rendering{}, fmt.Errorf("chromedp run: %w", ctxErr)
			}
			return rendering{}, fmt.Errorf("chromedp run: %w", err)
		}
		mu.Lock()
		page.documents = slices.Clone(documents)
		mu.Unlock()
		return page, nil
	}
}

func networkSetup(userAgent string, headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.slots == nil {
		return nil
	}
	select {
	case r.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.slots == nil {
		return
	}
	<-r.slots
}

func truncate(body []byte, limit int) []byte {
	if limit > 0 && len(body) > limit {
		return body[:limit]
	}
	return body
}

func toHTTPHeader(src network.Headers) http.Header {
	headers := http.Header{}
	for key, value := range src {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	return headers
}

// toNetworkHeaders joins repeated values with commas, which is how Chrome
// expects extra headers.
func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		joined := values[0]
		for _, v := range values[1:] {
			joined += ", " + v
		}
		headers[key] = joined
	}
	return headers
}
