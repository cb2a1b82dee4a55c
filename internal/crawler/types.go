// Package crawler defines the domain types shared by the admission, dispatch,
// engine and API layers of the batch crawl service.
package crawler

import (
	"net/http"
	"time"
)

// StrategySpec names a strategy implementation and its constructor arguments.
type StrategySpec struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// BatchRequest is one submitted batch. It is treated as immutable once it has
// been received.
type BatchRequest struct {
	URLs               []string
	IncludeRawHTML     bool
	BypassCache        bool
	WordCountThreshold int
	Extraction         StrategySpec
	Chunking           StrategySpec
	CSSSelector        string
	Verbose            bool
}

// Options returns the scalar options shared by every job of the batch.
func (r BatchRequest) Options() Options {
	return Options{
		WordCountThreshold: r.WordCountThreshold,
		BypassCache:        r.BypassCache,
		CSSSelector:        r.CSSSelector,
		Verbose:            r.Verbose,
	}
}

// Options are the per-request scalar knobs handed to the engine for each resource.
type Options struct {
	WordCountThreshold int
	BypassCache        bool
	CSSSelector        string
	Verbose            bool
}

// CrawlJob binds one resource of a batch to the batch options.
type CrawlJob struct {
	BatchID string
	Index   int
	URL     string
	Options Options
}

// Block is one unit of extracted content.
type Block struct {
	Index   int      `json:"index"`
	Tags    []string `json:"tags"`
	Content string   `json:"content"`
}

// CrawlResult is the structured output for one resource. HTML carries the raw
// fetched document and is nil whenever it is withheld from the caller.
type CrawlResult struct {
	URL              string            `json:"url"`
	HTML             *string           `json:"html"`
	Success          bool              `json:"success"`
	StatusCode       int               `json:"status_code,omitempty"`
	CleanedHTML      string            `json:"cleaned_html,omitempty"`
	Markdown         string            `json:"markdown,omitempty"`
	Chunks           []string          `json:"chunks"`
	ExtractedContent []Block           `json:"extracted_content"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	BlobURI          string            `json:"blob_uri,omitempty"`
	UsedHeadless     bool              `json:"used_headless"`
	FromCache        bool              `json:"from_cache"`
	ErrorMessage     string            `json:"error_message,omitempty"`
}

// Outcome is what one job produced: a result or an error, never both.
type Outcome struct {
	Index  int
	URL    string
	Result CrawlResult
	Err    error
}

// Failed reports whether the job ended in error.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Reply is the assembled answer to one batch, ordered like the request URLs.
type Reply struct {
	BatchID   string        `json:"batch_id"`
	Results   []CrawlResult `json:"results"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
}

// CachedPage is the fetched document kept by a PageCache.
type CachedPage struct {
	URL          string      `json:"url"`
	StatusCode   int         `json:"status_code"`
	Headers      http.Header `json:"headers,omitempty"`
	HTML         string      `json:"html"`
	UsedHeadless bool        `json:"used_headless"`
	BlobURI      string      `json:"blob_uri,omitempty"`
	FetchedAt    time.Time   `json:"fetched_at"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL                   string
	Headers               http.Header
	UseHeadless           bool
	RespectRobots         bool
	RespectRobotsProvided bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
