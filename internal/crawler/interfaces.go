package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// PageCache keeps fetched documents keyed by normalized URL.
type PageCache interface {
	Get(ctx context.Context, url string) (CachedPage, bool, error)
	Set(ctx context.Context, url string, page CachedPage) error
	Clear(ctx context.Context) error
}

// CountStore records which URLs have been processed and reports the total.
type CountStore interface {
	RecordProcessed(ctx context.Context, url string, at time.Time) error
	Count(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes batch notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RateLimiter paces fetches per target domain.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes digests for archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch IDs.
type IDGenerator interface {
	NewID() (string, error)
}
