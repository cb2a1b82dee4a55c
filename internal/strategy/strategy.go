// Package strategy resolves extraction and chunking behaviours by name.
//
// Strategies are registered once at startup as named factories. A batch
// resolves its pair of strategies before any resource work begins, and the
// resulting instances are shared read-only by every job of that batch.
package strategy

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/batch-crawler/internal/crawler"
)

// Kind selects the namespace a strategy name is looked up in.
type Kind string

const (
	// KindExtraction names strategies that turn page sections into blocks.
	KindExtraction Kind = "extraction"
	// KindChunking names strategies that split text into segments.
	KindChunking Kind = "chunking"
)

// Args are caller-supplied constructor arguments.
type Args map[string]any

// Input is the processed page handed to an extraction strategy.
type Input struct {
	URL      string
	HTML     string
	Sections []string
}

// ExtractionStrategy turns a processed page into content blocks. Instances
// must be safe for concurrent use.
type ExtractionStrategy interface {
	Extract(ctx context.Context, in Input) ([]crawler.Block, error)
}

// ChunkingStrategy splits text into segments. Instances must be safe for
// concurrent use.
type ChunkingStrategy interface {
	Chunk(text string) ([]string, error)
}

// Settings are injected by the registry into every factory call.
type Settings struct {
	Verbose bool
	Logger  *zap.Logger
}

func (s Settings) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// ExtractionFactory builds an extraction strategy from decoded arguments.
type ExtractionFactory func(args Args, settings Settings) (ExtractionStrategy, error)

// ChunkingFactory builds a chunking strategy from decoded arguments.
type ChunkingFactory func(args Args, settings Settings) (ChunkingStrategy, error)

// Param documents one constructor argument.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description"`
}

// Descriptor is the public description of a registered strategy.
type Descriptor struct {
	Name        string  `json:"name"`
	Kind        Kind    `json:"kind"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`
}
