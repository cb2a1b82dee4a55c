package strategy

import (
	"fmt"
)

// Default strategy names used when a request leaves them empty.
const (
	DefaultExtraction = "NoExtractionStrategy"
	DefaultChunking   = "RegexChunking"
)

// BuiltinConfig carries the service-level settings some builtins need.
type BuiltinConfig struct {
	LLM LLMConfig
}

// RegisterBuiltins installs every strategy shipped with the service.
func RegisterBuiltins(r *Registry, cfg BuiltinConfig) error {
	chunkers := []struct {
		desc    Descriptor
		factory ChunkingFactory
	}{
		{
			desc: Descriptor{
				Name:        "RegexChunking",
				Description: "Splits text on one or more regular expressions.",
				Params: []Param{{
					Name: "patterns", Type: "[]string", Default: []string{`\n\n`},
					Description: "Patterns applied in order to every segment.",
				}},
			},
			factory: newRegexChunker,
		},
		{
			desc: Descriptor{
				Name:        "NlpSentenceChunking",
				Description: "Splits text into unique sentences.",
				Params:      []Param{},
			},
			factory: newSentenceChunker,
		},
		{
			desc: Descriptor{
				Name:        "FixedLengthWordChunking",
				Description: "Groups words into chunks of a fixed length.",
				Params: []Param{{
					Name: "chunk_size", Type: "int", Default: 100,
					Description: "Words per chunk.",
				}},
			},
			factory: newFixedWordChunker,
		},
		{
			desc: Descriptor{
				Name:        "SlidingWindowChunking",
				Description: "Emits overlapping windows of words.",
				Params: []Param{
					{Name: "window_size", Type: "int", Default: 100, Description: "Words per window."},
					{Name: "step", Type: "int", Default: 50, Description: "Words between window starts."},
				},
			},
			factory: newSlidingWindowChunker,
		},
	}
	for _, c := range chunkers {
		if err := r.RegisterChunking(c.desc, c.factory); err != nil {
			return fmt.Errorf("register builtin: %w", err)
		}
	}

	extractors := []struct {
		desc    Descriptor
		factory ExtractionFactory
	}{
		{
			desc: Descriptor{
				Name:        "NoExtractionStrategy",
				Description: "Returns every page section as its own block.",
				Params:      []Param{},
			},
			factory: newPassThroughExtractor,
		},
		{
			desc: Descriptor{
				Name:        "CSSExtractionStrategy",
				Description: "Returns the text of elements matching a CSS selector.",
				Params: []Param{{
					Name: "selector", Type: "string", Description: "CSS selector to match.",
				}},
			},
			factory: newSelectorExtractor,
		},
		{
			desc: Descriptor{
				Name:        "CosineStrategy",
				Description: "Clusters sections by cosine similarity and tags each cluster with its top terms.",
				Params: []Param{
					{Name: "semantic_filter", Type: "string", Description: "Keep only sections similar to this text."},
					{Name: "word_count_threshold", Type: "int", Default: 10, Description: "Minimum words per section."},
					{Name: "sim_threshold", Type: "float", Default: 0.3, Description: "Similarity needed to join a cluster."},
					{Name: "top_k", Type: "int", Default: 3, Description: "Tags per cluster."},
				},
			},
			factory: newCosineClusterer,
		},
		{
			desc: Descriptor{
				Name:        "LLMExtractionStrategy",
				Description: "Asks an Anthropic model to split the page into tagged blocks.",
				Params: []Param{
					{Name: "provider", Type: "string", Default: providerAnthropic, Description: "Model provider, optionally provider/model."},
					{Name: "api_token", Type: "string", Description: "API key; falls back to the service key."},
					{Name: "instruction", Type: "string", Default: defaultInstruction, Description: "Extraction instruction."},
					{Name: "model", Type: "string", Default: cfg.LLM.Model, Description: "Model name."},
				},
			},
			factory: llmFactory(cfg.LLM),
		},
	}
	for _, e := range extractors {
		if err := r.RegisterExtraction(e.desc, e.factory); err != nil {
			return fmt.Errorf("register builtin: %w", err)
		}
	}
	return nil
}
