package strategy

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// RegexChunker splits text on each pattern in turn.
type RegexChunker struct {
	patterns []*regexp.Regexp
}

type regexParams struct {
	Patterns []string `mapstructure:"patterns"`
}

func newRegexChunker(args Args, _ Settings) (ChunkingStrategy, error) {
	params := regexParams{Patterns: []string{`\n\n`}}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if len(params.Patterns) == 0 {
		return nil, fmt.Errorf("patterns must not be empty")
	}
	c := &RegexChunker{}
	for _, p := range params.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		c.patterns = append(c.patterns, re)
	}
	return c, nil
}

// Chunk applies every pattern to every segment produced so far.
func (c *RegexChunker) Chunk(text string) ([]string, error) {
	segments := []string{text}
	for _, re := range c.patterns {
		var next []string
		for _, s := range segments {
			next = append(next, re.Split(s, -1)...)
		}
		segments = next
	}
	return compact(segments), nil
}

// SentenceChunker splits text at sentence boundaries and drops repeats.
type SentenceChunker struct{}

func newSentenceChunker(args Args, _ Settings) (ChunkingStrategy, error) {
	if err := decodeArgs(args, &struct{}{}); err != nil {
		return nil, err
	}
	return SentenceChunker{}, nil
}

// Chunk returns unique sentences in first-seen order.
func (SentenceChunker) Chunk(text string) ([]string, error) {
	var (
		sentences []string
		start     int
	)
	runes := []rune(text)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		sentences = append(sentences, string(runes[start:i+1]))
		start = i + 1
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}

	seen := make(map[string]struct{}, len(sentences))
	out := make([]string, 0, len(sentences))
	for _, s := range compact(sentences) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}

// FixedWordChunker groups words into chunks of a fixed size.
type FixedWordChunker struct {
	size int
}

type fixedParams struct {
	ChunkSize int `mapstructure:"chunk_size"`
}

func newFixedWordChunker(args Args, _ Settings) (ChunkingStrategy, error) {
	params := fixedParams{ChunkSize: 100}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.ChunkSize < 1 {
		return nil, fmt.Errorf("chunk_size must be >= 1, got %d", params.ChunkSize)
	}
	return &FixedWordChunker{size: params.ChunkSize}, nil
}

// Chunk joins consecutive runs of size words.
func (c *FixedWordChunker) Chunk(text string) ([]string, error) {
	words := strings.Fields(text)
	out := make([]string, 0, len(words)/c.size+1)
	for i := 0; i < len(words); i += c.size {
		end := min(i+c.size, len(words))
		out = append(out, strings.Join(words[i:end], " "))
	}
	return out, nil
}

// SlidingWindowChunker emits overlapping word windows.
type SlidingWindowChunker struct {
	window int
	step   int
}

type slidingParams struct {
	WindowSize int `mapstructure:"window_size"`
	Step       int `mapstructure:"step"`
}

func newSlidingWindowChunker(args Args, _ Settings) (ChunkingStrategy, error) {
	params := slidingParams{WindowSize: 100, Step: 50}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.WindowSize < 1 || params.Step < 1 {
		return nil, fmt.Errorf("window_size and step must be >= 1")
	}
	return &SlidingWindowChunker{window: params.WindowSize, step: params.Step}, nil
}

// Chunk returns windows starting every step words. When the last window does
// not reach the end of the text a final window covering the tail is added.
func (c *SlidingWindowChunker) Chunk(text string) ([]string, error) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{}, nil
	}
	if len(words) <= c.window {
		return []string{strings.Join(words, " ")}, nil
	}
	var out []string
	last := 0
	for i := 0; i+c.window <= len(words); i += c.step {
		out = append(out, strings.Join(words[i:i+c.window], " "))
		last = i
	}
	if last+c.window < len(words) {
		out = append(out, strings.Join(words[len(words)-c.window:], " "))
	}
	return out, nil
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
