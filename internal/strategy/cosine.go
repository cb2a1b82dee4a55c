package strategy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/JakeFAU/batch-crawler/internal/crawler"
)

// CosineClusterer groups sections by bag-of-words cosine similarity and
// tags each group with its most frequent terms.
type CosineClusterer struct {
	filter       vector
	minWords     int
	simThreshold float64
	topK         int
	logger       *zap.Logger
	verbose      bool
}

type cosineParams struct {
	SemanticFilter     string  `mapstructure:"semantic_filter"`
	WordCountThreshold int     `mapstructure:"word_count_threshold"`
	SimThreshold       float64 `mapstructure:"sim_threshold"`
	TopK               int     `mapstructure:"top_k"`
}

func newCosineClusterer(args Args, settings Settings) (ExtractionStrategy, error) {
	params := cosineParams{WordCountThreshold: 10, SimThreshold: 0.3, TopK: 3}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.SimThreshold < 0 || params.SimThreshold > 1 {
		return nil, fmt.Errorf("sim_threshold must be within [0, 1], got %v", params.SimThreshold)
	}
	if params.TopK < 1 {
		return nil, fmt.Errorf("top_k must be >= 1, got %d", params.TopK)
	}
	if params.WordCountThreshold < 0 {
		return nil, fmt.Errorf("word_count_threshold must be >= 0, got %d", params.WordCountThreshold)
	}
	c := &CosineClusterer{
		minWords:     params.WordCountThreshold,
		simThreshold: params.SimThreshold,
		topK:         params.TopK,
		logger:       settings.logger(),
		verbose:      settings.Verbose,
	}
	if f := strings.TrimSpace(params.SemanticFilter); f != "" {
		c.filter = newVector(f)
	}
	return c, nil
}

type cluster struct {
	centroid vector
	members  []string
}

// Extract clusters sections in first-seen order. Sections shorter than the
// word threshold, or unrelated to the semantic filter, are skipped.
func (c *CosineClusterer) Extract(_ context.Context, in Input) ([]crawler.Block, error) {
	var clusters []*cluster
	for _, section := range in.Sections {
		if len(strings.Fields(section)) < c.minWords {
			continue
		}
		v := newVector(section)
		if len(v) == 0 {
			continue
		}
		if c.filter != nil && cosine(c.filter, v) < c.simThreshold {
			continue
		}
		var best *cluster
		bestScore := c.simThreshold
		for _, cl := range clusters {
			if score := cosine(cl.centroid, v); score >= bestScore {
				best, bestScore = cl, score
			}
		}
		if best == nil {
			best = &cluster{centroid: vector{}}
			clusters = append(clusters, best)
		}
		best.members = append(best.members, section)
		best.centroid.add(v)
	}

	blocks := make([]crawler.Block, 0, len(clusters))
	for i, cl := range clusters {
		blocks = append(blocks, crawler.Block{
			Index:   i,
			Tags:    cl.centroid.top(c.topK),
			Content: strings.Join(cl.members, "\n\n"),
		})
	}
	if c.verbose {
		c.logger.Debug("cosine clustering finished",
			zap.String("url", in.URL),
			zap.Int("sections", len(in.Sections)),
			zap.Int("clusters", len(blocks)))
	}
	return blocks, nil
}

type vector map[string]float64

func newVector(text string) vector {
	v := vector{}
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) < 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		v[w]++
	}
	return v
}

func (v vector) add(o vector) {
	for k, n := range o {
		v[k] += n
	}
}

func (v vector) top(k int) []string {
	terms := make([]string, 0, len(v))
	for t := range v {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if v[terms[i]] != v[terms[j]] {
			return v[terms[i]] > v[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > k {
		terms = terms[:k]
	}
	return terms
}

func cosine(a, b vector) float64 {
	var dot, na, nb float64
	for k, x := range a {
		na += x * x
		if y, ok := b[k]; ok {
			dot += x * y
		}
	}
	for _, y := range b {
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {}, "you": {},
	"all": {}, "any": {}, "can": {}, "had": {}, "her": {}, "was": {}, "one": {},
	"our": {}, "out": {}, "has": {}, "have": {}, "this": {}, "that": {}, "with": {},
	"from": {}, "they": {}, "will": {}, "would": {}, "there": {}, "their": {},
	"what": {}, "about": {}, "which": {}, "when": {}, "were": {}, "been": {},
	"into": {}, "than": {}, "then": {}, "them": {}, "these": {}, "some": {},
	"its": {}, "also": {}, "more": {}, "such": {}, "only": {}, "other": {},
}
