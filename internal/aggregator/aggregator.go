// Package aggregator turns the outcomes of one batch into the reply returned
// to the caller.
package aggregator

import (
	"sort"

	"github.com/JakeFAU/batch-crawler/internal/crawler"
)

// Assemble builds the batch reply. Results follow the request order, failed
// resources are reported inline, and raw HTML is withheld unless includeRaw
// is set.
func Assemble(batchID string, outcomes []crawler.Outcome, includeRaw bool) crawler.Reply {
	ordered := make([]crawler.Outcome, len(outcomes))
	copy(ordered, outcomes)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	reply := crawler.Reply{
		BatchID: batchID,
		Results: make([]crawler.CrawlResult, 0, len(ordered)),
	}
	for _, out := range ordered {
		if out.Failed() {
			reply.Failed++
			reply.Results = append(reply.Results, failure(out))
			continue
		}
		reply.Succeeded++
		res := out.Result
		if !includeRaw {
			res.HTML = nil
		}
		if res.Chunks == nil {
			res.Chunks = []string{}
		}
		if res.ExtractedContent == nil {
			res.ExtractedContent = []crawler.Block{}
		}
		reply.Results = append(reply.Results, res)
	}
	return reply
}

func failure(out crawler.Outcome) crawler.CrawlResult {
	url := out.URL
	if url == "" {
		url = out.Result.URL
	}
	return crawler.CrawlResult{
		URL:              url,
		Success:          false,
		Chunks:           []string{},
		ExtractedContent: []crawler.Block{},
		ErrorMessage:     out.Err.Error(),
	}
}
