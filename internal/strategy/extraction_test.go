package strategy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/batch-crawler/internal/crawler"
)

var _ goquery.Matcher = cascadia.Selector(nil)

func TestSelectorExtractor(t *testing.T) {
	t.Parallel()

	e, err := newSelectorExtractor(Args{"selector": "article h2"}, Settings{Verbose: true})
	require.NoError(t, err)

	html := `<html><body><article><h2>First  title</h2><p>x</p><h2> </h2><h2>Second</h2></article>
<h2>outside</h2></body></html>`
	blocks, err := e.Extract(context.Background(), Input{URL: "https://example.com", HTML: html})
	require.NoError(t, err)
	require.Equal(t, []crawler.Block{
		{Index: 0, Tags: []string{"article h2"}, Content: "First title"},
		{Index: 1, Tags: []string{"article h2"}, Content: "Second"},
	}, blocks)

	e, err = newSelectorExtractor(Args{"selector": "li.keep, p > a"}, Settings{})
	require.NoError(t, err)
	blocks, err = e.Extract(context.Background(), Input{HTML: `<ul><li class="keep">one</li><li>two</li></ul><p><a href="/x">link</a></p>`})
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.Equal(t, "one", blocks[0].Content)
	require.Equal(t, "link", blocks[1].Content)
}

func TestCosineClusterer(t *testing.T) {
	t.Parallel()

	e, err := newCosineClusterer(Args{"word_count_threshold": 3, "sim_threshold": "0.2", "top_k": 2}, Settings{})
	require.NoError(t, err)

	sections := []string{
		"golang channels goroutines concurrency patterns",
		"too short",
		"bread flour yeast baking oven",
		"goroutines channels scheduling concurrency runtime",
	}
	blocks, err := e.Extract(context.Background(), Input{Sections: sections})
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.Equal(t, sections[0]+"\n\n"+sections[3], blocks[0].Content)
	require.Equal(t, []string{"channels", "concurrency"}, blocks[0].Tags)
	require.Equal(t, sections[2], blocks[1].Content)
}

func TestCosineClustererSemanticFilter(t *testing.T) {
	t.Parallel()

	e, err := newCosineClusterer(Args{"semantic_filter": "baking bread", "word_count_threshold": 1}, Settings{})
	require.NoError(t, err)

	blocks, err := e.Extract(context.Background(), Input{Sections: []string{
		"golang channels goroutines",
		"bread baking at home",
	}})
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, "bread baking at home", blocks[0].Content)
}

func TestLLMExtractor(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-test", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "Here you go: [{\"index\": 7, \"tags\": [\"intro\"], \"content\": \"hello\"}]"}],
			"stop_reason": "end_turn", "stop_sequence": null,
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	factory := llmFactory(LLMConfig{APIKey: "test-key", Model: "claude-test", BaseURL: srv.URL})
	e, err := factory(Args{}, Settings{Verbose: true})
	require.NoError(t, err)

	blocks, err := e.Extract(context.Background(), Input{URL: "https://example.com", Sections: []string{"hello world"}})
	require.NoError(t, err)
	require.Equal(t, []crawler.Block{{Index: 0, Tags: []string{"intro"}, Content: "hello"}}, blocks)
	require.Equal(t, int32(1), calls.Load())

	blocks, err = e.Extract(context.Background(), Input{})
	require.NoError(t, err)
	require.Empty(t, blocks)
	require.Equal(t, int32(1), calls.Load())
}

func TestLLMProviderModelOverride(t *testing.T) {
	t.Parallel()

	factory := llmFactory(LLMConfig{APIKey: "k", Model: "default-model"})
	s, err := factory(Args{"provider": "anthropic/claude-other"}, Settings{})
	require.NoError(t, err)
	require.Equal(t, "claude-other", s.(*LLMExtractor).model)

	s, err = factory(Args{"provider": "anthropic/claude-other", "model": "explicit"}, Settings{})
	require.NoError(t, err)
	require.Equal(t, "explicit", s.(*LLMExtractor).model)

	s, err = factory(Args{"provider": "anthropic/claude-other", "Model": "default-model"}, Settings{})
	require.NoError(t, err)
	require.Equal(t, "default-model", s.(*LLMExtractor).model)
}

func TestParseBlocksFallsBackToRawText(t *testing.T) {
	t.Parallel()

	blocks := parseBlocks("  not json at all ")
	require.Equal(t, []crawler.Block{{Index: 0, Tags: []string{}, Content: "not json at all"}}, blocks)

	blocks = parseBlocks(`[{"content": "a"}, {"content": "b", "tags": ["t"]}]`)
	require.Len(t, blocks, 2)
	require.Equal(t, 1, blocks[1].Index)
	require.Empty(t, blocks[0].Tags)
	require.True(t, strings.HasPrefix(blocks[1].Content, "b"))
}
