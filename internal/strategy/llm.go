package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/JakeFAU/batch-crawler/internal/crawler"
)

const (
	providerAnthropic   = "anthropic"
	defaultInstruction  = "Break the page content into semantically relevant blocks."
	maxPromptCharacters = 60000
)

// LLMConfig holds service-level defaults for the LLM extractor.
type LLMConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	BaseURL   string
}

// LLMExtractor asks an Anthropic model to split page content into blocks.
type LLMExtractor struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	instruction string
	logger      *zap.Logger
	verbose     bool
}

type llmParams struct {
	Provider    string `mapstructure:"provider"`
	APIToken    string `mapstructure:"api_token"`
	Instruction string `mapstructure:"instruction"`
	Model       string `mapstructure:"model"`
}

func llmFactory(cfg LLMConfig) ExtractionFactory {
	return func(args Args, settings Settings) (ExtractionStrategy, error) {
		params := llmParams{Provider: providerAnthropic, Model: cfg.Model}
		if err := decodeArgs(args, &params); err != nil {
			return nil, err
		}
		if !strings.EqualFold(params.Provider, providerAnthropic) &&
			!strings.HasPrefix(strings.ToLower(params.Provider), providerAnthropic+"/") {
			return nil, fmt.Errorf("unsupported provider %q", params.Provider)
		}
		// An explicit model argument wins over a provider/model suffix.
		if _, model, ok := strings.Cut(params.Provider, "/"); ok && model != "" && !hasArg(args, "model") {
			params.Model = model
		}
		apiKey := params.APIToken
		if apiKey == "" {
			apiKey = cfg.APIKey
		}
		if apiKey == "" {
			return nil, fmt.Errorf("api_token is required when no service key is configured")
		}
		if params.Model == "" {
			return nil, fmt.Errorf("model is required")
		}
		if params.Instruction == "" {
			params.Instruction = defaultInstruction
		}
		maxTokens := cfg.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 2048
		}

		opts := []option.RequestOption{option.WithAPIKey(apiKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		return &LLMExtractor{
			client:      anthropic.NewClient(opts...),
			model:       params.Model,
			maxTokens:   int64(maxTokens),
			instruction: params.Instruction,
			logger:      settings.logger(),
			verbose:     settings.Verbose,
		}, nil
	}
}

// Extract sends the page sections in one prompt and parses the JSON reply.
// A reply that is not a JSON block list becomes a single untagged block.
func (e *LLMExtractor) Extract(ctx context.Context, in Input) ([]crawler.Block, error) {
	if len(in.Sections) == 0 {
		return []crawler.Block{}, nil
	}
	prompt := e.prompt(in)
	if e.verbose {
		e.logger.Debug("calling llm",
			zap.String("url", in.URL), zap.String("model", e.model), zap.Int("prompt_chars", len(prompt)))
	}

	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: e.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("llm request: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("empty response from llm")
	}
	return parseBlocks(text.String()), nil
}

func (e *LLMExtractor) prompt(in Input) string {
	var b strings.Builder
	b.WriteString(e.instruction)
	b.WriteString("\n\nReply with only a JSON array of objects with the fields ")
	b.WriteString(`"index" (integer), "tags" (array of strings) and "content" (string).`)
	fmt.Fprintf(&b, "\n\nURL: %s\n\n<content>\n", in.URL)
	for _, s := range in.Sections {
		if b.Len()+len(s) > maxPromptCharacters {
			break
		}
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	b.WriteString("</content>")
	return b.String()
}

func parseBlocks(reply string) []crawler.Block {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start >= 0 && end > start {
		var blocks []crawler.Block
		if err := json.Unmarshal([]byte(reply[start:end+1]), &blocks); err == nil {
			for i := range blocks {
				blocks[i].Index = i
				if blocks[i].Tags == nil {
					blocks[i].Tags = []string{}
				}
			}
			return blocks
		}
	}
	return []crawler.Block{{Index: 0, Tags: []string{}, Content: strings.TrimSpace(reply)}}
}

// hasArg reports whether args names key, ignoring case the way the decoder does.
func hasArg(args Args, key string) bool {
	for k := range args {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}
