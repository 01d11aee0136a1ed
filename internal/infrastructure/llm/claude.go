package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"TechNotesScanner/internal/ports"
)

// ClaudeClient implements ports.LLM over the Anthropic Messages API.
type ClaudeClient struct {
	client anthropic.Client
	model  string
}

var _ ports.LLM = (*ClaudeClient)(nil)

// NewClaudeClient creates a client; extra options are appended after the API key.
func NewClaudeClient(apiKey, model string, opts ...option.RequestOption) *ClaudeClient {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &ClaudeClient{
		client: anthropic.NewClient(all...),
		model:  model,
	}
}

func (c *ClaudeClient) Model() string {
	return c.model
}

func (c *ClaudeClient) Complete(ctx context.Context, req ports.CompletionRequest) (ports.CompletionResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2000
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(req.Temperature),
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return ports.CompletionResponse{}, fmt.Errorf("claude api call: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return ports.CompletionResponse{}, fmt.Errorf("empty response from claude")
	}

	return ports.CompletionResponse{
		Text:         text.String(),
		Model:        string(resp.Model),
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}, nil
}
