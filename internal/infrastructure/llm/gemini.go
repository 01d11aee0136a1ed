package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"TechNotesScanner/internal/ports"
)

// GeminiClient implements ports.LLM over the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

var _ ports.LLM = (*GeminiClient)(nil)

// NewGeminiClient creates a Gemini API backend client.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

func (c *GeminiClient) Model() string {
	return c.model
}

func (c *GeminiClient) Complete(ctx context.Context, req ports.CompletionRequest) (ports.CompletionResponse, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}
	if system := strings.TrimSpace(req.System); system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}, config)
	if err != nil {
		return ports.CompletionResponse{}, fmt.Errorf("gemini api call: %w", err)
	}

	var text strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					text.WriteString(part.Text)
				}
			}
			if text.Len() > 0 {
				break
			}
		}
	}
	if text.Len() == 0 {
		return ports.CompletionResponse{}, fmt.Errorf("empty response from gemini")
	}

	out := ports.CompletionResponse{Text: text.String(), Model: c.model}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}
