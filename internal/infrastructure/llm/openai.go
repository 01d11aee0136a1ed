package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"TechNotesScanner/internal/ports"
)

// OpenAIClient implements ports.LLM backed by OpenAI-compatible chat completion APIs.
type OpenAIClient struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

var _ ports.LLM = (*OpenAIClient)(nil)

// NewOpenAIClient builds a client for endpoint.
func NewOpenAIClient(endpoint, model, apiKey string, httpClient *http.Client) *OpenAIClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAIClient{
		endpoint:   endpoint,
		model:      model,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// Model reports the configured model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends one system+user exchange.
func (c *OpenAIClient) Complete(ctx context.Context, req ports.CompletionRequest) (ports.CompletionResponse, error) {
	if c == nil {
		return ports.CompletionResponse{}, fmt.Errorf("openai client is nil")
	}
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return ports.CompletionResponse{}, fmt.Errorf("openai client misconfigured")
	}

	payload := chatRequest{
		Model:       c.model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if system := strings.TrimSpace(req.System); system != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: system})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if req.JSON {
		payload.ResponseFormat = map[string]string{"type": "json_object"}
	}

	var resp chatResponse
	if err := c.post(ctx, payload, &resp); err != nil {
		return ports.CompletionResponse{}, err
	}
	if len(resp.Choices) == 0 {
		return ports.CompletionResponse{}, fmt.Errorf("empty response from openai")
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	return ports.CompletionResponse{
		Text:         resp.Choices[0].Message.Content,
		Model:        model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (c *OpenAIClient) post(ctx context.Context, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("openai error %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
