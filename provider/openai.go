package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com"
	defaultOpenAIModel   = "gpt-4o"

	defaultDeepSeekBaseURL = "https://api.deepseek.com"
	defaultDeepSeekModel   = "deepseek-coder"
)

// OpenAIConfig holds configuration for an OpenAI-compatible client.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	HTTPClient *http.Client
}

// OpenAIClient implements Client using the Chat Completions API.
// DeepSeek exposes the same wire format, so NewDeepSeekClient reuses this
// adapter with a different identity and defaults.
type OpenAIClient struct {
	config OpenAIConfig
	id     ID
}

// NewOpenAIClient creates a new OpenAI client with the given config.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &OpenAIClient{config: cfg, id: OpenAI}
}

// NewDeepSeekClient creates a DeepSeek client over the OpenAI-compatible API.
func NewDeepSeekClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = defaultDeepSeekModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultDeepSeekBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &OpenAIClient{config: cfg, id: DeepSeek}
}

func (c *OpenAIClient) Provider() ID { return c.id }

func (c *OpenAIClient) DefaultModel() string { return c.config.Model }

// openaiRequest is the request body for the Chat Completions API.
type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	TopP        float64         `json:"top_p,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// openaiResponse is the response from the Chat Completions API.
type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
	Error   *openaiError   `json:"error,omitempty"`
}

type openaiChoice struct {
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (c *OpenAIClient) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	body := &openaiRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	}
	if body.Model == "" {
		body.Model = c.config.Model
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = c.config.MaxTokens
	}
	for _, msg := range req.Messages {
		body.Messages = append(body.Messages, openaiMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	apiResp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty choices in response", c.id)
	}

	model := apiResp.Model
	if model == "" {
		model = body.Model
	}
	return &ChatResponse{
		Content:  apiResp.Choices[0].Message.Content,
		Model:    model,
		Provider: c.id,
		Usage: Usage{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		},
	}, nil
}

func (c *OpenAIClient) CodeAnalysis(ctx context.Context, req *AnalysisRequest) (*AnalysisResponse, error) {
	chatResp, err := c.ChatCompletion(ctx, &ChatRequest{
		Messages: analysisPrompt(req),
		Model:    req.Model,
	})
	if err != nil {
		return nil, err
	}
	return &AnalysisResponse{
		Summary:  chatResp.Content,
		Model:    chatResp.Model,
		Provider: c.id,
		Usage:    chatResp.Usage,
	}, nil
}

// HealthCheck probes the models listing endpoint.
func (c *OpenAIClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", c.id, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: health check: %w", c.id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: health check failed (status %d)", c.id, resp.StatusCode)
	}
	return nil
}

func (c *OpenAIClient) post(ctx context.Context, body *openaiRequest) (*openaiResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.id, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", c.id, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: send request: %w", c.id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", c.id, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%s: %w: %s", c.id, ErrRateLimited, string(raw))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: API error (status %d): %s", c.id, resp.StatusCode, string(raw))
	}

	var apiResp openaiResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, fmt.Errorf("%s: unmarshal response: %w", c.id, err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("%s: %s: %s", c.id, apiResp.Error.Type, apiResp.Error.Message)
	}
	return &apiResp, nil
}
