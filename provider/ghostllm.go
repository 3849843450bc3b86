package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

const (
	defaultGhostLLMBaseURL = "http://localhost:8080"
	defaultGhostLLMModel   = "auto"
)

// GhostLLMConfig holds configuration for the GhostLLM proxy client.
type GhostLLMConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// GhostLLMClient implements Client against a GhostLLM proxy. The proxy
// speaks the OpenAI chat wire format and routes to GPU-local models; a
// session id header keeps conversation affinity across model swaps.
type GhostLLMClient struct {
	config    GhostLLMConfig
	sessionID string
}

// NewGhostLLMClient creates a new GhostLLM client with the given config.
func NewGhostLLMClient(cfg GhostLLMConfig) *GhostLLMClient {
	if cfg.Model == "" {
		cfg.Model = defaultGhostLLMModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGhostLLMBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &GhostLLMClient{
		config:    cfg,
		sessionID: uuid.NewString(),
	}
}

func (c *GhostLLMClient) Provider() ID { return GhostLLM }

func (c *GhostLLMClient) DefaultModel() string { return c.config.Model }

// SessionID returns the session identifier sent with every request.
func (c *GhostLLMClient) SessionID() string { return c.sessionID }

func (c *GhostLLMClient) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	body := &openaiRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	}
	if body.Model == "" {
		body.Model = c.config.Model
	}
	for _, msg := range req.Messages {
		body.Messages = append(body.Messages, openaiMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ghostllm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ghostllm: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Session-ID", c.sessionID)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.config.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ghostllm: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ghostllm: read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("ghostllm: %w: %s", ErrRateLimited, string(raw))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ghostllm: API error (status %d): %s", resp.StatusCode, string(raw))
	}

	var apiResp openaiResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, fmt.Errorf("ghostllm: unmarshal response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("ghostllm: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("ghostllm: empty choices in response")
	}

	model := apiResp.Model
	if model == "" {
		model = body.Model
	}
	return &ChatResponse{
		Content:  apiResp.Choices[0].Message.Content,
		Model:    model,
		Provider: GhostLLM,
		Usage: Usage{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		},
	}, nil
}

func (c *GhostLLMClient) CodeAnalysis(ctx context.Context, req *AnalysisRequest) (*AnalysisResponse, error) {
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
		Provider: GhostLLM,
		Usage:    chatResp.Usage,
	}, nil
}

// HealthCheck probes the proxy health endpoint.
func (c *GhostLLMClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("ghostllm: create request: %w", err)
	}
	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("ghostllm: health check: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ghostllm: health check failed (status %d)", resp.StatusCode)
	}
	return nil
}
