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
	defaultClaudeBaseURL   = "https://api.anthropic.com"
	defaultClaudeModel     = "claude-sonnet-4-20250514"
	defaultClaudeMaxTokens = 4096
	claudeAPIVersion       = "2023-06-01"
)

// ClaudeConfig holds configuration for the Claude client.
type ClaudeConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	HTTPClient *http.Client
}

// ClaudeClient implements Client using the Anthropic Messages API.
type ClaudeClient struct {
	config ClaudeConfig
}

// NewClaudeClient creates a new Claude client with the given config.
func NewClaudeClient(cfg ClaudeConfig) *ClaudeClient {
	if cfg.Model == "" {
		cfg.Model = defaultClaudeModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultClaudeBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultClaudeMaxTokens
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &ClaudeClient{config: cfg}
}

func (c *ClaudeClient) Provider() ID { return Claude }

func (c *ClaudeClient) DefaultModel() string { return c.config.Model }

// claudeRequest is the request body for the Messages API.
type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	TopP        float64         `json:"top_p,omitempty"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// claudeResponse is the response from the Messages API.
type claudeResponse struct {
	ID      string           `json:"id"`
	Type    string           `json:"type"`
	Model   string           `json:"model"`
	Content []claudeRespItem `json:"content"`
	Usage   claudeUsage      `json:"usage"`
	Error   *claudeError     `json:"error,omitempty"`
}

type claudeRespItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (c *ClaudeClient) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	body := c.buildRequest(req)

	apiResp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}

	var content string
	for _, item := range apiResp.Content {
		if item.Type == "text" {
			content += item.Text
		}
	}

	model := apiResp.Model
	if model == "" {
		model = body.Model
	}
	return &ChatResponse{
		Content:  content,
		Model:    model,
		Provider: Claude,
		Usage: Usage{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
	}, nil
}

func (c *ClaudeClient) CodeAnalysis(ctx context.Context, req *AnalysisRequest) (*AnalysisResponse, error) {
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
		Provider: Claude,
		Usage:    chatResp.Usage,
	}, nil
}

// HealthCheck sends a minimal single-token request.
func (c *ClaudeClient) HealthCheck(ctx context.Context) error {
	_, err := c.post(ctx, &claudeRequest{
		Model:     c.config.Model,
		MaxTokens: 1,
		Messages:  []claudeMessage{{Role: "user", Content: "ping"}},
	})
	return err
}

func (c *ClaudeClient) buildRequest(req *ChatRequest) *claudeRequest {
	out := &claudeRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if out.Model == "" {
		out.Model = c.config.Model
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = c.config.MaxTokens
	}

	// The Messages API takes the system prompt out of band.
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			out.System = msg.Content
			continue
		}
		out.Messages = append(out.Messages, claudeMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return out
}

func (c *ClaudeClient) post(ctx context.Context, body *claudeRequest) (*claudeResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("claude: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("claude: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.config.APIKey)
	req.Header.Set("anthropic-version", claudeAPIVersion)

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("claude: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("claude: read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("claude: %w: %s", ErrRateLimited, string(raw))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("claude: API error (status %d): %s", resp.StatusCode, string(raw))
	}

	var apiResp claudeResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, fmt.Errorf("claude: unmarshal response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("claude: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	return &apiResp, nil
}
