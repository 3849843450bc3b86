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
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaModel   = "llama3"
)

// OllamaConfig holds configuration for a local Ollama instance.
type OllamaConfig struct {
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// OllamaClient implements Client against a local Ollama daemon.
type OllamaClient struct {
	config OllamaConfig
}

// NewOllamaClient creates a new Ollama client with the given config.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &OllamaClient{config: cfg}
}

func (c *OllamaClient) Provider() ID { return Ollama }

func (c *OllamaClient) DefaultModel() string { return c.config.Model }

// ollamaRequest is the request body for /api/chat.
type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// ollamaResponse is the non-streaming response from /api/chat.
type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

func (c *OllamaClient) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	body := &ollamaRequest{
		Model:  req.Model,
		Stream: false,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			NumPredict:  req.MaxTokens,
		},
	}
	if body.Model == "" {
		body.Model = c.config.Model
	}
	for _, msg := range req.Messages {
		body.Messages = append(body.Messages, ollamaMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.config.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: API error (status %d): %s", resp.StatusCode, string(raw))
	}

	var apiResp ollamaResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, fmt.Errorf("ollama: unmarshal response: %w", err)
	}
	if apiResp.Error != "" {
		return nil, fmt.Errorf("ollama: %s", apiResp.Error)
	}

	return &ChatResponse{
		Content:  apiResp.Message.Content,
		Model:    apiResp.Model,
		Provider: Ollama,
		Usage: Usage{
			PromptTokens:     apiResp.PromptEvalCount,
			CompletionTokens: apiResp.EvalCount,
			TotalTokens:      apiResp.PromptEvalCount + apiResp.EvalCount,
		},
	}, nil
}

func (c *OllamaClient) CodeAnalysis(ctx context.Context, req *AnalysisRequest) (*AnalysisResponse, error) {
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
		Provider: Ollama,
		Usage:    chatResp.Usage,
	}, nil
}

// HealthCheck probes the daemon root, which answers 200 when running.
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("ollama: create request: %w", err)
	}
	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: health check: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: health check failed (status %d)", resp.StatusCode)
	}
	return nil
}
