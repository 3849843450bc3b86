// Package mock provides a scripted AI provider for testing.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ghostkellz/zeke/provider"
)

const defaultResponse = "Acknowledged."

// Client implements provider.Client for testing. It returns scripted
// responses, can fail on demand, and can delay to simulate slow backends.
type Client struct {
	mu        sync.Mutex
	responses []string
	idx       int

	id    provider.ID
	delay time.Duration
	err   error

	calls    int
	inFlight int
	maxSeen  int
}

// Option configures a mock Client.
type Option func(*Client)

// WithID sets the provider identity the mock reports.
func WithID(id provider.ID) Option {
	return func(c *Client) { c.id = id }
}

// WithDelay makes every call sleep before answering.
func WithDelay(d time.Duration) Option {
	return func(c *Client) { c.delay = d }
}

// WithError makes every call fail with err.
func WithError(err error) Option {
	return func(c *Client) { c.err = err }
}

// New creates a mock client that cycles through the given responses.
func New(responses []string, opts ...Option) *Client {
	c := &Client{responses: responses, id: provider.Ollama}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Provider() provider.ID { return c.id }

func (c *Client) DefaultModel() string { return "mock-model" }

// Calls returns how many chat/analysis calls the mock has served.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// MaxConcurrent returns the high-water mark of simultaneous calls.
func (c *Client) MaxConcurrent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxSeen
}

func (c *Client) begin() {
	c.mu.Lock()
	c.calls++
	c.inFlight++
	if c.inFlight > c.maxSeen {
		c.maxSeen = c.inFlight
	}
	c.mu.Unlock()
}

func (c *Client) end() {
	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()
}

func (c *Client) next() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.responses) == 0 {
		return defaultResponse
	}
	resp := c.responses[c.idx%len(c.responses)]
	c.idx++
	return resp
}

func (c *Client) wait(ctx context.Context) error {
	if c.delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(c.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) ChatCompletion(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	c.begin()
	defer c.end()

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if c.err != nil {
		return nil, c.err
	}

	model := req.Model
	if model == "" {
		model = c.DefaultModel()
	}
	content := c.next()
	return &provider.ChatResponse{
		Content:  content,
		Model:    model,
		Provider: c.id,
		Usage: provider.Usage{
			PromptTokens:     len(req.Messages),
			CompletionTokens: len(content),
			TotalTokens:      len(req.Messages) + len(content),
		},
	}, nil
}

func (c *Client) CodeAnalysis(ctx context.Context, req *provider.AnalysisRequest) (*provider.AnalysisResponse, error) {
	c.begin()
	defer c.end()

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if c.err != nil {
		return nil, c.err
	}
	return &provider.AnalysisResponse{
		Summary:  c.next(),
		Model:    c.DefaultModel(),
		Provider: c.id,
	}, nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if c.err != nil {
		return errors.Join(errors.New("mock health check"), c.err)
	}
	return nil
}
