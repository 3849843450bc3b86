package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Config describes a provider's static routing profile.
type Config struct {
	Provider             ID
	Priority             int
	Capabilities         []Capability
	MaxRequestsPerMinute int
	Timeout              time.Duration
	Fallbacks            []ID
}

// HasCapability reports whether the profile serves the capability.
func (c Config) HasCapability(cap Capability) bool {
	for _, have := range c.Capabilities {
		if have == cap {
			return true
		}
	}
	return false
}

// Health is the observed health of a provider.
type Health struct {
	Provider     ID
	IsHealthy    bool
	LastCheck    time.Time
	ResponseTime time.Duration
	ErrorRate    float64
}

// IsStale reports whether the health record has not been refreshed recently.
func (h Health) IsStale() bool {
	return time.Since(h.LastCheck) > 5*time.Minute
}

// healthAlpha is the EMA weight given to the most recent observation.
const healthAlpha = 0.1

// Manager tracks registered provider clients and their health, and selects
// the best candidate for a capability. Safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	clients map[ID]Client
	health  map[ID]Health

	configs map[ID]Config
	logger  *slog.Logger
}

// NewManager creates a manager with the default routing profiles.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		clients: make(map[ID]Client),
		health:  make(map[ID]Health),
		configs: defaultConfigs(),
		logger:  logger,
	}
}

func defaultConfigs() map[ID]Config {
	return map[ID]Config{
		GhostLLM: {
			Provider: GhostLLM,
			Priority: 10,
			Capabilities: []Capability{
				CapChatCompletion, CapCodeCompletion, CapCodeAnalysis,
				CapCodeExplanation, CapCodeRefactoring, CapTestGeneration,
				CapProjectContext, CapCommitGeneration, CapSecurityScanning,
				CapStreaming,
			},
			MaxRequestsPerMinute: 200,
			Timeout:              5 * time.Second, // local GPU, fast
			Fallbacks:            []ID{Claude, OpenAI},
		},
		Claude: {
			Provider: Claude,
			Priority: 9,
			Capabilities: []Capability{
				CapChatCompletion, CapCodeCompletion, CapCodeAnalysis,
				CapCodeExplanation, CapStreaming,
			},
			MaxRequestsPerMinute: 50,
			Timeout:              45 * time.Second,
			Fallbacks:            []ID{OpenAI, Ollama},
		},
		OpenAI: {
			Provider: OpenAI,
			Priority: 8,
			Capabilities: []Capability{
				CapChatCompletion, CapCodeCompletion, CapCodeExplanation,
				CapStreaming,
			},
			MaxRequestsPerMinute: 60,
			Timeout:              30 * time.Second,
			Fallbacks:            []ID{Claude, Ollama},
		},
		Copilot: {
			Provider:             Copilot,
			Priority:             7,
			Capabilities:         []Capability{CapCodeCompletion, CapCodeExplanation},
			MaxRequestsPerMinute: 100,
			Timeout:              15 * time.Second,
			Fallbacks:            []ID{OpenAI, Claude},
		},
		DeepSeek: {
			Provider: DeepSeek,
			Priority: 6,
			Capabilities: []Capability{
				CapChatCompletion, CapCodeCompletion, CapCodeExplanation,
				CapCodeRefactoring, CapTestGeneration,
			},
			MaxRequestsPerMinute: 60,
			Timeout:              30 * time.Second,
			Fallbacks:            []ID{OpenAI, Claude},
		},
		Ollama: {
			Provider: Ollama,
			Priority: 5,
			Capabilities: []Capability{
				CapChatCompletion, CapCodeCompletion, CapCodeExplanation,
			},
			MaxRequestsPerMinute: 1000, // local, no real limit
			Timeout:              60 * time.Second,
			Fallbacks:            nil,
		},
	}
}

// Register adds a client and seeds its health record as healthy.
func (m *Manager) Register(client Client) {
	id := client.Provider()
	m.logger.Debug("registering provider", "provider", id)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[id] = client
	m.health[id] = Health{
		Provider:  id,
		IsHealthy: true,
		LastCheck: time.Now(),
	}
}

// Client returns the registered client for the given provider, if any.
func (m *Manager) Client(id ID) (Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	return c, ok
}

// Registered lists the providers with a registered client.
func (m *Manager) Registered() []ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]ID, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	return ids
}

// ProviderConfig returns the routing profile for a provider.
func (m *Manager) ProviderConfig(id ID) (Config, bool) {
	cfg, ok := m.configs[id]
	return cfg, ok
}

// SelectBestProvider picks the registered provider with the highest score
// for the capability. The score starts from the static priority and is
// scaled down by poor health, slow responses, and a high error rate.
func (m *Manager) SelectBestProvider(cap Capability) (ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best ID
	var bestScore float64

	for id, cfg := range m.configs {
		if !cfg.HasCapability(cap) {
			continue
		}
		if _, ok := m.clients[id]; !ok {
			continue
		}

		score := float64(cfg.Priority)
		if h, ok := m.health[id]; ok {
			if !h.IsHealthy {
				score *= 0.1
			}
			if h.ResponseTime > 0 {
				score *= 1000.0 / float64(h.ResponseTime.Milliseconds()+1)
			}
			score *= 1.0 - h.ErrorRate
		}

		if score > bestScore {
			bestScore = score
			best = id
		}
	}

	if best == "" {
		return "", fmt.Errorf("%w for capability %s", ErrNoProvider, cap)
	}
	return best, nil
}

// SelectWithFallback returns the best provider followed by its configured
// fallbacks that also serve the capability and have a registered client.
func (m *Manager) SelectWithFallback(cap Capability) ([]ID, error) {
	primary, err := m.SelectBestProvider(cap)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []ID{primary}
	for _, fb := range m.configs[primary].Fallbacks {
		cfg, ok := m.configs[fb]
		if !ok || !cfg.HasCapability(cap) {
			continue
		}
		if _, ok := m.clients[fb]; !ok {
			continue
		}
		out = append(out, fb)
	}
	return out, nil
}

// UpdateHealth records the outcome of a provider call. The error rate is an
// exponential moving average so one failure does not condemn a provider.
func (m *Manager) UpdateHealth(id ID, success bool, responseTime time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.health[id]
	if !ok {
		return
	}
	h.IsHealthy = success
	h.LastCheck = time.Now()
	h.ResponseTime = responseTime

	errVal := 0.0
	if !success {
		errVal = 1.0
	}
	h.ErrorRate = h.ErrorRate*(1-healthAlpha) + errVal*healthAlpha
	m.health[id] = h
}

// Snapshot returns a copy of every health record.
func (m *Manager) Snapshot() []Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Health, 0, len(m.health))
	for _, h := range m.health {
		out = append(out, h)
	}
	return out
}

// ChatCompletion walks the fallback chain for chat completion, recording
// health as it goes, and returns the first success.
func (m *Manager) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	candidates, err := m.SelectWithFallback(CapChatCompletion)
	if err != nil {
		return nil, err
	}

	for _, id := range candidates {
		client, ok := m.Client(id)
		if !ok {
			continue
		}
		start := time.Now()
		resp, err := client.ChatCompletion(ctx, req)
		m.UpdateHealth(id, err == nil, time.Since(start))
		if err != nil {
			m.logger.Warn("provider failed, trying fallback", "provider", id, "error", err)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("all providers failed: %w", ErrNoProvider)
}
