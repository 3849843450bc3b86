// Package provider defines the AI provider abstraction for Zeke backends.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// ID identifies an AI backend.
type ID string

const (
	OpenAI   ID = "openai"
	Claude   ID = "claude"
	Copilot  ID = "copilot"
	GhostLLM ID = "ghostllm"
	Ollama   ID = "ollama"
	DeepSeek ID = "deepseek"
)

// All lists every known provider ID.
func All() []ID {
	return []ID{OpenAI, Claude, Copilot, GhostLLM, Ollama, DeepSeek}
}

// Parse converts a string into a provider ID.
func Parse(s string) (ID, error) {
	switch strings.ToLower(s) {
	case "openai":
		return OpenAI, nil
	case "claude", "anthropic":
		return Claude, nil
	case "copilot":
		return Copilot, nil
	case "ghostllm":
		return GhostLLM, nil
	case "ollama":
		return Ollama, nil
	case "deepseek":
		return DeepSeek, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", s)
	}
}

// Capability names a feature a provider can serve.
type Capability string

const (
	CapChatCompletion   Capability = "chat_completion"
	CapCodeCompletion   Capability = "code_completion"
	CapCodeAnalysis     Capability = "code_analysis"
	CapCodeExplanation  Capability = "code_explanation"
	CapCodeRefactoring  Capability = "code_refactoring"
	CapTestGeneration   Capability = "test_generation"
	CapProjectContext   Capability = "project_context"
	CapCommitGeneration Capability = "commit_generation"
	CapSecurityScanning Capability = "security_scanning"
	CapStreaming        Capability = "streaming"
)

// Role identifies the sender of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a provider-agnostic chat completion request.
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ChatResponse is a completed chat completion.
type ChatResponse struct {
	Content  string `json:"content"`
	Model    string `json:"model"`
	Provider ID     `json:"provider"`
	Usage    Usage  `json:"usage"`
}

// Usage tracks token consumption for a single response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// AnalysisType selects the kind of code analysis to run.
type AnalysisType string

const (
	AnalyzeQuality     AnalysisType = "quality"
	AnalyzeSecurity    AnalysisType = "security"
	AnalyzePerformance AnalysisType = "performance"
	AnalyzeExplain     AnalysisType = "explain"
)

// AnalysisRequest asks a provider to analyze a piece of code.
type AnalysisRequest struct {
	Code           string       `json:"code"`
	Type           AnalysisType `json:"type"`
	ProjectContext string       `json:"project_context,omitempty"`
	Model          string       `json:"model,omitempty"`
}

// AnalysisResponse is the result of a code analysis call.
type AnalysisResponse struct {
	Summary  string `json:"summary"`
	Model    string `json:"model"`
	Provider ID     `json:"provider"`
	Usage    Usage  `json:"usage"`
}

// Client is the capability the orchestrator consumes from a backend.
// Implementations must be safe for concurrent use.
type Client interface {
	// Provider returns the backend identity.
	Provider() ID

	// DefaultModel returns the model used when a request names none.
	DefaultModel() string

	// ChatCompletion sends a non-streaming chat request.
	ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// CodeAnalysis runs an analysis request. Adapters without a dedicated
	// endpoint express it as a chat completion with an analysis prompt.
	CodeAnalysis(ctx context.Context, req *AnalysisRequest) (*AnalysisResponse, error)

	// HealthCheck reports whether the backend is reachable.
	HealthCheck(ctx context.Context) error
}

// analysisPrompt renders an AnalysisRequest as chat messages for adapters
// that have no dedicated analysis endpoint.
func analysisPrompt(req *AnalysisRequest) []Message {
	var instruction string
	switch req.Type {
	case AnalyzeSecurity:
		instruction = "Review the following code for security issues."
	case AnalyzePerformance:
		instruction = "Review the following code for performance problems."
	case AnalyzeExplain:
		instruction = "Explain what the following code does."
	default:
		instruction = "Review the following code for correctness and quality."
	}

	system := "You are a code analysis assistant. Be concise and specific."
	if req.ProjectContext != "" {
		system += "\nProject context: " + req.ProjectContext
	}
	return []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: instruction + "\n\n" + req.Code},
	}
}
