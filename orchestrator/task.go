// Package orchestrator dispatches provider requests concurrently: single
// submissions, bounded batches, provider races, and broadcasts, with a
// registry of in-flight and completed tasks.
package orchestrator

import (
	"time"

	"github.com/ghostkellz/zeke/provider"
)

// Kind identifies what a task asks a provider to do.
type Kind string

const (
	KindChatCompletion  Kind = "chat_completion"
	KindCodeCompletion  Kind = "code_completion"
	KindCodeAnalysis    Kind = "code_analysis"
	KindCodeExplanation Kind = "code_explanation"
	KindHealthCheck     Kind = "health_check"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Priority determines scheduling preference within a batch.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// RequestOptions tune a single submission.
//
// RetryCount is stored for callers that implement their own retry layer;
// the orchestrator never resubmits a failed task itself.
type RequestOptions struct {
	Timeout    time.Duration
	RetryCount int
	Priority   Priority
}

// Result is the payload of a completed task. It is a sealed union: exactly
// one concrete type exists per task kind.
type Result interface {
	isResult()
}

// ChatResult carries a chat completion response.
type ChatResult struct {
	Response *provider.ChatResponse
}

func (ChatResult) isResult() {}

// AnalysisResult carries a code analysis response.
type AnalysisResult struct {
	Response *provider.AnalysisResponse
}

func (AnalysisResult) isResult() {}

// HealthResult carries the outcome of a provider health probe.
type HealthResult struct {
	Provider     provider.ID
	ResponseTime time.Duration
}

func (HealthResult) isResult() {}

// Callback is invoked exactly once when a task reaches a terminal state.
// It runs on whichever goroutine performed the terminal transition: the
// worker for completed/failed, the caller of Cancel for cancellations.
// Callers that prefer not to reason about goroutines should use
// WaitForRequest instead.
type Callback func(Task)

// Task is one outstanding or completed unit of provider work. Values
// returned by the orchestrator are snapshots; once terminal, the underlying
// task never changes again.
type Task struct {
	ID             int64
	Kind           Kind
	Provider       provider.ID
	Status         Status
	Result         Result
	ErrorInfo      string
	StartTime      time.Time
	CompletionTime time.Time
	Options        RequestOptions
}

// ChatResponse returns the chat response if the task completed with one.
func (t Task) ChatResponse() (*provider.ChatResponse, bool) {
	r, ok := t.Result.(ChatResult)
	if !ok {
		return nil, false
	}
	return r.Response, true
}

// AnalysisResponse returns the analysis response if the task completed
// with one.
func (t Task) AnalysisResponse() (*provider.AnalysisResponse, bool) {
	r, ok := t.Result.(AnalysisResult)
	if !ok {
		return nil, false
	}
	return r.Response, true
}
