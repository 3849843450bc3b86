package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/ghostkellz/zeke/cache"
	"github.com/ghostkellz/zeke/provider"
)

// DefaultCleanupAge is how long terminal tasks linger before a cleanup
// sweep purges them.
const DefaultCleanupAge = 5 * time.Minute

// Options configure an Orchestrator.
type Options struct {
	// Executor runs dispatched work. Defaults to AsyncExecutor.
	Executor Executor

	// Cache is consulted before chat dispatch and populated after
	// success. Nil disables caching.
	Cache *cache.ResponseCache

	// CleanupAge overrides DefaultCleanupAge.
	CleanupAge time.Duration

	Logger *slog.Logger
}

// Orchestrator dispatches provider requests onto workers and tracks them
// in a registry. Submissions never block; the Wait*, Race, and Broadcast
// calls are the only blocking operations.
type Orchestrator struct {
	registry *Registry
	exec     Executor
	cache    *cache.ResponseCache
	logger   *slog.Logger

	cleanupAge time.Duration
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Executor == nil {
		opts.Executor = AsyncExecutor{}
	}
	if opts.CleanupAge <= 0 {
		opts.CleanupAge = DefaultCleanupAge
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		registry:   NewRegistry(),
		exec:       opts.Executor,
		cache:      opts.Cache,
		cleanupAge: opts.CleanupAge,
		logger:     opts.Logger,
	}
}

// Registry exposes the task registry for introspection.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// runFunc executes the provider call for a task.
type runFunc func(ctx context.Context) (Result, error)

// dispatch schedules the task's provider call on the executor. The worker
// transitions pending -> in_progress before calling, commits the outcome
// under the registry's check-before-write rule, and invokes onCommit only
// when a successful result was actually applied.
func (o *Orchestrator) dispatch(id int64, opts RequestOptions, run runFunc, onCommit func(Result)) {
	o.exec.Submit(func() {
		if !o.registry.Begin(id) {
			return // cancelled before dispatch reached a worker
		}

		ctx := context.Background()
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}

		result, err := run(ctx)
		if err != nil {
			msg := err.Error()
			if errors.Is(err, context.DeadlineExceeded) {
				msg = fmt.Sprintf("timed out after %s: %s", opts.Timeout, msg)
			}
			o.registry.Fail(id, msg)
			return
		}
		if o.registry.Complete(id, result) && onCommit != nil {
			onCommit(result)
		}
	})
}

// chatRun builds the runFunc and cache hook for a chat-shaped request.
func (o *Orchestrator) chatRun(client provider.Client, req *provider.ChatRequest) (runFunc, func(Result), string) {
	model := req.Model
	if model == "" {
		model = client.DefaultModel()
	}

	run := func(ctx context.Context) (Result, error) {
		resp, err := client.ChatCompletion(ctx, req)
		if err != nil {
			return nil, err
		}
		return ChatResult{Response: resp}, nil
	}
	onCommit := func(res Result) {
		if r, ok := res.(ChatResult); ok {
			o.cache.Put(model, req.Temperature, req.TopP, req.Messages, r.Response)
		}
	}
	return run, onCommit, model
}

// submitChatKind registers and dispatches a chat-shaped request, serving
// it from the cache without dispatch on a hit.
func (o *Orchestrator) submitChatKind(kind Kind, client provider.Client, req *provider.ChatRequest, opts RequestOptions, cb Callback) int64 {
	run, onCommit, model := o.chatRun(client, req)

	if resp, ok := o.cache.Get(model, req.Temperature, req.TopP, req.Messages); ok {
		id := o.registry.Create(kind, client.Provider(), opts, cb)
		o.registry.Complete(id, ChatResult{Response: resp})
		o.logger.Debug("served from cache", "task", id, "provider", client.Provider(), "model", model)
		return id
	}

	id := o.registry.Create(kind, client.Provider(), opts, cb)
	o.dispatch(id, opts, run, onCommit)
	return id
}

// SubmitChatRequest dispatches a chat completion and returns immediately
// with the task id.
func (o *Orchestrator) SubmitChatRequest(client provider.Client, req *provider.ChatRequest, opts RequestOptions, cb Callback) int64 {
	return o.submitChatKind(KindChatCompletion, client, req, opts, cb)
}

// SubmitCodeCompletionRequest dispatches a code completion, which is
// chat-shaped on every backend.
func (o *Orchestrator) SubmitCodeCompletionRequest(client provider.Client, req *provider.ChatRequest, opts RequestOptions, cb Callback) int64 {
	return o.submitChatKind(KindCodeCompletion, client, req, opts, cb)
}

// SubmitCodeAnalysisRequest dispatches a code analysis request. Analysis
// responses are not cached: their inputs are file contents rather than
// conversation transcripts.
func (o *Orchestrator) SubmitCodeAnalysisRequest(client provider.Client, req *provider.AnalysisRequest, opts RequestOptions, cb Callback) int64 {
	kind := KindCodeAnalysis
	if req.Type == provider.AnalyzeExplain {
		kind = KindCodeExplanation
	}
	id := o.registry.Create(kind, client.Provider(), opts, cb)
	o.dispatch(id, opts, func(ctx context.Context) (Result, error) {
		resp, err := client.CodeAnalysis(ctx, req)
		if err != nil {
			return nil, err
		}
		return AnalysisResult{Response: resp}, nil
	}, nil)
	return id
}

// SubmitHealthCheck dispatches a provider health probe.
func (o *Orchestrator) SubmitHealthCheck(client provider.Client, opts RequestOptions, cb Callback) int64 {
	id := o.registry.Create(KindHealthCheck, client.Provider(), opts, cb)
	o.dispatch(id, opts, func(ctx context.Context) (Result, error) {
		start := time.Now()
		if err := client.HealthCheck(ctx); err != nil {
			return nil, err
		}
		return HealthResult{Provider: client.Provider(), ResponseTime: time.Since(start)}, nil
	}, nil)
	return id
}

// WaitForRequest blocks until the task reaches a terminal state and
// returns it. Unknown (or already purged) ids fail with
// ErrRequestNotFound; ctx cancellation aborts the wait, not the task.
func (o *Orchestrator) WaitForRequest(ctx context.Context, id int64) (Task, error) {
	done, ok := o.registry.Done(id)
	if !ok {
		return Task{}, fmt.Errorf("task %d: %w", id, ErrRequestNotFound)
	}
	select {
	case <-done:
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
	t, ok := o.registry.Get(id)
	if !ok {
		return Task{}, fmt.Errorf("task %d: %w", id, ErrRequestNotFound)
	}
	return t, nil
}

// WaitForAllRequests waits for every id in turn and returns the tasks in
// input order, not completion order.
func (o *Orchestrator) WaitForAllRequests(ctx context.Context, ids []int64) ([]Task, error) {
	tasks := make([]Task, 0, len(ids))
	for _, id := range ids {
		t, err := o.WaitForRequest(ctx, id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// CancelRequest marks the task cancelled if it is not already terminal.
// Cancelling a terminal task is a no-op; an unknown id fails with
// ErrRequestNotFound.
func (o *Orchestrator) CancelRequest(id int64) error {
	return o.registry.Cancel(id)
}

// GetRequestStatus returns the task's current status.
func (o *Orchestrator) GetRequestStatus(id int64) (Status, bool) {
	t, ok := o.registry.Get(id)
	if !ok {
		return "", false
	}
	return t.Status, true
}

// GetActiveRequestCount returns the number of non-terminal tasks.
func (o *Orchestrator) GetActiveRequestCount() int {
	return o.registry.ActiveCount()
}

// GetRequestStats returns aggregate task statistics.
func (o *Orchestrator) GetRequestStats() Stats {
	return o.registry.Stats()
}

// CleanupCompletedTasks purges terminal tasks older than the configured
// cleanup age and returns how many were removed.
func (o *Orchestrator) CleanupCompletedTasks() int {
	removed := o.registry.PurgeOlderThan(o.cleanupAge)
	if removed > 0 {
		o.logger.Debug("purged completed tasks", "count", removed)
	}
	return removed
}

// RaceProviders submits the same request to every candidate and returns
// the first successful response, cancelling the rest. The winner is the
// first completion observed; simultaneous completions are resolved
// arbitrarily. With zero candidates it fails with ErrNoProviders, and with
// zero successes with ErrAllProvidersFailed.
func (o *Orchestrator) RaceProviders(ctx context.Context, clients []provider.Client, req *provider.ChatRequest, opts RequestOptions) (*provider.ChatResponse, error) {
	if len(clients) == 0 {
		return nil, ErrNoProviders
	}

	ids := make([]int64, len(clients))
	for i, client := range clients {
		ids[i] = o.SubmitChatRequest(client, req, opts, nil)
	}

	completions := make(chan int64, len(ids))
	for _, id := range ids {
		done, ok := o.registry.Done(id)
		if !ok {
			continue
		}
		go func(id int64, done <-chan struct{}) {
			select {
			case <-done:
				completions <- id
			case <-ctx.Done():
			}
		}(id, done)
	}

	cancelOthers := func(winner int64) {
		for _, id := range ids {
			if id != winner {
				_ = o.registry.Cancel(id)
			}
		}
	}

	for remaining := len(ids); remaining > 0; remaining-- {
		select {
		case <-ctx.Done():
			cancelOthers(-1)
			return nil, ctx.Err()
		case id := <-completions:
			t, ok := o.registry.Get(id)
			if !ok || t.Status != StatusCompleted {
				continue
			}
			resp, ok := t.ChatResponse()
			if !ok {
				continue
			}
			cancelOthers(id)
			o.logger.Debug("race won", "task", id, "provider", t.Provider)
			return resp, nil
		}
	}
	return nil, ErrAllProvidersFailed
}

// BroadcastToProviders submits the request to every candidate, waits for
// all of them, and returns every successful response. Individual failures
// are logged and dropped; an empty result list is not an error.
func (o *Orchestrator) BroadcastToProviders(ctx context.Context, clients []provider.Client, req *provider.ChatRequest, opts RequestOptions) ([]*provider.ChatResponse, error) {
	if len(clients) == 0 {
		return nil, ErrNoProviders
	}

	ids := make([]int64, len(clients))
	for i, client := range clients {
		ids[i] = o.SubmitChatRequest(client, req, opts, nil)
	}

	tasks, err := o.WaitForAllRequests(ctx, ids)
	if err != nil {
		return nil, err
	}

	responses := make([]*provider.ChatResponse, 0, len(tasks))
	for _, t := range tasks {
		if resp, ok := t.ChatResponse(); ok {
			responses = append(responses, resp)
			continue
		}
		if t.Status == StatusFailed {
			o.logger.Warn("broadcast candidate failed", "task", t.ID, "provider", t.Provider, "error", t.ErrorInfo)
		}
	}
	return responses, nil
}

// BatchRequest is one entry in a SubmitBatchRequests call. Exactly one of
// Chat or Analysis must be set.
type BatchRequest struct {
	Client   provider.Client
	Chat     *provider.ChatRequest
	Analysis *provider.AnalysisRequest
	Options  RequestOptions
	Callback Callback
}

// BatchOptions tune a batch submission.
type BatchOptions struct {
	// MaxConcurrent bounds how many batch tasks are simultaneously
	// in_progress. Non-positive means unbounded.
	MaxConcurrent int64

	// FailFast stops admitting further requests once any admitted task
	// fails; unadmitted requests are registered and cancelled so the
	// caller still receives one id per request.
	FailFast bool

	// Timeout is applied as the per-task timeout for requests that do
	// not set their own.
	Timeout time.Duration
}

// SubmitBatchRequests registers every request and admits them to workers
// under the concurrency bound. It returns one task id per request, in
// input order, without blocking on execution. Higher-priority requests are
// admitted first.
func (o *Orchestrator) SubmitBatchRequests(ctx context.Context, requests []BatchRequest, opts BatchOptions) []int64 {
	batchID := uuid.NewString()[:8]

	ids := make([]int64, len(requests))
	items := make([]batchItem, len(requests))
	for i, req := range requests {
		taskOpts := req.Options
		if taskOpts.Timeout <= 0 {
			taskOpts.Timeout = opts.Timeout
		}

		var kind Kind
		var run runFunc
		var onCommit func(Result)
		switch {
		case req.Chat != nil:
			kind = KindChatCompletion
			run, onCommit, _ = o.chatRun(req.Client, req.Chat)
		case req.Analysis != nil:
			kind = KindCodeAnalysis
			analysis := req.Analysis
			client := req.Client
			run = func(ctx context.Context) (Result, error) {
				resp, err := client.CodeAnalysis(ctx, analysis)
				if err != nil {
					return nil, err
				}
				return AnalysisResult{Response: resp}, nil
			}
		default:
			kind = KindChatCompletion
			run = func(context.Context) (Result, error) {
				return nil, errors.New("batch request has no payload")
			}
		}

		id := o.registry.Create(kind, req.Client.Provider(), taskOpts, req.Callback)
		ids[i] = id
		items[i] = batchItem{id: id, opts: taskOpts, run: run, onCommit: onCommit}
	}

	// Admission order: priority first, submission order within a class.
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return items[order[a]].opts.Priority > items[order[b]].opts.Priority
	})

	go o.admitBatch(ctx, batchID, items, order, opts)
	return ids
}

// batchItem is one registered-but-unadmitted batch task.
type batchItem struct {
	id       int64
	opts     RequestOptions
	run      runFunc
	onCommit func(Result)
}

// admitBatch feeds batch tasks to the executor under the semaphore bound.
// Each task's terminal transition releases its permit, so at most
// MaxConcurrent batch tasks are in_progress at any instant.
func (o *Orchestrator) admitBatch(ctx context.Context, batchID string, items []batchItem, order []int, opts BatchOptions) {
	bound := opts.MaxConcurrent
	if bound <= 0 {
		bound = int64(len(items)) + 1
	}
	sem := semaphore.NewWeighted(bound)

	var failed atomic.Bool
	for _, idx := range order {
		item := items[idx]

		if opts.FailFast && failed.Load() {
			_ = o.registry.Cancel(item.id)
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			_ = o.registry.Cancel(item.id)
			continue
		}
		if opts.FailFast && failed.Load() {
			_ = o.registry.Cancel(item.id)
			sem.Release(1)
			continue
		}

		done, ok := o.registry.Done(item.id)
		if !ok {
			sem.Release(1)
			continue
		}
		go func(id int64, done <-chan struct{}) {
			<-done
			if t, ok := o.registry.Get(id); ok && t.Status == StatusFailed {
				if failed.CompareAndSwap(false, true) {
					o.logger.Warn("batch task failed", "batch", batchID, "task", id, "error", t.ErrorInfo)
				}
			}
			sem.Release(1)
		}(item.id, done)

		o.dispatch(item.id, item.opts, item.run, item.onCommit)
	}
}
