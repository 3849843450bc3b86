package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ghostkellz/zeke/cache"
	"github.com/ghostkellz/zeke/provider"
	"github.com/ghostkellz/zeke/provider/mock"
)

func newTestOrchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	return New(opts)
}

func chatReq(prompt string) *provider.ChatRequest {
	return &provider.ChatRequest{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: prompt}},
	}
}

func TestSubmitChatRequestAndWait(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	client := mock.New([]string{"hello"}, mock.WithID(provider.Claude))

	id := o.SubmitChatRequest(client, chatReq("hi"), RequestOptions{}, nil)

	task, err := o.WaitForRequest(context.Background(), id)
	if err != nil {
		t.Fatalf("WaitForRequest: %v", err)
	}
	if task.Status != StatusCompleted {
		t.Fatalf("Status = %q, want completed", task.Status)
	}
	resp, ok := task.ChatResponse()
	if !ok {
		t.Fatal("completed task has no chat response")
	}
	if resp.Content != "hello" {
		t.Errorf("Content = %q, want hello", resp.Content)
	}
	if resp.Provider != provider.Claude {
		t.Errorf("Provider = %q, want claude", resp.Provider)
	}
}

func TestSubmitReturnsBeforeCompletion(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	client := mock.New(nil, mock.WithDelay(100*time.Millisecond))

	id := o.SubmitChatRequest(client, chatReq("slow"), RequestOptions{}, nil)

	status, ok := o.GetRequestStatus(id)
	if !ok {
		t.Fatal("task not found after submit")
	}
	if status.Terminal() {
		t.Errorf("Status = %q immediately after submit", status)
	}

	if _, err := o.WaitForRequest(context.Background(), id); err != nil {
		t.Fatalf("WaitForRequest: %v", err)
	}
}

func TestRequestTimeout(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	client := mock.New(nil, mock.WithDelay(200*time.Millisecond))

	id := o.SubmitChatRequest(client, chatReq("slow"), RequestOptions{Timeout: 20 * time.Millisecond}, nil)

	task, err := o.WaitForRequest(context.Background(), id)
	if err != nil {
		t.Fatalf("WaitForRequest: %v", err)
	}
	if task.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", task.Status)
	}
	if task.ErrorInfo == "" {
		t.Error("failed task has empty error info")
	}
}

func TestCancelInFlightRequest(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	client := mock.New(nil, mock.WithDelay(60*time.Millisecond))

	id := o.SubmitChatRequest(client, chatReq("doomed"), RequestOptions{}, nil)
	if err := o.CancelRequest(id); err != nil {
		t.Fatalf("CancelRequest: %v", err)
	}

	task, err := o.WaitForRequest(context.Background(), id)
	if err != nil {
		t.Fatalf("WaitForRequest: %v", err)
	}
	if task.Status != StatusCancelled {
		t.Fatalf("Status = %q, want cancelled", task.Status)
	}

	// The provider call may still finish; its result must be discarded.
	time.Sleep(100 * time.Millisecond)
	status, _ := o.GetRequestStatus(id)
	if status != StatusCancelled {
		t.Errorf("Status = %q after provider finished, want cancelled", status)
	}
}

func TestWaitForRequestUnknownID(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	if _, err := o.WaitForRequest(context.Background(), 9999); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("err = %v, want ErrRequestNotFound", err)
	}
}

func TestWaitForRequestContextCancelled(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	client := mock.New(nil, mock.WithDelay(200*time.Millisecond))

	id := o.SubmitChatRequest(client, chatReq("slow"), RequestOptions{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := o.WaitForRequest(ctx, id); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	// Abandoning the wait must not abandon the task.
	task, err := o.WaitForRequest(context.Background(), id)
	if err != nil {
		t.Fatalf("second WaitForRequest: %v", err)
	}
	if task.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", task.Status)
	}
}

func TestWaitForAllRequestsInputOrder(t *testing.T) {
	o := newTestOrchestrator(t, Options{})

	slow := mock.New([]string{"slow"}, mock.WithDelay(50*time.Millisecond))
	fast := mock.New([]string{"fast"})

	ids := []int64{
		o.SubmitChatRequest(slow, chatReq("a"), RequestOptions{}, nil),
		o.SubmitChatRequest(fast, chatReq("b"), RequestOptions{}, nil),
	}

	tasks, err := o.WaitForAllRequests(context.Background(), ids)
	if err != nil {
		t.Fatalf("WaitForAllRequests: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	for i, task := range tasks {
		if task.ID != ids[i] {
			t.Errorf("tasks[%d].ID = %d, want %d (input order)", i, task.ID, ids[i])
		}
	}
}

func TestRaceProviders(t *testing.T) {
	o := newTestOrchestrator(t, Options{})

	failing := mock.New(nil, mock.WithID(provider.OpenAI), mock.WithError(errors.New("backend down")))
	fast := mock.New([]string{"fast answer"}, mock.WithID(provider.Claude), mock.WithDelay(20*time.Millisecond))
	slow := mock.New([]string{"slow answer"}, mock.WithID(provider.Ollama), mock.WithDelay(300*time.Millisecond))

	resp, err := o.RaceProviders(context.Background(), []provider.Client{failing, fast, slow}, chatReq("race"), RequestOptions{})
	if err != nil {
		t.Fatalf("RaceProviders: %v", err)
	}
	if resp.Content != "fast answer" {
		t.Errorf("Content = %q, want fast answer", resp.Content)
	}
	if resp.Provider != provider.Claude {
		t.Errorf("Provider = %q, want claude", resp.Provider)
	}

	// Losers must end terminal, not linger in flight.
	deadline := time.Now().Add(time.Second)
	for o.GetActiveRequestCount() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("%d tasks still active after race", o.GetActiveRequestCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := o.GetRequestStats().Cancelled; got == 0 {
		t.Error("no losing candidate was cancelled")
	}
}

func TestRaceProvidersAllFail(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	a := mock.New(nil, mock.WithError(errors.New("a down")))
	b := mock.New(nil, mock.WithError(errors.New("b down")))

	if _, err := o.RaceProviders(context.Background(), []provider.Client{a, b}, chatReq("x"), RequestOptions{}); !errors.Is(err, ErrAllProvidersFailed) {
		t.Errorf("err = %v, want ErrAllProvidersFailed", err)
	}
}

func TestRaceProvidersNoCandidates(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	if _, err := o.RaceProviders(context.Background(), nil, chatReq("x"), RequestOptions{}); !errors.Is(err, ErrNoProviders) {
		t.Errorf("err = %v, want ErrNoProviders", err)
	}
}

func TestBroadcastToProviders(t *testing.T) {
	o := newTestOrchestrator(t, Options{})

	a := mock.New([]string{"from a"}, mock.WithID(provider.Claude))
	b := mock.New(nil, mock.WithID(provider.OpenAI), mock.WithError(errors.New("b down")))
	c := mock.New([]string{"from c"}, mock.WithID(provider.Ollama))

	responses, err := o.BroadcastToProviders(context.Background(), []provider.Client{a, b, c}, chatReq("all"), RequestOptions{})
	if err != nil {
		t.Fatalf("BroadcastToProviders: %v", err)
	}
	if len(responses) != 2 {
		t.Fatalf("got %d responses, want 2", len(responses))
	}
	contents := map[string]bool{}
	for _, resp := range responses {
		contents[resp.Content] = true
	}
	if !contents["from a"] || !contents["from c"] {
		t.Errorf("responses = %v, want from a and from c", contents)
	}
}

func TestBroadcastAllFailReturnsEmpty(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	a := mock.New(nil, mock.WithError(errors.New("down")))

	responses, err := o.BroadcastToProviders(context.Background(), []provider.Client{a}, chatReq("x"), RequestOptions{})
	if err != nil {
		t.Fatalf("BroadcastToProviders: %v", err)
	}
	if len(responses) != 0 {
		t.Errorf("got %d responses, want 0", len(responses))
	}
}

func TestBroadcastNoCandidates(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	if _, err := o.BroadcastToProviders(context.Background(), nil, chatReq("x"), RequestOptions{}); !errors.Is(err, ErrNoProviders) {
		t.Errorf("err = %v, want ErrNoProviders", err)
	}
}

func TestBatchConcurrencyBound(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	client := mock.New(nil, mock.WithDelay(30*time.Millisecond))

	requests := make([]BatchRequest, 6)
	for i := range requests {
		requests[i] = BatchRequest{Client: client, Chat: chatReq("batch")}
	}

	ids := o.SubmitBatchRequests(context.Background(), requests, BatchOptions{MaxConcurrent: 2})
	if len(ids) != 6 {
		t.Fatalf("got %d ids, want 6", len(ids))
	}

	tasks, err := o.WaitForAllRequests(context.Background(), ids)
	if err != nil {
		t.Fatalf("WaitForAllRequests: %v", err)
	}
	for _, task := range tasks {
		if task.Status != StatusCompleted {
			t.Errorf("task %d status = %q, want completed", task.ID, task.Status)
		}
	}
	if got := client.MaxConcurrent(); got > 2 {
		t.Errorf("max simultaneous provider calls = %d, want <= 2", got)
	}
	if got := client.Calls(); got != 6 {
		t.Errorf("provider calls = %d, want 6", got)
	}
}

func TestBatchIDsInInputOrder(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	client := mock.New(nil)

	requests := []BatchRequest{
		{Client: client, Chat: chatReq("a"), Options: RequestOptions{Priority: PriorityLow}},
		{Client: client, Chat: chatReq("b"), Options: RequestOptions{Priority: PriorityHigh}},
		{Client: client, Chat: chatReq("c")},
	}
	ids := o.SubmitBatchRequests(context.Background(), requests, BatchOptions{})

	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("ids not in input order: %v", ids)
		}
	}
	if _, err := o.WaitForAllRequests(context.Background(), ids); err != nil {
		t.Fatalf("WaitForAllRequests: %v", err)
	}
}

func TestBatchPriorityAdmission(t *testing.T) {
	o := newTestOrchestrator(t, Options{})

	// The mock cycles its scripted responses in call order, so with
	// MaxConcurrent 1 each task's content reveals its admission slot.
	client := mock.New([]string{"first", "second", "third"})

	requests := []BatchRequest{
		{Client: client, Chat: chatReq("low"), Options: RequestOptions{Priority: PriorityLow}},
		{Client: client, Chat: chatReq("high"), Options: RequestOptions{Priority: PriorityHigh}},
		{Client: client, Chat: chatReq("normal"), Options: RequestOptions{Priority: PriorityNormal}},
	}

	ids := o.SubmitBatchRequests(context.Background(), requests, BatchOptions{MaxConcurrent: 1})
	tasks, err := o.WaitForAllRequests(context.Background(), ids)
	if err != nil {
		t.Fatalf("WaitForAllRequests: %v", err)
	}

	want := map[int64]string{
		ids[1]: "first",  // high priority admitted first
		ids[2]: "second", // normal
		ids[0]: "third",  // low
	}
	for _, task := range tasks {
		resp, ok := task.ChatResponse()
		if !ok {
			t.Fatalf("task %d has no chat response", task.ID)
		}
		if resp.Content != want[task.ID] {
			t.Errorf("task %d content = %q, want %q", task.ID, resp.Content, want[task.ID])
		}
	}
}

func TestBatchFailFast(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	client := mock.New(nil, mock.WithError(errors.New("backend down")))

	requests := make([]BatchRequest, 5)
	for i := range requests {
		requests[i] = BatchRequest{Client: client, Chat: chatReq("x")}
	}

	ids := o.SubmitBatchRequests(context.Background(), requests, BatchOptions{MaxConcurrent: 1, FailFast: true})
	tasks, err := o.WaitForAllRequests(context.Background(), ids)
	if err != nil {
		t.Fatalf("WaitForAllRequests: %v", err)
	}

	var failed, cancelled int
	for _, task := range tasks {
		switch task.Status {
		case StatusFailed:
			failed++
		case StatusCancelled:
			cancelled++
		default:
			t.Errorf("task %d status = %q, want terminal", task.ID, task.Status)
		}
	}
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
	if cancelled != 4 {
		t.Errorf("cancelled = %d, want 4", cancelled)
	}
}

func TestCacheHitSkipsProvider(t *testing.T) {
	c := cache.New(cache.Config{})
	o := newTestOrchestrator(t, Options{Cache: c})
	client := mock.New([]string{"cached answer"})

	req := chatReq("what is a goroutine?")

	first := o.SubmitChatRequest(client, req, RequestOptions{}, nil)
	if _, err := o.WaitForRequest(context.Background(), first); err != nil {
		t.Fatalf("WaitForRequest: %v", err)
	}

	second := o.SubmitChatRequest(client, req, RequestOptions{}, nil)
	task, err := o.WaitForRequest(context.Background(), second)
	if err != nil {
		t.Fatalf("WaitForRequest: %v", err)
	}
	resp, ok := task.ChatResponse()
	if !ok || resp.Content != "cached answer" {
		t.Fatalf("second response = %+v, want cached answer", resp)
	}
	if got := client.Calls(); got != 1 {
		t.Errorf("provider calls = %d, want 1 (second served from cache)", got)
	}
}

func TestCodeAnalysisRequest(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	client := mock.New([]string{"looks fine"})

	id := o.SubmitCodeAnalysisRequest(client, &provider.AnalysisRequest{
		Code: "func main() {}",
		Type: provider.AnalyzeQuality,
	}, RequestOptions{}, nil)

	task, err := o.WaitForRequest(context.Background(), id)
	if err != nil {
		t.Fatalf("WaitForRequest: %v", err)
	}
	if task.Kind != KindCodeAnalysis {
		t.Errorf("Kind = %q, want code_analysis", task.Kind)
	}
	resp, ok := task.AnalysisResponse()
	if !ok {
		t.Fatal("completed analysis task has no analysis response")
	}
	if resp.Summary != "looks fine" {
		t.Errorf("Summary = %q", resp.Summary)
	}
}

func TestExplainAnalysisGetsOwnKind(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	client := mock.New(nil)

	id := o.SubmitCodeAnalysisRequest(client, &provider.AnalysisRequest{
		Code: "x := 1",
		Type: provider.AnalyzeExplain,
	}, RequestOptions{}, nil)

	task, err := o.WaitForRequest(context.Background(), id)
	if err != nil {
		t.Fatalf("WaitForRequest: %v", err)
	}
	if task.Kind != KindCodeExplanation {
		t.Errorf("Kind = %q, want code_explanation", task.Kind)
	}
}

func TestSubmitHealthCheck(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	client := mock.New(nil, mock.WithID(provider.GhostLLM))

	id := o.SubmitHealthCheck(client, RequestOptions{}, nil)
	task, err := o.WaitForRequest(context.Background(), id)
	if err != nil {
		t.Fatalf("WaitForRequest: %v", err)
	}
	if task.Status != StatusCompleted {
		t.Fatalf("Status = %q, want completed", task.Status)
	}
	res, ok := task.Result.(HealthResult)
	if !ok {
		t.Fatalf("Result = %T, want HealthResult", task.Result)
	}
	if res.Provider != provider.GhostLLM {
		t.Errorf("Provider = %q, want ghostllm", res.Provider)
	}
}

func TestCleanupCompletedTasks(t *testing.T) {
	o := newTestOrchestrator(t, Options{CleanupAge: time.Millisecond})
	client := mock.New(nil)

	id := o.SubmitChatRequest(client, chatReq("x"), RequestOptions{}, nil)
	if _, err := o.WaitForRequest(context.Background(), id); err != nil {
		t.Fatalf("WaitForRequest: %v", err)
	}

	active := o.SubmitChatRequest(mock.New(nil, mock.WithDelay(200*time.Millisecond)), chatReq("y"), RequestOptions{}, nil)

	time.Sleep(10 * time.Millisecond)
	if removed := o.CleanupCompletedTasks(); removed != 1 {
		t.Fatalf("CleanupCompletedTasks = %d, want 1", removed)
	}
	if _, ok := o.GetRequestStatus(id); ok {
		t.Error("purged task still visible")
	}
	if _, ok := o.GetRequestStatus(active); !ok {
		t.Error("active task was purged")
	}
	if _, err := o.WaitForRequest(context.Background(), active); err != nil {
		t.Fatalf("WaitForRequest active: %v", err)
	}
}

func TestPoolExecutorOrchestration(t *testing.T) {
	pool := NewPoolExecutor(2)
	defer pool.Close()

	o := newTestOrchestrator(t, Options{Executor: pool})
	client := mock.New(nil, mock.WithDelay(10*time.Millisecond))

	ids := make([]int64, 8)
	for i := range ids {
		ids[i] = o.SubmitChatRequest(client, chatReq("pooled"), RequestOptions{}, nil)
	}

	tasks, err := o.WaitForAllRequests(context.Background(), ids)
	if err != nil {
		t.Fatalf("WaitForAllRequests: %v", err)
	}
	for _, task := range tasks {
		if task.Status != StatusCompleted {
			t.Errorf("task %d status = %q, want completed", task.ID, task.Status)
		}
	}
	if got := client.MaxConcurrent(); got > 2 {
		t.Errorf("max simultaneous provider calls = %d, want <= 2 with 2 workers", got)
	}
}
