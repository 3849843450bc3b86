package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghostkellz/zeke/provider"
)

// Stats aggregates the registry's view of submitted work.
type Stats struct {
	TotalSubmitted      int64
	Active              int
	Completed           int
	Failed              int
	Cancelled           int
	AvgCompletionTimeMS float64
}

// record is the mutable registry entry behind a Task snapshot. The done
// channel is closed exactly once, on the terminal transition.
type record struct {
	task Task
	done chan struct{}
	cb   Callback
}

// Registry is a thread-safe map of task id to task. Ids are allocated from
// an atomic counter, so they are strictly increasing for the process
// lifetime regardless of purges.
type Registry struct {
	mu    sync.Mutex
	tasks map[int64]*record

	nextID         atomic.Int64
	totalSubmitted atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[int64]*record)}
}

// Create allocates a new pending task and registers it.
func (r *Registry) Create(kind Kind, prov provider.ID, opts RequestOptions, cb Callback) int64 {
	id := r.nextID.Add(1)
	r.totalSubmitted.Add(1)

	rec := &record{
		task: Task{
			ID:        id,
			Kind:      kind,
			Provider:  prov,
			Status:    StatusPending,
			StartTime: time.Now(),
			Options:   opts,
		},
		done: make(chan struct{}),
		cb:   cb,
	}

	r.mu.Lock()
	r.tasks[id] = rec
	r.mu.Unlock()
	return id
}

// Get returns a snapshot of the task, if present.
func (r *Registry) Get(id int64) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return rec.task, true
}

// Done returns the task's completion channel. The channel is closed when
// the task reaches a terminal state.
func (r *Registry) Done(id int64) (<-chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.tasks[id]
	if !ok {
		return nil, false
	}
	return rec.done, true
}

// Remove deletes the entry. Safe to call on unknown ids.
func (r *Registry) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
}

// Begin transitions pending -> in_progress. It returns false if the task
// is unknown or already terminal (typically cancelled before dispatch), in
// which case the worker must not run the provider call.
func (r *Registry) Begin(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.tasks[id]
	if !ok || rec.task.Status != StatusPending {
		return false
	}
	rec.task.Status = StatusInProgress
	return true
}

// Complete commits a successful result. It returns false without writing
// if the task is unknown or already terminal, which is how a worker honors
// a cancellation that raced its provider call.
func (r *Registry) Complete(id int64, result Result) bool {
	return r.finalize(id, StatusCompleted, result, "")
}

// Fail commits a failure description under the same check-before-write
// rule as Complete.
func (r *Registry) Fail(id int64, errInfo string) bool {
	return r.finalize(id, StatusFailed, nil, errInfo)
}

// Cancel marks the task cancelled. Cancelling an already-terminal task is
// a no-op; an unknown id is ErrRequestNotFound. The in-flight provider
// call, if any, is not interrupted — the worker discards its outcome.
func (r *Registry) Cancel(id int64) error {
	r.mu.Lock()
	rec, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return ErrRequestNotFound
	}
	if rec.task.Status.Terminal() {
		r.mu.Unlock()
		return nil
	}
	rec.task.Status = StatusCancelled
	rec.task.CompletionTime = time.Now()
	snapshot := rec.task
	cb := rec.cb
	r.mu.Unlock()

	close(rec.done)
	if cb != nil {
		cb(snapshot)
	}
	return nil
}

func (r *Registry) finalize(id int64, status Status, result Result, errInfo string) bool {
	r.mu.Lock()
	rec, ok := r.tasks[id]
	if !ok || rec.task.Status.Terminal() {
		r.mu.Unlock()
		return false
	}
	rec.task.Status = status
	rec.task.Result = result
	rec.task.ErrorInfo = errInfo
	rec.task.CompletionTime = time.Now()
	snapshot := rec.task
	cb := rec.cb
	r.mu.Unlock()

	close(rec.done)
	if cb != nil {
		cb(snapshot)
	}
	return true
}

// ActiveCount returns the number of non-terminal tasks.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.tasks {
		if !rec.task.Status.Terminal() {
			n++
		}
	}
	return n
}

// Stats scans the current entries. TotalSubmitted counts every task ever
// created, surviving purges.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{TotalSubmitted: r.totalSubmitted.Load()}
	var totalMS float64
	var terminalTimed int
	for _, rec := range r.tasks {
		switch rec.task.Status {
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		default:
			s.Active++
		}
		if rec.task.Status.Terminal() && !rec.task.CompletionTime.IsZero() {
			totalMS += float64(rec.task.CompletionTime.Sub(rec.task.StartTime).Microseconds()) / 1000.0
			terminalTimed++
		}
	}
	if terminalTimed > 0 {
		s.AvgCompletionTimeMS = totalMS / float64(terminalTimed)
	}
	return s
}

// PurgeOlderThan removes terminal tasks whose completion is older than age
// and returns how many were removed.
func (r *Registry) PurgeOlderThan(age time.Duration) int {
	cutoff := time.Now().Add(-age)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, rec := range r.tasks {
		if rec.task.Status.Terminal() && rec.task.CompletionTime.Before(cutoff) {
			delete(r.tasks, id)
			removed++
		}
	}
	return removed
}
