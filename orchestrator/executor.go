package orchestrator

import "sync"

// Executor runs submitted work on some execution context. It exists so the
// same orchestrator logic serves both an unbounded spawn-per-task model and
// a fixed worker pool.
type Executor interface {
	// Submit schedules fn to run. It must not block the caller beyond
	// queue admission.
	Submit(fn func())
}

// AsyncExecutor runs every submission on its own goroutine.
type AsyncExecutor struct{}

func (AsyncExecutor) Submit(fn func()) { go fn() }

// PoolExecutor runs submissions on a fixed set of worker goroutines.
// Submissions queue when all workers are busy.
type PoolExecutor struct {
	jobs chan func()
	wg   sync.WaitGroup

	closeOnce sync.Once
}

// NewPoolExecutor starts a pool with the given number of workers. A
// non-positive count defaults to 4.
func NewPoolExecutor(workers int) *PoolExecutor {
	if workers <= 0 {
		workers = 4
	}
	p := &PoolExecutor{jobs: make(chan func(), workers*4)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for fn := range p.jobs {
				fn()
			}
		}()
	}
	return p
}

// Submit queues fn for a worker. Submitting after Close panics, matching
// send-on-closed-channel semantics.
func (p *PoolExecutor) Submit(fn func()) {
	p.jobs <- fn
}

// Close stops admission and waits for queued work to drain.
func (p *PoolExecutor) Close() {
	p.closeOnce.Do(func() { close(p.jobs) })
	p.wg.Wait()
}
