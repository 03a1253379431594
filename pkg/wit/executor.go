package wit

import (
	"sync"
)

// Executor runs completion callbacks
type Executor interface {
	Execute(task func())
}

// ExecutorFunc adapts a function to the Executor interface
type ExecutorFunc func(task func())

func (f ExecutorFunc) Execute(task func()) {
	f(task)
}

var (
	// Inline runs the callback on the goroutine that completed the session
	Inline Executor = ExecutorFunc(func(task func()) { task() })
	// Async runs each callback on its own goroutine
	Async Executor = ExecutorFunc(func(task func()) { go task() })
)

// WorkerPool runs callbacks on a fixed set of goroutines in submission order per worker
type WorkerPool struct {
	tasks  chan func()
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool starts workers goroutines sharing a queue of the given depth
func NewWorkerPool(workers, queue int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	p := &WorkerPool{tasks: make(chan func(), queue)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// Execute queues the task, blocking while the queue is full.
// After Close tasks run on a fresh goroutine.
func (p *WorkerPool) Execute(task func()) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		go task()
		return
	}
	p.tasks <- task
}

// Close stops accepting work and waits for queued tasks to finish
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
