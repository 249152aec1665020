package scheduler

import (
	"log"
	"sync"
	"sync/atomic"
)

// Pool runs submitted jobs on a fixed number of goroutines.
// The queue is sized so that Submit never blocks the caller.
type Pool struct {
	jobs    chan func()
	wg      sync.WaitGroup
	size    int
	running atomic.Int32

	mu      sync.RWMutex
	stopped bool
}

// NewPool starts size workers reading from a queue of capacity queue.
func NewPool(size, queue int) *Pool {
	if size < 1 {
		size = 1
	}
	if queue < size {
		queue = size
	}
	p := &Pool{jobs: make(chan func(), queue), size: size}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(id, job)
	}
}

func (p *Pool) run(id int, job func()) {
	p.running.Add(1)
	defer p.running.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[pool] worker %d: job panicked: %v", id, r)
		}
	}()
	job()
}

// Submit enqueues job. It returns false if the queue is full or the pool is stopped.
func (p *Pool) Submit(job func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// Size is the number of worker goroutines.
func (p *Pool) Size() int { return p.size }

// Queued is the number of jobs waiting for a worker.
func (p *Pool) Queued() int { return len(p.jobs) }

// Running is the number of jobs currently executing.
func (p *Pool) Running() int { return int(p.running.Load()) }

// Stop rejects new jobs, lets queued ones finish and waits for the workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
