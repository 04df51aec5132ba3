// ============================================================================
// Worker Pool - Cooperative Job Queue with Bounded Concurrency
// ============================================================================
//
// Package: internal/pool
// File: pool.go
// Function: Admits work items, supports priority submission and temporary
// capacity increases. Generalised from a fixed-worker-goroutine pool into a
// semaphore-admitted, goroutine-per-job pool so that capacity can change at
// runtime (unsafeExtraThread needs to raise the ceiling by one mid-build).
//
// Design Pattern:
//   1. A capacity counter bounds how many jobs may run concurrently.
//   2. Submission appends to a priority or normal FIFO queue, then pumps as
//      many queued jobs into fresh goroutines as capacity allows.
//   3. A job that finishes decrements the running count and pumps again,
//      so a freed slot is handed to the oldest queued job (priority first).
//
// Concurrency Control:
//   - mu: protects capacity/running/queues.
//   - wg: counts jobs submitted but not yet finished (queued or running),
//     so Run can block until the whole submitted graph of work drains -
//     including jobs a running job itself submits.
//
// ============================================================================

package pool

import "sync"

// Job is one unit of work admitted by the pool. A Job that suspends (the
// action monad's CaptureRAW) keeps running on its goroutine and blocks
// until resumed; while it waits, CaptureRAW raises the pool's capacity by
// one through Increase, so the slot it occupies is made up for.
type Job func()

// Pool is a cooperative job queue with bounded, adjustable concurrency.
type Pool struct {
	mu       sync.Mutex
	capacity int
	running  int
	queue    []Job
	pqueue   []Job
	wg       sync.WaitGroup
}

// New creates a Pool with the given steady-state capacity.
func New(capacity int) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	return &Pool{capacity: capacity}
}

// Run creates a pool of the given size (1 if serial is true, ignoring n),
// runs body(pool) to submit the initial work, then blocks until every job
// submitted - directly by body or transitively by other jobs - has
// finished, mirroring runPool's "shuts down when all submitted work is
// done" contract.
func Run(serial bool, n int, body func(*Pool) error) error {
	capacity := n
	if serial {
		capacity = 1
	}
	p := New(capacity)
	err := body(p)
	p.wg.Wait()
	return err
}

// Add submits a job at normal priority.
func (p *Pool) Add(job Job) {
	p.submit(job, false)
}

// AddPriority submits a job ahead of normally-queued work - used to prefer
// resuming a failed/cancelled action over starting fresh work.
func (p *Pool) AddPriority(job Job) {
	p.submit(job, true)
}

func (p *Pool) submit(job Job, priority bool) {
	p.wg.Add(1)
	p.mu.Lock()
	if priority {
		p.pqueue = append(p.pqueue, job)
	} else {
		p.queue = append(p.queue, job)
	}
	started := p.pumpLocked()
	p.mu.Unlock()
	for _, j := range started {
		go p.run(j)
	}
}

// Increase temporarily raises the concurrency limit by one; the caller
// must eventually invoke the returned function to restore it. Used by
// unsafeExtraThread.
func (p *Pool) Increase() func() {
	p.mu.Lock()
	p.capacity++
	started := p.pumpLocked()
	p.mu.Unlock()
	for _, j := range started {
		go p.run(j)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.capacity--
			p.mu.Unlock()
		})
	}
}

// Active reports the number of jobs currently running, for gauges.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Queued reports the number of jobs waiting for a free slot, for gauges.
func (p *Pool) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) + len(p.pqueue)
}

func (p *Pool) run(job Job) {
	defer p.wg.Done()
	job()
	p.mu.Lock()
	p.running--
	started := p.pumpLocked()
	p.mu.Unlock()
	for _, j := range started {
		go p.run(j)
	}
}

// pumpLocked starts as many queued jobs as current capacity allows and
// returns them for the caller to launch outside the lock. Priority jobs
// are always taken before normal-priority ones.
func (p *Pool) pumpLocked() []Job {
	var started []Job
	for p.running < p.capacity {
		var j Job
		switch {
		case len(p.pqueue) > 0:
			j, p.pqueue = p.pqueue[0], p.pqueue[1:]
		case len(p.queue) > 0:
			j, p.queue = p.queue[0], p.queue[1:]
		default:
			return started
		}
		p.running++
		started = append(started, j)
	}
	return started
}
