// Package queue runs fire-and-forget work on a fixed set of background workers.
package queue

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/shrimpsizemoose/trekker/logger"
)

// Task is one unit of background work. Its context is the pool's, not the
// submitter's, so it outlives the request that queued it.
type Task func(ctx context.Context) error

// Pool is a bounded worker pool. Each worker drains its own lane, so tasks
// submitted under the same key run one at a time in submission order. Submit
// never blocks; when a lane is full the task is refused. Task errors and panics
// are logged and never reach the submitter.
type Pool struct {
	name  string
	lanes []chan Task
	next  atomic.Uint32

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool starts workers goroutines. The buffer of size tasks is split evenly
// across their lanes.
func NewPool(name string, workers, size int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 64
	}
	perLane := (size + workers - 1) / workers
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:   name,
		lanes:  make([]chan Task, workers),
		ctx:    ctx,
		cancel: cancel,
	}
	p.wg.Add(workers)
	for i := range p.lanes {
		p.lanes[i] = make(chan Task, perLane)
		go p.work(p.lanes[i])
	}
	return p
}

// Submit enqueues task on the next lane in turn and reports whether it was
// accepted.
func (p *Pool) Submit(task Task) bool {
	lane := int(p.next.Add(1)-1) % len(p.lanes)
	return p.enqueue(lane, task)
}

// SubmitKeyed enqueues task on the lane owned by key. Tasks sharing a key
// never run concurrently and run in the order they were accepted.
func (p *Pool) SubmitKeyed(key string, task Task) bool {
	h := fnv.New32a()
	h.Write([]byte(key))
	return p.enqueue(int(h.Sum32()%uint32(len(p.lanes))), task)
}

func (p *Pool) enqueue(lane int, task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.lanes[lane] <- task:
		return true
	default:
		return false
	}
}

// Close stops accepting tasks and waits for queued ones to finish. If ctx
// ends first, running tasks see their context cancelled.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, lane := range p.lanes {
			close(lane)
		}
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("%s pool: %w", p.name, ctx.Err())
	}
}

func (p *Pool) work(lane <-chan Task) {
	defer p.wg.Done()
	for task := range lane {
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error.Printf("%s pool: task panicked: %v", p.name, r)
		}
	}()
	if err := task(p.ctx); err != nil {
		logger.Error.Printf("%s pool: task failed: %v", p.name, err)
	}
}
