package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/MimeLyc/transcription-service/pkg/log"
)

// Executor runs one task to completion. It owns the task's failure handling.
type Executor func(ctx context.Context, task Task)

var (
	ErrPoolNotStarted = errors.New("worker pool not started")
	ErrPoolStopped    = errors.New("worker pool stopped")
)

// Pool dispatches tasks to an Executor without blocking the caller.
//
// With workerCount <= 0 every task gets its own goroutine. Otherwise workerCount
// workers drain a buffered channel; a full buffer falls back to a goroutine
// that waits for room so Dispatch still returns immediately.
type Pool struct {
	workerCount int

	mu      sync.Mutex
	exec    Executor
	started bool
	stopped bool

	pending  chan Task
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPool(workerCount int) *Pool {
	return &Pool{
		workerCount: workerCount,
		pending:     make(chan Task, 1024),
		stopCh:      make(chan struct{}),
	}
}

func (p *Pool) Start(exec Executor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	p.exec = exec

	for range p.workerCount {
		p.wg.Add(1)
		go p.worker()
	}
}

// Dispatch hands the task off and returns without waiting for it to run.
func (p *Pool) Dispatch(_ context.Context, task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.stopped:
		return ErrPoolStopped
	case !p.started:
		return ErrPoolNotStarted
	}

	if p.workerCount <= 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(task)
		}()
		return nil
	}

	select {
	case p.pending <- task:
	default:
		log.Warn("Worker pool buffer full, deferring job %s", task.JobID)
		go func() {
			select {
			case p.pending <- task:
			case <-p.stopCh:
				log.Error("Worker pool stopped before job %s was picked up", task.JobID)
			}
		}()
	}
	return nil
}

// Stop refuses new tasks and waits for running ones until ctx is done.
// Tasks still buffered are dropped.
func (p *Pool) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
		close(p.stopCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case task := <-p.pending:
			p.run(task)
		}
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job %s panicked: %v", task.JobID, r)
		}
	}()
	p.exec(context.Background(), task)
}
