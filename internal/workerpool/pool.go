// Package workerpool runs backend requests on a fixed number of goroutines
// behind a bounded queue.
package workerpool

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"studiomic/internal/logging"
)

var log = logging.L("workerpool")

var (
	ErrQueueFull = errors.New("worker pool queue is full")
	ErrStopped   = errors.New("worker pool is not accepting work")
)

// Task is a unit of work. ctx is cancelled when Shutdown gives up waiting.
type Task func(ctx context.Context)

type Pool struct {
	queue     chan Task
	wg        sync.WaitGroup
	accepting atomic.Bool
	submitMu  sync.RWMutex
	stopOnce  sync.Once
	closeOnce sync.Once
	stopChan  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New starts workers goroutines reading from a queue of queueSize.
func New(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:    make(chan Task, queueSize),
		stopChan: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	p.accepting.Store(true)

	for i := 0; i < workers; i++ {
		go p.worker()
	}

	log.Info("worker pool started", "workers", workers, "queueSize", queueSize)
	return p
}

// Submit enqueues task without blocking.
func (p *Pool) Submit(task Task) error {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()
	if !p.accepting.Load() {
		return ErrStopped
	}

	// Add before enqueue so Shutdown cannot miss the task.
	p.wg.Add(1)
	select {
	case p.queue <- task:
		return nil
	default:
		p.wg.Done()
		log.Warn("worker pool queue full, task rejected")
		return ErrQueueFull
	}
}

// Shutdown stops accepting work and waits for queued and running tasks. When
// ctx ends first, running tasks see their context cancelled.
func (p *Pool) Shutdown(ctx context.Context) {
	p.submitMu.Lock()
	p.accepting.Store(false)
	p.submitMu.Unlock()
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("worker pool drained")
	case <-ctx.Done():
		log.Warn("worker pool drain timed out")
	}
	p.cancel()

	p.closeOnce.Do(func() {
		close(p.queue)
	})
}

func (p *Pool) worker() {
	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.runTask(task)
		case <-p.stopChan:
			for {
				select {
				case task, ok := <-p.queue:
					if !ok {
						return
					}
					p.runTask(task)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) runTask(task Task) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task(p.ctx)
}
