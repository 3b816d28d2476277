// Package workpool runs fired triggers on a bounded set of goroutines.
package workpool

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Default configuration
const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 100
)

// Task is a named unit of work. The name only shows up in logs.
type Task struct {
	Name string
	Run  func()
}

// Pool provides a bounded worker pool
type Pool struct {
	queue chan Task
	wg    sync.WaitGroup

	// Shutdown signaling - closing this channel signals submitters to stop
	closing   chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
}

// New creates a new pool with default settings
func New() *Pool {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a new pool with custom worker count and queue size
func NewWithConfig(workerCount, queueSize int) *Pool {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	p := &Pool{
		queue:   make(chan Task, queueSize),
		closing: make(chan struct{}),
	}

	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Worker pool started")
	return p
}

// worker processes tasks from the queue
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for task := range p.queue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("task", task.Name).
						Int("worker", id).
						Msg("Task panicked")
				}
			}()
			task.Run()
		}()
	}
}

// Submit queues a task. Non-blocking: returns false if the queue is full or
// the pool is closing.
func (p *Pool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	select {
	case <-p.closing:
		log.Warn().Str("task", task.Name).Msg("Worker pool closing, dropping task")
		return false
	default:
	}

	select {
	case p.queue <- task:
		return true
	default:
		log.Warn().Str("task", task.Name).Msg("Worker pool queue full, dropping task")
		return false
	}
}

// Close stops accepting tasks, drains the queue and waits for workers.
func (p *Pool) Close(ctx context.Context) {
	p.closeOnce.Do(func() {
		// Submit holds the read lock while sending, so once we own the
		// write lock no sender can touch the queue.
		p.mu.Lock()
		close(p.closing)
		close(p.queue)
		p.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Worker pool stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Worker pool shutdown timed out, some triggers may be lost")
	}
}
