// Package workerpool runs submitted tasks on a fixed number of goroutines.
package workerpool

import (
	"errors"
	"runtime/debug"
	"sync"

	"github.com/MrCodeEU/facecheck/pkg/logging"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("worker pool is closed")

// Task is a unit of work.
type Task func()

// Submitter is the part of Pool that callers dispatch through.
type Submitter interface {
	Submit(task Task) error
}

// Pool is a bounded set of workers fed from a single queue.
// At most Size tasks run at the same time.
type Pool struct {
	size  int
	tasks chan Task
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New starts a pool with size workers. Values below 1 are raised to 1.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}

	p := &Pool{
		size:  size,
		tasks: make(chan Task, size),
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker(i)
	}

	logging.Component("workerpool").Debugf("Started %d workers", size)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(id, task)
	}
}

// run executes task, keeping the worker alive if it panics.
func (p *Pool) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			logging.WithFields(logging.Fields{
				"component": "workerpool",
				"worker":    id,
				"panic":     r,
			}).Errorf("Task panicked\n%s", debug.Stack())
		}
	}()
	task()
}

// Submit queues task. It blocks while every worker is busy and the queue is full.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}
	p.tasks <- task
	return nil
}

// Close stops accepting tasks and waits for queued and running ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	logging.Component("workerpool").Debug("Workers stopped")
}
