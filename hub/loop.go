package hub

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
)

// Loop runs submitted tasks one at a time, in submission order, on a
// single goroutine. State touched only from tasks needs no locking.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	once   sync.Once
	logger *log.Logger
}

func NewLoop(size int, logger *log.Logger) *Loop {
	if size < 1 {
		size = 1
	}
	return &Loop{
		tasks:  make(chan func(), size),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Submit enqueues task without waiting for it to run. It blocks only while
// the queue is full and reports false once the loop has been closed.
func (l *Loop) Submit(task func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.tasks <- task:
		return true
	case <-l.done:
		return false
	}
}

// Do runs task on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, task func()) error {
	finished := make(chan struct{})
	if !l.Submit(func() {
		defer close(finished)
		task()
	}) {
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrClosed
	}
}

// Run executes tasks until ctx is cancelled or Close is called. Tasks
// already queued at that point are discarded.
func (l *Loop) Run(ctx context.Context) {
	defer l.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case task := <-l.tasks:
			l.run(task)
		}
	}
}

func (l *Loop) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task panicked", "panic", r)
		}
	}()
	task()
}

func (l *Loop) Close() {
	l.once.Do(func() { close(l.done) })
}

func (l *Loop) Done() <-chan struct{} {
	return l.done
}
