package sched

import (
	"sync"
	"sync/atomic"
)

// Loop is a scheduler backed by a dedicated goroutine that runs posted
// callbacks one at a time, in order.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
	gid    atomic.Uint64
}

var _ Scheduler = (*Loop)(nil)

func NewLoop() *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	ready := make(chan struct{})
	go l.run(ready)
	<-ready
	return l
}

func (l *Loop) run(ready chan<- struct{}) {
	defer close(l.done)
	l.gid.Store(CurrentGoroutineID())
	close(ready)

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, f := range batch {
			f()
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-l.wake
	}
}

func (l *Loop) Post(f func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, f)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *Loop) IsCurrent() bool {
	return CurrentGoroutineID() == l.gid.Load()
}

// Do runs f on the loop and waits for it to return. Called from the loop
// itself, it runs f inline. It returns false if the loop is closed.
func (l *Loop) Do(f func()) bool {
	if l.IsCurrent() {
		f()
		return true
	}
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		f()
	}) {
		return false
	}
	<-finished
	return true
}

// Close stops accepting callbacks, runs the ones already queued, and waits
// for the loop goroutine to exit (unless called from the loop itself).
func (l *Loop) Close() {
	l.mu.Lock()
	already := l.closed
	l.closed = true
	l.mu.Unlock()
	if !already {
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
	if !l.IsCurrent() {
		<-l.done
	}
}
