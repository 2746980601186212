package sched

import (
	"fmt"
	"sync"
)

// Queue is a scheduler bound to the goroutine that created it. Posted
// callbacks accumulate until the owner calls Drain.
type Queue struct {
	owner  uint64
	mu     sync.Mutex
	items  []func()
	closed bool
}

var _ Scheduler = (*Queue)(nil)

func NewQueue() *Queue {
	return &Queue{owner: CurrentGoroutineID()}
}

func (q *Queue) Post(f func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, f)
	return true
}

func (q *Queue) IsCurrent() bool {
	return CurrentGoroutineID() == q.owner
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain runs queued callbacks, including ones posted while draining, and
// returns how many ran. It panics when called off the owning goroutine.
func (q *Queue) Drain() int {
	if !q.IsCurrent() {
		panic(fmt.Errorf("sched.Queue.Drain called from goroutine %d, owner is %d", CurrentGoroutineID(), q.owner))
	}
	var n int
	for {
		q.mu.Lock()
		batch := q.items
		q.items = nil
		q.mu.Unlock()
		if len(batch) == 0 {
			return n
		}
		for _, f := range batch {
			f()
			n++
		}
	}
}

// Close drops pending callbacks and makes later Post calls fail.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
}
