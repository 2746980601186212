// Package sched provides the thread-affinity boundary used by objdb: a
// Scheduler knows which goroutine it belongs to, and runs posted callbacks
// on that goroutine.
package sched

import "github.com/petermattis/goid"

// Scheduler delivers callbacks to its owning goroutine.
type Scheduler interface {
	// Post queues f to run on the owning goroutine. It returns false if the
	// scheduler has shut down, in which case f will never run.
	Post(f func()) bool

	// IsCurrent reports whether the caller runs on the owning goroutine.
	IsCurrent() bool
}

// CurrentGoroutineID returns the runtime id of the calling goroutine.
func CurrentGoroutineID() uint64 {
	return uint64(goid.Get())
}
