package objdb

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// maxRecomputes bounds how many times a worker retakes a snapshot when
// commits keep landing while it computes.
const maxRecomputes = 3

type subState uint8

const (
	subIdle subState = iota
	subComputing
	subDelivering
)

// notifier computes change sets for the subscriptions of every instance
// sharing a coordinator. Commits only bump latest and poke the dispatcher;
// snapshots and diffs run on a bounded worker group, and results are posted
// to the owning instance's scheduler.
type notifier struct {
	c      *coordinator
	signal chan struct{}
	ctx    context.Context
	stop   context.CancelFunc
	done   chan struct{}
	group  *errgroup.Group

	mu     sync.Mutex
	idle   *sync.Cond
	latest uint64
	subs   map[*subscription]struct{}
	closed bool
}

func newNotifier(c *coordinator, workers int) *notifier {
	ctx, stop := context.WithCancel(context.Background())
	n := &notifier{
		c:      c,
		signal: make(chan struct{}, 1),
		ctx:    ctx,
		stop:   stop,
		done:   make(chan struct{}),
		group:  new(errgroup.Group),
		subs:   make(map[*subscription]struct{}),
		latest: c.version.Load(),
	}
	n.idle = sync.NewCond(&n.mu)
	n.group.SetLimit(workers)
	go n.run()
	return n
}

func (n *notifier) poke() {
	select {
	case n.signal <- struct{}{}:
	default:
	}
}

// committed records that version is now the latest committed state.
func (n *notifier) committed(version uint64) {
	n.mu.Lock()
	if version > n.latest {
		n.latest = version
	}
	n.mu.Unlock()
	n.poke()
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-n.signal:
		}
		for _, sub := range n.stale() {
			if n.ctx.Err() != nil {
				n.mu.Lock()
				sub.state = subIdle
				n.idle.Broadcast()
				n.mu.Unlock()
				continue
			}
			n.group.Go(func() error {
				n.compute(sub)
				return nil
			})
		}
	}
}

// stale marks every idle subscription behind latest as computing and
// returns them.
func (n *notifier) stale() []*subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*subscription
	for sub := range n.subs {
		if sub.state == subIdle && sub.version < n.latest {
			sub.state = subComputing
			out = append(out, sub)
		}
	}
	return out
}

func (n *notifier) add(sub *subscription) {
	n.mu.Lock()
	closed := n.closed
	if !closed {
		n.subs[sub] = struct{}{}
	}
	n.mu.Unlock()
	if !closed {
		n.poke()
	}
}

func (n *notifier) remove(sub *subscription) {
	n.mu.Lock()
	sub.cancelled = true
	delete(n.subs, sub)
	n.idle.Broadcast()
	n.mu.Unlock()
}

// finish returns sub to idle after a computation or delivery.
func (n *notifier) finish(sub *subscription, apply func()) {
	n.mu.Lock()
	if apply != nil {
		apply()
	}
	sub.state = subIdle
	again := !sub.cancelled && sub.version < n.latest
	n.idle.Broadcast()
	n.mu.Unlock()
	if again {
		n.poke()
	}
}

func (n *notifier) compute(sub *subscription) {
	snap, ver, err := n.snapshot(sub)
	if err != nil {
		n.post(sub, func() { sub.fail(err) })
		return
	}
	change, empty := sub.diff(sub.base, snap)
	if empty {
		n.finish(sub, func() {
			sub.base, sub.version = snap, ver
		})
		return
	}
	n.post(sub, func() { sub.deliver(snap, ver, change) })
}

// snapshot takes sub's snapshot at the newest committed version, retaking
// it if newer commits arrived meanwhile.
func (n *notifier) snapshot(sub *subscription) (snap snapshot, ver uint64, err error) {
	for range maxRecomputes {
		stx, err := n.c.beginRead()
		if err != nil {
			return snap, 0, err
		}
		r := reader{n.c, stx}
		ver = r.version()
		snap, err = sub.take(r)
		stx.Rollback()
		if err != nil {
			return snap, 0, err
		}
		n.mu.Lock()
		current := ver >= n.latest
		n.mu.Unlock()
		if current {
			break
		}
	}
	return snap, ver, nil
}

func (n *notifier) post(sub *subscription, f func()) {
	n.mu.Lock()
	sub.state = subDelivering
	n.mu.Unlock()
	ok := sub.db.sched.Post(func() {
		f()
		n.finish(sub, nil)
	})
	if !ok {
		sub.db.logger.Debug("objdb: dropping subscription, scheduler is closed", "sub", sub.desc)
		n.remove(sub)
		n.finish(sub, nil)
	}
}

// waitIdle blocks until no subscription of db is computing or waiting to
// be computed. Deliveries already posted to db's scheduler are not waited
// for, since db's goroutine is the one that runs them.
func (n *notifier) waitIdle(db *DB) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for !n.closed && n.busy(db) {
		n.idle.Wait()
	}
}

func (n *notifier) busy(db *DB) bool {
	for sub := range n.subs {
		if sub.db != db {
			continue
		}
		switch sub.state {
		case subComputing:
			return true
		case subIdle:
			if sub.version < n.latest {
				return true
			}
		}
	}
	return false
}

func (n *notifier) unsubscribeAll(db *DB) {
	n.mu.Lock()
	for sub := range n.subs {
		if sub.db == db {
			sub.cancelled = true
			delete(n.subs, sub)
		}
	}
	n.idle.Broadcast()
	n.mu.Unlock()
}

func (n *notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.idle.Broadcast()
	n.mu.Unlock()
	n.stop()
	<-n.done
	n.group.Wait()
}
