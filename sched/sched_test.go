package sched

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCurrentGoroutineIDDiffersAcrossGoroutines(t *testing.T) {
	mine := CurrentGoroutineID()
	assert.NotZero(t, mine)
	assert.Equal(t, mine, CurrentGoroutineID())

	other := make(chan uint64)
	go func() { other <- CurrentGoroutineID() }()
	assert.NotEqual(t, mine, <-other)
}

func TestLoopRunsInOrderOnItsGoroutine(t *testing.T) {
	l := NewLoop()
	defer l.Close()

	assert.False(t, l.IsCurrent())

	var got []int
	var onLoop []bool
	for i := range 5 {
		require.True(t, l.Post(func() {
			got = append(got, i)
			onLoop = append(onLoop, l.IsCurrent())
		}))
	}
	require.True(t, l.Do(func() {}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.Equal(t, []bool{true, true, true, true, true}, onLoop)
}

func TestLoopDoIsReentrant(t *testing.T) {
	l := NewLoop()
	defer l.Close()

	var inner bool
	l.Do(func() {
		l.Do(func() { inner = true })
	})
	assert.True(t, inner)
}

func TestLoopRejectsAfterClose(t *testing.T) {
	l := NewLoop()
	var ran bool
	l.Post(func() { ran = true })
	l.Close()
	assert.True(t, ran, "callbacks queued before Close still run")
	assert.False(t, l.Post(func() {}))
	assert.False(t, l.Do(func() {}))
	l.Close()
}

func TestQueueDrainsOnOwner(t *testing.T) {
	q := NewQueue()
	assert.True(t, q.IsCurrent())

	var wg sync.WaitGroup
	var order []string
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.False(t, q.IsCurrent())
		q.Post(func() {
			order = append(order, "first")
			q.Post(func() { order = append(order, "nested") })
		})
	}()
	wg.Wait()

	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 2, q.Drain())
	assert.Equal(t, []string{"first", "nested"}, order)
	assert.Equal(t, 0, q.Drain())
}

func TestQueueDrainOffOwnerPanics(t *testing.T) {
	q := NewQueue()
	done := make(chan any)
	go func() {
		defer func() { done <- recover() }()
		q.Drain()
	}()
	assert.NotNil(t, <-done)
}

func TestQueueClose(t *testing.T) {
	q := NewQueue()
	q.Post(func() { t.Fatal("dropped callback ran") })
	q.Close()
	assert.False(t, q.Post(func() {}))
	assert.Equal(t, 0, q.Drain())
}
