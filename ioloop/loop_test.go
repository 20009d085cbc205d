package ioloop

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnRunsOnLoopGoroutine(t *testing.T) {
	l := New()
	go l.Run()
	defer l.Stop()

	done := make(chan struct{})
	var n int32
	l.Spawn(func() {
		atomic.AddInt32(&n, 1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&n))
}

func TestTasksRunInSubmissionOrder(t *testing.T) {
	l := New()
	go l.Run()
	defer l.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		i := i
		l.Spawn(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestStopIsIdempotentAndStopsRun(t *testing.T) {
	l := New()
	runDone := make(chan struct{})
	go func() {
		l.Run()
		close(runDone)
	}()

	l.Stop()
	l.Stop() // must not panic

	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.True(t, l.Stopped())
}

func TestTimerFiresOnceAfterDelay(t *testing.T) {
	l := New()
	go l.Run()
	defer l.Stop()

	fired := make(chan struct{})
	l.Timer(20*time.Millisecond, false, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestTimerCancelPreventsFire(t *testing.T) {
	l := New()
	go l.Run()
	defer l.Stop()

	var n int32
	h := l.Timer(50*time.Millisecond, false, func() { atomic.AddInt32(&n, 1) })
	h.Cancel()
	h.Cancel() // idempotent

	time.Sleep(150 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&n))
}

func TestRepeatingTimerFiresMultipleTimesUntilCancel(t *testing.T) {
	l := New()
	go l.Run()
	defer l.Stop()

	var n int32
	h := l.Timer(10*time.Millisecond, true, func() { atomic.AddInt32(&n, 1) })

	time.Sleep(55 * time.Millisecond)
	h.Cancel()
	got := atomic.LoadInt32(&n)
	require.GreaterOrEqual(t, got, int32(3))

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, got, atomic.LoadInt32(&n), "no more fires after cancel")
}

func TestSpawnAfterStopDoesNotBlock(t *testing.T) {
	l := New()
	l.Stop()

	done := make(chan struct{})
	go func() {
		l.Spawn(func() {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Spawn blocked forever on a stopped loop")
	}
}
