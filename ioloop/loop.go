// Package ioloop is the per-thread cooperative scheduler, mapped onto
// Go's goroutine+channel primitives: model each connection as two
// goroutines/tasks with a notify channel used where the original
// cancels its infinite steady timer.
//
// A Loop is bound to exactly one goroutine: the one that calls Run. Every
// Task queued with Spawn, and every Timer callback, executes on that
// goroutine — nothing in this package ever runs two tasks from the same
// Loop concurrently. Unlike the C++ asio::io_context this is modeled on,
// a Go channel receive blocks indefinitely with no tasks queued, so there
// is no "no more outstanding work" auto-stop to guard against; Loop
// always behaves as if EnableKeepAlive were set, and that method is kept
// only for API parity with callers migrating from it.
package ioloop

import (
	"sync"
	"time"
)

// Task is a unit of logical work run on a Loop's goroutine.
type Task func()

// Loop is a single-goroutine task scheduler.
type Loop struct {
	tasks chan Task
	done  chan struct{}
	once  sync.Once
}

// New creates a Loop. Callers start it by calling Run on the goroutine
// that should own it.
func New() *Loop {
	return &Loop{
		tasks: make(chan Task, 256),
		done:  make(chan struct{}),
	}
}

// EnableKeepAlive is a no-op kept for API parity; see the package doc
// comment for why Go's channel-based Loop never needs it.
func (l *Loop) EnableKeepAlive() {}

// Spawn enqueues task to run on this Loop's goroutine. Safe to call from
// any goroutine. A task submitted after Stop is silently dropped.
func (l *Loop) Spawn(task Task) {
	select {
	case l.tasks <- task:
	case <-l.done:
	}
}

// Run executes ready tasks until Stop is called. It blocks the calling
// goroutine, which becomes this Loop's owning thread for as long as Run
// runs.
func (l *Loop) Run() {
	for {
		select {
		case task := <-l.tasks:
			task()
		case <-l.done:
			return
		}
	}
}

// Stop signals Run to return. Idempotent.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.done) })
}

// Stopped reports whether Stop has been called.
func (l *Loop) Stopped() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// TimerHandle lets a caller cancel a pending or repeating timer.
type TimerHandle struct {
	cancel chan struct{}
	once   sync.Once
}

// Cancel stops the timer. Idempotent; safe to call after the timer has
// already fired.
func (h *TimerHandle) Cancel() {
	h.once.Do(func() { close(h.cancel) })
}

// Timer fires fn on l's goroutine after delay, once or (if repeat) every
// delay thereafter, until Cancel is called or l stops. Returns a handle
// allowing cancellation.
func (l *Loop) Timer(delay time.Duration, repeat bool, fn func()) *TimerHandle {
	h := &TimerHandle{cancel: make(chan struct{})}

	go func() {
		if !repeat {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-t.C:
				l.Spawn(fn)
			case <-h.cancel:
			case <-l.done:
			}
			return
		}

		t := time.NewTicker(delay)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				l.Spawn(fn)
			case <-h.cancel:
				return
			case <-l.done:
				return
			}
		}
	}()

	return h
}
