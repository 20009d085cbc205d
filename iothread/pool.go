// Package iothread is the fixed-size I/O thread group: a pool of event
// loops (package ioloop), each bound to one goroutine, that a Server
// round-robins newly accepted connections across. Grounded on
// infra/network/rpc.go's accept loop ("go s.handleConnection(conn)" per
// accepted socket) generalized from one goroutine per connection to a
// bounded pool of loops per rocket/net/io_thread_group.cc and
// io_thread.cc, whose two-semaphore startup handshake is replaced here
// with a sync.WaitGroup and whose CAS-gated "has a drain task been
// scheduled yet" flag is kept verbatim as the mechanism that coalesces
// bursts of new connections into a single Spawn per loop instead of one
// per connection.
package iothread

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/Flyzz-z/rocket/ioloop"
)

// Handler is invoked, on the owning worker's loop goroutine, once per
// connection newly assigned to that worker.
type Handler func(conn net.Conn, loop *ioloop.Loop)

type worker struct {
	loop *ioloop.Loop

	mu      sync.Mutex
	pending []net.Conn

	scheduled int32 // CAS-gated: 1 while a drain task is already queued
}

func (w *worker) push(conn net.Conn, handle Handler) {
	w.mu.Lock()
	w.pending = append(w.pending, conn)
	w.mu.Unlock()

	if atomic.CompareAndSwapInt32(&w.scheduled, 0, 1) {
		w.loop.Spawn(func() { w.drain(handle) })
	}
}

func (w *worker) drain(handle Handler) {
	atomic.StoreInt32(&w.scheduled, 0)

	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	for _, conn := range batch {
		handle(conn, w.loop)
	}
}

// Pool is a fixed-size group of I/O threads (goroutines each running one
// ioloop.Loop), connections distributed across them round-robin.
type Pool struct {
	workers []*worker
	next    uint64
}

// New starts size workers and returns once every worker's goroutine has
// begun running its loop. size must be >= 1.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{workers: make([]*worker, size)}

	var wg sync.WaitGroup
	wg.Add(size)
	for i := 0; i < size; i++ {
		w := &worker{loop: ioloop.New()}
		w.loop.EnableKeepAlive()
		p.workers[i] = w
		go func(l *ioloop.Loop) {
			wg.Done()
			l.Run()
		}(w.loop)
	}
	wg.Wait()
	return p
}

// Next returns the next worker's loop, round-robin. It advances the same
// counter Dispatch uses, so a Dispatch call after Next lands on the loop
// that follows the one Next returned.
func (p *Pool) Next() *ioloop.Loop {
	i := atomic.AddUint64(&p.next, 1) - 1
	return p.workers[i%uint64(len(p.workers))].loop
}

// Dispatch assigns conn to the next worker round-robin and schedules
// handle to run on that worker's loop goroutine. Multiple connections
// arriving before a worker's loop gets to run are coalesced into a
// single queued task on that worker's pending-connection queue.
func (p *Pool) Dispatch(conn net.Conn, handle Handler) {
	i := atomic.AddUint64(&p.next, 1) - 1
	w := p.workers[i%uint64(len(p.workers))]
	w.push(conn, handle)
}

// Size returns the number of worker loops in the pool.
func (p *Pool) Size() int { return len(p.workers) }

// Stop stops every worker's loop. In-flight connections are left to
// their own Shutdown handling; Stop only tears down the scheduling loop.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.loop.Stop()
	}
}
