// Package tcp adapts the original infra/network/rpc.go connection
// handling — one goroutine per accepted socket reading length-prefixed
// frames and writing length-prefixed responses — into an explicit
// state machine with a read/write task split, framed with the wire
// package instead of ad hoc binary.Read calls.
//
// Each Connection runs a read task and a write task; the write task
// blocks on a buffered notify channel instead of an asio timer, woken by
// PushSend/Reply whenever there is new output to flush.
package tcp

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/Flyzz-z/rocket/buffer"
	"github.com/Flyzz-z/rocket/ids"
	"github.com/Flyzz-z/rocket/ioloop"
	"github.com/Flyzz-z/rocket/rlog"
	"github.com/Flyzz-z/rocket/wire"
)

// State is a Connection's position in its state machine:
// NotConnected -> Connected -> HalfClosing -> Closed.
type State int32

const (
	StateNotConnected State = iota
	StateConnected
	StateHalfClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNotConnected:
		return "not_connected"
	case StateConnected:
		return "connected"
	case StateHalfClosing:
		return "half_closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// FrameHandler processes frames decoded off a Connection's read side. It
// always runs on the Connection's owning loop goroutine, so a handler
// may safely call back into PushSend/Reply without its own locking.
type FrameHandler func(c *Connection, frames []*wire.Frame)

// Connection wraps one net.Conn with buffered framing and a read/write
// task pair.
type Connection struct {
	ID      string
	conn    net.Conn
	loop    *ioloop.Loop
	handler FrameHandler

	state int32 // atomic State

	in *buffer.Buffer

	outMu  sync.Mutex
	out    *buffer.Buffer
	notify chan struct{} // buffered 1: write task's wakeup, replacing the source's infinite steady timer

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConnection builds a Connection bound to loop; call Start to launch
// its read and write tasks.
func NewConnection(conn net.Conn, loop *ioloop.Loop, handler FrameHandler) *Connection {
	return &Connection{
		ID:      ids.Default().NextString(),
		conn:    conn,
		loop:    loop,
		handler: handler,
		state:   int32(StateNotConnected),
		in:      buffer.New(4096),
		out:     buffer.New(4096),
		notify:  make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
}

// State returns the connection's current state.
func (c *Connection) State() State { return State(atomic.LoadInt32(&c.state)) }

func (c *Connection) setState(s State) { atomic.StoreInt32(&c.state, int32(s)) }

// RemoteAddr returns the underlying socket's remote address.
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Loop returns the ioloop.Loop this connection's handler callbacks run on.
func (c *Connection) Loop() *ioloop.Loop { return c.loop }

// Start transitions NotConnected -> Connected and launches the read and
// write tasks.
func (c *Connection) Start() {
	c.setState(StateConnected)
	go c.readTask()
	go c.writeTask()
}

func (c *Connection) readTask() {
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.in.Write(buf[:n])
			c.decodeAndDispatch()
		}
		if err != nil {
			if err != io.EOF {
				rlog.ErrorCtx(context.Background(), "tcp: connection %s read error: %v", c.ID, err)
			}
			c.beginHalfClose()
			return
		}
	}
}

func (c *Connection) decodeAndDispatch() {
	var frames []*wire.Frame
	wire.Decode(&frames, c.in)
	if len(frames) == 0 || c.handler == nil {
		return
	}
	batch := frames
	c.loop.Spawn(func() { c.handler(c, batch) })
}

// PushRead feeds externally obtained bytes into the connection's read
// buffer as though the read task had received them itself, decoding and
// dispatching any frames they complete. Useful for protocols that peel
// off a handshake prelude before handing the remaining bytes to the
// framed reader.
func (c *Connection) PushRead(data []byte) {
	c.in.Write(data)
	c.decodeAndDispatch()
}

func (c *Connection) writeTask() {
	for {
		select {
		case <-c.notify:
		case <-c.closed:
			return
		}

		for {
			c.outMu.Lock()
			pending := c.out.Len()
			if pending == 0 {
				c.outMu.Unlock()
				break
			}
			data := append([]byte(nil), c.out.Bytes()...)
			c.out.Consume(len(data))
			c.outMu.Unlock()

			if _, err := c.conn.Write(data); err != nil {
				rlog.ErrorCtx(context.Background(), "tcp: connection %s write error: %v", c.ID, err)
				c.Shutdown()
				return
			}
		}

		if c.State() == StateHalfClosing {
			c.Shutdown()
			return
		}
	}
}

// PushSend encodes frames and queues them for the write task, waking it
// if it is idle.
func (c *Connection) PushSend(frames []*wire.Frame) {
	c.outMu.Lock()
	wire.Encode(frames, c.out)
	c.outMu.Unlock()
	c.wakeWriter()
}

// Reply is PushSend under the name the server-side response path uses.
func (c *Connection) Reply(frames []*wire.Frame) { c.PushSend(frames) }

func (c *Connection) wakeWriter() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Connection) beginHalfClose() {
	for {
		cur := c.State()
		if cur == StateClosed || cur == StateHalfClosing {
			return
		}
		if atomic.CompareAndSwapInt32(&c.state, int32(cur), int32(StateHalfClosing)) {
			break
		}
	}
	c.wakeWriter() // let the write task flush anything queued, then close
}

// Shutdown closes the connection. Idempotent: safe to call from the read
// task, the write task, or an external caller concurrently.
func (c *Connection) Shutdown() {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		close(c.closed)
		c.conn.Close()
	})
}
