package tcp

import (
	"fmt"
	"net"
	"time"

	"github.com/Flyzz-z/rocket/ioloop"
)

// Client wraps one dialed Connection with its own owning loop, the
// client-side counterpart to Server's pool-assigned connections. A
// higher-level Channel (package rpc) dials a fresh Client for every call.
type Client struct {
	loop *ioloop.Loop
	conn *Connection
}

// Dial opens addr, starts the connection's read/write tasks on a
// dedicated loop, and returns the Client wrapping it. Decoded frames
// (responses) are delivered to handler.
func Dial(addr string, timeout time.Duration, handler FrameHandler) (*Client, error) {
	nc, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("tcp: dial %s: %w", addr, err)
	}

	loop := ioloop.New()
	go loop.Run()

	c := NewConnection(nc, loop, handler)
	c.Start()

	return &Client{loop: loop, conn: c}, nil
}

// Connection returns the underlying Connection.
func (cl *Client) Connection() *Connection { return cl.conn }

// Close shuts down the connection and stops its owning loop.
func (cl *Client) Close() {
	cl.conn.Shutdown()
	cl.loop.Stop()
}
