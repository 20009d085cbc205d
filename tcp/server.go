package tcp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Flyzz-z/rocket/ioloop"
	"github.com/Flyzz-z/rocket/iothread"
	"github.com/Flyzz-z/rocket/rlog"
)

const sweepInterval = 5 * time.Second

// Server accepts TCP connections and round-robins them across an
// iothread.Pool. It also owns a small loop of its own just to run the
// periodic live-connection sweep.
type Server struct {
	listener net.Listener
	pool     *iothread.Pool
	handler  FrameHandler

	mu    sync.Mutex
	conns map[string]*Connection

	sweepLoop   *ioloop.Loop
	sweepHandle *ioloop.TimerHandle

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewServer builds a Server dispatching accepted connections across
// pool, decoded frames delivered to handler.
func NewServer(pool *iothread.Pool, handler FrameHandler) *Server {
	return &Server{
		pool:      pool,
		handler:   handler,
		conns:     make(map[string]*Connection),
		sweepLoop: ioloop.New(),
		stopped:   make(chan struct{}),
	}
}

// Listen binds addr and starts accepting connections in the background.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("tcp: listen %s: %w", addr, err)
	}
	s.listener = ln

	go s.sweepLoop.Run()
	s.sweepHandle = s.sweepLoop.Timer(sweepInterval, true, s.sweep)

	rlog.Info("tcp: server listening on %s", addr)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopped:
				return
			default:
			}
			var opErr *net.OpError
			if errors.As(err, &opErr) && !opErr.Temporary() {
				rlog.Error("tcp: permanent accept error, stopping: %v", err)
				return
			}
			rlog.Error("tcp: accept error: %v", err)
			continue
		}
		s.pool.Dispatch(conn, s.onAccepted)
	}
}

func (s *Server) onAccepted(conn net.Conn, loop *ioloop.Loop) {
	c := NewConnection(conn, loop, s.handler)

	s.mu.Lock()
	s.conns[c.ID] = c
	s.mu.Unlock()

	rlog.Debug("tcp: accepted connection %s from %s", c.ID, conn.RemoteAddr())
	c.Start()
}

// sweep drops Closed connections from the live set. Runs on
// s.sweepLoop, never concurrently with itself.
func (s *Server) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.conns {
		if c.State() == StateClosed {
			delete(s.conns, id)
		}
	}
}

// Connections returns a snapshot of currently live connections.
func (s *Server) Connections() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

// Addr returns the server's bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener, shuts down every live connection, and stops
// the sweep loop. Idempotent.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopped)
		if s.sweepHandle != nil {
			s.sweepHandle.Cancel()
		}
		s.sweepLoop.Stop()
		if s.listener != nil {
			err = s.listener.Close()
		}
		s.mu.Lock()
		for _, c := range s.conns {
			c.Shutdown()
		}
		s.mu.Unlock()
	})
	return err
}
