package rpc

import (
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc/codes"
)

const defaultTimeout = 1000 * time.Millisecond

// Closure is a call or handler completion, the Go stand-in for the
// source's protobuf Closure callback. It takes no arguments by design:
// whatever state it needs (controller, request, response) is captured
// by the caller constructing it.
type Closure func()

// Controller carries one call's metadata and error state across the
// client engine and server dispatcher. A Controller is not reused
// across calls.
type Controller struct {
	mu sync.Mutex

	msgID     string
	peerAddr  string
	localAddr string
	timeout   time.Duration

	errCode codes.Code
	errInfo string

	finished  int32
	cancelled int32
}

// NewController returns a Controller with the default 1000ms timeout.
func NewController() *Controller {
	return &Controller{timeout: defaultTimeout}
}

// SetMsgID sets the call's msg-id. The client engine only calls this if
// the caller hasn't already supplied one.
func (c *Controller) SetMsgID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgID = id
}

// MsgID returns the call's msg-id, empty until set.
func (c *Controller) MsgID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msgID
}

// SetTimeout overrides the default 1000ms per-call timeout.
func (c *Controller) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// Timeout returns the configured timeout, defaulting to 1000ms.
func (c *Controller) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timeout <= 0 {
		return defaultTimeout
	}
	return c.timeout
}

// SetPeerAddr records the remote endpoint this call is bound to.
func (c *Controller) SetPeerAddr(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peerAddr = addr
}

// PeerAddr returns the remote endpoint.
func (c *Controller) PeerAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerAddr
}

// SetLocalAddr records the local endpoint handling this call.
func (c *Controller) SetLocalAddr(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localAddr = addr
}

// LocalAddr returns the local endpoint.
func (c *Controller) LocalAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localAddr
}

// SetFailed records a transport or handler error.
func (c *Controller) SetFailed(code codes.Code, info string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errCode = code
	c.errInfo = info
}

// Failed reports whether SetFailed has been called with a non-OK code.
func (c *Controller) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errCode != codes.OK
}

// ErrorCode returns the recorded error code, codes.OK if none.
func (c *Controller) ErrorCode() codes.Code {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errCode
}

// ErrorInfo returns the recorded error message.
func (c *Controller) ErrorInfo() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errInfo
}

// StartCancel marks the call cancelled (used by the timeout path).
func (c *Controller) StartCancel() { atomic.StoreInt32(&c.cancelled, 1) }

// IsCanceled reports whether StartCancel has been called.
func (c *Controller) IsCanceled() bool { return atomic.LoadInt32(&c.cancelled) == 1 }

// TryFinish atomically transitions the call from not-finished to
// finished, returning true exactly once across however many goroutines
// race to call it: whichever of the timer callback and the
// read-completion calls TryFinish first proceeds; the loser is a no-op.
func (c *Controller) TryFinish() bool {
	return atomic.CompareAndSwapInt32(&c.finished, 0, 1)
}

// Finished reports whether the call has already been finished, by
// either path.
func (c *Controller) Finished() bool { return atomic.LoadInt32(&c.finished) == 1 }
