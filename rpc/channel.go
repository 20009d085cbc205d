package rpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"

	"github.com/Flyzz-z/rocket/config"
	"github.com/Flyzz-z/rocket/ioloop"
	"github.com/Flyzz-z/rocket/registry"
	"github.com/Flyzz-z/rocket/rlog"
	"github.com/Flyzz-z/rocket/tcp"
	"github.com/Flyzz-z/rocket/wire"
)

const unspecifiedAddr = ""

// Channel is the client engine, grounded on rocket/net/rpc/rpc_channel.cc:
// a round-robin list of candidate endpoints plus optional collaborators
// (a service directory and a local config stub map) used to resolve a
// logical name into endpoints.
type Channel struct {
	mu        sync.Mutex
	endpoints []string
	next      uint64

	directory *registry.Directory
	stubs     map[string]config.StubConfig
}

// NewChannel builds a Channel bound to a fixed endpoint list. directory
// and stubs may be nil if this channel's caller always supplies literal
// host:port endpoints.
func NewChannel(endpoints []string, directory *registry.Directory, stubs map[string]config.StubConfig) *Channel {
	return &Channel{endpoints: endpoints, directory: directory, stubs: stubs}
}

// Resolve is the address resolution helper: a literal host:port, a
// service name resolved via the service directory, or a service name
// found in local configuration stubs. Returns a possibly empty list.
func (ch *Channel) Resolve(str string) []string {
	if _, _, err := net.SplitHostPort(str); err == nil {
		return []string{str}
	}
	if ch.directory != nil {
		if eps := ch.directory.Discover(str); len(eps) > 0 {
			return eps
		}
	}
	if ch.stubs != nil {
		if s, ok := ch.stubs[str]; ok && s.Addr != "" {
			return []string{s.Addr}
		}
	}
	return nil
}

func (ch *Channel) nextEndpoint() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	n := len(ch.endpoints)
	for i := 0; i < n; i++ {
		idx := ch.next % uint64(n)
		ch.next++
		if ep := ch.endpoints[idx]; ep != unspecifiedAddr {
			return ep
		}
	}
	return ""
}

// CallMethod performs one RPC call: it selects the
// next live endpoint, resolves the call's msg-id, dials, writes the
// request frame, and arranges for either the response or the timeout to
// finish the call exactly once via Controller.TryFinish.
func (ch *Channel) CallMethod(ctx context.Context, method string, ctrl *Controller, request proto.Message, response proto.Message, done Closure) {
	if ctrl == nil || request == nil || response == nil {
		if ctrl != nil {
			ctrl.SetFailed(CodeChannelInit, "controller, request and response must all be non-nil")
		}
		runDone(done)
		return
	}

	addr := ch.nextEndpoint()
	if addr == "" {
		ctrl.SetFailed(CodePeerAddrUnavailable, "no endpoint available for call")
		runDone(done)
		return
	}

	if ctrl.MsgID() == "" {
		if id := rlog.MsgID(ctx); id != "" {
			ctrl.SetMsgID(id)
		} else {
			ctrl.SetMsgID(uuid.New().String())
		}
	}
	msgID := ctrl.MsgID()

	reqBytes, err := proto.Marshal(request)
	if err != nil {
		ctrl.SetFailed(CodeSerializeError, err.Error())
		runDone(done)
		return
	}

	timeout := ctrl.Timeout()
	loop := ioloop.New()
	go loop.Run()

	var once sync.Once
	finish := func() {
		once.Do(func() {
			loop.Stop()
			runDone(done)
		})
	}

	timer := loop.Timer(timeout, false, func() {
		if !ctrl.TryFinish() {
			return
		}
		ctrl.SetFailed(CodeCallTimeout, fmt.Sprintf("call timed out after %s", timeout))
		ctrl.StartCancel()
		finish()
	})

	go ch.runCall(addr, timeout, msgID, method, reqBytes, ctrl, response, timer, finish)
}

func (ch *Channel) runCall(addr string, timeout time.Duration, msgID, method string, reqBytes []byte, ctrl *Controller, response proto.Message, timer *ioloop.TimerHandle, finish func()) {
	handler := func(c *tcp.Connection, frames []*wire.Frame) {
		for _, f := range frames {
			if f.MsgID != msgID {
				rlog.Debug("rpc: dropping frame with unexpected msg-id %s on a single-call connection", f.MsgID)
				continue
			}
			timer.Cancel()
			if !ctrl.TryFinish() {
				return
			}
			if f.ErrCode != 0 {
				ctrl.SetFailed(codeFromWire(f.ErrCode), f.ErrInfo)
			} else if len(f.Payload) > 0 {
				if err := proto.Unmarshal(f.Payload, response); err != nil {
					ctrl.SetFailed(CodeSerializeError, err.Error())
				}
			}
			c.Shutdown()
			finish()
		}
	}

	client, err := tcp.Dial(addr, timeout, handler)
	if err != nil {
		timer.Cancel()
		if ctrl.TryFinish() {
			ctrl.SetFailed(CodeConnectError, err.Error())
			finish()
		}
		return
	}

	client.Connection().PushSend([]*wire.Frame{{
		MsgID:      msgID,
		MethodName: method,
		Payload:    reqBytes,
	}})
}

func runDone(done Closure) {
	if done != nil {
		done()
	}
}
