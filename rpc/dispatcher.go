package rpc

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/proto"

	"github.com/Flyzz-z/rocket/rlog"
	"github.com/Flyzz-z/rocket/tcp"
	"github.com/Flyzz-z/rocket/wire"
)

// Handler implements one RPC method. It receives the already-unmarshaled
// request and a pre-allocated response to populate; a returned error
// that the handler didn't already attach to ctrl via SetFailed is
// reported as CodeHandlerError.
type Handler func(ctx context.Context, ctrl *Controller, request proto.Message, response proto.Message) error

// MethodDescriptor is the Go-idiomatic stand-in for a
// reflectively-enumerated service method: since generated protobuf
// service stubs are out of scope here, each method is registered
// explicitly with factories for its request/response message types plus
// its handler.
type MethodDescriptor struct {
	NewRequest  func() proto.Message
	NewResponse func() proto.Message
	Handler     Handler
}

// ServiceDescriptor groups a service's methods under its full name. The
// registry key a client dials against is "Name.method".
type ServiceDescriptor struct {
	Name    string
	Methods map[string]*MethodDescriptor
}

// Dispatcher is the server-side method registry and per-frame router,
// grounded on rocket/net/rpc/rpc_dispatcher's full-method-name lookup
// and rpc_interface.cc's reply-on-destruct pattern (reproduced here as
// an unconditional Reply once the handler returns).
type Dispatcher struct {
	methods map[string]*MethodDescriptor
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{methods: make(map[string]*MethodDescriptor)}
}

// RegisterService installs every method of svc under "svc.Name.method".
func (d *Dispatcher) RegisterService(svc *ServiceDescriptor) {
	for name, desc := range svc.Methods {
		d.methods[svc.Name+"."+name] = desc
	}
}

// Handle implements tcp.FrameHandler: dispatch runs once per frame, on
// the connection's owning loop.
func (d *Dispatcher) Handle(c *tcp.Connection, frames []*wire.Frame) {
	for _, f := range frames {
		d.dispatchOne(c, f)
	}
}

func (d *Dispatcher) dispatchOne(c *tcp.Connection, f *wire.Frame) {
	resp := &wire.Frame{MsgID: f.MsgID, MethodName: f.MethodName}

	desc, ok := d.methods[f.MethodName]
	if !ok {
		resp.ErrCode = int32(CodeMethodNotFound)
		resp.ErrInfo = fmt.Sprintf("method not found: %s", f.MethodName)
		c.Reply([]*wire.Frame{resp})
		return
	}

	req := desc.NewRequest()
	if len(f.Payload) > 0 {
		if err := proto.Unmarshal(f.Payload, req); err != nil {
			resp.ErrCode = int32(CodeSerializeError)
			resp.ErrInfo = err.Error()
			c.Reply([]*wire.Frame{resp})
			return
		}
	}

	response := desc.NewResponse()
	ctrl := NewController()
	ctrl.SetMsgID(f.MsgID)
	ctrl.SetPeerAddr(c.RemoteAddr().String())

	ctx := rlog.WithMsgID(context.Background(), f.MsgID)
	rlog.DebugCtx(ctx, "dispatch %s", f.MethodName)

	d.invoke(ctx, ctrl, desc, req, response)

	if ctrl.Failed() {
		resp.ErrCode = int32(ctrl.ErrorCode())
		resp.ErrInfo = ctrl.ErrorInfo()
	} else if payload, err := proto.Marshal(response); err != nil {
		resp.ErrCode = int32(CodeSerializeError)
		resp.ErrInfo = err.Error()
	} else {
		resp.Payload = payload
	}

	c.Reply([]*wire.Frame{resp})
}

// invoke runs desc.Handler, translating a panic into CodeHandlerError
// instead of tearing down the connection.
func (d *Dispatcher) invoke(ctx context.Context, ctrl *Controller, desc *MethodDescriptor, req, response proto.Message) {
	defer func() {
		if r := recover(); r != nil {
			ctrl.SetFailed(CodeHandlerError, fmt.Sprintf("handler panic: %v", r))
		}
	}()
	if err := desc.Handler(ctx, ctrl, req, response); err != nil && !ctrl.Failed() {
		ctrl.SetFailed(CodeHandlerError, err.Error())
	}
}
