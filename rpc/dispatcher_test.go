package rpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Flyzz-z/rocket/buffer"
	"github.com/Flyzz-z/rocket/ioloop"
	"github.com/Flyzz-z/rocket/tcp"
	"github.com/Flyzz-z/rocket/wire"
)

func newOrderDispatcher() *Dispatcher {
	d := NewDispatcher()
	d.RegisterService(&ServiceDescriptor{
		Name: "pkg.Order",
		Methods: map[string]*MethodDescriptor{
			"MakeOrder": {
				NewRequest:  func() proto.Message { return &structpb.Struct{} },
				NewResponse: func() proto.Message { return &structpb.Struct{} },
				Handler: func(ctx context.Context, ctrl *Controller, request, response proto.Message) error {
					req := request.(*structpb.Struct)
					price := req.Fields["price"].GetNumberValue()
					resp := response.(*structpb.Struct)
					if price < 10 {
						resp.Fields = map[string]*structpb.Value{
							"ret_code": structpb.NewNumberValue(-1),
							"res_info": structpb.NewStringValue("short balance"),
						}
						return nil
					}
					resp.Fields = map[string]*structpb.Value{
						"order_id": structpb.NewStringValue("20230514"),
					}
					return nil
				},
			},
			"Panics": {
				NewRequest:  func() proto.Message { return &structpb.Struct{} },
				NewResponse: func() proto.Message { return &structpb.Struct{} },
				Handler: func(ctx context.Context, ctrl *Controller, request, response proto.Message) error {
					panic("boom")
				},
			},
			"Failing": {
				NewRequest:  func() proto.Message { return &structpb.Struct{} },
				NewResponse: func() proto.Message { return &structpb.Struct{} },
				Handler: func(ctx context.Context, ctrl *Controller, request, response proto.Message) error {
					return errors.New("always fails")
				},
			},
		},
	})
	return d
}

// dispatcherHarness wires a Dispatcher onto one end of an in-memory
// pipe and decodes whatever it replies with on the other end, without
// going through a real listening socket.
type dispatcherHarness struct {
	serverSock net.Conn
	clientSock net.Conn
	loop       *ioloop.Loop
	server     *tcp.Connection
	replies    chan *wire.Frame
}

func newDispatcherHarness(t *testing.T, d *Dispatcher) *dispatcherHarness {
	t.Helper()
	clientSock, serverSock := net.Pipe()

	loop := ioloop.New()
	go loop.Run()
	t.Cleanup(loop.Stop)

	server := tcp.NewConnection(serverSock, loop, d.Handle)
	server.Start()

	h := &dispatcherHarness{
		serverSock: serverSock,
		clientSock: clientSock,
		loop:       loop,
		server:     server,
		replies:    make(chan *wire.Frame, 4),
	}
	go h.readReplies()
	return h
}

func (h *dispatcherHarness) readReplies() {
	in := buffer.New(4096)
	buf := make([]byte, 4096)
	for {
		n, err := h.clientSock.Read(buf)
		if n > 0 {
			in.Write(buf[:n])
			var frames []*wire.Frame
			wire.Decode(&frames, in)
			for _, f := range frames {
				h.replies <- f
			}
		}
		if err != nil {
			return
		}
	}
}

func (h *dispatcherHarness) send(f *wire.Frame) {
	staging := buffer.New(64)
	wire.Encode([]*wire.Frame{f}, staging)
	_, _ = h.clientSock.Write(staging.Bytes())
}

func (h *dispatcherHarness) expectReply(t *testing.T) *wire.Frame {
	t.Helper()
	select {
	case f := <-h.replies:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no reply received")
		return nil
	}
}

func TestDispatchMethodNotFoundRepliesWithErrorCode(t *testing.T) {
	h := newDispatcherHarness(t, newOrderDispatcher())

	h.send(&wire.Frame{MsgID: "1", MethodName: "pkg.Order.Unknown"})
	reply := h.expectReply(t)

	assert.Equal(t, "1", reply.MsgID)
	assert.Equal(t, int32(CodeMethodNotFound), reply.ErrCode)
	assert.NotEmpty(t, reply.ErrInfo)
	assert.Empty(t, reply.Payload)
}

func TestDispatchHandlerPanicBecomesHandlerError(t *testing.T) {
	h := newDispatcherHarness(t, newOrderDispatcher())

	payload, err := proto.Marshal(&structpb.Struct{})
	require.NoError(t, err)

	h.send(&wire.Frame{MsgID: "2", MethodName: "pkg.Order.Panics", Payload: payload})
	reply := h.expectReply(t)

	assert.Equal(t, int32(CodeHandlerError), reply.ErrCode)
	assert.Contains(t, reply.ErrInfo, "boom")
}

func TestDispatchHandlerErrorWithoutSetFailedBecomesHandlerError(t *testing.T) {
	h := newDispatcherHarness(t, newOrderDispatcher())

	h.send(&wire.Frame{MsgID: "3", MethodName: "pkg.Order.Failing"})
	reply := h.expectReply(t)

	assert.Equal(t, int32(CodeHandlerError), reply.ErrCode)
	assert.Contains(t, reply.ErrInfo, "always fails")
}

func TestDispatchHappyPathReturnsOrderID(t *testing.T) {
	h := newDispatcherHarness(t, newOrderDispatcher())

	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"price": structpb.NewNumberValue(100),
		"goods": structpb.NewStringValue("apple"),
	}}
	payload, err := proto.Marshal(req)
	require.NoError(t, err)

	h.send(&wire.Frame{MsgID: "99998888", MethodName: "pkg.Order.MakeOrder", Payload: payload})
	reply := h.expectReply(t)

	require.Equal(t, int32(0), reply.ErrCode)
	var resp structpb.Struct
	require.NoError(t, proto.Unmarshal(reply.Payload, &resp))
	assert.Equal(t, "20230514", resp.Fields["order_id"].GetStringValue())
}

func TestDispatchShortBalanceIsABusinessErrorNotATransportError(t *testing.T) {
	h := newDispatcherHarness(t, newOrderDispatcher())

	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"price": structpb.NewNumberValue(5),
	}}
	payload, err := proto.Marshal(req)
	require.NoError(t, err)

	h.send(&wire.Frame{MsgID: "4", MethodName: "pkg.Order.MakeOrder", Payload: payload})
	reply := h.expectReply(t)

	require.Equal(t, int32(0), reply.ErrCode, "business-level failure is not a transport failure")
	var resp structpb.Struct
	require.NoError(t, proto.Unmarshal(reply.Payload, &resp))
	assert.Equal(t, -1.0, resp.Fields["ret_code"].GetNumberValue())
	assert.Equal(t, "short balance", resp.Fields["res_info"].GetStringValue())
}
