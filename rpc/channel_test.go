package rpc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Flyzz-z/rocket/iothread"
	"github.com/Flyzz-z/rocket/tcp"
)

func startOrderServer(t *testing.T) string {
	t.Helper()
	pool := iothread.New(2)
	d := newOrderDispatcher()
	d.RegisterService(&ServiceDescriptor{
		Name: "pkg.Slow",
		Methods: map[string]*MethodDescriptor{
			"Delay": {
				NewRequest:  func() proto.Message { return &structpb.Struct{} },
				NewResponse: func() proto.Message { return &structpb.Struct{} },
				Handler: func(ctx context.Context, ctrl *Controller, request, response proto.Message) error {
					time.Sleep(400 * time.Millisecond)
					return nil
				},
			},
		},
	})

	srv := tcp.NewServer(pool, d.Handle)
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	t.Cleanup(func() {
		srv.Stop()
		pool.Stop()
	})
	return srv.Addr().String()
}

func TestCallMethodHappyPath(t *testing.T) {
	addr := startOrderServer(t)
	ch := NewChannel([]string{addr}, nil, nil)

	ctrl := NewController()
	ctrl.SetMsgID("99998888")
	ctrl.SetTimeout(10 * time.Second)

	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"price": structpb.NewNumberValue(100),
		"goods": structpb.NewStringValue("apple"),
	}}
	resp := &structpb.Struct{}

	done := make(chan struct{})
	ch.CallMethod(context.Background(), "pkg.Order.MakeOrder", ctrl, req, resp, func() { close(done) })

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("call never completed")
	}

	require.False(t, ctrl.Failed())
	assert.Equal(t, "20230514", resp.Fields["order_id"].GetStringValue())
	assert.True(t, ctrl.Finished())
}

func TestCallMethodMethodNotFound(t *testing.T) {
	addr := startOrderServer(t)
	ch := NewChannel([]string{addr}, nil, nil)

	ctrl := NewController()
	req := &structpb.Struct{}
	resp := &structpb.Struct{}

	done := make(chan struct{})
	ch.CallMethod(context.Background(), "pkg.Order.Unknown", ctrl, req, resp, func() { close(done) })

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("call never completed")
	}

	require.True(t, ctrl.Failed())
	assert.Equal(t, CodeMethodNotFound, ctrl.ErrorCode())
	assert.NotEmpty(t, ctrl.ErrorInfo())
}

func TestCallMethodTimesOutWhenServerIsSlow(t *testing.T) {
	addr := startOrderServer(t)
	ch := NewChannel([]string{addr}, nil, nil)

	ctrl := NewController()
	ctrl.SetTimeout(200 * time.Millisecond)
	req := &structpb.Struct{}
	resp := &structpb.Struct{}

	var calls int32
	var mu sync.Mutex
	done := make(chan struct{})
	ch.CallMethod(context.Background(), "pkg.Slow.Delay", ctrl, req, resp, func() {
		mu.Lock()
		calls++
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("call never completed")
	}

	require.True(t, ctrl.Failed())
	assert.Equal(t, CodeCallTimeout, ctrl.ErrorCode())
	assert.Contains(t, ctrl.ErrorInfo(), "200ms")

	// Give the slow server time to finish and attempt a (discarded) late
	// reply; the completion must still have run exactly once.
	time.Sleep(500 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, 1, calls)
}

func TestCallMethodFailsFastWithNoEndpoints(t *testing.T) {
	ch := NewChannel(nil, nil, nil)

	ctrl := NewController()
	req := &structpb.Struct{}
	resp := &structpb.Struct{}

	done := make(chan struct{})
	ch.CallMethod(context.Background(), "pkg.Order.MakeOrder", ctrl, req, resp, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("call never completed")
	}

	assert.Equal(t, CodePeerAddrUnavailable, ctrl.ErrorCode())
}

func TestChannelResolveLiteralAddress(t *testing.T) {
	ch := NewChannel(nil, nil, nil)
	assert.Equal(t, []string{"10.0.0.1:9000"}, ch.Resolve("10.0.0.1:9000"))
}
