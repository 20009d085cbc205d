// Command rocketclient dials rocketserver and drives three scenarios
// (a normal MakeOrder, a short-balance business error, and a
// method-not-found call), printing the controller's outcome for each.
package main

import (
	"context"
	"flag"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Flyzz-z/rocket/rlog"
	"github.com/Flyzz-z/rocket/rpc"
)

var (
	addr    = flag.String("addr", "127.0.0.1:9000", "rocketserver address, host:port")
	timeout = flag.Duration("timeout", 10*time.Second, "per-call timeout")
)

func main() {
	flag.Parse()
	rlog.Info("rocketclient calling %s", *addr)

	ch := rpc.NewChannel([]string{*addr}, nil, nil)

	makeOrder(ch, "99998888", 100, "apple")
	makeOrder(ch, "88889999", 5, "pencil")
	methodNotFound(ch)
}

func makeOrder(ch *rpc.Channel, msgID string, price float64, goods string) {
	ctrl := rpc.NewController()
	ctrl.SetMsgID(msgID)
	ctrl.SetTimeout(*timeout)

	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"price": structpb.NewNumberValue(price),
		"goods": structpb.NewStringValue(goods),
	}}
	resp := &structpb.Struct{}

	done := make(chan struct{})
	ch.CallMethod(context.Background(), "pkg.Order.MakeOrder", ctrl, req, resp, func() { close(done) })
	<-done

	if ctrl.Failed() {
		rlog.Error("MakeOrder(%s) transport error: %s %s", msgID, ctrl.ErrorCode(), ctrl.ErrorInfo())
		return
	}
	if orderID := resp.Fields["order_id"].GetStringValue(); orderID != "" {
		rlog.Info("MakeOrder(%s) succeeded: order_id=%s", msgID, orderID)
		return
	}
	rlog.Info("MakeOrder(%s) rejected: ret_code=%v res_info=%s", msgID,
		resp.Fields["ret_code"].GetNumberValue(), resp.Fields["res_info"].GetStringValue())
}

func methodNotFound(ch *rpc.Channel) {
	ctrl := rpc.NewController()
	ctrl.SetTimeout(*timeout)

	req := &structpb.Struct{}
	resp := &structpb.Struct{}

	done := make(chan struct{})
	ch.CallMethod(context.Background(), "pkg.Order.Unknown", ctrl, req, resp, func() { close(done) })
	<-done

	rlog.Info("Unknown call finished: code=%s info=%s", ctrl.ErrorCode(), ctrl.ErrorInfo())
}
