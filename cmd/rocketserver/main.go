// Command rocketserver is a runnable demo wiring config, registry,
// iothread, tcp.Server, and rpc.Dispatcher together, exercising the
// MakeOrder / short-balance / method-not-found scenarios end to end.
package main

import (
	"context"
	"flag"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Flyzz-z/rocket/config"
	"github.com/Flyzz-z/rocket/iothread"
	"github.com/Flyzz-z/rocket/registry"
	"github.com/Flyzz-z/rocket/rlog"
	"github.com/Flyzz-z/rocket/rpc"
	"github.com/Flyzz-z/rocket/tcp"
)

const serverName = "rocketserver"

var configPath = flag.String("config", "configs/server.yaml", "path to the server's yaml config")

func main() {
	flag.Parse()
	rlog.Info("%s starting...", serverName)

	cfg, err := config.Load(*configPath)
	if err != nil {
		rlog.Error("failed to load config from %s: %v", *configPath, err)
		return
	}
	config.SetGlobal(cfg)
	rlog.SetLevel(rlog.ParseLevel(cfg.Log.Level))

	if cfg.Etcd.Host != "" {
		dir, err := registry.InitAsServer(cfg)
		if err != nil {
			rlog.Error("failed to init service directory: %v", err)
		} else {
			defer dir.Close()
		}
	}

	threads := cfg.IOThreads
	if threads <= 0 {
		threads = 4
	}
	pool := iothread.New(threads)
	defer pool.Stop()

	dispatcher := rpc.NewDispatcher()
	dispatcher.RegisterService(orderService())

	srv := tcp.NewServer(pool, dispatcher.Handle)
	addr := listenAddr(cfg)
	if err := srv.Listen(addr); err != nil {
		rlog.Error("failed to listen on %s: %v", addr, err)
		return
	}
	defer srv.Stop()

	rlog.Info("%s listening on %s", serverName, addr)
	select {}
}

func listenAddr(cfg *config.ServerConfig) string {
	port := cfg.ListenPort
	if port == 0 {
		port = 9000
	}
	return fmt.Sprintf("0.0.0.0:%d", port)
}

// orderService implements a normal order and a business-level
// short-balance failure, both returned in-band rather than as a
// transport error.
func orderService() *rpc.ServiceDescriptor {
	return &rpc.ServiceDescriptor{
		Name: "pkg.Order",
		Methods: map[string]*rpc.MethodDescriptor{
			"MakeOrder": {
				NewRequest:  func() proto.Message { return &structpb.Struct{} },
				NewResponse: func() proto.Message { return &structpb.Struct{} },
				Handler:     handleMakeOrder,
			},
		},
	}
}

func handleMakeOrder(ctx context.Context, ctrl *rpc.Controller, request, response proto.Message) error {
	req := request.(*structpb.Struct)
	resp := response.(*structpb.Struct)

	price := req.Fields["price"].GetNumberValue()
	goods := req.Fields["goods"].GetStringValue()
	rlog.InfoCtx(ctx, "MakeOrder price=%v goods=%s", price, goods)

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
}
