package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/getwalmarket/walmarket/config"
	"github.com/getwalmarket/walmarket/logging"
	"github.com/getwalmarket/walmarket/storage"
	"github.com/getwalmarket/walmarket/storage/grpcblob"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

func run(ctx context.Context, args []string, errOut io.Writer) int {
	fs := flag.NewFlagSet("walmarket-blobd", flag.ContinueOnError)
	fs.SetOutput(errOut)
	listen := fs.String("listen", "127.0.0.1:7777", "listen address")
	configPath := fs.String("config", "", "oracle.yaml whose storage section backs the daemon")
	maxMsg := fs.Int("max-msg-bytes", 64<<20, "Maximum gRPC message size")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Read(*configPath, ".env")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	cfg.Logging.Service = "walmarket-blobd"
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	defer func() { _ = logger.Sync() }()

	store, closeFn, err := cfg.Storage.Open(ctx)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	defer func() { _ = closeFn() }()

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	logger.Info("blob daemon listening",
		zap.String("addr", lis.Addr().String()),
		zap.Int("backends", len(cfg.Storage.Backends)),
		zap.String("write_policy", cfg.Storage.WritePolicy))

	if err := serve(ctx, lis, store, logger, *maxMsg); err != nil {
		logger.Error("serve failed", zap.Error(err))
		return 1
	}
	return 0
}

// serve runs the blob service on lis until ctx is done, then drains
// in-flight calls.
func serve(ctx context.Context, lis net.Listener, store storage.BlobStore, logger *zap.Logger, maxMsg int) error {
	s := grpc.NewServer(grpc.MaxRecvMsgSize(maxMsg), grpc.MaxSendMsgSize(maxMsg))
	grpcblob.RegisterBlobStoreServer(s, &grpcblob.Server{Store: store, Logger: logger})

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			s.GracefulStop()
		case <-done:
		}
	}()
	defer close(done)

	return s.Serve(lis)
}
