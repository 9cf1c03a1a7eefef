package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/md-rashed-zaman/slicehub/libs/entitlementsrpc"
	"github.com/md-rashed-zaman/slicehub/libs/grpcx"
	"github.com/md-rashed-zaman/slicehub/libs/runtime"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/grpcserver"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/usage"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

func startGrpcServer(ctx context.Context, logger *slog.Logger, usageSvc *usage.Service) error {
	port := runtime.Getenv("GRPC_PORT", "9091")
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(grpcx.UnaryServerRequestIDInterceptor()),
	)
	entitlementsrpc.Register(srv, grpcserver.New(usageSvc))

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	return nil
}
