package entitlementsrpc

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type testServer struct{}

func (testServer) GetEntitlements(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenant := req.GetFields()["tenant_id"].GetStringValue()
	if tenant == "" {
		return nil, status.Error(codes.InvalidArgument, "tenant_id is required")
	}
	return structpb.NewStruct(map[string]any{"tenant_id": tenant, "plan": "pro"})
}

func TestClientGetEntitlements(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	srv := grpc.NewServer()
	Register(srv, testServer{})
	go func() {
		_ = srv.Serve(lis)
	}()
	defer srv.Stop()

	client, err := NewClient(lis.Addr().String())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.GetEntitlements(ctx, "pizzaria-centro")
	if err != nil {
		t.Fatalf("get entitlements: %v", err)
	}
	if plan := resp.GetFields()["plan"].GetStringValue(); plan != "pro" {
		t.Fatalf("unexpected plan: %s", plan)
	}

	_, err = client.GetEntitlements(ctx, "")
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}
