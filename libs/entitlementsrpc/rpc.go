// Package entitlementsrpc is the gRPC contract between billing-service and
// its callers. Messages are google.protobuf.Struct values so the contract
// needs no generated code.
package entitlementsrpc

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/slicehub/libs/grpcx"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName           = "slicehub.entitlements.v1.EntitlementsService"
	GetEntitlementsMethod = "/" + ServiceName + "/GetEntitlements"
)

// Server answers GetEntitlements. The request carries "tenant_id"; the
// response carries "tenant_id", "plan" and a "limits" list.
type Server interface {
	GetEntitlements(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func Register(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetEntitlements", Handler: getEntitlementsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "slicehub/entitlements/v1",
}

func getEntitlementsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).GetEntitlements(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetEntitlementsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).GetEntitlements(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type Client struct {
	conn *grpc.ClientConn
}

func NewClient(addr string) (*Client, error) {
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) GetEntitlements(ctx context.Context, tenantID string) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{"tenant_id": tenantID})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, GetEntitlementsMethod, req, out); err != nil {
		return nil, err
	}
	return out, nil
}
