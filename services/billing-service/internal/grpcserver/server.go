// Package grpcserver serves tenant entitlements over the entitlementsrpc
// contract.
package grpcserver

import (
	"context"
	"errors"
	"strings"

	"github.com/md-rashed-zaman/slicehub/libs/entitlementsrpc"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/usage"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type Snapshotter interface {
	Snapshot(ctx context.Context, tenantID string) (usage.Snapshot, error)
}

type Server struct {
	usage Snapshotter
}

var _ entitlementsrpc.Server = (*Server)(nil)

func New(u Snapshotter) *Server {
	return &Server{usage: u}
}

func (s *Server) GetEntitlements(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID := strings.TrimSpace(req.GetFields()["tenant_id"].GetStringValue())
	if tenantID == "" {
		return nil, status.Error(codes.InvalidArgument, "tenant_id is required")
	}

	snap, err := s.usage.Snapshot(ctx, tenantID)
	if err != nil {
		if errors.Is(err, usage.ErrInvalidArgument) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.Internal, "failed to load entitlements")
	}
	return structpb.NewStruct(Encode(snap))
}

// Encode flattens a snapshot into structpb-compatible values. Custom plans
// carry an empty limits list.
func Encode(snap usage.Snapshot) map[string]any {
	limits := make([]any, 0, len(snap.Checks))
	for _, c := range snap.Checks {
		limits = append(limits, map[string]any{
			"kind":            string(c.Kind),
			"limit":           c.Limit,
			"addon":           c.AddOn,
			"effective_limit": c.EffectiveLimit,
			"used":            c.Used,
			"percent_used":    c.PercentUsed,
			"level":           string(c.Level),
		})
	}
	return map[string]any{
		"tenant_id":    snap.TenantID,
		"plan":         snap.Plan,
		"status":       snap.Status,
		"period":       snap.Period,
		"custom":       snap.Custom,
		"addon_orders": snap.AddOnOrders,
		"limits":       limits,
	}
}
