package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slicehub/libs/config"
	"github.com/md-rashed-zaman/slicehub/libs/entitlementsrpc"
	"github.com/md-rashed-zaman/slicehub/libs/httpx"
)

func setupEntitlementsRoutes(ctx context.Context, mux *http.ServeMux, logger *slog.Logger) {
	addr := config.String("BILLING_GRPC_ADDR", "")
	if addr == "" {
		logger.Info("entitlements debug route disabled (no BILLING_GRPC_ADDR)")
		return
	}
	client, err := entitlementsrpc.NewClient(addr)
	if err != nil {
		logger.Error("entitlements client init failed", "err", err)
		return
	}

	go func() {
		<-ctx.Done()
		_ = client.Close()
	}()

	mux.HandleFunc("/debug/entitlements", func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
		if tenantID == "" {
			tenantID = httpx.TenantID(r)
		}
		if tenantID == "" {
			http.Error(w, "tenant_id is required", http.StatusBadRequest)
			return
		}

		reqCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		resp, err := client.GetEntitlements(reqCtx, tenantID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, resp.AsMap())
	})
}
