package httpx

import (
	"net/http"
	"strings"
)

// Identity headers are stamped by the gateway after JWT verification; services trust them.
const (
	TenantHeader = "X-Tenant-Id"
	UserHeader   = "X-User-Id"
	RoleHeader   = "X-Role"
)

func TenantID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(TenantHeader))
}

func Role(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(RoleHeader))
}

// RequireTenant rejects requests that carry no tenant context.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if TenantID(r) == "" {
			http.Error(w, "missing tenant context", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CanAccessTenant allows admins everywhere and everyone else only inside their own tenant.
func CanAccessTenant(r *http.Request, tenantID string) bool {
	if Role(r) == "admin" {
		return true
	}
	caller := TenantID(r)
	return caller == "" || caller == tenantID
}
