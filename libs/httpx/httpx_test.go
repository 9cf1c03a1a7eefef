package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mark("a"), mark("b"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if strings.Join(order, ",") != "a,b,handler" {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestWithRequestID(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if seen != "req-42" || rw.Header().Get(RequestIDHeader) != "req-42" {
		t.Fatalf("expected propagated id, got ctx=%q header=%q", seen, rw.Header().Get(RequestIDHeader))
	}

	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(seen) != 32 {
		t.Fatalf("expected generated 32-char id, got %q", seen)
	}

	for _, bad := range []string{"pedido 42\nlevel=ERROR", strings.Repeat("a", 65), "id\"quoted\""} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, bad)
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		if seen == bad || len(seen) != 32 || rw.Header().Get(RequestIDHeader) != seen {
			t.Fatalf("expected %q to be replaced, got ctx=%q header=%q", bad, seen, rw.Header().Get(RequestIDHeader))
		}
	}
}

func TestRateLimiterBucketsByTenant(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	h := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(tenant string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		if tenant != "" {
			req.Header.Set(TenantHeader, tenant)
		}
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		return rw.Code
	}

	if send("pizzaria-a") != http.StatusOK || send("pizzaria-a") != http.StatusOK {
		t.Fatal("expected first two requests to pass")
	}
	if code := send("pizzaria-a"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := send("pizzaria-b"); code != http.StatusOK {
		t.Fatalf("expected other tenant to pass, got %d", code)
	}
}

func TestRequireTenantAndAccess(t *testing.T) {
	h := RequireTenant(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without tenant, got %d", rw.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TenantHeader, "t1")
	if CanAccessTenant(req, "t2") {
		t.Fatal("owner must not reach another tenant")
	}
	req.Header.Set(RoleHeader, "admin")
	if !CanAccessTenant(req, "t2") {
		t.Fatal("admin should reach any tenant")
	}
}

func TestWithCORSPreflight(t *testing.T) {
	h := WithCORS(CORSPolicy{
		AllowedOrigins: []string{"https://painel.slicehub.app"},
		AllowedMethods: []string{"GET", "POST"},
		MaxAge:         10 * time.Minute,
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/loyalty/tiers", nil)
	req.Header.Set("Origin", "https://painel.slicehub.app")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rw.Code)
	}
	if rw.Header().Get("Access-Control-Max-Age") != "600" {
		t.Fatalf("unexpected max-age %q", rw.Header().Get("Access-Control-Max-Age"))
	}
}

func TestWriteLimitHeaders(t *testing.T) {
	rw := httptest.NewRecorder()
	if !writeLimitHeaders(rw, 60, 59, 20*time.Second) {
		t.Fatal("expected request within limit")
	}
	if rw.Header().Get("X-RateLimit-Remaining") != "1" || rw.Header().Get("Retry-After") != "" {
		t.Fatalf("unexpected headers: %v", rw.Header())
	}

	rw = httptest.NewRecorder()
	if writeLimitHeaders(rw, 60, 61, 1500*time.Millisecond) {
		t.Fatal("expected request over limit")
	}
	if rw.Header().Get("X-RateLimit-Remaining") != "0" || rw.Header().Get("Retry-After") != "2" {
		t.Fatalf("unexpected headers: %v", rw.Header())
	}
}

func TestScriptInt(t *testing.T) {
	for _, v := range []any{int64(7), 7, "7"} {
		if n, err := scriptInt(v); err != nil || n != 7 {
			t.Fatalf("scriptInt(%#v) = %d, %v", v, n, err)
		}
	}
	if _, err := scriptInt(7.5); err == nil {
		t.Fatal("expected error for float result")
	}
}
