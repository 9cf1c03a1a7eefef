package main

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slicehub/libs/auth"
	"github.com/md-rashed-zaman/slicehub/libs/httpx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type routesConfig struct {
	LoyaltyURL string
	BillingURL string
	JWTSecret  string
	JWKSURL    string
	JWKSTTL    time.Duration
}

func registerRoutes(mux *http.ServeMux, cfg routesConfig) {
	loyaltyProxy := httputil.NewSingleHostReverseProxy(mustParseURL(cfg.LoyaltyURL))
	billingProxy := httputil.NewSingleHostReverseProxy(mustParseURL(cfg.BillingURL))
	otelTransport := otelhttp.NewTransport(http.DefaultTransport)
	loyaltyProxy.Transport = otelTransport
	billingProxy.Transport = otelTransport

	var jwksClient *auth.JWKSClient
	if cfg.JWKSURL != "" {
		jwksClient = auth.NewJWKSClient(cfg.JWKSURL, cfg.JWKSTTL)
	}
	authed := func(next http.Handler, roles ...string) http.Handler {
		return requireAuth(requireRole(next, roles...), cfg.JWTSecret, jwksClient)
	}

	// Counter staff run the loyalty program; plan changes stay with owners.
	registerProxy(mux, "/api/v1/loyalty/tiers", loyaltyProxy)
	registerProxy(mux, "/api/v1/loyalty", authed(loyaltyProxy, "owner", "admin", "staff"))

	// Stripe reaches the webhook without a JWT; the signature is the auth.
	registerProxy(mux, "/api/v1/billing/webhooks/stripe", billingProxy)
	// Checkout return pages poll these without a JWT.
	registerProxy(mux, "/api/v1/billing/checkout/session", billingProxy)
	registerProxy(mux, "/api/v1/billing/checkout/session/ack", billingProxy)
	registerProxy(mux, "/api/v1/billing/plans", billingProxy)
	registerProxy(mux, "/api/v1/billing/entitlements", authed(billingProxy, "owner", "admin", "staff"))
	registerProxy(mux, "/api/v1/billing", authed(billingProxy, "owner", "admin"))
}

func registerProxy(mux *http.ServeMux, prefix string, handler http.Handler) {
	if !strings.HasSuffix(prefix, "/") {
		mux.Handle(prefix, handler)
		mux.Handle(prefix+"/", handler)
		return
	}
	mux.Handle(prefix, handler)
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// requireAuth verifies the bearer token and replaces any identity headers
// the client sent with the token's claims.
func requireAuth(next http.Handler, jwtSecret string, jwksClient *auth.JWKSClient) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") || len(strings.TrimSpace(authHeader)) <= len("Bearer ") {
			http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		claims, err := verify(token, jwtSecret, jwksClient)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		r.Header.Del(httpx.UserHeader)
		r.Header.Del(httpx.TenantHeader)
		r.Header.Del(httpx.RoleHeader)
		r.Header.Set(httpx.UserHeader, claims.Sub)
		r.Header.Set(httpx.TenantHeader, claims.TenantID)
		r.Header.Set(httpx.RoleHeader, claims.Role)
		next.ServeHTTP(w, r)
	})
}

func verify(token, jwtSecret string, jwksClient *auth.JWKSClient) (*auth.Claims, error) {
	if jwksClient == nil {
		return auth.ParseAndVerifyHS256(token, jwtSecret)
	}
	header, err := auth.ParseHeader(token)
	if err != nil {
		return nil, err
	}
	if header.Alg == "RS256" && header.Kid != "" {
		pub, err := jwksClient.Get(header.Kid)
		if err != nil {
			return nil, err
		}
		return auth.VerifyRS256(token, pub)
	}
	return auth.ParseAndVerifyHS256(token, jwtSecret)
}

func requireRole(next http.Handler, roles ...string) http.Handler {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := allowed[httpx.Role(r)]; !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
