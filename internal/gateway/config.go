// Package gateway implements the C5 Gateway Pipeline: the front door that
// authenticates, rate-limits, routes, and proxies requests to the
// order/inventory/payment services, with a circuit breaker and retry policy
// per upstream. The teacher repo has no gateway of its own — this package is
// assembled from the rest of the example pack (see package-level docs on
// each file for its specific source) on top of the teacher's Gin-free
// net/http convention for every other service; Gin is used here only
// because the gateway is a new component and the pack's own gateway
// examples are Gin-based.
package gateway

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Route describes one proxied path prefix.
type Route struct {
	PathPrefix    string // e.g. "/api/v1/orders"
	Upstream      string // registry service name, e.g. "order-service"
	RequireAuth   bool
	RequiredRole  string // "" = any authenticated identity
	RateLimitKey  string // "" = use identity/IP default
}

// Config is the gateway's runtime configuration.
type Config struct {
	ServicePort string

	JWTSecret string
	APIKeys   map[string]string // api key -> identity name, spec §4.5 item 2

	RedisAddr string

	// Token-bucket defaults; overridable per-route via RateLimitOverrides.
	RateLimitBucketSize   int64
	RateLimitRefillPerSec float64
	RateLimitOverrides    map[string]RateLimitPolicy // keyed by PathPrefix

	BreakerMaxRequests uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration

	UpstreamTimeout time.Duration

	Routes []Route

	// Registry seeds: service name -> instance addresses (round robin).
	Upstreams map[string][]string

	CORSAllowOrigins []string
}

// RateLimitPolicy overrides the default bucket for one route, per spec §4.5
// item 3's per-route/per-identity override contract.
type RateLimitPolicy struct {
	BucketSize   int64
	RefillPerSec float64
}

// LoadConfig builds the gateway config from environment variables, falling
// back to sane defaults wired for local docker-compose use, matching the
// teacher's getEnv/loadConfig idiom in every other cmd/main.go.
func LoadConfig() Config {
	orderAddr := getEnv("ORDER_SERVICE_ADDR", "http://localhost:8001")
	inventoryAddr := getEnv("INVENTORY_SERVICE_ADDR", "http://localhost:8000")
	paymentAddr := getEnv("PAYMENT_SERVICE_ADDR", "http://localhost:8002")
	deliveryAddr := getEnv("DELIVERY_SERVICE_ADDR", "http://localhost:8003")

	return Config{
		ServicePort: getEnv("SERVICE_PORT", "8080"),
		JWTSecret:   getEnv("JWT_SECRET", "dev-secret-change-me"),
		APIKeys:     parseAPIKeys(getEnv("GATEWAY_API_KEYS", "")),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),

		RateLimitBucketSize:   int64(getEnvInt("RATE_LIMIT_BUCKET_SIZE", 20)),
		RateLimitRefillPerSec: float64(getEnvInt("RATE_LIMIT_REFILL_PER_SEC", 10)),
		RateLimitOverrides: map[string]RateLimitPolicy{
			"/api/v1/orders": {BucketSize: 10, RefillPerSec: 5},
		},

		BreakerMaxRequests: 5,
		BreakerInterval:    30 * time.Second,
		BreakerTimeout:     15 * time.Second,

		UpstreamTimeout: 5 * time.Second,

		Routes: []Route{
			{PathPrefix: "/api/v1/orders", Upstream: "order-service", RequireAuth: true},
			{PathPrefix: "/api/v1/inventory", Upstream: "inventory-service", RequireAuth: true, RequiredRole: "admin"},
			{PathPrefix: "/api/v1/payments", Upstream: "payment-service", RequireAuth: true},
			{PathPrefix: "/api/v1/deliveries", Upstream: "delivery-service", RequireAuth: true},
		},

		Upstreams: map[string][]string{
			"order-service":     {orderAddr},
			"inventory-service": {inventoryAddr},
			"payment-service":   {paymentAddr},
			"delivery-service":  {deliveryAddr},
		},

		CORSAllowOrigins: strings.Split(getEnv("CORS_ALLOW_ORIGINS", "*"), ","),
	}
}

func parseAPIKeys(raw string) map[string]string {
	keys := make(map[string]string)
	if raw == "" {
		return keys
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			continue
		}
		keys[parts[0]] = parts[1]
	}
	return keys
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
