package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// tokenBucketScript is the atomic Redis-side token bucket, grounded on
// rishavpaul-system-design/rate-limiter/gateway/ratelimiter/token_bucket.go
// verbatim — the Lua body is unchanged since it is already a route-agnostic
// primitive; only the Go wrapper below adapts it to per-route policies.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local bucket_size = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local tokens = tonumber(redis.call('HGET', key, 'tokens'))
local last_refill = tonumber(redis.call('HGET', key, 'last_refill'))

if tokens == nil then
    tokens = bucket_size
    last_refill = now
end

local elapsed = now - last_refill
local tokens_to_add = elapsed * refill_rate
tokens = math.min(bucket_size, tokens + tokens_to_add)

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

local retry_after = 0
if allowed == 0 then
    retry_after = math.ceil((1 - tokens) / refill_rate)
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill', now)
redis.call('EXPIRE', key, 3600)

return {allowed, math.floor(tokens), retry_after}
`)

// RateLimitResult is the rate-limiting decision for one request.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// RateLimiter is a Redis-backed, route-aware token bucket.
type RateLimiter struct {
	client    redis.Cmdable
	bucket    int64
	refill    float64
	overrides map[string]RateLimitPolicy
}

// NewRateLimiter builds the limiter from the gateway's default bucket plus
// any per-route overrides (spec §4.5 item 3).
func NewRateLimiter(client redis.Cmdable, bucketSize int64, refillPerSec float64, overrides map[string]RateLimitPolicy) *RateLimiter {
	return &RateLimiter{client: client, bucket: bucketSize, refill: refillPerSec, overrides: overrides}
}

// Allow evaluates the bucket for (routePrefix, identity).
func (rl *RateLimiter) Allow(ctx context.Context, routePrefix, identity string) (*RateLimitResult, error) {
	bucket, refill := rl.bucket, rl.refill
	if policy, ok := rl.overrides[routePrefix]; ok {
		bucket, refill = policy.BucketSize, policy.RefillPerSec
	}

	now := float64(time.Now().UnixNano()) / float64(time.Second)
	key := "ratelimit:" + routePrefix + ":" + identity

	res, err := tokenBucketScript.Run(ctx, rl.client, []string{key}, bucket, refill, now).Int64Slice()
	if err != nil {
		return nil, err
	}

	return &RateLimitResult{
		Allowed:    res[0] == 1,
		Remaining:  res[1],
		RetryAfter: time.Duration(res[2]) * time.Second,
	}, nil
}

// Middleware enforces the bucket for the route it is mounted under, setting
// the burst-capacity/replenish-rate/retry-after headers spec §6 specifies.
func (rl *RateLimiter) Middleware(routePrefix string) gin.HandlerFunc {
	bucket, refill := rl.bucket, rl.refill
	if policy, ok := rl.overrides[routePrefix]; ok {
		bucket, refill = policy.BucketSize, policy.RefillPerSec
	}

	return func(c *gin.Context) {
		identity := identityFromContext(c)

		result, err := rl.Allow(c.Request.Context(), routePrefix, identity)
		if err != nil {
			// Redis unavailable: fail open rather than blocking all traffic,
			// matching the gateway's overall "degrade, don't outage" posture.
			c.Next()
			return
		}

		c.Header("X-Rate-Limit-Burst-Capacity", fmt.Sprintf("%d", bucket))
		c.Header("X-Rate-Limit-Replenish-Rate", fmt.Sprintf("%.2f", refill))

		if !result.Allowed {
			// Spec §4.5 item 3 specifies the header value as an integer second
			// count (e.g. "1"), not a Go duration string like "1s".
			retryAfterSeconds := int64(result.RetryAfter.Round(time.Second) / time.Second)
			if retryAfterSeconds < 1 {
				retryAfterSeconds = 1
			}
			c.Header("X-Rate-Limit-Retry-After", fmt.Sprintf("%d", retryAfterSeconds))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}

		c.Next()
	}
}
