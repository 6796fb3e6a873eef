package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"folioassist/internal/metrics"
)

// rateLimitScript is a token bucket: capacity tokens, refilled at rate per second.
var rateLimitScript = goredis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local bucket = redis.call('HMGET', key, 'tokens', 'updated_at')
local tokens = tonumber(bucket[1])
local updated_at = tonumber(bucket[2])

if tokens == nil or updated_at == nil then
    tokens = capacity
    updated_at = now
end

local elapsed = math.max(0, now - updated_at)
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
local retry_after = 0

if tokens >= requested then
    tokens = tokens - requested
    allowed = 1
else
    retry_after = (requested - tokens) / rate
end

redis.call('HSET', key, 'tokens', tokens, 'updated_at', now)
redis.call('EXPIRE', key, 86400)

return {allowed, math.floor(tokens), math.ceil(retry_after)}
`)

// ScriptRunner runs a Lua script; satisfied by *redis.Client.
type ScriptRunner interface {
	RunScript(ctx context.Context, script *goredis.Script, keys []string, args ...interface{}) (interface{}, error)
}

// RateLimit limits requests per client IP with a token bucket of 2*qps tokens
// refilled at qps per second. Redis errors let the request through.
func RateLimit(runner ScriptRunner, qps int, m *metrics.Metrics, log zerolog.Logger) gin.HandlerFunc {
	capacity := 2 * qps
	rate := float64(qps)
	return func(c *gin.Context) {
		key := "folioassist:rate_limit:" + c.ClientIP()
		now := float64(time.Now().UnixNano()) / 1e9

		result, err := runner.RunScript(c.Request.Context(), rateLimitScript, []string{key}, capacity, rate, now, 1)
		if err != nil {
			log.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
			c.Next()
			return
		}

		allowed := int64(0)
		remaining := capacity
		retryAfter := 0
		if arr, ok := result.([]interface{}); ok && len(arr) >= 3 {
			if v, ok := arr[0].(int64); ok {
				allowed = v
			}
			if v, ok := arr[1].(int64); ok {
				remaining = int(v)
			}
			if v, ok := arr[2].(int64); ok {
				retryAfter = int(v)
			}
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(capacity))
		if allowed == 0 {
			m.RecordRateLimited()
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests, please slow down"})
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Next()
	}
}
