package middleware // middleware provides shared request processing for handlers

import (
	"math"    // round Retry-After up to whole seconds
	"strconv" // header values and key parts
	"strings" // key assembly and bearer parsing
	"time"    // bucket clock and TTL

	"github.com/labstack/echo/v4"  // echo provides middleware chaining and context
	"github.com/redis/go-redis/v9" // Redis client used to run the bucket script
	"go.uber.org/zap"              // logs limiter failures and blocks

	"github.com/iliyamo/auth-session-service/internal/apperr"  // 429 responses
	"github.com/iliyamo/auth-session-service/internal/config"  // limiter settings
	"github.com/iliyamo/auth-session-service/internal/metrics" // blocked request counter
)

// tokenBucket refills refill_tokens every interval_ms up to capacity and
// takes one token per request.  Returns {allowed, remaining, retry_after_ms}.
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill_tokens = tonumber(ARGV[3])
local interval_ms = tonumber(ARGV[4])
local ttl_seconds = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if tokens == nil or last_refill == nil then
  tokens = capacity
  last_refill = now_ms
end

local elapsed = math.max(0, now_ms - last_refill)
if interval_ms > 0 and refill_tokens > 0 then
  local intervals = math.floor(elapsed / interval_ms)
  if intervals > 0 then
    tokens = math.min(capacity, tokens + intervals * refill_tokens)
    last_refill = last_refill + intervals * interval_ms
  end
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
  allowed = 1
  tokens = tokens - 1
else
  retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)
return {allowed, tokens, retry_after_ms}
`)

// NewTokenBucket limits requests per key with a Redis-backed token bucket.
// The limiter is a no-op when disabled or when rdb is nil, and fails open on
// Redis errors.  It runs ahead of JWTAuth, so user-keyed strategies read the
// caller from the Bearer token through tokens; a nil tokens keys every caller
// as anonymous.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, tokens AccessVerifier, log *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	log = log.With(zap.String("component", "ratelimit"))
	now := time.Now

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Bucket state lives in one hash per key; the script refills and
			// takes a token atomically.
			key := buildRateKey(cfg, c, callerID(cfg, c, tokens))
			args := []any{
				now().UnixMilli(),
				cfg.Capacity,
				cfg.RefillTokens,
				cfg.RefillInterval.Milliseconds(),
				int64(cfg.TTL / time.Second),
			}

			vals, err := tokenBucket.Run(c.Request().Context(), rdb, []string{key}, args...).Int64Slice()
			if err != nil || len(vals) != 3 {
				// Fail open.
				log.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
				return next(c)
			}
			allowed, remaining, retryMs := vals[0] == 1, vals[1], vals[2]

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if !allowed {
				secs := int(math.Ceil(float64(retryMs) / 1000))
				h.Set("Retry-After", strconv.Itoa(secs))
				metrics.RateLimitedTotal.Inc()
				if cfg.Debug {
					log.Debug("request blocked", zap.String("key", key), zap.Int64("retry_ms", retryMs))
				}
				return apperr.TooManyRequests("Too many requests, please try again later.")
			}
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			return next(c)
		}
	}
}

// callerID resolves the user for the rate key.  An invalid or missing token
// is anonymous here; JWTAuth rejects it later on protected routes.
func callerID(cfg config.RateLimitConfig, c echo.Context, tokens AccessVerifier) uint64 {
	if id := UserID(c); id != 0 {
		return id
	}
	if tokens == nil || !keysByUser(cfg.KeyStrategy) {
		return 0
	}
	raw, ok := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
	if !ok || raw == "" {
		return 0
	}
	claims, err := tokens.VerifyAccessToken(raw)
	if err != nil {
		return 0
	}
	return claims.ID
}

func keysByUser(strategy string) bool {
	switch strings.ToLower(strategy) {
	case "ip", "route", "ip_route":
		return false
	}
	return true
}

func buildRateKey(cfg config.RateLimitConfig, c echo.Context, id uint64) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	uid := "anon"
	if id != 0 {
		uid = strconv.FormatUint(id, 10)
	}
	route := c.Request().Method + " " + c.Path()

	parts := []string{cfg.Prefix}
	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, "ip", ip)
	case "user":
		parts = append(parts, "user", uid)
	case "route":
		parts = append(parts, "route", route)
	case "ip_user":
		parts = append(parts, "ip", ip, "user", uid)
	case "ip_route":
		parts = append(parts, "ip", ip, "route", route)
	case "user_route":
		parts = append(parts, "user", uid, "route", route)
	default:
		parts = append(parts, "ip", ip, "user", uid, "route", route)
	}
	return strings.Join(parts, ":")
}
