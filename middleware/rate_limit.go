package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mindspring-backend/apperrors"
	"github.com/mindspring-backend/metrics"
)

// Limit is a parsed request quota such as 100 per hour.
type Limit struct {
	Count  int
	Period time.Duration
}

// ParseLimit parses strings in the form "N/second|minute|hour|day".
// Malformed strings fall back to 100/hour so a config typo slows clients
// down instead of locking them out or letting everything through.
func ParseLimit(s string) Limit {
	count, unit, ok := strings.Cut(s, "/")
	if ok {
		if n, err := strconv.Atoi(strings.TrimSpace(count)); err == nil && n > 0 {
			switch strings.ToLower(strings.TrimSpace(unit)) {
			case "second":
				return Limit{Count: n, Period: time.Second}
			case "minute":
				return Limit{Count: n, Period: time.Minute}
			case "hour":
				return Limit{Count: n, Period: time.Hour}
			case "day":
				return Limit{Count: n, Period: 24 * time.Hour}
			}
		}
	}
	log.Error().Str("limit", s).Msg("unparseable rate limit, using 100/hour")
	return Limit{Count: 100, Period: time.Hour}
}

// Counting and expiry must be one atomic step, otherwise two requests
// arriving together can both pass a read-then-write check.
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local period = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local current = redis.call('get', key)
if not current then
    redis.call('setex', key, period, 1)
    return {1, limit - 1, now + period}
end

if tonumber(current) >= limit then
    local ttl = redis.call('ttl', key)
    return {0, 0, now + ttl}
end

local new_val = redis.call('incr', key)
local ttl = redis.call('ttl', key)
return {1, limit - new_val, now + ttl}
`)

var rateLimitExempt = map[string]struct{}{
	"/health":    {},
	"/readiness": {},
	"/live":      {},
	"/metrics":   {},
}

// RateLimit caps request rates per caller and path with a shared Redis
// counter, so the quota holds across replicas. Source uploads get their own
// tighter quota. Every response carries X-RateLimit headers. A nil client or
// a Redis failure fails open.
func RateLimit(client *redis.Client, defaultLimit, uploadLimit Limit) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exempt := rateLimitExempt[c.Request.URL.Path]; exempt || client == nil {
			c.Next()
			return
		}

		limit := defaultLimit
		if isUploadRequest(c) {
			limit = uploadLimit
		}

		key := "rate_limit:" + callerIdentity(c) + ":" + c.Request.URL.Path
		now := time.Now().Unix()

		res, err := rateLimitScript.Run(c.Request.Context(), client,
			[]string{key}, limit.Count, int(limit.Period.Seconds()), now).Int64Slice()
		if err != nil || len(res) != 3 {
			metrics.RateLimitDecisions.WithLabelValues("failopen").Inc()
			log.Error().Err(err).Str("key", key).Msg("rate limit check failed, allowing request")
			c.Next()
			return
		}

		allowed, remaining, reset := res[0] == 1, res[1], res[2]
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.Count))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(reset, 10))

		if !allowed {
			metrics.RateLimitDecisions.WithLabelValues("denied").Inc()
			log.Warn().Str("key", key).Msg("rate limit exceeded")
			abortWithError(c, apperrors.NewRateLimited(int(reset-now)))
			return
		}

		metrics.RateLimitDecisions.WithLabelValues("allowed").Inc()
		c.Next()
	}
}

// isUploadRequest matches the source upload endpoint, which carries the
// stricter document quota.
func isUploadRequest(c *gin.Context) bool {
	return c.Request.Method == "POST" && strings.HasSuffix(c.Request.URL.Path, "/sources")
}

// callerIdentity keys the quota on the authenticated user when Auth already
// ran, else on the client address. Behind a proxy the first X-Forwarded-For
// hop is the real caller.
func callerIdentity(c *gin.Context) string {
	if id := UserID(c); id != uuid.Nil {
		return "user:" + id.String()
	}
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	return "ip:" + c.ClientIP()
}
