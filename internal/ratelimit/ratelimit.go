// Package ratelimit keeps fixed-window request counters in Redis.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"herfrequency/internal/dto"
	"herfrequency/internal/monitoring"
)

type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

type Decision struct {
	Allowed    bool
	Count      int64
	RetryAfter time.Duration
}

type Limiter struct {
	rdb redis.Cmdable
	log *zerolog.Logger
}

// New returns a limiter. A nil client disables limiting.
func New(rdb redis.Cmdable, log *zerolog.Logger) *Limiter {
	return &Limiter{rdb: rdb, log: log}
}

func Key(rule Rule, client string) string {
	return "ratelimit:" + rule.Name + ":" + client
}

// Allow counts one hit for client under rule. Redis errors are returned with
// an allowing decision; callers fail open.
func (l *Limiter) Allow(ctx context.Context, rule Rule, client string) (Decision, error) {
	if l.rdb == nil || rule.Limit <= 0 {
		return Decision{Allowed: true}, nil
	}
	key := Key(rule, client)

	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return Decision{Allowed: true}, err
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, key, rule.Window).Err(); err != nil {
			return Decision{Allowed: true, Count: n}, err
		}
	}
	if n <= int64(rule.Limit) {
		return Decision{Allowed: true, Count: n}, nil
	}

	ttl, err := l.rdb.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = rule.Window
	}
	return Decision{Allowed: false, Count: n, RetryAfter: ttl}, nil
}

// Check counts the request against rule. Over the limit it writes 429 with
// Retry-After and reports false.
func (l *Limiter) Check(c *gin.Context, rule Rule) bool {
	d, err := l.Allow(c.Request.Context(), rule, c.ClientIP())
	if err != nil {
		l.log.Warn().Err(err).Str("rule", rule.Name).Msg("rate limiter unavailable, allowing request")
	}
	if d.Allowed {
		return true
	}

	monitoring.RecordRateLimited(rule.Name)
	secs := int(d.RetryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.Itoa(secs))
	dto.ErrorResponse(c, http.StatusTooManyRequests, dto.RateLimited, "Too many requests. Please try again later.", "")
	return false
}

func (l *Limiter) Middleware(rule Rule) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Check(c, rule) {
			c.Abort()
			return
		}
		c.Next()
	}
}
