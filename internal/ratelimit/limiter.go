// Package ratelimit implements the sliding-window rate limiting described
// for each HTTP/WebSocket bucket, backed by Redis when available and by an
// in-memory store otherwise.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/codecollab/editor-backend/internal/auth"
	"github.com/codecollab/editor-backend/internal/config"
	"github.com/codecollab/editor-backend/internal/logging"
	"github.com/codecollab/editor-backend/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// RateLimiter holds one limiter.Limiter per bucket from the rate-limit table.
type RateLimiter struct {
	apiGlobal   *limiter.Limiter
	login       *limiter.Limiter
	register    *limiter.Limiter
	exec        *limiter.Limiter
	wsConnect   *limiter.Limiter
	roomCreate  *limiter.Limiter
	chat        *limiter.Limiter
	store       limiter.Store
	redisClient *redis.Client
	validator   auth.TokenValidator
}

// NewRateLimiter constructs a RateLimiter from validated configuration. If
// redisClient is nil, an in-memory store is used (single-instance mode).
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client, validator auth.TokenValidator) (*RateLimiter, error) {
	rates := map[string]string{
		"apiGlobal":  cfg.RateLimitAPIGlobal,
		"login":      cfg.RateLimitAPILogin,
		"register":   cfg.RateLimitAPIRegister,
		"exec":       cfg.RateLimitAPIExec,
		"wsConnect":  cfg.RateLimitWSConnect,
		"roomCreate": cfg.RateLimitRoomCreate,
		"chat":       cfg.RateLimitChat,
	}
	parsed := make(map[string]limiter.Rate, len(rates))
	for name, raw := range rates {
		r, err := parseRate(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid rate for %s: %w", name, err)
		}
		parsed[name] = r
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "codecollab:limiter:"})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using memory store (Redis disabled or unavailable)")
	}

	return &RateLimiter{
		apiGlobal:   limiter.New(store, parsed["apiGlobal"]),
		login:       limiter.New(store, parsed["login"]),
		register:    limiter.New(store, parsed["register"]),
		exec:        limiter.New(store, parsed["exec"]),
		wsConnect:   limiter.New(store, parsed["wsConnect"]),
		roomCreate:  limiter.New(store, parsed["roomCreate"]),
		chat:        limiter.New(store, parsed["chat"]),
		store:       store,
		redisClient: redisClient,
		validator:   validator,
	}, nil
}

// parseRate parses "<max>-<N><unit>" where unit is one of s, m, h, d. This
// generalizes ulule/limiter's NewRateFromFormatted (which only supports
// single-unit windows) to the arbitrary 15-minute/60-minute windows this
// table needs.
func parseRate(raw string) (limiter.Rate, error) {
	parts := strings.SplitN(raw, "-", 2)
	if len(parts) != 2 {
		return limiter.Rate{}, fmt.Errorf("malformed rate %q", raw)
	}
	max, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || max <= 0 {
		return limiter.Rate{}, fmt.Errorf("malformed rate limit %q", parts[0])
	}

	windowSpec := parts[1]
	if windowSpec == "" {
		return limiter.Rate{}, fmt.Errorf("malformed rate window %q", raw)
	}
	unit := windowSpec[len(windowSpec)-1]
	countStr := windowSpec[:len(windowSpec)-1]
	count := int64(1)
	if countStr != "" {
		count, err = strconv.ParseInt(countStr, 10, 64)
		if err != nil || count <= 0 {
			return limiter.Rate{}, fmt.Errorf("malformed rate window %q", windowSpec)
		}
	}

	var unitDuration time.Duration
	switch unit {
	case 'S', 's':
		unitDuration = time.Second
	case 'M', 'm':
		unitDuration = time.Minute
	case 'H', 'h':
		unitDuration = time.Hour
	case 'D', 'd':
		unitDuration = 24 * time.Hour
	default:
		return limiter.Rate{}, fmt.Errorf("unknown rate unit %q", string(unit))
	}

	return limiter.Rate{Period: time.Duration(count) * unitDuration, Limit: max}, nil
}

// bearerSubject extracts the user id from a validated bearer token on the
// request, returning ("", false) if absent or invalid. Extracting the
// subject directly — rather than trusting a "claims" value that an auth
// middleware may or may not have set yet — avoids keying on the wrong
// bucket when this middleware runs before authentication.
func (rl *RateLimiter) bearerSubject(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" || rl.validator == nil {
		return "", false
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	claims, err := rl.validator.ValidateToken(tokenString)
	if err != nil {
		return "", false
	}
	return claims.Subject, true
}

func (rl *RateLimiter) reject(c *gin.Context, bucket string, lc limiter.Context) {
	metrics.RateLimitExceeded.WithLabelValues(bucket, "limit_reached").Inc()
	c.Header("X-RateLimit-Retry-After", strconv.FormatInt(lc.Reset, 10))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"success": false,
		"error":   "rate limit exceeded",
		"code":    "rate_limited",
	})
}

// GlobalMiddleware enforces the general-API bucket, keyed by client IP
// regardless of authentication state, per the rate limit table.
func (rl *RateLimiter) GlobalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		lc, err := rl.apiGlobal.Get(ctx, c.ClientIP())
		if err != nil {
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lc.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lc.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lc.Reset, 10))

		if lc.Reached {
			rl.reject(c, "general", lc)
			return
		}

		metrics.RateLimitRequests.WithLabelValues("general").Inc()
		c.Next()
	}
}

// LoginMiddleware enforces the login bucket by IP. Successful logins
// (HTTP 200) do not count toward the limit — only failed attempts do,
// so a legitimate user retrying a forgotten password isn't penalized by
// their own successful logins, while a credential-stuffing attacker's
// failures accumulate.
func (rl *RateLimiter) LoginMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := c.ClientIP()

		peek, err := rl.login.Peek(ctx, key)
		if err != nil {
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}
		if peek.Reached {
			rl.reject(c, "login", peek)
			return
		}

		c.Next()

		if c.Writer.Status() != http.StatusOK {
			if lc, err := rl.login.Get(ctx, key); err == nil && lc.Reached {
				metrics.RateLimitExceeded.WithLabelValues("login", "limit_reached").Inc()
			}
		}
	}
}

// ipMiddleware builds a simple IP-keyed middleware for a
// given bucket limiter and name.
func (rl *RateLimiter) ipMiddleware(l *limiter.Limiter, bucket string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		lc, err := l.Get(ctx, c.ClientIP())
		if err != nil {
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}
		if lc.Reached {
			rl.reject(c, bucket, lc)
			return
		}
		metrics.RateLimitRequests.WithLabelValues(bucket).Inc()
		c.Next()
	}
}

// userMiddleware builds a user-id-keyed middleware for a given bucket.
// Falls back to IP if the request carries no valid bearer token.
func (rl *RateLimiter) userMiddleware(l *limiter.Limiter, bucket string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key, ok := rl.bearerSubject(c)
		if !ok {
			key = c.ClientIP()
		}

		lc, err := l.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}
		if lc.Reached {
			rl.reject(c, bucket, lc)
			return
		}
		metrics.RateLimitRequests.WithLabelValues(bucket).Inc()
		c.Next()
	}
}

// RegisterMiddleware enforces the register bucket, keyed by IP.
func (rl *RateLimiter) RegisterMiddleware() gin.HandlerFunc {
	return rl.ipMiddleware(rl.register, "register")
}

// ExecMiddleware enforces the exec bucket, keyed by authenticated user.
func (rl *RateLimiter) ExecMiddleware() gin.HandlerFunc {
	return rl.userMiddleware(rl.exec, "exec")
}

// RoomCreateMiddleware enforces the room-create bucket, keyed by authenticated user.
func (rl *RateLimiter) RoomCreateMiddleware() gin.HandlerFunc {
	return rl.userMiddleware(rl.roomCreate, "room_create")
}

// ChatMiddleware enforces the chat bucket, keyed by authenticated user.
func (rl *RateLimiter) ChatMiddleware() gin.HandlerFunc {
	return rl.userMiddleware(rl.chat, "chat")
}

// CheckWebSocket enforces the ws-connect bucket by IP during the upgrade
// handshake, before the socket is accepted.
func (rl *RateLimiter) CheckWebSocket(ctx context.Context, clientIP string) error {
	lc, err := rl.wsConnect.Get(ctx, clientIP)
	if err != nil {
		logging.Error(ctx, "ws rate limiter store failed (ip)", zap.Error(err))
		return nil // fail open
	}
	if lc.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ws_connect", "ip").Inc()
		return fmt.Errorf("rate limit exceeded for ip %s", clientIP)
	}
	return nil
}
