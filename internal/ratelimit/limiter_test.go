package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/codecollab/editor-backend/internal/auth"
	"github.com/codecollab/editor-backend/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parsingValidator() *mockValidator {
	return &mockValidator{
		ValidateTokenFunc: func(tokenString string) (*auth.CustomClaims, error) {
			token, _, err := jwt.NewParser().ParseUnverified(tokenString, &auth.CustomClaims{})
			if err != nil {
				return nil, err
			}
			claims, ok := token.Claims.(*auth.CustomClaims)
			if !ok {
				return nil, err
			}
			return claims, nil
		},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		RateLimitAPIGlobal:   "10-1M",
		RateLimitAPILogin:    "5-1M",
		RateLimitAPIRegister: "5-1M",
		RateLimitAPIExec:     "5-1M",
		RateLimitWSConnect:   "5-1M",
		RateLimitRoomCreate:  "5-1M",
		RateLimitChat:        "5-1M",
	}
}

func newTestLimiter(t *testing.T) (*RateLimiter, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	rl, err := NewRateLimiter(testConfig(), rc, parsingValidator())
	require.NoError(t, err)

	return rl, mr
}

func signedToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestParseRate(t *testing.T) {
	r, err := parseRate("1000-15M")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), r.Limit)
	assert.Equal(t, 15*time.Minute, r.Period)

	r, err = parseRate("30-1M")
	require.NoError(t, err)
	assert.Equal(t, int64(30), r.Limit)
	assert.Equal(t, time.Minute, r.Period)

	r, err = parseRate("10-60M")
	require.NoError(t, err)
	assert.Equal(t, 60*time.Minute, r.Period)

	_, err = parseRate("bogus")
	assert.Error(t, err)

	_, err = parseRate("10-5X")
	assert.Error(t, err)
}

func TestNewRateLimiter_Memory(t *testing.T) {
	rl, err := NewRateLimiter(testConfig(), nil, parsingValidator())
	require.NoError(t, err)
	assert.NotNil(t, rl)
	assert.Nil(t, rl.redisClient)
}

func TestGlobalMiddleware_IPLimited(t *testing.T) {
	rl, mr := newTestLimiter(t)
	defer mr.Close()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(rl.GlobalMiddleware())
	r.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 10; i++ {
		req, _ := http.NewRequest("GET", "/test", nil)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "10", resp.Header().Get("X-RateLimit-Limit"))
	}

	req, _ := http.NewRequest("GET", "/test", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
}

func TestExecMiddleware_UserKeyed(t *testing.T) {
	rl, mr := newTestLimiter(t)
	defer mr.Close()

	tokenString := signedToken(t, "user-1")

	r := gin.New()
	r.Use(rl.ExecMiddleware())
	r.POST("/exec", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 5; i++ {
		req, _ := http.NewRequest("POST", "/exec", nil)
		req.Header.Set("Authorization", "Bearer "+tokenString)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusOK, resp.Code)
	}

	req, _ := http.NewRequest("POST", "/exec", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
}

func TestRegisterMiddleware_IPKeyed(t *testing.T) {
	rl, mr := newTestLimiter(t)
	defer mr.Close()

	r := gin.New()
	r.Use(rl.RegisterMiddleware())
	r.POST("/register", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 5; i++ {
		req, _ := http.NewRequest("POST", "/register", nil)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusOK, resp.Code)
	}

	req, _ := http.NewRequest("POST", "/register", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
}

func TestCheckWebSocket_IP(t *testing.T) {
	rl, mr := newTestLimiter(t)
	defer mr.Close()

	ctx := t.Context()
	for i := 0; i < 5; i++ {
		assert.NoError(t, rl.CheckWebSocket(ctx, "10.0.0.1"))
	}
	assert.Error(t, rl.CheckWebSocket(ctx, "10.0.0.1"))
}

func TestRedisFailure_FailsOpen(t *testing.T) {
	rl, mr := newTestLimiter(t)
	mr.Close()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(rl.GlobalMiddleware())
	r.GET("/fail-open", func(c *gin.Context) { c.Status(http.StatusOK) })

	req, _ := http.NewRequest("GET", "/fail-open", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
}

// TestExecMiddleware_AuthBypassFixed proves the rate limiter validates the
// bearer token itself rather than trusting gin context claims an auth
// middleware might not have populated yet: two requests carrying the same
// valid token stay under the per-user limit even though no auth middleware
// ever runs in this chain.
func TestExecMiddleware_AuthBypassFixed(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := testConfig()
	cfg.RateLimitAPIExec = "100-1M" // generous per-user limit

	rl, err := NewRateLimiter(cfg, rc, parsingValidator())
	require.NoError(t, err)

	tokenString := signedToken(t, "user-123")

	r := gin.New()
	r.Use(rl.ExecMiddleware())
	r.POST("/exec", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest("POST", "/exec", nil)
		req.Header.Set("Authorization", "Bearer "+tokenString)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusOK, resp.Code, "request %d should pass under the generous per-user limit", i+1)
	}
}
