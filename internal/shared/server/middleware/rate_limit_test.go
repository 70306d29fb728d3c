package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newLimitedRouter(limiter *RateLimiter, rules map[string]RateLimitRule) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(userIDKey, c.GetHeader("X-Test-User"))
		c.Next()
	})
	r.Use(RateLimit(RateLimitConfig{Limiter: limiter, Rules: rules}))
	r.GET("/api/v1/dossiers/:dossierId", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.POST("/api/v1/agent/steps/:stepInstanceId/complete", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	return r
}

func serve(r *gin.Engine, method, path, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Test-User", user)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestRateLimitWritesTighterThanReads(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	r := newLimitedRouter(NewRateLimiter(func() time.Time { return now }), map[string]RateLimitRule{
		RateGroupRead:  {Rate: 5, Burst: 10},
		RateGroupWrite: {Rate: 1, Burst: 2},
	})

	for i := 0; i < 3; i++ {
		if resp := serve(r, http.MethodGet, "/api/v1/dossiers/d-1", "agent-1"); resp.Code != http.StatusOK {
			t.Fatalf("read %d expected 200, got %d", i+1, resp.Code)
		}
	}
	for i := 0; i < 2; i++ {
		if resp := serve(r, http.MethodPost, "/api/v1/agent/steps/si-1/complete", "agent-1"); resp.Code != http.StatusOK {
			t.Fatalf("write %d expected 200, got %d", i+1, resp.Code)
		}
	}
	if resp := serve(r, http.MethodPost, "/api/v1/agent/steps/si-1/complete", "agent-1"); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("write 3 expected 429, got %d", resp.Code)
	}
	if resp := serve(r, http.MethodPost, "/api/v1/agent/steps/si-1/complete", "agent-2"); resp.Code != http.StatusOK {
		t.Fatalf("other caller expected 200, got %d", resp.Code)
	}
}

func TestRateLimitRefillsOverTime(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	r := newLimitedRouter(NewRateLimiter(func() time.Time { return now }), map[string]RateLimitRule{
		RateGroupWrite: {Rate: 1, Burst: 1},
	})

	if resp := serve(r, http.MethodPost, "/api/v1/agent/steps/si-1/complete", "agent-1"); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp := serve(r, http.MethodPost, "/api/v1/agent/steps/si-1/complete", "agent-1"); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
	now = now.Add(time.Second)
	if resp := serve(r, http.MethodPost, "/api/v1/agent/steps/si-1/complete", "agent-1"); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 after refill, got %d", resp.Code)
	}
}

func TestRateLimit429IncludesRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	r := newLimitedRouter(NewRateLimiter(func() time.Time { return now }), map[string]RateLimitRule{
		RateGroupRead: {Rate: 1, Burst: 1},
	})

	if resp := serve(r, http.MethodGet, "/api/v1/dossiers/d-1", "client-1"); resp.Code != http.StatusOK {
		t.Fatalf("expected first request 200, got %d", resp.Code)
	}
	resp := serve(r, http.MethodGet, "/api/v1/dossiers/d-1", "client-1")
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After 1, got %q", resp.Header().Get("Retry-After"))
	}

	var payload struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Error.Code != "rate_limited" {
		t.Fatalf("expected code rate_limited, got %q", payload.Error.Code)
	}
	if _, ok := payload.Error.Details["retryAfterMs"]; !ok {
		t.Fatalf("expected retryAfterMs in details")
	}
}
