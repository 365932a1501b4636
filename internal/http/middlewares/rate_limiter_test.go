package middlewares_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shelfhub/shelfhub/internal/http/middlewares"
)

func limitedRouter(limit int, window time.Duration) *gin.Engine {
	r := gin.New()

	rl := middlewares.NewRateLimiter(limit, window)

	r.GET("/ping", rl.RateLimiterMiddleware(middlewares.KeyByIP), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	return r
}

func TestRateLimiterBlocksOverLimit(t *testing.T) {
	r := limitedRouter(3, time.Minute)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("request %d should pass, got %d", i+1, w.Code)
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("request over limit should be blocked, got %d", w.Code)
	}

	if w.Header().Get("Retry-After") == "" {
		t.Fatal("blocked response must carry Retry-After")
	}
}

func TestRateLimiterWindowResets(t *testing.T) {
	r := limitedRouter(1, 30*time.Millisecond)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be blocked, got %d", w.Code)
	}

	time.Sleep(40 * time.Millisecond)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("request after window reset should pass, got %d", w.Code)
	}
}

func TestRateLimiterSeparatesKeys(t *testing.T) {
	r := gin.New()

	rl := middlewares.NewRateLimiter(1, time.Minute)

	r.GET("/ping", rl.RateLimiterMiddleware(func(c *gin.Context) string {
		return c.GetHeader("X-Test-Key")
	}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	send := func(key string) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-Test-Key", key)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if send("user:a") != http.StatusOK {
		t.Fatal("first request for key a should pass")
	}

	if send("user:a") != http.StatusTooManyRequests {
		t.Fatal("second request for key a should be blocked")
	}

	if send("user:b") != http.StatusOK {
		t.Fatal("key b has its own bucket and should pass")
	}
}
