package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rexe/internal/common/cache"
	"rexe/internal/gateway/repository"
	"rexe/internal/gateway/service"
	"rexe/pkg/utils/contextkey"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newServices(t *testing.T) (*service.AuthService, *service.RateLimitService) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	blacklist := repository.NewTokenBlacklistRepository(nil, rc, time.Second, time.Minute)
	auth := service.NewAuthService(service.AuthConfig{Secret: "secret", Issuer: "rexe"}, blacklist)
	return auth, service.NewRateLimitService(rc, time.Minute, time.Second)
}

func newRouter(auth *service.AuthService, limiter *service.RateLimitService, policy RateLimitPolicy) *gin.Engine {
	r := gin.New()
	r.GET("/me", AuthMiddleware(auth), RateLimitMiddleware(limiter, "me", policy), func(c *gin.Context) {
		ctxUser, _ := c.Request.Context().Value(contextkey.Username).(string)
		c.String(http.StatusOK, Username(c)+"|"+ctxUser)
	})
	return r
}

func TestAuthMiddlewareAcceptsHeaderAndCookie(t *testing.T) {
	auth, limiter := newServices(t)
	r := newRouter(auth, limiter, RateLimitPolicy{})
	token, _, err := auth.Issue("alice")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "alice|alice" {
		t.Fatalf("header auth failed: %d %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: token})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("cookie auth failed: %d %s", w.Code, w.Body.String())
	}
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	auth, limiter := newServices(t)
	r := newRouter(auth, limiter, RateLimitPolicy{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRateLimitMiddlewarePerUser(t *testing.T) {
	auth, limiter := newServices(t)
	r := newRouter(auth, limiter, RateLimitPolicy{UserMax: 2, Window: time.Minute})
	token, _, _ := auth.Issue("alice")

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware(CORSConfig{
		Enabled:          true,
		AllowedOrigins:   []string{"http://editor.local"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowCredentials: true,
	}))
	r.POST("/run", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/run", nil)
	req.Header.Set("Origin", "http://editor.local")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://editor.local" {
		t.Fatalf("unexpected allow origin %q", got)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("credentials must be allowed")
	}

	req = httptest.NewRequest(http.MethodOptions, "/run", nil)
	req.Header.Set("Origin", "http://evil.local")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown origin, got %d", w.Code)
	}
}
