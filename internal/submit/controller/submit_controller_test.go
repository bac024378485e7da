package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"rexe/internal/common/cache"
	"rexe/internal/common/mq"
	"rexe/internal/common/storage"
	"rexe/internal/execute/sandbox/result"
	"rexe/internal/gateway/middleware"
	gatewayService "rexe/internal/gateway/service"
	"rexe/internal/submission/model"
	"rexe/internal/submit/repository"
	"rexe/internal/submit/service"
	pkgerrors "rexe/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memoryCompletions struct {
	mu   sync.Mutex
	rows map[string]bool
}

func (m *memoryCompletions) Record(ctx context.Context, c *repository.Completion) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := c.SubmissionKey + "|" + c.Fingerprint
	if m.rows[k] {
		return false, nil
	}
	m.rows[k] = true
	return true, nil
}

func (m *memoryCompletions) Exists(ctx context.Context, username, submissionKey, fingerprint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[submissionKey+"|"+fingerprint], nil
}

type envelope struct {
	Code pkgerrors.ErrorCode `json:"code"`
	Data json.RawMessage     `json:"data"`
}

type harness struct {
	router      *gin.Engine
	token       string
	store       *storage.JSONStore
	completions *memoryCompletions
	lock        *repository.CacheInflightLock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	store, err := storage.NewJSONStore(storage.NewMemoryStorage(), "rexe", false)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	cookies, err := service.NewCookieSigner("cookie-secret", time.Hour)
	if err != nil {
		t.Fatalf("new signer failed: %v", err)
	}
	h := &harness{
		store:       store,
		completions: &memoryCompletions{rows: make(map[string]bool)},
		lock:        repository.NewInflightLock(rc),
	}
	svc, err := service.NewSubmitService(service.Config{
		Store:       store,
		Completions: h.completions,
		Lock:        h.lock,
		Queue:       mq.NewMemoryQueue(mq.MemoryQueueOptions{}),
		Cookies:     cookies,
	})
	if err != nil {
		t.Fatalf("new service failed: %v", err)
	}
	auth := gatewayService.NewAuthService(gatewayService.AuthConfig{Secret: "jwt-secret", Issuer: "rexe"}, nil)
	h.token, _, err = auth.Issue("alice")
	if err != nil {
		t.Fatalf("issue token failed: %v", err)
	}

	ctrl := NewSubmitController(svc, Config{WatchInterval: 10 * time.Millisecond, WatchTimeout: 2 * time.Second})
	r := gin.New()
	r.GET("/health", ctrl.Health)
	api := r.Group("/", middleware.AuthMiddleware(auth))
	api.POST("/run", ctrl.Run)
	api.POST("/save", ctrl.Save)
	api.GET("/code", ctrl.Load)
	api.GET("/check", ctrl.Check)
	api.GET("/watch", ctrl.Watch)
	h.router = r
	return h
}

func (h *harness) do(t *testing.T, method, path string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body failed: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.token)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *harness) finish(t *testing.T, submissionKey, fingerprint string, status result.Status) {
	t.Helper()
	key, err := model.ParseKey(submissionKey)
	if err != nil {
		t.Fatalf("parse key failed: %v", err)
	}
	ctx := context.Background()
	if err := h.store.PutJSON(ctx, key.ResultObject(), result.Result{Status: status, Fingerprint: fingerprint}); err != nil {
		t.Fatalf("put result failed: %v", err)
	}
	_, _ = h.completions.Record(ctx, &repository.Completion{Username: key.Username, SubmissionKey: key.String(), Fingerprint: fingerprint})
	_, _ = h.lock.Release(ctx, key, fingerprint)
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response failed: %v (%s)", err, w.Body.String())
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("decode data failed: %v", err)
		}
	}
	return env
}

func runBody() CodeRequest {
	return CodeRequest{Filename: "hello.py", Language: "py", Code: "print('hi')"}
}

func fingerprintCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	key := model.Key{Username: "alice", Filename: "hello.py", Language: model.LanguagePython}
	for _, c := range w.Result().Cookies() {
		if c.Name == service.CookieName(key) {
			return c
		}
	}
	t.Fatalf("fingerprint cookie not set")
	return nil
}

func TestRunSetsCookieAndAnswersPending(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/run", runBody())
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out RunResponse
	decode(t, w, &out)
	if out.Status != result.StatusPending || !out.Enqueued || out.SubmissionKey != "alice/hello.py/py" {
		t.Fatalf("unexpected response %+v", out)
	}
	c := fingerprintCookie(t, w)
	if !c.HttpOnly || c.MaxAge != int(time.Hour/time.Second) {
		t.Fatalf("unexpected cookie attributes %+v", c)
	}

	w = h.do(t, http.MethodPost, "/run", runBody())
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second run while in flight should be 429, got %d", w.Code)
	}
}

func TestRunRejectsInvalidInput(t *testing.T) {
	h := newHarness(t)
	body := runBody()
	body.Language = "java"
	w := h.do(t, http.MethodPost, "/run", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if env := decode(t, w, nil); env.Code != pkgerrors.LanguageNotSupported {
		t.Fatalf("unexpected code %d", env.Code)
	}
}

func TestRunRequiresAuth(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCheckFlow(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/run", runBody())
	var out RunResponse
	decode(t, w, &out)
	cookie := fingerprintCookie(t, w)

	var res result.Result
	decode(t, h.do(t, http.MethodGet, "/check?filename=hello.py&language=py", nil), &res)
	if res.Status != result.StatusStop {
		t.Fatalf("no cookie should answer stop, got %s", res.Status)
	}

	decode(t, h.do(t, http.MethodGet, "/check?filename=hello.py&language=py", nil, cookie), &res)
	if res.Status != result.StatusPending {
		t.Fatalf("expected pending, got %s", res.Status)
	}

	key, _ := model.ParseKey(out.SubmissionKey)
	var payload model.Payload
	if err := h.store.GetJSON(context.Background(), key.RequestObject(), &payload); err != nil {
		t.Fatalf("payload missing: %v", err)
	}
	h.finish(t, out.SubmissionKey, payload.Fingerprint(), result.StatusSuccess)

	decode(t, h.do(t, http.MethodGet, "/check?filename=hello.py&language=py", nil, cookie), &res)
	if res.Status != result.StatusSuccess {
		t.Fatalf("expected Success, got %s", res.Status)
	}
}

func TestCheckRequiresQuery(t *testing.T) {
	h := newHarness(t)
	if w := h.do(t, http.MethodGet, "/check?filename=hello.py", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSaveAndLoad(t *testing.T) {
	h := newHarness(t)
	if w := h.do(t, http.MethodGet, "/code?filename=hello.py&language=py", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before save, got %d", w.Code)
	}
	if w := h.do(t, http.MethodPost, "/save", runBody()); w.Code != http.StatusOK {
		t.Fatalf("save failed: %d %s", w.Code, w.Body.String())
	}
	var payload model.Payload
	w := h.do(t, http.MethodGet, "/code?filename=hello.py&language=py", nil)
	decode(t, w, &payload)
	if payload.Code != "print('hi')" || payload.TimeLimit != 2 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestWatchPushesResult(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/run", runBody())
	var out RunResponse
	decode(t, w, &out)
	cookie := fingerprintCookie(t, w)

	key, _ := model.ParseKey(out.SubmissionKey)
	var payload model.Payload
	_ = h.store.GetJSON(context.Background(), key.RequestObject(), &payload)
	h.finish(t, out.SubmissionKey, payload.Fingerprint(), result.StatusRuntimeError)

	srv := httptest.NewServer(h.router)
	defer srv.Close()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+h.token)
	header.Set("Cookie", cookie.Name+"="+cookie.Value)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/watch?filename=hello.py&language=py"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var res result.Result
	if err := conn.ReadJSON(&res); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if res.Status != result.StatusRuntimeError {
		t.Fatalf("expected RuntimeError, got %s", res.Status)
	}
}

func TestWatchWithoutCookieStops(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.router)
	defer srv.Close()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+h.token)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/watch?filename=hello.py&language=py"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var res result.Result
	if err := conn.ReadJSON(&res); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if res.Status != result.StatusStop {
		t.Fatalf("expected stop, got %s", res.Status)
	}
}
