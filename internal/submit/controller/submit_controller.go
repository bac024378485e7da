package controller

import (
	"context"
	"net/http"
	"time"

	"rexe/internal/execute/sandbox/result"
	"rexe/internal/gateway/middleware"
	"rexe/internal/submission/model"
	"rexe/internal/submit/service"
	pkgerrors "rexe/pkg/errors"
	"rexe/pkg/utils/logger"
	"rexe/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const defaultWatchTimeout = 2 * time.Minute

// Config tunes the HTTP surface of the submit path.
type Config struct {
	WatchInterval time.Duration `yaml:"watchInterval"`
	WatchTimeout  time.Duration `yaml:"watchTimeout"`
	SecureCookies bool          `yaml:"secureCookies"`
	// AllowedOrigins limits websocket upgrades; empty accepts same-origin only.
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// SubmitController handles the run/save/load/check endpoints.
type SubmitController struct {
	submitService *service.SubmitService
	cfg           Config
	upgrader      websocket.Upgrader
}

// NewSubmitController creates a new SubmitController.
func NewSubmitController(submitService *service.SubmitService, cfg Config) *SubmitController {
	if cfg.WatchTimeout <= 0 {
		cfg.WatchTimeout = defaultWatchTimeout
	}
	h := &SubmitController{submitService: submitService, cfg: cfg}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Run accepts a submission and sets the fingerprint cookie.
func (h *SubmitController) Run(c *gin.Context) {
	var req CodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	out, err := h.submitService.Submit(c.Request.Context(), req.toInput(middleware.Username(c)))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.setCookie(c, out.Cookie)
	response.Success(c, RunResponse{
		Status:        out.Status.Status,
		SubmissionKey: out.Key.String(),
		Enqueued:      out.Enqueued,
	})
}

// Save stores the code without running it.
func (h *SubmitController) Save(c *gin.Context) {
	var req CodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	payload, err := h.submitService.Save(c.Request.Context(), req.toInput(middleware.Username(c)))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, payload)
}

// Load returns the stored code for one file.
func (h *SubmitController) Load(c *gin.Context) {
	var q FileQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	payload, err := h.submitService.Load(c.Request.Context(), middleware.Username(c), q.Filename, q.Language)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, payload)
}

// Check answers one poll.
func (h *SubmitController) Check(c *gin.Context) {
	input, ok := h.checkInput(c)
	if !ok {
		return
	}
	res, err := h.submitService.Check(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// Watch upgrades to a websocket and pushes the first non-pending answer.
func (h *SubmitController) Watch(c *gin.Context) {
	input, ok := h.checkInput(c)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	// The server read timeout still applies to the hijacked connection.
	_ = conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.WatchTimeout)
	defer cancel()
	// Reads only detect the peer going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	res, err := h.submitService.Watch(ctx, input, h.cfg.WatchInterval)
	if err != nil {
		if ctx.Err() != nil {
			res = result.Pending()
		} else {
			customErr := pkgerrors.GetError(err)
			message := customErr.Error()
			if customErr.Code.HTTPStatus() >= http.StatusInternalServerError {
				message = customErr.Code.Message()
			}
			_ = conn.WriteJSON(response.Response{Code: customErr.Code, Message: message})
			h.closeWatch(conn)
			return
		}
	}
	if err := conn.WriteJSON(res); err != nil {
		logger.Debug(ctx, "watch write failed", zap.Error(err))
		return
	}
	h.closeWatch(conn)
}

// Health reports liveness.
func (h *SubmitController) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}

func (h *SubmitController) checkInput(c *gin.Context) (service.CheckInput, bool) {
	var q FileQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return service.CheckInput{}, false
	}
	username := middleware.Username(c)
	name := service.CookieName(model.Key{Username: username, Filename: q.Filename, Language: model.Language(q.Language)})
	cookie, _ := c.Cookie(name)
	return service.CheckInput{
		Username: username,
		Filename: q.Filename,
		Language: q.Language,
		Cookie:   cookie,
	}, true
}

func (h *SubmitController) setCookie(c *gin.Context, cookie service.Cookie) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(cookie.Name, cookie.Value, int(cookie.MaxAge/time.Second), "/", "", h.cfg.SecureCookies, true)
}

func (h *SubmitController) closeWatch(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (h *SubmitController) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// CodeRequest is the body of /run and /save.
type CodeRequest struct {
	Filename    string `json:"filename"`
	Language    string `json:"language"`
	Code        string `json:"code"`
	Input       string `json:"input"`
	TimeLimit   int64  `json:"time_limit"`
	MemoryLimit int64  `json:"memory_limit"`
}

func (r CodeRequest) toInput(username string) service.SubmitInput {
	return service.SubmitInput{
		Username:    username,
		Filename:    r.Filename,
		Language:    r.Language,
		Code:        r.Code,
		Input:       r.Input,
		TimeLimit:   r.TimeLimit,
		MemoryLimit: r.MemoryLimit,
	}
}

// FileQuery selects one file of the caller.
type FileQuery struct {
	Filename string `form:"filename" binding:"required"`
	Language string `form:"language" binding:"required"`
}

// RunResponse is returned by /run.
type RunResponse struct {
	Status        result.Status `json:"status"`
	SubmissionKey string        `json:"submission_key"`
	Enqueued      bool          `json:"enqueued"`
}
