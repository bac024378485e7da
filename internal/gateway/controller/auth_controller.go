package controller

import (
	"net/http"

	"rexe/internal/gateway/middleware"
	"rexe/internal/gateway/service"
	"rexe/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// AuthController serves session endpoints that sit behind AuthMiddleware.
type AuthController struct {
	authService *service.AuthService
}

func NewAuthController(authService *service.AuthService) *AuthController {
	return &AuthController{authService: authService}
}

// SignOut revokes the presented token and clears the browser cookies.
func (h *AuthController) SignOut(c *gin.Context) {
	if err := h.authService.SignOut(c.Request.Context(), middleware.Token(c)); err != nil {
		response.Error(c, err)
		return
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(middleware.TokenCookie, "", -1, "/", "", false, true)
	c.SetCookie("username", "", -1, "/", "", false, false)
	response.Success(c, gin.H{"msg": "ok"})
}
