package middleware

import (
	"context"
	"strings"

	"rexe/internal/gateway/service"
	pkgerrors "rexe/pkg/errors"
	"rexe/pkg/utils/contextkey"
	"rexe/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const (
	// TokenCookie is the cookie browsers carry the access token in.
	TokenCookie = "token"

	usernameContextKey = "username"
	tokenContextKey    = "auth_token"
)

// AuthMiddleware requires a valid access token from the Authorization header or the token cookie.
func AuthMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authService == nil {
			response.AbortWithErrorCode(c, pkgerrors.ServiceUnavailable, "auth service unavailable")
			return
		}

		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token, _ = c.Cookie(TokenCookie)
		}
		username, err := authService.Authenticate(c.Request.Context(), token)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}

		c.Set(usernameContextKey, username)
		c.Set(tokenContextKey, token)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), contextkey.Username, username))
		c.Next()
	}
}

// Username returns the authenticated user set by AuthMiddleware.
func Username(c *gin.Context) string {
	return c.GetString(usernameContextKey)
}

// Token returns the raw access token accepted by AuthMiddleware.
func Token(c *gin.Context) string {
	return c.GetString(tokenContextKey)
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
