// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"ragchat/internal/apperr"
	"ragchat/pkg/log"
	"ragchat/pkg/token"
)

// UserIDKey 是 gin 上下文中保存已认证用户 ID 的 key。
const UserIDKey = "userID"

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。缺少 token 返回 401，无效返回 403。
// WebSocket 升级请求可以通过 ?token= 传递 token，浏览器无法为其设置请求头。
func AuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			abort(c, apperr.CodeUnauthorized, "missing bearer token")
			return
		}

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			log.Debugf("[Auth] rejected token: %v", err)
			abort(c, apperr.CodeForbidden, "invalid or expired token")
			return
		}

		c.Set(UserIDKey, claims.UserID())
		c.Next()
	}
}

// UserID 返回 AuthMiddleware 写入的用户 ID。
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

func bearerToken(c *gin.Context) string {
	const bearerPrefix = "Bearer "
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix))
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return c.Query("token")
	}
	return ""
}

func abort(c *gin.Context, code apperr.Code, msg string) {
	c.AbortWithStatusJSON(apperr.HTTPStatus(apperr.E(code, "", msg, nil)), gin.H{"code": code, "message": msg})
}
