// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ragchat/internal/apperr"
	"ragchat/pkg/log"
)

// writeError 将 err 渲染为 {code, message}。服务端错误记录完整原因，客户端只能看到安全的提示信息。
func writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	code := apperr.CodeOf(err)
	if status >= http.StatusInternalServerError {
		log.Errorw("request failed", "path", c.Request.URL.Path, "code", code, "error", err)
	} else {
		log.Debugf("request rejected: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": apperr.SafeMessage(err)})
}

func invalidRequest(c *gin.Context, op, msg string) {
	writeError(c, apperr.E(apperr.CodeInvalidRequest, op, msg, nil))
}
