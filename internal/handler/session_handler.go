package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ragchat/internal/apperr"
	"ragchat/internal/middleware"
	"ragchat/internal/model"
	"ragchat/internal/service"
)

// SessionHandler 负责会话的创建、列表、查询和删除。
type SessionHandler struct {
	sessions service.SessionService
}

// NewSessionHandler 创建一个新的 SessionHandler。
func NewSessionHandler(sessions service.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type createSessionRequest struct {
	Title string `json:"title"`
}

// Create 处理 POST /chat/create-session，请求体可选。
func (h *SessionHandler) Create(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidRequest(c, "handler.CreateSession", "invalid request body")
			return
		}
	}

	session, err := h.sessions.Create(c.Request.Context(), middleware.UserID(c), req.Title)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": session.ID.Hex(), "title": session.Title})
}

// History 处理 GET /chat/history。
func (h *SessionHandler) History(c *gin.Context) {
	sessions, err := h.sessions.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if sessions == nil {
		sessions = []model.SessionSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// Get 处理 GET /chat/session/:id。
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	messages := session.Messages
	if messages == nil {
		messages = []model.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// Delete 处理 DELETE /chat/delete/:id。清理不完整时仍返回 200，并附带各存储的删除标志。
func (h *SessionHandler) Delete(c *gin.Context) {
	report, err := h.sessions.Delete(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	body := gin.H{
		"message":        "Chat session deleted",
		"vectorDeleted":  report.VectorDeleted,
		"recordDeleted":  report.RecordDeleted,
		"objectsDeleted": report.ObjectsDeleted,
	}
	if !report.Complete() {
		body["code"] = apperr.CodePartialCleanupFailure
		body["message"] = "Chat session deleted, some cleanup is pending retry"
	}
	c.JSON(http.StatusOK, body)
}
