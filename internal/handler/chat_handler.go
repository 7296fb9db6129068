package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ragchat/internal/middleware"
	"ragchat/internal/service"
	"ragchat/pkg/log"
)

const (
	// StreamStatusTrailer 流式回答结束后报告 ok|error
	StreamStatusTrailer = "X-Stream-Status"
	// StreamSavedTrailer 报告流式回答是否已写入会话记录
	StreamSavedTrailer = "X-Stream-Saved"
)

// ChatHandler 负责普通、流式和 WebSocket 问答。
type ChatHandler struct {
	chat service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chat service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// Chat 处理 POST /chat。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "handler.Chat", "invalid request body")
		return
	}

	reply, err := h.chat.Chat(c.Request.Context(), middleware.UserID(c), req.SessionID, req.Message)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": reply.SessionID, "response": reply.Response, "saved": reply.Saved})
}

// Stream 处理 POST /chat/stream。分片到达后立即以纯文本刷新输出，状态行已发出，结果通过 trailer 返回。
func (h *ChatHandler) Stream(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, "handler.Stream", "invalid request body")
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stream, err := h.chat.Stream(ctx, middleware.UserID(c), req.SessionID, req.Message)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("Trailer", StreamStatusTrailer+", "+StreamSavedTrailer)
	c.Status(http.StatusOK)
	c.Writer.Flush()

	res := drain(stream, cancel, func(frag string) error {
		if _, err := c.Writer.WriteString(frag); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})
	status := "ok"
	if res.Err != nil {
		status = "error"
	}
	c.Writer.Header().Set(StreamStatusTrailer, status)
	c.Writer.Header().Set(StreamSavedTrailer, strconv.FormatBool(res.Saved))
}

// runStream 供 WebSocket 使用，将分片转发给 emit 并返回最终结果。
func runStream(ctx context.Context, chat service.ChatService, userID, sessionID, message string, emit func(string) error) (service.StreamResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := chat.Stream(ctx, userID, sessionID, message)
	if err != nil {
		return service.StreamResult{}, err
	}
	return drain(stream, cancel, emit), nil
}

// drain 将分片转发给 emit。第一次发送失败即取消本次问答，客户端未完整收到的回答不会保存，
// 剩余分片直接丢弃。
func drain(stream *service.ChatStream, cancel context.CancelFunc, emit func(string) error) service.StreamResult {
	failed := false
	for frag := range stream.Fragments {
		if failed {
			continue
		}
		if err := emit(frag); err != nil {
			log.Warnf("[Chat] client went away mid-stream, session=%s: %v", stream.SessionID, err)
			failed = true
			cancel()
		}
	}
	return <-stream.Result
}
