package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ragchat/internal/apperr"
	"ragchat/internal/middleware"
	"ragchat/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 一次问答结束时发送的完成状态
const (
	completionFinished = "finished"
	completionStopped  = "stopped"
	completionError    = "error"
)

type wsClientFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type wsChunkFrame struct {
	Chunk string `json:"chunk"`
}

type wsCompletionFrame struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	SessionID string `json:"sessionId,omitempty"`
	Saved     bool   `json:"saved"`
	Timestamp int64  `json:"timestamp"`
}

type wsErrorFrame struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

// Websocket 处理 GET /chat/ws。每个 {"message","sessionId"} 帧执行一次流式问答，
// {"type":"stop"} 取消正在进行的问答，被取消的问答不会保存。
func (h *ChatHandler) Websocket(c *gin.Context) {
	userID := middleware.UserID(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket upgrade failed", err)
		return
	}
	defer conn.Close()
	log.Infof("[WS] connection established, user=%s", userID)

	connCtx, closeConn := context.WithCancel(c.Request.Context())
	defer closeConn()

	var (
		mu       sync.Mutex
		stopCurr context.CancelFunc
	)
	requests := make(chan wsClientFrame, 4)

	// gorilla 只允许一个并发读取者，由该 goroutine 负责读取，
	// 停止指令在这里立即处理，不会排在正在进行的问答之后。
	go func() {
		defer close(requests)
		defer closeConn()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warnf("[WS] read failed, user=%s: %v", userID, err)
				}
				return
			}
			var frame wsClientFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				frame = wsClientFrame{Type: "invalid"}
			}
			if frame.Type == "stop" {
				mu.Lock()
				if stopCurr != nil {
					stopCurr()
				}
				mu.Unlock()
				continue
			}
			select {
			case requests <- frame:
			case <-connCtx.Done():
				return
			}
		}
	}()

	for frame := range requests {
		if frame.Type == "invalid" {
			h.writeWSError(conn, apperr.E(apperr.CodeInvalidRequest, "handler.Websocket", "frames must be JSON objects", nil))
			continue
		}

		exCtx, cancel := context.WithCancel(connCtx)
		mu.Lock()
		stopCurr = cancel
		mu.Unlock()

		h.runWSExchange(exCtx, conn, userID, frame)

		mu.Lock()
		stopCurr = nil
		mu.Unlock()
		cancel()
	}
	log.Infof("[WS] connection closed, user=%s", userID)
}

func (h *ChatHandler) runWSExchange(ctx context.Context, conn *websocket.Conn, userID string, frame wsClientFrame) {
	res, err := runStream(ctx, h.chat, userID, frame.SessionID, frame.Message, func(frag string) error {
		return conn.WriteJSON(wsChunkFrame{Chunk: frag})
	})
	if err != nil {
		h.writeWSError(conn, err)
		h.writeCompletion(conn, completionError, frame.SessionID, false)
		return
	}

	switch {
	case res.Cancelled:
		log.Infof("[WS] exchange stopped by client, session=%s", frame.SessionID)
		h.writeCompletion(conn, completionStopped, frame.SessionID, false)
	case res.Err != nil:
		h.writeWSError(conn, res.Err)
		h.writeCompletion(conn, completionError, frame.SessionID, false)
	default:
		h.writeCompletion(conn, completionFinished, frame.SessionID, res.Saved)
	}
}

func (h *ChatHandler) writeWSError(conn *websocket.Conn, err error) {
	if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
		log.Errorw("[WS] exchange failed", "code", apperr.CodeOf(err), "error", err)
	}
	if werr := conn.WriteJSON(wsErrorFrame{Code: apperr.CodeOf(err), Message: apperr.SafeMessage(err)}); werr != nil {
		log.Debugf("[WS] failed to send error frame: %v", werr)
	}
}

func (h *ChatHandler) writeCompletion(conn *websocket.Conn, status, sessionID string, saved bool) {
	frame := wsCompletionFrame{
		Type:      "completion",
		Status:    status,
		SessionID: sessionID,
		Saved:     saved,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := conn.WriteJSON(frame); err != nil {
		log.Debugf("[WS] failed to send completion frame: %v", err)
	}
}
