package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"ragchat/internal/middleware"
	"ragchat/pkg/token"
)

// RouterDeps 汇总路由所需的依赖。Redis 为 nil 时不启用限流。
type RouterDeps struct {
	JWT        *token.JWTManager
	Redis      *redis.Client
	RateLimit  int
	RateWindow time.Duration
	Sessions   *SessionHandler
	Chat       *ChatHandler
	Files      *FileHandler
}

// NewRouter 创建引擎并注册所有路由。
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/healthz", Health)

	auth := middleware.AuthMiddleware(deps.JWT)
	chatLimit := middleware.RateLimit(deps.Redis, "chat", deps.RateLimit, deps.RateWindow)
	uploadLimit := middleware.RateLimit(deps.Redis, "upload", deps.RateLimit, deps.RateWindow)

	chat := r.Group("/chat")
	chat.Use(auth)
	{
		chat.POST("/create-session", deps.Sessions.Create)
		chat.GET("/history", deps.Sessions.History)
		chat.GET("/session/:id", deps.Sessions.Get)
		chat.DELETE("/delete/:id", deps.Sessions.Delete)

		chat.POST("", chatLimit, deps.Chat.Chat)
		chat.POST("/stream", chatLimit, deps.Chat.Stream)
		chat.GET("/ws", deps.Chat.Websocket)
	}

	files := r.Group("/")
	files.Use(auth)
	{
		files.POST("/upload", uploadLimit, deps.Files.Upload)
		files.GET("/files", deps.Files.List)
		files.POST("/files/remove", deps.Files.Remove)
	}
	return r
}
