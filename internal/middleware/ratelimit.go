package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"ragchat/internal/apperr"
	"ragchat/pkg/log"
)

// RateLimit 在每个固定窗口内，每个调用者在每个 scope 下最多允许 limit 次请求。
// 调用者以用户 ID 标识，认证前使用客户端 IP。Redis 出错时放行请求。
func RateLimit(rdb *redis.Client, scope string, limit int, window time.Duration) gin.HandlerFunc {
	if window < time.Second {
		window = time.Minute
	}
	return func(c *gin.Context) {
		if rdb == nil || limit <= 0 {
			c.Next()
			return
		}
		caller := c.GetString(UserIDKey)
		if caller == "" {
			caller = c.ClientIP()
		}
		bucket := time.Now().Unix() / int64(window.Seconds())
		key := fmt.Sprintf("ratelimit:%s:%s:%d", scope, caller, bucket)

		ctx := c.Request.Context()
		n, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			log.Warnf("[RateLimit] redis unavailable, allowing request: %v", err)
			c.Next()
			return
		}
		if n == 1 {
			_ = rdb.Expire(ctx, key, window).Err()
		}

		remaining := int64(limit) - n
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if n > int64(limit) {
			abort(c, apperr.CodeRateLimited, "too many requests, please slow down")
			return
		}
		c.Next()
	}
}
