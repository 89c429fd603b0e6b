package cache

import (
	"context"
	"fmt"
	"time"

	"EchoMark/db"
	"EchoMark/logger"
)

// Redis键前缀
const (
	loginAttemptPrefix = "login_attempts:"
	anonDetectPrefix   = "anon_detect:"
)

// RateLimiter 基于Redis计数器的固定窗口限流器
type RateLimiter struct {
	prefix string
	limit  int
	window time.Duration
}

// NewLoginLimiter 创建登录尝试限流器（防止暴力破解）
func NewLoginLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{prefix: loginAttemptPrefix, limit: limit, window: window}
}

// NewAnonDetectLimiter 创建匿名水印检测限流器
func NewAnonDetectLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{prefix: anonDetectPrefix, limit: limit, window: window}
}

// Allow increments the counter for key and reports whether the caller is
// still within the limit. When Redis is unavailable the limiter fails
// open: limiting is best-effort protection, not a correctness guarantee.
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	if db.RedisClient == nil {
		return true
	}

	redisKey := rl.prefix + key
	count, err := db.RedisClient.Incr(ctx, redisKey).Result()
	if err != nil {
		logger.Warn("[RateLimit] Redis计数失败，放行请求",
			logger.String("key", redisKey),
			logger.ErrorField(err))
		return true
	}

	// 第一次计数时设置窗口过期
	if count == 1 {
		if err := db.RedisClient.Expire(ctx, redisKey, rl.window).Err(); err != nil {
			logger.Warn("[RateLimit] 设置过期时间失败", logger.ErrorField(err))
		}
	}

	return count <= int64(rl.limit)
}

// Reset clears the counter for key, e.g. after a successful login.
func (rl *RateLimiter) Reset(ctx context.Context, key string) {
	if db.RedisClient == nil {
		return
	}
	if err := db.RedisClient.Del(ctx, rl.prefix+key).Err(); err != nil {
		logger.Warn("[RateLimit] 清除计数失败",
			logger.String("key", rl.prefix+key),
			logger.ErrorField(err))
	}
}

// Remaining returns how many attempts are left in the current window.
func (rl *RateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	if db.RedisClient == nil {
		return rl.limit, nil
	}

	count, err := db.RedisClient.Get(ctx, rl.prefix+key).Int64()
	if err != nil {
		// 键不存在视为未使用
		return rl.limit, nil
	}

	remaining := rl.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// String 用于日志输出
func (rl *RateLimiter) String() string {
	return fmt.Sprintf("%s(limit=%d, window=%s)", rl.prefix, rl.limit, rl.window)
}
