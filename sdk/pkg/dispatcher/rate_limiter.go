package dispatcher

import (
	"context"
	"time"

	"github.com/ChenBigdata421/jxt-iot/sdk/config"
	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiter 入队流量控制器，未启用时所有调用直接放行
type RateLimiter struct {
	limiter   *rate.Limiter
	burstSize int
	rateLimit rate.Limit
	enabled   bool
	logger    *zap.Logger
}

// NewRateLimiter 创建流量控制器
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	if !cfg.Enabled {
		return &RateLimiter{
			enabled: false,
			logger:  logger.Logger,
		}
	}

	rateLimit := rate.Limit(cfg.RatePerSecond)
	return &RateLimiter{
		limiter:   rate.NewLimiter(rateLimit, cfg.BurstSize),
		burstSize: cfg.BurstSize,
		rateLimit: rateLimit,
		enabled:   true,
		logger:    logger.Logger,
	}
}

// Wait 等待令牌，实现背压
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if !rl.enabled {
		return nil
	}

	start := time.Now()
	if err := rl.limiter.Wait(ctx); err != nil {
		rl.logger.Warn("rate limiter wait failed", zap.Error(err))
		return err
	}

	if waitTime := time.Since(start); waitTime > 100*time.Millisecond {
		rl.logger.Warn("rate limiter caused significant delay",
			zap.Duration("waitTime", waitTime),
			zap.Float64("rateLimit", float64(rl.rateLimit)),
			zap.Int("burstSize", rl.burstSize))
	}
	return nil
}

// Allow 非阻塞检查
func (rl *RateLimiter) Allow() bool {
	if !rl.enabled {
		return true
	}
	return rl.limiter.Allow()
}

// SetLimit 动态调整速率
func (rl *RateLimiter) SetLimit(ratePerSecond float64) {
	if !rl.enabled {
		return
	}
	rl.rateLimit = rate.Limit(ratePerSecond)
	rl.limiter.SetLimit(rl.rateLimit)
	rl.logger.Info("rate limit updated",
		zap.Float64("rateLimit", ratePerSecond),
		zap.Int("burstSize", rl.burstSize))
}

// RateLimiterStats 流量控制统计
type RateLimiterStats struct {
	Enabled         bool    `json:"enabled"`
	RateLimit       float64 `json:"rateLimit"`
	BurstSize       int     `json:"burstSize"`
	TokensAvailable float64 `json:"tokensAvailable"`
}

// GetStats 获取流量控制统计
func (rl *RateLimiter) GetStats() RateLimiterStats {
	if !rl.enabled {
		return RateLimiterStats{}
	}
	return RateLimiterStats{
		Enabled:         true,
		RateLimit:       float64(rl.rateLimit),
		BurstSize:       rl.burstSize,
		TokensAvailable: rl.limiter.Tokens(),
	}
}
