package config

import (
	"fmt"
	"time"
)

// ==========================================================================
// 容错策略配置 - 重试、熔断、隔离、降级、幂等、兜底
// ==========================================================================

const (
	BreakerStrategyConsecutive = "consecutive" // 连续失败计数
	BreakerStrategyWindow      = "window"      // 滑动窗口失败率

	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendGorm   = "gorm"
)

// ResilienceConfig 容错策略配置
type ResilienceConfig struct {
	Retry          RetryConfig          `mapstructure:"retry"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuitBreaker"`
	Bulkhead       BulkheadConfig       `mapstructure:"bulkhead"`
	Idempotency    IdempotencyConfig    `mapstructure:"idempotency"`
	Fallback       FallbackConfig       `mapstructure:"fallback"`
	Maintenance    MaintenanceConfig    `mapstructure:"maintenance"`
}

// RetryConfig 重试配置
type RetryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxAttempts int           `mapstructure:"maxAttempts" validate:"gte=0"` // 最大尝试次数（含首次，默认3）
	Interval    time.Duration `mapstructure:"interval" validate:"gte=0"`    // 重试间隔（默认100ms）
}

// CircuitBreakerConfig 熔断配置
type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Strategy         string        `mapstructure:"strategy" validate:"omitempty,oneof=consecutive window"`
	FailureThreshold int           `mapstructure:"failureThreshold" validate:"gte=0"`   // consecutive: 连续失败次数阈值（默认5）
	OpenTimeout      time.Duration `mapstructure:"openTimeout" validate:"gte=0"`        // 熔断打开后进入半开的等待时间（默认30秒）
	Window           time.Duration `mapstructure:"window" validate:"gte=0"`             // window: 统计窗口（默认60秒）
	FailureRatio     float64       `mapstructure:"failureRatio" validate:"gte=0,lte=1"` // window: 失败率阈值（默认0.5）
	MinRequests      uint32        `mapstructure:"minRequests"`                         // window: 窗口内最少请求数（默认10）
}

// BulkheadConfig 隔离配置
type BulkheadConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	MaxConcurrency int           `mapstructure:"maxConcurrency" validate:"gte=0"` // 每个分区最大并发（默认4）
	WaitAttempts   int           `mapstructure:"waitAttempts" validate:"gte=0"`   // 进入失败后的退避次数（默认3）
	WaitInterval   time.Duration `mapstructure:"waitInterval" validate:"gte=0"`   // 退避间隔（默认10ms）
}

// IdempotencyConfig 幂等配置
type IdempotencyConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Backend   string        `mapstructure:"backend" validate:"omitempty,oneof=memory redis"`
	TTL       time.Duration `mapstructure:"ttl" validate:"gte=0"` // 已处理消息ID保留时间（默认10分钟）
	KeyPrefix string        `mapstructure:"keyPrefix"`            // redis键前缀
}

// FallbackConfig 兜底存储配置
type FallbackConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Backend string `mapstructure:"backend" validate:"omitempty,oneof=memory gorm"`
}

// MaintenanceConfig 定时维护任务配置（模板缓存、幂等记录过期清理）
type MaintenanceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Spec    string `mapstructure:"spec"` // cron 表达式，默认 @every 1m
}

// SetDefaults 为ResilienceConfig设置默认值
func (c *ResilienceConfig) SetDefaults() {
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.Interval == 0 {
		c.Retry.Interval = 100 * time.Millisecond
	}

	if c.CircuitBreaker.Strategy == "" {
		c.CircuitBreaker.Strategy = BreakerStrategyConsecutive
	}
	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = 5
	}
	if c.CircuitBreaker.OpenTimeout == 0 {
		c.CircuitBreaker.OpenTimeout = 30 * time.Second
	}
	if c.CircuitBreaker.Window == 0 {
		c.CircuitBreaker.Window = 60 * time.Second
	}
	if c.CircuitBreaker.FailureRatio == 0 {
		c.CircuitBreaker.FailureRatio = 0.5
	}
	if c.CircuitBreaker.MinRequests == 0 {
		c.CircuitBreaker.MinRequests = 10
	}

	if c.Bulkhead.MaxConcurrency == 0 {
		c.Bulkhead.MaxConcurrency = 4
	}
	if c.Bulkhead.WaitAttempts == 0 {
		c.Bulkhead.WaitAttempts = 3
	}
	if c.Bulkhead.WaitInterval == 0 {
		c.Bulkhead.WaitInterval = 10 * time.Millisecond
	}

	if c.Idempotency.Backend == "" {
		c.Idempotency.Backend = BackendMemory
	}
	if c.Idempotency.TTL == 0 {
		c.Idempotency.TTL = 10 * time.Minute
	}
	if c.Idempotency.KeyPrefix == "" {
		c.Idempotency.KeyPrefix = "jxt-iot:processed:"
	}

	if c.Fallback.Backend == "" {
		c.Fallback.Backend = BackendMemory
	}

	if c.Maintenance.Spec == "" {
		c.Maintenance.Spec = "@every 1m"
	}
}

// Validate 验证ResilienceConfig配置
func (c *ResilienceConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid resilience config: %w", err)
	}
	if c.Retry.Enabled && c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("invalid resilience config: retry maxAttempts must be positive")
	}
	if c.CircuitBreaker.Enabled && c.CircuitBreaker.Strategy == BreakerStrategyConsecutive && c.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("invalid resilience config: circuit breaker failureThreshold must be positive")
	}
	if c.Bulkhead.Enabled && c.Bulkhead.MaxConcurrency < 1 {
		return fmt.Errorf("invalid resilience config: bulkhead maxConcurrency must be positive")
	}
	return nil
}
