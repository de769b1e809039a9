package config

import (
	"fmt"
	"time"
)

// ==========================================================================
// 分区分发器配置
// ==========================================================================

const (
	// PartitionStrategyOrdered 同一设备的消息落在同一分区，保证顺序
	PartitionStrategyOrdered = "ordered"
	// PartitionStrategyParallel 同一设备的消息打散到多个分区，追求吞吐
	PartitionStrategyParallel = "parallel"
)

// DispatcherConfig 分区分发器配置
type DispatcherConfig struct {
	PartitionCount        int           `mapstructure:"partitionCount" validate:"gte=1,lte=65536"`  // 分区数量（默认16）
	QueueCapacity         int           `mapstructure:"queueCapacity" validate:"gte=1"`             // 每个分区队列容量（默认1000）
	BatchSize             int           `mapstructure:"batchSize" validate:"gte=1"`                 // 单批最大消息数（默认32）
	BatchTimeout          time.Duration `mapstructure:"batchTimeout" validate:"gt=0"`               // 凑批最长等待时间（默认50ms）
	Strategy              string        `mapstructure:"strategy" validate:"oneof=ordered parallel"` // ordered | parallel
	AutoGenerateMessageID *bool         `mapstructure:"autoGenerateMessageId"`                      // 缺少消息ID时是否自动生成（默认true）
	TemplateCacheTTL      time.Duration `mapstructure:"templateCacheTTL" validate:"gte=0"`          // 主题模板编译缓存过期时间（0表示不过期）

	RateLimit RateLimitConfig `mapstructure:"rateLimit"` // 入队限流
}

// RateLimitConfig 流量控制配置
type RateLimitConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	RatePerSecond float64 `mapstructure:"ratePerSecond" validate:"gte=0"`
	BurstSize     int     `mapstructure:"burstSize" validate:"gte=0"`
}

// SetDefaults 为DispatcherConfig设置默认值
func (c *DispatcherConfig) SetDefaults() {
	if c.PartitionCount == 0 {
		c.PartitionCount = 16
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = 1000
	}
	if c.BatchSize == 0 {
		c.BatchSize = 32
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = 50 * time.Millisecond
	}
	if c.Strategy == "" {
		c.Strategy = PartitionStrategyOrdered
	}
	if c.AutoGenerateMessageID == nil {
		enabled := true
		c.AutoGenerateMessageID = &enabled
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.RatePerSecond == 0 {
			c.RateLimit.RatePerSecond = 1000
		}
		if c.RateLimit.BurstSize == 0 {
			c.RateLimit.BurstSize = 2000
		}
	}
}

// Validate 验证DispatcherConfig配置
func (c *DispatcherConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid dispatcher config: %w", err)
	}
	if c.BatchSize > c.QueueCapacity {
		return fmt.Errorf("invalid dispatcher config: batchSize %d exceeds queueCapacity %d", c.BatchSize, c.QueueCapacity)
	}
	return nil
}

// AutoMessageID 返回是否自动生成消息ID
func (c *DispatcherConfig) AutoMessageID() bool {
	return c.AutoGenerateMessageID == nil || *c.AutoGenerateMessageID
}
