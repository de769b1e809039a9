package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDispatcherConfig_SetDefaults 测试默认值
func TestDispatcherConfig_SetDefaults(t *testing.T) {
	c := &DispatcherConfig{}
	c.SetDefaults()

	assert.Equal(t, 16, c.PartitionCount)
	assert.Equal(t, 1000, c.QueueCapacity)
	assert.Equal(t, 32, c.BatchSize)
	assert.Equal(t, 50*time.Millisecond, c.BatchTimeout)
	assert.Equal(t, PartitionStrategyOrdered, c.Strategy)
	assert.True(t, c.AutoMessageID())
	require.NoError(t, c.Validate())
}

// TestDispatcherConfig_AutoMessageIDDisabled 测试显式关闭自动消息ID
func TestDispatcherConfig_AutoMessageIDDisabled(t *testing.T) {
	disabled := false
	c := &DispatcherConfig{AutoGenerateMessageID: &disabled}
	c.SetDefaults()
	assert.False(t, c.AutoMessageID())
}

// TestDispatcherConfig_Validate 测试配置验证
func TestDispatcherConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *DispatcherConfig)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid parallel strategy",
			mutate: func(c *DispatcherConfig) { c.Strategy = PartitionStrategyParallel },
		},
		{
			name:    "unknown strategy",
			mutate:  func(c *DispatcherConfig) { c.Strategy = "random" },
			wantErr: true,
			errMsg:  "invalid dispatcher config",
		},
		{
			name:    "negative partition count",
			mutate:  func(c *DispatcherConfig) { c.PartitionCount = -1 },
			wantErr: true,
		},
		{
			name: "batch larger than queue",
			mutate: func(c *DispatcherConfig) {
				c.QueueCapacity = 4
				c.BatchSize = 8
			},
			wantErr: true,
			errMsg:  "exceeds queueCapacity",
		},
		{
			name:    "negative rate",
			mutate:  func(c *DispatcherConfig) { c.RateLimit.RatePerSecond = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &DispatcherConfig{}
			c.SetDefaults()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				require.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestResilienceConfig_Validate 测试容错配置验证
func TestResilienceConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *ResilienceConfig)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *ResilienceConfig) {}},
		{
			name:    "unknown breaker strategy",
			mutate:  func(c *ResilienceConfig) { c.CircuitBreaker.Strategy = "adaptive" },
			wantErr: true,
		},
		{
			name:    "failure ratio above one",
			mutate:  func(c *ResilienceConfig) { c.CircuitBreaker.FailureRatio = 1.5 },
			wantErr: true,
		},
		{
			name:    "unknown idempotency backend",
			mutate:  func(c *ResilienceConfig) { c.Idempotency.Backend = "etcd" },
			wantErr: true,
		},
		{
			name: "enabled retry without attempts",
			mutate: func(c *ResilienceConfig) {
				c.Retry.Enabled = true
				c.Retry.MaxAttempts = -1
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &ResilienceConfig{}
			c.SetDefaults()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
