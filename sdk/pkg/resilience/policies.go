package resilience

import (
	"github.com/ChenBigdata421/jxt-iot/sdk/config"
)

// Policies 一组可独立替换的容错策略，字段为 nil 表示不启用
type Policies struct {
	Retry       RetryPolicy
	Breaker     CircuitBreaker
	Bulkhead    Bulkhead
	Degrade     DegradePolicy
	Idempotency IdempotencyChecker
	Fallback    FallbackStore

	Settings config.ResilienceConfig
}

// PolicyOption 替换默认实现
type PolicyOption func(p *Policies)

// WithFallbackStore 使用外部兜底存储（例如 GORM 仓储）
func WithFallbackStore(store FallbackStore) PolicyOption {
	return func(p *Policies) { p.Fallback = store }
}

// WithIdempotencyChecker 使用外部幂等实现（例如 Redis）
func WithIdempotencyChecker(checker IdempotencyChecker) PolicyOption {
	return func(p *Policies) { p.Idempotency = checker }
}

// WithDegradePolicy 使用自定义降级路径
func WithDegradePolicy(d DegradePolicy) PolicyOption {
	return func(p *Policies) { p.Degrade = d }
}

// WithCircuitBreaker 使用自定义熔断器
func WithCircuitBreaker(b CircuitBreaker) PolicyOption {
	return func(p *Policies) { p.Breaker = b }
}

// NewPolicies 按配置装配策略；未通过选项提供的实现使用内存版本
func NewPolicies(cfg config.ResilienceConfig, opts ...PolicyOption) *Policies {
	cfg.SetDefaults()
	p := &Policies{Settings: cfg}
	for _, opt := range opts {
		opt(p)
	}

	if cfg.Retry.Enabled && p.Retry == nil {
		p.Retry = NewBackoffRetry()
	}
	if cfg.CircuitBreaker.Enabled && p.Breaker == nil {
		cb := cfg.CircuitBreaker
		if cb.Strategy == config.BreakerStrategyWindow {
			p.Breaker = NewWindowBreaker(WindowBreakerSettings{
				Window:       cb.Window,
				OpenTimeout:  cb.OpenTimeout,
				FailureRatio: cb.FailureRatio,
				MinRequests:  cb.MinRequests,
			})
		} else {
			p.Breaker = NewConsecutiveBreaker(cb.FailureThreshold, cb.OpenTimeout)
		}
	}
	if cfg.Bulkhead.Enabled && p.Bulkhead == nil {
		p.Bulkhead = NewSemaphoreBulkhead()
	}
	if cfg.Idempotency.Enabled && p.Idempotency == nil {
		p.Idempotency = NewMemoryIdempotency(cfg.Idempotency.TTL)
	}
	if cfg.Fallback.Enabled && p.Fallback == nil {
		p.Fallback = NewMemoryFallbackStore()
	}
	if p.Degrade == nil && p.Fallback != nil {
		p.Degrade = NewStoreDegrade(p.Fallback)
	}
	return p
}
