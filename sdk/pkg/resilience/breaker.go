package resilience

import (
	"sync"
	"time"

	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/logger"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerState 熔断器状态
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerHalfOpen:
		return "half-open"
	case BreakerOpen:
		return "open"
	default:
		return "closed"
	}
}

// CircuitBreaker 按逻辑键（通常是分区）隔离的熔断器
type CircuitBreaker interface {
	IsOpen(key string) bool
	RecordFailure(key string)
	RecordSuccess(key string)
	State(key string) BreakerState
}

// ==========================================================================
// 连续失败熔断
// ==========================================================================

type consecutiveState struct {
	failures int
	state    BreakerState
	openedAt time.Time
}

// ConsecutiveBreaker 连续失败达到阈值后打开，任意一次成功清零；
// 打开 openTimeout 后进入半开，半开期间失败立即重新打开。
type ConsecutiveBreaker struct {
	threshold   int
	openTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time

	mu    sync.Mutex
	state map[string]*consecutiveState
}

// NewConsecutiveBreaker 创建连续失败熔断器
func NewConsecutiveBreaker(threshold int, openTimeout time.Duration) *ConsecutiveBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &ConsecutiveBreaker{
		threshold:   threshold,
		openTimeout: openTimeout,
		logger:      logger.Logger.Named("breaker"),
		now:         time.Now,
		state:       make(map[string]*consecutiveState),
	}
}

func (b *ConsecutiveBreaker) get(key string) *consecutiveState {
	s, ok := b.state[key]
	if !ok {
		s = &consecutiveState{}
		b.state[key] = s
	}
	return s
}

// advance 打开超时后转为半开，调用方需持有锁
func (b *ConsecutiveBreaker) advance(key string, s *consecutiveState) {
	if s.state == BreakerOpen && b.now().Sub(s.openedAt) >= b.openTimeout {
		s.state = BreakerHalfOpen
		b.logger.Info("circuit breaker half-open", zap.String("key", key))
	}
}

func (b *ConsecutiveBreaker) IsOpen(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.get(key)
	b.advance(key, s)
	return s.state == BreakerOpen
}

func (b *ConsecutiveBreaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.get(key)
	b.advance(key, s)
	s.failures++
	if s.state == BreakerHalfOpen || (s.state == BreakerClosed && s.failures >= b.threshold) {
		s.state = BreakerOpen
		s.openedAt = b.now()
		b.logger.Warn("circuit breaker opened",
			zap.String("key", key),
			zap.Int("consecutiveFailures", s.failures))
	}
}

func (b *ConsecutiveBreaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.get(key)
	if s.state != BreakerClosed {
		b.logger.Info("circuit breaker closed", zap.String("key", key))
	}
	s.failures = 0
	s.state = BreakerClosed
}

func (b *ConsecutiveBreaker) State(key string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.get(key)
	b.advance(key, s)
	return s.state
}

// Failures 当前连续失败次数
func (b *ConsecutiveBreaker) Failures(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.get(key).failures
}

// ==========================================================================
// 窗口失败率熔断（sony/gobreaker）
// ==========================================================================

// WindowBreakerSettings 窗口熔断参数
type WindowBreakerSettings struct {
	Window       time.Duration // 闭合状态下计数清零的周期
	OpenTimeout  time.Duration // 打开后进入半开的等待时间
	FailureRatio float64       // 失败率阈值
	MinRequests  uint32        // 窗口内最少请求数，不足时不计算失败率
	HalfOpenMax  uint32        // 半开状态允许通过的请求数
}

// WindowBreaker 每个键一个 gobreaker 两阶段熔断器，按窗口内失败率打开
type WindowBreaker struct {
	settings WindowBreakerSettings
	logger   *zap.Logger
	breakers sync.Map // key -> *gobreaker.TwoStepCircuitBreaker
}

// NewWindowBreaker 创建窗口失败率熔断器
func NewWindowBreaker(settings WindowBreakerSettings) *WindowBreaker {
	if settings.HalfOpenMax == 0 {
		settings.HalfOpenMax = 1
	}
	if settings.MinRequests == 0 {
		settings.MinRequests = 1
	}
	return &WindowBreaker{
		settings: settings,
		logger:   logger.Logger.Named("breaker"),
	}
}

func (b *WindowBreaker) get(key string) *gobreaker.TwoStepCircuitBreaker {
	if v, ok := b.breakers.Load(key); ok {
		return v.(*gobreaker.TwoStepCircuitBreaker)
	}
	cb := gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: b.settings.HalfOpenMax,
		Interval:    b.settings.Window,
		Timeout:     b.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < b.settings.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= b.settings.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Info("circuit breaker state changed",
				zap.String("key", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	actual, _ := b.breakers.LoadOrStore(key, cb)
	return actual.(*gobreaker.TwoStepCircuitBreaker)
}

func (b *WindowBreaker) IsOpen(key string) bool {
	return b.get(key).State() == gobreaker.StateOpen
}

func (b *WindowBreaker) RecordFailure(key string) {
	b.record(key, false)
}

func (b *WindowBreaker) RecordSuccess(key string) {
	b.record(key, true)
}

// record 打开或半开限流时 Allow 返回错误，此时结果不计入统计
func (b *WindowBreaker) record(key string, success bool) {
	done, err := b.get(key).Allow()
	if err != nil {
		return
	}
	done(success)
}

func (b *WindowBreaker) State(key string) BreakerState {
	switch b.get(key).State() {
	case gobreaker.StateOpen:
		return BreakerOpen
	case gobreaker.StateHalfOpen:
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}
