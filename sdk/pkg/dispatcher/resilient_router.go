package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/envelope"
	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/logger"
	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/resilience"
	"go.uber.org/zap"
)

// StepIdempotency 幂等检查命中时记录的步骤
const StepIdempotency = "idempotency"

var (
	// ErrCircuitOpen 熔断打开且没有降级路径
	ErrCircuitOpen = errors.New("dispatcher: circuit breaker open")
	// ErrBulkheadFull 隔离舱已满且没有降级路径
	ErrBulkheadFull = errors.New("dispatcher: bulkhead full")
)

// KeyFunc 计算容错策略使用的逻辑键
type KeyFunc func(ctx context.Context, env *envelope.Envelope) string

// PartitionKeyFunc 默认按分区隔离；不在分发器内调用时按设备隔离
func PartitionKeyFunc(ctx context.Context, env *envelope.Envelope) string {
	if p, ok := PartitionFromContext(ctx); ok {
		return strconv.Itoa(p)
	}
	if id := env.Identity(); id.IsComplete() {
		return id.String()
	}
	return env.Topic()
}

// ResilientRouter 在任意 Router 外组合容错策略：
// 幂等 → 熔断（打开则降级）→ 隔离（满则退避后降级）→ 重试 → 记录熔断结果 / 标记已处理 / 写入兜底
type ResilientRouter struct {
	next     Router
	policies *resilience.Policies
	keyFunc  KeyFunc
	logger   *zap.Logger
}

// NewResilientRouter policies 为 nil 时只透传
func NewResilientRouter(next Router, policies *resilience.Policies, keyFunc KeyFunc) *ResilientRouter {
	if policies == nil {
		policies = &resilience.Policies{}
	}
	if keyFunc == nil {
		keyFunc = PartitionKeyFunc
	}
	return &ResilientRouter{
		next:     next,
		policies: policies,
		keyFunc:  keyFunc,
		logger:   logger.Logger.Named("resilience"),
	}
}

func (r *ResilientRouter) RouteMessage(ctx context.Context, env *envelope.Envelope) (Outcome, error) {
	p := r.policies
	key := r.keyFunc(ctx, env)
	msgID := env.MessageID()

	if p.Idempotency != nil && msgID != "" {
		seen, err := p.Idempotency.Check(ctx, msgID)
		switch {
		case err != nil:
			// 幂等存储不可用时继续处理
			r.logger.Warn("idempotency check failed",
				zap.String("traceId", env.TraceID()),
				zap.String("messageId", msgID),
				zap.Error(err))
		case seen:
			_ = env.RecordStep(StepIdempotency, true, 0, "", nil)
			return OutcomeDuplicate, nil
		}
	}

	if p.Breaker != nil && p.Breaker.IsOpen(key) {
		return r.degrade(ctx, key, env, ErrCircuitOpen)
	}

	if p.Bulkhead != nil {
		if !r.enterBulkhead(ctx, key) {
			return r.degrade(ctx, key, env, ErrBulkheadFull)
		}
		defer p.Bulkhead.Release(key)
	}

	outcome, err := r.execute(ctx, key, env)
	if err == nil {
		if p.Breaker != nil {
			p.Breaker.RecordSuccess(key)
		}
		if p.Idempotency != nil && msgID != "" {
			if merr := p.Idempotency.MarkProcessed(ctx, msgID); merr != nil {
				r.logger.Warn("mark processed failed",
					zap.String("traceId", env.TraceID()),
					zap.String("messageId", msgID),
					zap.Error(merr))
			}
		}
		return outcome, nil
	}

	if isPermanent(err, env) {
		return OutcomeFailed, err
	}
	if p.Breaker != nil {
		p.Breaker.RecordFailure(key)
	}
	if p.Fallback == nil {
		return OutcomeFailed, err
	}

	record := resilience.NewFallbackRecord(env, key, resilience.FallbackRetryExhausted, err)
	if serr := p.Fallback.Store(context.WithoutCancel(ctx), record); serr != nil {
		r.logger.Error("fallback store failed",
			zap.String("traceId", env.TraceID()),
			zap.String("partitionKey", key),
			zap.Error(serr))
		return OutcomeFailed, errors.Join(err, fmt.Errorf("fallback store: %w", serr))
	}
	return OutcomeFallback, err
}

// execute 在重试策略下调用下游路由器；不可重试的错误立即返回
func (r *ResilientRouter) execute(ctx context.Context, key string, env *envelope.Envelope) (Outcome, error) {
	var outcome Outcome
	op := func(ctx context.Context) error {
		o, err := r.next.RouteMessage(ctx, env)
		outcome = o
		if err != nil && isPermanent(err, env) {
			return resilience.Permanent(err)
		}
		return err
	}

	p := r.policies
	if p.Retry == nil {
		err := op(ctx)
		if resilience.IsPermanent(err) {
			err = errors.Unwrap(err)
		}
		return outcome, err
	}
	return outcome, p.Retry.Execute(ctx, op, key, p.Settings.Retry.MaxAttempts, p.Settings.Retry.Interval)
}

func (r *ResilientRouter) enterBulkhead(ctx context.Context, key string) bool {
	p := r.policies
	s := p.Settings.Bulkhead
	for attempt := 0; ; attempt++ {
		if p.Bulkhead.TryEnter(key, s.MaxConcurrency) {
			return true
		}
		if attempt >= s.WaitAttempts {
			return false
		}
		timer := time.NewTimer(s.WaitInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false
		}
	}
}

func (r *ResilientRouter) degrade(ctx context.Context, key string, env *envelope.Envelope, reason error) (Outcome, error) {
	p := r.policies
	if p.Degrade == nil {
		return OutcomeFailed, fmt.Errorf("%w: key %s", reason, key)
	}
	r.logger.Debug("degrading message",
		zap.String("traceId", env.TraceID()),
		zap.String("partitionKey", key),
		zap.Error(reason))
	if err := p.Degrade.Execute(context.WithoutCancel(ctx), key, []*envelope.Envelope{env}, env.TraceID()); err != nil {
		return OutcomeFailed, errors.Join(reason, err)
	}
	return OutcomeDegraded, nil
}

// isPermanent 路由缺失、解析失败、处理器未注册、或已有解析结果时不再重试
func isPermanent(err error, env *envelope.Envelope) bool {
	return errors.Is(err, ErrNoRoute) ||
		errors.Is(err, ErrParse) ||
		errors.Is(err, ErrUnknownHandlerType) ||
		env.ParseState() != envelope.ParseUnparsed
}
