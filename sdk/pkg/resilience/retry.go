package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/logger"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Operation 被重试的操作
type Operation func(ctx context.Context) error

// RetryPolicy 重试策略
type RetryPolicy interface {
	// Execute 最多执行 maxAttempts 次（含首次），最终失败一定返回错误
	Execute(ctx context.Context, op Operation, partitionKey string, maxAttempts int, interval time.Duration) error
}

// RetryExhaustedError 重试次数耗尽
type RetryExhaustedError struct {
	PartitionKey string
	Attempts     int
	Err          error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts (key=%s): %v", e.Attempts, e.PartitionKey, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// Permanent 包装为不可重试错误，Execute 会立即返回原始错误
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent 判断错误是否被标记为不可重试
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// BackoffRetry 基于固定间隔退避的重试实现
type BackoffRetry struct {
	logger *zap.Logger
}

// NewBackoffRetry 创建重试策略
func NewBackoffRetry() *BackoffRetry {
	return &BackoffRetry{logger: logger.Logger.Named("retry")}
}

func (r *BackoffRetry) Execute(ctx context.Context, op Operation, partitionKey string, maxAttempts int, interval time.Duration) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempts := 0
	var lastErr error
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		lastErr = op(ctx)
		if lastErr != nil && attempts < maxAttempts && !IsPermanent(lastErr) {
			r.logger.Debug("operation failed, retrying",
				zap.String("partitionKey", partitionKey),
				zap.Int("attempt", attempts),
				zap.Int("maxAttempts", maxAttempts),
				zap.Error(lastErr))
		}
		return struct{}{}, lastErr
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err == nil {
		return nil
	}

	var perm *backoff.PermanentError
	if errors.As(lastErr, &perm) {
		return perm.Unwrap()
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, lastErr) {
		return err
	}

	r.logger.Warn("retry exhausted",
		zap.String("partitionKey", partitionKey),
		zap.Int("attempts", attempts),
		zap.Error(lastErr))
	return &RetryExhaustedError{PartitionKey: partitionKey, Attempts: attempts, Err: lastErr}
}
