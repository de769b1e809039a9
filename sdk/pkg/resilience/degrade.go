package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/envelope"
	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/logger"
	"go.uber.org/zap"
)

// StepDegrade 降级步骤名
const StepDegrade = "degrade"

// ErrDegraded 消息走了降级路径
var ErrDegraded = errors.New("resilience: message degraded")

// DegradePolicy 主路径不可用时的廉价替代路径
type DegradePolicy interface {
	Execute(ctx context.Context, partitionKey string, envs []*envelope.Envelope, traceID string) error
}

// DegradeFunc 函数适配器
type DegradeFunc func(ctx context.Context, partitionKey string, envs []*envelope.Envelope, traceID string) error

func (f DegradeFunc) Execute(ctx context.Context, partitionKey string, envs []*envelope.Envelope, traceID string) error {
	return f(ctx, partitionKey, envs, traceID)
}

// StoreDegrade 把消息写入兜底存储，后续由运维重放
type StoreDegrade struct {
	store  FallbackStore
	logger *zap.Logger
}

func NewStoreDegrade(store FallbackStore) *StoreDegrade {
	return &StoreDegrade{store: store, logger: logger.Logger.Named("degrade")}
}

func (d *StoreDegrade) Execute(ctx context.Context, partitionKey string, envs []*envelope.Envelope, traceID string) error {
	if len(envs) == 0 {
		return nil
	}
	start := time.Now()
	reason := fmt.Errorf("%w: partition %s", ErrDegraded, partitionKey)
	records := make([]*FallbackRecord, 0, len(envs))
	for _, env := range envs {
		records = append(records, NewFallbackRecord(env, partitionKey, FallbackDegraded, reason))
	}

	err := d.store.StoreBatch(ctx, records)
	elapsed := time.Since(start)
	for _, env := range envs {
		if err != nil {
			_ = env.RecordStep(StepDegrade, false, elapsed, err.Error(), err)
		} else {
			_ = env.RecordStep(StepDegrade, true, elapsed, "", nil)
		}
	}
	if err != nil {
		d.logger.Error("degrade store failed",
			zap.String("traceId", traceID),
			zap.String("partitionKey", partitionKey),
			zap.Int("count", len(envs)),
			zap.Error(err))
		return fmt.Errorf("degrade store: %w", err)
	}
	d.logger.Info("messages degraded to fallback store",
		zap.String("traceId", traceID),
		zap.String("partitionKey", partitionKey),
		zap.Int("count", len(envs)))
	return nil
}
