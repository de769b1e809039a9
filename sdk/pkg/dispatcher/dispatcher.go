package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChenBigdata421/jxt-iot/sdk/config"
	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/envelope"
	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/logger"
	pkey "github.com/ChenBigdata421/jxt-iot/sdk/pkg/partition"
	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/resilience"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// MessageIDField 自动生成消息ID时优先读取的负载字段
const MessageIDField = "id"

const (
	stateNew int32 = iota
	stateRunning
	stateStopped
)

// Dispatcher 分区分发器。
//
// 每个分区一个有界队列和一个消费协程：队列满时 Enqueue 阻塞（背压），
// 消费协程按批取出消息，在分区门闩内顺序调用 Router，批次结束后释放每个包络。
type Dispatcher struct {
	cfg      config.DispatcherConfig
	router   Router
	keys     pkey.KeyGenerator
	limiter  *RateLimiter
	metrics  MetricsCollector
	fallback resilience.FallbackStore
	logger   *zap.Logger

	lifecycle sync.Mutex // 串行化 Start/Stop
	state     atomic.Int32

	// mu 读锁保护入队发送，写锁保护关闭队列
	mu           sync.RWMutex
	partitions   atomic.Pointer[[]*partition]
	closing      chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
	cancel       context.CancelFunc
}

// Option 分发器选项
type Option func(d *Dispatcher)

// WithMetrics 注入指标收集器
func WithMetrics(m MetricsCollector) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithFallbackStore 取消时把仍在队列中的消息写入兜底存储
func WithFallbackStore(store resilience.FallbackStore) Option {
	return func(d *Dispatcher) { d.fallback = store }
}

// WithLogger 指定日志
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New 创建分发器，cfg 会先填充默认值再校验
func New(cfg config.DispatcherConfig, router Router, opts ...Option) (*Dispatcher, error) {
	if router == nil {
		return nil, fmt.Errorf("dispatcher: router is required")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	keys, err := pkey.NewKeyGenerator(pkey.Strategy(cfg.Strategy), cfg.PartitionCount)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		cfg:     cfg,
		router:  router,
		keys:    keys,
		limiter: NewRateLimiter(cfg.RateLimit),
		metrics: NoOpMetricsCollector{},
		logger:  logger.Logger.Named("dispatcher"),
		closing: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start 预先创建全部分区并启动消费协程。重复调用为空操作；
// ctx 取消等同于停机信号：拒绝新消息，各分区处理完当前批次后退出。
func (d *Dispatcher) Start(ctx context.Context) error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	switch d.state.Load() {
	case stateRunning:
		d.logger.Info("dispatcher already started")
		return nil
	case stateStopped:
		return ErrDispatcherStopped
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	parts := make([]*partition, d.cfg.PartitionCount)
	for i := range parts {
		parts[i] = newPartition(i, d.cfg.QueueCapacity)
	}
	d.partitions.Store(&parts)
	d.state.Store(stateRunning)

	for _, p := range parts {
		d.wg.Add(1)
		go d.loop(runCtx, p)
	}
	go func() {
		<-runCtx.Done()
		d.shutdown()
	}()

	d.logger.Info("dispatcher started",
		zap.Int("partitions", d.cfg.PartitionCount),
		zap.Int("queueCapacity", d.cfg.QueueCapacity),
		zap.Int("batchSize", d.cfg.BatchSize),
		zap.Duration("batchTimeout", d.cfg.BatchTimeout),
		zap.String("strategy", d.cfg.Strategy))
	return nil
}

// Stop 拒绝新消息，关闭所有队列并等待消费协程处理完剩余消息后退出。可重复调用。
func (d *Dispatcher) Stop() error {
	d.lifecycle.Lock()
	if d.state.Load() == stateNew {
		d.state.Store(stateStopped)
		d.lifecycle.Unlock()
		return nil
	}
	d.lifecycle.Unlock()

	start := time.Now()
	d.shutdown()
	d.wg.Wait()
	if d.cancel != nil {
		d.cancel()
	}
	d.logger.Info("dispatcher stopped", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// shutdown 先发出关闭信号唤醒阻塞的入队者，再在写锁下关闭队列
func (d *Dispatcher) shutdown() {
	d.shutdownOnce.Do(func() {
		d.state.Store(stateStopped)
		close(d.closing)

		d.mu.Lock()
		defer d.mu.Unlock()
		if parts := d.partitions.Load(); parts != nil {
			for _, p := range *parts {
				close(p.queue)
			}
		}
	})
}

// Enqueue 校验身份、补齐消息ID、计算分区并入队；队列满时阻塞，
// 直到有空间、分发器停止（ErrDispatcherStopped）或 ctx 取消。
func (d *Dispatcher) Enqueue(ctx context.Context, env *envelope.Envelope) error {
	if env == nil {
		return fmt.Errorf("%w: nil envelope", envelope.ErrInvalidArgument)
	}
	switch d.state.Load() {
	case stateNew:
		return ErrDispatcherNotStarted
	case stateStopped:
		return ErrDispatcherStopped
	}
	if env.IsDisposed() {
		return envelope.ErrDisposed
	}
	identity := env.Identity()
	if err := envelope.ValidateDeviceIdentity(identity); err != nil {
		return err
	}
	if env.MessageID() == "" && d.cfg.AutoMessageID() {
		_ = env.SetMessageID(resolveMessageID(env.Payload()))
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	idx := d.keys.PartitionKey(identity.ProductKey, identity.DeviceName, env.MessageID())

	d.mu.RLock()
	defer d.mu.RUnlock()
	select {
	case <-d.closing:
		d.metrics.RecordEnqueue(idx, false)
		return ErrDispatcherStopped
	default:
	}

	p := (*d.partitions.Load())[idx]
	select {
	case p.queue <- env:
		d.metrics.RecordEnqueue(idx, true)
		d.metrics.RecordQueueDepth(idx, len(p.queue))
		return nil
	case <-d.closing:
		d.metrics.RecordEnqueue(idx, false)
		return ErrDispatcherStopped
	case <-ctx.Done():
		d.metrics.RecordEnqueue(idx, false)
		return ctx.Err()
	}
}

// resolveMessageID 优先使用 JSON 负载中的 id 字段，否则生成 UUIDv7
func resolveMessageID(payload []byte) string {
	if gjson.ValidBytes(payload) {
		if v := gjson.GetBytes(payload, MessageIDField); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// loop 分区消费循环。队列关闭且取空后正常退出；ctx 取消后处理完当前批次，
// 剩余消息标记为 ErrDispatcherStopped 后放弃。
func (d *Dispatcher) loop(ctx context.Context, p *partition) {
	defer d.wg.Done()
	defer p.state.Store(int32(PartitionStopped))

	timer := time.NewTimer(d.cfg.BatchTimeout)
	defer timer.Stop()
	batch := make([]*envelope.Envelope, 0, d.cfg.BatchSize)

	for {
		var open bool
		batch, open = d.collect(ctx, p, timer, batch[:0])
		if len(batch) > 0 {
			d.processBatch(ctx, p, batch)
		}
		if !open {
			return
		}
		if ctx.Err() != nil {
			d.abandonRemaining(ctx, p)
			return
		}
	}
}

// collect 最多等待 BatchTimeout 取到第一条，然后不等待地取到 BatchSize 条；
// 第二个返回值为 false 表示队列已关闭且取空。
func (d *Dispatcher) collect(ctx context.Context, p *partition, timer *time.Timer, batch []*envelope.Envelope) ([]*envelope.Envelope, bool) {
	p.setState(PartitionIdle)
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d.cfg.BatchTimeout)

	select {
	case env, ok := <-p.queue:
		if !ok {
			return batch, false
		}
		batch = append(batch, env)
	case <-timer.C:
		return batch, true
	case <-ctx.Done():
		return batch, true
	}

	p.setState(PartitionDraining)
	for len(batch) < d.cfg.BatchSize {
		select {
		case env, ok := <-p.queue:
			if !ok {
				return batch, false
			}
			batch = append(batch, env)
		default:
			return batch, true
		}
	}
	return batch, true
}

// processBatch 持有分区门闩顺序处理；批次不受 ctx 取消影响，保证不留下处理一半的批次
func (d *Dispatcher) processBatch(ctx context.Context, p *partition, batch []*envelope.Envelope) {
	p.gate.Lock()
	defer p.gate.Unlock()
	p.setState(PartitionProcessing)

	start := time.Now()
	batchCtx := WithPartition(context.WithoutCancel(ctx), p.id)
	for _, env := range batch {
		d.process(batchCtx, p, env)
	}
	p.batches.Inc()
	d.metrics.RecordBatch(p.id, len(batch), time.Since(start))
	d.metrics.RecordQueueDepth(p.id, len(p.queue))
}

func (d *Dispatcher) process(ctx context.Context, p *partition, env *envelope.Envelope) {
	start := time.Now()
	routeCtx := logger.WithTrace(ctx, env.TraceID())
	outcome, err := d.route(routeCtx, env)
	elapsed := time.Since(start)

	if err != nil {
		_ = env.SetGlobalError(err)
		if env.ParseState() == envelope.ParseUnparsed {
			_ = env.MarkParseFailed(err.Error(), elapsed, err)
		}
		outcome = failedOutcome(outcome)
		p.failed.Inc()
		d.logger.Debug("message failed",
			zap.Int("partition", p.id),
			zap.String("traceId", env.TraceID()),
			zap.String("topic", env.Topic()),
			zap.String("outcome", outcome.String()),
			zap.Error(err))
	} else {
		p.processed.Inc()
	}
	d.metrics.RecordProcess(p.id, outcome.String(), elapsed)

	if derr := env.Dispose(); derr != nil {
		d.logger.Warn("dispose envelope failed",
			zap.String("traceId", env.TraceID()),
			zap.Error(derr))
	}
}

// failedOutcome 返回错误时，只有写入兜底的结果保留原值
func failedOutcome(o Outcome) Outcome {
	if o == OutcomeFallback {
		return o
	}
	return OutcomeFailed
}

// route 把路由器的 panic 转为该消息的终态错误
func (d *Dispatcher) route(ctx context.Context, env *envelope.Envelope) (outcome Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			outcome = OutcomeFailed
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, rec)
			d.logger.Error("router panic",
				zap.String("traceId", env.TraceID()),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	return d.router.RouteMessage(ctx, env)
}

// abandonRemaining 等待队列关闭并放弃剩余消息
func (d *Dispatcher) abandonRemaining(ctx context.Context, p *partition) {
	storeCtx := context.WithoutCancel(ctx)
	key := strconv.Itoa(p.id)
	for env := range p.queue {
		_ = env.SetGlobalError(ErrDispatcherStopped)
		if env.ParseState() == envelope.ParseUnparsed {
			_ = env.MarkParseFailed(ErrDispatcherStopped.Error(), 0, ErrDispatcherStopped)
		}
		if d.fallback != nil {
			record := resilience.NewFallbackRecord(env, key, resilience.FallbackAbandoned, ErrDispatcherStopped)
			if err := d.fallback.Store(storeCtx, record); err != nil {
				d.logger.Error("store abandoned message failed",
					zap.Int("partition", p.id),
					zap.String("traceId", env.TraceID()),
					zap.Error(err))
			}
		}
		p.abandoned.Inc()
		d.metrics.RecordAbandoned(p.id)
		_ = env.Dispose()
	}
	if n := p.abandoned.Load(); n > 0 {
		d.logger.Warn("abandoned queued messages on cancellation",
			zap.Int("partition", p.id),
			zap.Int64("count", n))
	}
}

// Stats 返回各分区状态与计数
func (d *Dispatcher) Stats() Stats {
	s := Stats{
		Running:  d.state.Load() == stateRunning,
		Stopped:  d.state.Load() == stateStopped,
		Strategy: d.cfg.Strategy,
	}
	if parts := d.partitions.Load(); parts != nil {
		s.Partitions = make([]PartitionStats, len(*parts))
		for i, p := range *parts {
			s.Partitions[i] = p.stats()
		}
	}
	return s
}

// PartitionOf 返回某设备消息会落入的分区（调试用）
func (d *Dispatcher) PartitionOf(productKey, deviceName, messageID string) int {
	return d.keys.PartitionKey(productKey, deviceName, messageID)
}
