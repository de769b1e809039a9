package dispatcher

import (
	"sync"
	"time"
)

// MetricsCollector 分发器指标收集器接口
//
// 分发器只依赖接口，Prometheus 等实现由调用方注入。
type MetricsCollector interface {
	// RecordEnqueue 记录入队结果
	RecordEnqueue(partition int, success bool)

	// RecordProcess 记录单条消息处理
	// outcome: 路由结果（routed, duplicate, degraded, fallback, failed）
	RecordProcess(partition int, outcome string, duration time.Duration)

	// RecordBatch 记录一个批次
	RecordBatch(partition int, size int, duration time.Duration)

	// RecordQueueDepth 记录队列深度
	RecordQueueDepth(partition int, depth int)

	// RecordAbandoned 记录停机时被放弃的消息
	RecordAbandoned(partition int)
}

// NoOpMetricsCollector 空操作指标收集器（默认实现）
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordEnqueue(int, bool)                  {}
func (NoOpMetricsCollector) RecordProcess(int, string, time.Duration) {}
func (NoOpMetricsCollector) RecordBatch(int, int, time.Duration)      {}
func (NoOpMetricsCollector) RecordQueueDepth(int, int)                {}
func (NoOpMetricsCollector) RecordAbandoned(int)                      {}

// InMemoryMetricsCollector 内存指标收集器（用于测试和调试）
type InMemoryMetricsCollector struct {
	mu sync.RWMutex

	EnqueueSuccess int64
	EnqueueFailed  int64

	ProcessByOutcome map[string]int64
	ProcessLatency   time.Duration

	BatchTotal   int64
	BatchMaxSize int

	QueueDepth map[int]int
	Abandoned  int64
}

func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{
		ProcessByOutcome: make(map[string]int64),
		QueueDepth:       make(map[int]int),
	}
}

func (m *InMemoryMetricsCollector) RecordEnqueue(_ int, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.EnqueueSuccess++
	} else {
		m.EnqueueFailed++
	}
}

func (m *InMemoryMetricsCollector) RecordProcess(_ int, outcome string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProcessByOutcome[outcome]++
	m.ProcessLatency = duration
}

func (m *InMemoryMetricsCollector) RecordBatch(_ int, size int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchTotal++
	if size > m.BatchMaxSize {
		m.BatchMaxSize = size
	}
}

func (m *InMemoryMetricsCollector) RecordQueueDepth(partition int, depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueueDepth[partition] = depth
}

func (m *InMemoryMetricsCollector) RecordAbandoned(int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Abandoned++
}

// Outcome 读取某个结果的计数
func (m *InMemoryMetricsCollector) Outcome(outcome string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ProcessByOutcome[outcome]
}

// GetMetrics 获取当前指标快照
func (m *InMemoryMetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	outcomes := make(map[string]int64, len(m.ProcessByOutcome))
	for k, v := range m.ProcessByOutcome {
		outcomes[k] = v
	}
	return map[string]interface{}{
		"enqueue_success":    m.EnqueueSuccess,
		"enqueue_failed":     m.EnqueueFailed,
		"process_by_outcome": outcomes,
		"process_latency":    m.ProcessLatency,
		"batch_total":        m.BatchTotal,
		"batch_max_size":     m.BatchMaxSize,
		"abandoned":          m.Abandoned,
	}
}
