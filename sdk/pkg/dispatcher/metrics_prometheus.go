package dispatcher

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetricsCollector Prometheus 指标收集器
//
// 使用示例：
//
//	collector := dispatcher.NewPrometheusMetricsCollector("jxt_iot", prometheus.DefaultRegisterer)
//	d, err := dispatcher.New(cfg, router, dispatcher.WithMetrics(collector))
type PrometheusMetricsCollector struct {
	enqueueTotal   *prometheus.CounterVec
	processTotal   *prometheus.CounterVec
	processLatency *prometheus.HistogramVec
	batchSize      *prometheus.HistogramVec
	batchLatency   *prometheus.HistogramVec
	queueDepth     *prometheus.GaugeVec
	abandonedTotal *prometheus.CounterVec
}

// NewPrometheusMetricsCollector 创建 Prometheus 指标收集器，reg 为 nil 时注册到默认注册表
func NewPrometheusMetricsCollector(namespace string, reg prometheus.Registerer) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "jxt_iot"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetricsCollector{
		enqueueTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatcher_enqueue_total",
				Help:      "Total number of enqueue attempts",
			},
			[]string{"partition", "result"},
		),
		processTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatcher_process_total",
				Help:      "Total number of processed messages by outcome",
			},
			[]string{"partition", "outcome"},
		),
		processLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatcher_process_latency_seconds",
				Help:      "Per message processing latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"partition"},
		),
		batchSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatcher_batch_size",
				Help:      "Number of messages per batch",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"partition"},
		),
		batchLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatcher_batch_latency_seconds",
				Help:      "Batch processing latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"partition"},
		),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dispatcher_queue_depth",
				Help:      "Current partition queue depth",
			},
			[]string{"partition"},
		),
		abandonedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatcher_abandoned_total",
				Help:      "Messages still queued when the dispatcher was cancelled",
			},
			[]string{"partition"},
		),
	}
}

func (p *PrometheusMetricsCollector) RecordEnqueue(partition int, success bool) {
	result := "success"
	if !success {
		result = "failed"
	}
	p.enqueueTotal.WithLabelValues(strconv.Itoa(partition), result).Inc()
}

func (p *PrometheusMetricsCollector) RecordProcess(partition int, outcome string, duration time.Duration) {
	label := strconv.Itoa(partition)
	p.processTotal.WithLabelValues(label, outcome).Inc()
	p.processLatency.WithLabelValues(label).Observe(duration.Seconds())
}

func (p *PrometheusMetricsCollector) RecordBatch(partition int, size int, duration time.Duration) {
	label := strconv.Itoa(partition)
	p.batchSize.WithLabelValues(label).Observe(float64(size))
	p.batchLatency.WithLabelValues(label).Observe(duration.Seconds())
}

func (p *PrometheusMetricsCollector) RecordQueueDepth(partition int, depth int) {
	p.queueDepth.WithLabelValues(strconv.Itoa(partition)).Set(float64(depth))
}

func (p *PrometheusMetricsCollector) RecordAbandoned(partition int) {
	p.abandonedTotal.WithLabelValues(strconv.Itoa(partition)).Inc()
}
