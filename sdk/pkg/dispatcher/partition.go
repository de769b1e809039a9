package dispatcher

import (
	"sync"

	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/envelope"
	"go.uber.org/atomic"
)

// PartitionState 分区状态：Idle → Draining → Processing → Idle，终态 Stopped
type PartitionState int32

const (
	PartitionIdle PartitionState = iota
	PartitionDraining
	PartitionProcessing
	PartitionStopped
)

func (s PartitionState) String() string {
	switch s {
	case PartitionDraining:
		return "draining"
	case PartitionProcessing:
		return "processing"
	case PartitionStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// partition 一个有界队列 + 一个门闩 + 一个消费循环
type partition struct {
	id    int
	queue chan *envelope.Envelope
	gate  sync.Mutex

	state     atomic.Int32
	processed atomic.Int64
	failed    atomic.Int64
	abandoned atomic.Int64
	batches   atomic.Int64
}

func newPartition(id, capacity int) *partition {
	return &partition{
		id:    id,
		queue: make(chan *envelope.Envelope, capacity),
	}
}

func (p *partition) setState(s PartitionState) {
	if PartitionState(p.state.Load()) == PartitionStopped {
		return
	}
	p.state.Store(int32(s))
}

func (p *partition) stats() PartitionStats {
	return PartitionStats{
		ID:            p.id,
		State:         PartitionState(p.state.Load()),
		QueueDepth:    len(p.queue),
		QueueCapacity: cap(p.queue),
		Processed:     p.processed.Load(),
		Failed:        p.failed.Load(),
		Abandoned:     p.abandoned.Load(),
		Batches:       p.batches.Load(),
	}
}

// PartitionStats 单个分区的运行统计
type PartitionStats struct {
	ID            int            `json:"id"`
	State         PartitionState `json:"state"`
	QueueDepth    int            `json:"queueDepth"`
	QueueCapacity int            `json:"queueCapacity"`
	Processed     int64          `json:"processed"`
	Failed        int64          `json:"failed"`
	Abandoned     int64          `json:"abandoned"`
	Batches       int64          `json:"batches"`
}

// Stats 分发器运行统计
type Stats struct {
	Running    bool             `json:"running"`
	Stopped    bool             `json:"stopped"`
	Strategy   string           `json:"strategy"`
	Partitions []PartitionStats `json:"partitions"`
}
