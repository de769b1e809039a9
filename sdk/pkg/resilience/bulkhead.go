package resilience

import (
	"sync"

	"go.uber.org/atomic"
)

// Bulkhead 按逻辑键限制并发
type Bulkhead interface {
	// TryEnter 不阻塞，超过 maxConcurrency 时返回 false，调用方应退避
	TryEnter(key string, maxConcurrency int) bool
	Release(key string)
	CurrentConcurrency(key string) int
}

// SemaphoreBulkhead 基于 CAS 计数的隔离舱
type SemaphoreBulkhead struct {
	counters sync.Map // key -> *atomic.Int32
}

func NewSemaphoreBulkhead() *SemaphoreBulkhead {
	return &SemaphoreBulkhead{}
}

func (b *SemaphoreBulkhead) counter(key string) *atomic.Int32 {
	if v, ok := b.counters.Load(key); ok {
		return v.(*atomic.Int32)
	}
	v, _ := b.counters.LoadOrStore(key, atomic.NewInt32(0))
	return v.(*atomic.Int32)
}

func (b *SemaphoreBulkhead) TryEnter(key string, maxConcurrency int) bool {
	if maxConcurrency <= 0 {
		return false
	}
	c := b.counter(key)
	for {
		cur := c.Load()
		if int(cur) >= maxConcurrency {
			return false
		}
		if c.CAS(cur, cur+1) {
			return true
		}
	}
}

// Release 计数不会降到 0 以下
func (b *SemaphoreBulkhead) Release(key string) {
	c := b.counter(key)
	for {
		cur := c.Load()
		if cur <= 0 {
			return
		}
		if c.CAS(cur, cur-1) {
			return
		}
	}
}

func (b *SemaphoreBulkhead) CurrentConcurrency(key string) int {
	return int(b.counter(key).Load())
}
