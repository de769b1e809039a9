package resilience

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/atomic"
)

func TestBulkheadLimits(t *testing.T) {
	b := NewSemaphoreBulkhead()

	assert.True(t, b.TryEnter("p", 2))
	assert.True(t, b.TryEnter("p", 2))
	assert.False(t, b.TryEnter("p", 2))
	assert.Equal(t, 2, b.CurrentConcurrency("p"))
	assert.True(t, b.TryEnter("q", 2), "不同键独立计数")

	b.Release("p")
	assert.Equal(t, 1, b.CurrentConcurrency("p"))
	assert.True(t, b.TryEnter("p", 2))

	b.Release("p")
	b.Release("p")
	b.Release("p")
	assert.Equal(t, 0, b.CurrentConcurrency("p"), "计数不会为负")

	assert.False(t, b.TryEnter("p", 0))
}

// TestBulkheadNeverExceedsMax 并发进入时峰值不超过上限
func TestBulkheadNeverExceedsMax(t *testing.T) {
	b := NewSemaphoreBulkhead()
	const limit = 3
	var (
		wg      sync.WaitGroup
		current atomic.Int32
		peak    atomic.Int32
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if !b.TryEnter("p", limit) {
					continue
				}
				n := current.Inc()
				for {
					p := peak.Load()
					if n <= p || peak.CAS(p, n) {
						break
					}
				}
				current.Dec()
				b.Release("p")
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, int(peak.Load()), limit)
	assert.Equal(t, 0, b.CurrentConcurrency("p"))
}
