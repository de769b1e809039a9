package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEnvelope(topic string) *envelope.Envelope {
	return envelope.New(envelope.RawMessage{
		Topic:    topic,
		Payload:  []byte(`{"id":"42"}`),
		ClientID: "c1",
	}, envelope.WithMessageID("42"))
}

func TestNewFallbackRecord(t *testing.T) {
	env := newEnvelope("/sys/pk/dev/thing/event/property/post")
	require.NoError(t, env.RecordStep("handler", false, time.Millisecond, "timeout", nil))

	r := NewFallbackRecord(env, "3", FallbackRetryExhausted, errors.New("retry exhausted"))
	assert.Equal(t, env.TraceID(), r.TraceID)
	assert.Equal(t, "42", r.MessageID)
	assert.Equal(t, "pk", r.ProductKey)
	assert.Equal(t, "dev", r.DeviceName)
	assert.Equal(t, "3", r.PartitionKey)
	assert.Equal(t, "retry exhausted", r.Reason)
	require.Len(t, r.Steps, 1)
	assert.Empty(t, r.ID)

	r.Prepare()
	assert.NotEmpty(t, r.ID)
	assert.False(t, r.CreatedAt.IsZero())
}

// TestMemoryFallbackStoreRoundTrip 写入、过滤读取、删除
func TestMemoryFallbackStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryFallbackStore()

	first := NewFallbackRecord(newEnvelope("/sys/pk/a/x"), "1", FallbackRetryExhausted, errors.New("a"))
	require.NoError(t, s.Store(ctx, first))
	time.Sleep(time.Millisecond)
	require.NoError(t, s.StoreBatch(ctx, []*FallbackRecord{
		NewFallbackRecord(newEnvelope("/sys/pk/b/x"), "2", FallbackDegraded, errors.New("b")),
		NewFallbackRecord(newEnvelope("/sys/pk/c/x"), "2", FallbackDegraded, errors.New("c")),
	}))
	assert.Equal(t, 3, s.Len())
	assert.Error(t, s.Store(ctx, nil))

	all, err := s.Read(ctx, FallbackFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, first.ID, all[0].ID)

	degraded, err := s.Read(ctx, FallbackFilter{Type: FallbackDegraded})
	require.NoError(t, err)
	assert.Len(t, degraded, 2)

	limited, _ := s.Read(ctx, FallbackFilter{PartitionKey: "2", Limit: 1})
	assert.Len(t, limited, 1)

	n, err := s.Delete(ctx, first.ID, "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 2, s.Len())
}

func TestStoreDegrade(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryFallbackStore()
	d := NewStoreDegrade(store)

	envs := []*envelope.Envelope{newEnvelope("/sys/pk/a/x"), newEnvelope("/sys/pk/b/x")}
	require.NoError(t, d.Execute(ctx, "5", envs, "trace-1"))
	assert.NoError(t, d.Execute(ctx, "5", nil, "trace-1"))

	records, _ := store.Read(ctx, FallbackFilter{Type: FallbackDegraded})
	require.Len(t, records, 2)
	assert.Equal(t, "5", records[0].PartitionKey)
	for _, env := range envs {
		step, ok := env.Step(StepDegrade)
		require.True(t, ok)
		assert.True(t, step.Success)
	}
}

type failingStore struct{ *MemoryFallbackStore }

func (failingStore) StoreBatch(context.Context, []*FallbackRecord) error {
	return errors.New("db down")
}

func TestStoreDegradeFailure(t *testing.T) {
	d := NewStoreDegrade(failingStore{NewMemoryFallbackStore()})
	env := newEnvelope("/sys/pk/a/x")
	err := d.Execute(context.Background(), "1", []*envelope.Envelope{env}, "t")
	assert.ErrorContains(t, err, "db down")
	step, ok := env.Step(StepDegrade)
	require.True(t, ok)
	assert.False(t, step.Success)
}

func TestDegradeFunc(t *testing.T) {
	called := 0
	var d DegradePolicy = DegradeFunc(func(ctx context.Context, key string, envs []*envelope.Envelope, traceID string) error {
		called += len(envs)
		return nil
	})
	require.NoError(t, d.Execute(context.Background(), "k", []*envelope.Envelope{newEnvelope("/a")}, "t"))
	assert.Equal(t, 1, called)
}
