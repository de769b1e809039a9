package resilience

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/envelope"
	"github.com/google/uuid"
)

// FallbackType 兜底原因分类
type FallbackType string

const (
	FallbackRetryExhausted FallbackType = "retry_exhausted" // 重试耗尽
	FallbackDegraded       FallbackType = "degraded"        // 熔断或隔离时降级
	FallbackAbandoned      FallbackType = "abandoned"       // 停机时仍在队列中
)

// FallbackRecord 兜底记录：原始消息 + 失败原因 + 处理轨迹
type FallbackRecord struct {
	ID           string                `json:"id"`
	TraceID      string                `json:"traceId"`
	MessageID    string                `json:"messageId"`
	ClientID     string                `json:"clientId"`
	Topic        string                `json:"topic"`
	Payload      []byte                `json:"payload"`
	ProductKey   string                `json:"productKey"`
	DeviceName   string                `json:"deviceName"`
	PartitionKey string                `json:"partitionKey"`
	Type         FallbackType          `json:"type"`
	Reason       string                `json:"reason"`
	Steps        []envelope.StepResult `json:"steps"`
	ReceivedAt   time.Time             `json:"receivedAt"`
	CreatedAt    time.Time             `json:"createdAt"`
}

// NewFallbackRecord 从包络生成兜底记录
func NewFallbackRecord(env *envelope.Envelope, partitionKey string, typ FallbackType, reason error) *FallbackRecord {
	identity := env.Identity()
	r := &FallbackRecord{
		TraceID:      env.TraceID(),
		MessageID:    env.MessageID(),
		ClientID:     env.ClientID(),
		Topic:        env.Topic(),
		Payload:      env.Payload(),
		ProductKey:   identity.ProductKey,
		DeviceName:   identity.DeviceName,
		PartitionKey: partitionKey,
		Type:         typ,
		Steps:        env.Steps(),
		ReceivedAt:   env.ReceivedAt(),
	}
	if reason != nil {
		r.Reason = reason.Error()
	}
	return r
}

// FallbackFilter 读取条件，零值字段不过滤
type FallbackFilter struct {
	Type         FallbackType
	PartitionKey string
	Limit        int
}

// FallbackStore 最后的兜底存储，保证消息不被静默丢弃
type FallbackStore interface {
	Store(ctx context.Context, record *FallbackRecord) error
	StoreBatch(ctx context.Context, records []*FallbackRecord) error
	Read(ctx context.Context, filter FallbackFilter) ([]*FallbackRecord, error)
	Delete(ctx context.Context, ids ...string) (int64, error)
}

// Prepare 补齐ID与创建时间，存储实现在写入前调用
func (r *FallbackRecord) Prepare() {
	if r.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		r.ID = id.String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
}

// MemoryFallbackStore 内存兜底存储，进程退出即丢失，适用于测试与单机部署
type MemoryFallbackStore struct {
	mu      sync.RWMutex
	records map[string]*FallbackRecord
}

func NewMemoryFallbackStore() *MemoryFallbackStore {
	return &MemoryFallbackStore{records: make(map[string]*FallbackRecord)}
}

func (s *MemoryFallbackStore) Store(_ context.Context, record *FallbackRecord) error {
	if record == nil {
		return errors.New("resilience: nil fallback record")
	}
	record.Prepare()
	copied := *record
	s.mu.Lock()
	s.records[copied.ID] = &copied
	s.mu.Unlock()
	return nil
}

func (s *MemoryFallbackStore) StoreBatch(ctx context.Context, records []*FallbackRecord) error {
	for _, r := range records {
		if err := s.Store(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Read 按创建时间升序返回
func (s *MemoryFallbackStore) Read(_ context.Context, filter FallbackFilter) ([]*FallbackRecord, error) {
	s.mu.RLock()
	out := make([]*FallbackRecord, 0, len(s.records))
	for _, r := range s.records {
		if filter.Type != "" && r.Type != filter.Type {
			continue
		}
		if filter.PartitionKey != "" && r.PartitionKey != filter.PartitionKey {
			continue
		}
		copied := *r
		out = append(out, &copied)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryFallbackStore) Delete(_ context.Context, ids ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len 当前记录数
func (s *MemoryFallbackStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
