package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v9"
)

// ErrEmptyMessageID 幂等检查需要消息ID
var ErrEmptyMessageID = errors.New("resilience: empty message id")

// IdempotencyChecker 防止重复投递产生重复效果
type IdempotencyChecker interface {
	// Check 返回 true 表示消息已处理过
	Check(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string) error
	// CleanupExpired 显式清理过期记录，返回清理数量
	CleanupExpired(ctx context.Context) (int, error)
}

// MemoryIdempotency 进程内幂等记录
type MemoryIdempotency struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.RWMutex
	processed map[string]time.Time // messageID -> 过期时间
}

// NewMemoryIdempotency ttl 为 0 表示记录永不过期
func NewMemoryIdempotency(ttl time.Duration) *MemoryIdempotency {
	return &MemoryIdempotency{
		ttl:       ttl,
		now:       time.Now,
		processed: make(map[string]time.Time),
	}
}

func (m *MemoryIdempotency) Check(_ context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, ErrEmptyMessageID
	}
	m.mu.RLock()
	expiresAt, ok := m.processed[messageID]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return expiresAt.IsZero() || m.now().Before(expiresAt), nil
}

func (m *MemoryIdempotency) MarkProcessed(_ context.Context, messageID string) error {
	if messageID == "" {
		return ErrEmptyMessageID
	}
	var expiresAt time.Time
	if m.ttl > 0 {
		expiresAt = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.processed[messageID] = expiresAt
	m.mu.Unlock()
	return nil
}

func (m *MemoryIdempotency) CleanupExpired(_ context.Context) (int, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, expiresAt := range m.processed {
		if !expiresAt.IsZero() && !now.Before(expiresAt) {
			delete(m.processed, id)
			removed++
		}
	}
	return removed, nil
}

// Len 当前记录数（包括已过期未清理的）
func (m *MemoryIdempotency) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.processed)
}

// RedisIdempotency 基于 Redis 键过期的幂等记录，多实例共享
type RedisIdempotency struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisIdempotency(client redis.Cmdable, prefix string, ttl time.Duration) *RedisIdempotency {
	return &RedisIdempotency{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisIdempotency) key(messageID string) string {
	return r.prefix + messageID
}

func (r *RedisIdempotency) Check(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, ErrEmptyMessageID
	}
	n, err := r.client.Exists(ctx, r.key(messageID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisIdempotency) MarkProcessed(ctx context.Context, messageID string) error {
	if messageID == "" {
		return ErrEmptyMessageID
	}
	return r.client.Set(ctx, r.key(messageID), 1, r.ttl).Err()
}

// CleanupExpired Redis 自行过期键，无需清理
func (r *RedisIdempotency) CleanupExpired(_ context.Context) (int, error) {
	return 0, nil
}
