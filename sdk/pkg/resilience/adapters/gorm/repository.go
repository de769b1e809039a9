package gorm

import (
	"context"
	"fmt"

	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/resilience"
	"gorm.io/gorm"
)

// GormFallbackRepository GORM 兜底存储实现
type GormFallbackRepository struct {
	db *gorm.DB
}

// NewGormFallbackRepository 创建 GORM 兜底仓储
func NewGormFallbackRepository(db *gorm.DB) *GormFallbackRepository {
	return &GormFallbackRepository{db: db}
}

// AutoMigrate 创建或更新 fallback_messages 表
func (r *GormFallbackRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&FallbackMessageModel{})
}

// Store 保存单条记录
func (r *GormFallbackRepository) Store(ctx context.Context, record *resilience.FallbackRecord) error {
	if record == nil {
		return fmt.Errorf("nil fallback record")
	}
	record.Prepare()
	model, err := FromRecord(record)
	if err != nil {
		return fmt.Errorf("encode fallback record %s: %w", record.ID, err)
	}
	return r.db.WithContext(ctx).Create(model).Error
}

// StoreBatch 批量保存（单条 INSERT）
func (r *GormFallbackRepository) StoreBatch(ctx context.Context, records []*resilience.FallbackRecord) error {
	if len(records) == 0 {
		return nil
	}
	models := make([]*FallbackMessageModel, 0, len(records))
	for _, record := range records {
		record.Prepare()
		model, err := FromRecord(record)
		if err != nil {
			return fmt.Errorf("encode fallback record %s: %w", record.ID, err)
		}
		models = append(models, model)
	}
	return r.db.WithContext(ctx).Create(models).Error
}

// Read 按创建时间升序查询
func (r *GormFallbackRepository) Read(ctx context.Context, filter resilience.FallbackFilter) ([]*resilience.FallbackRecord, error) {
	var models []*FallbackMessageModel

	query := r.db.WithContext(ctx).Order("created_at ASC")
	if filter.Type != "" {
		query = query.Where("type = ?", string(filter.Type))
	}
	if filter.PartitionKey != "" {
		query = query.Where("partition_key = ?", filter.PartitionKey)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return ToRecords(models), nil
}

// Delete 批量删除，返回删除行数
func (r *GormFallbackRepository) Delete(ctx context.Context, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&FallbackMessageModel{})
	return result.RowsAffected, result.Error
}

var _ resilience.FallbackStore = (*GormFallbackRepository)(nil)
