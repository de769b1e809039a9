package gorm

import (
	"time"

	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/envelope"
	jxtjson "github.com/ChenBigdata421/jxt-iot/sdk/pkg/json"
	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/resilience"
)

// FallbackMessageModel 兜底消息表
type FallbackMessageModel struct {
	ID           string    `gorm:"type:char(36);primary_key;comment:记录ID"`
	TraceID      string    `gorm:"type:varchar(64);index:idx_trace_id;comment:链路追踪ID"`
	MessageID    string    `gorm:"type:varchar(128);index:idx_message_id;comment:消息ID"`
	ClientID     string    `gorm:"type:varchar(128);comment:客户端ID"`
	Topic        string    `gorm:"type:varchar(512);not null;comment:主题"`
	Payload      []byte    `gorm:"type:blob;comment:原始负载"`
	ProductKey   string    `gorm:"type:varchar(64);index:idx_device;comment:产品标识"`
	DeviceName   string    `gorm:"type:varchar(128);index:idx_device;comment:设备名"`
	PartitionKey string    `gorm:"type:varchar(64);index:idx_type_partition;comment:分区键"`
	Type         string    `gorm:"type:varchar(32);not null;index:idx_type_partition;comment:兜底类型"`
	Reason       string    `gorm:"type:text;comment:失败原因"`
	Steps        string    `gorm:"type:text;comment:处理步骤(JSON)"`
	ReceivedAt   time.Time `gorm:"comment:接收时间"`
	CreatedAt    time.Time `gorm:"not null;index:idx_created_at;comment:创建时间"`
}

// TableName 指定表名
func (FallbackMessageModel) TableName() string {
	return "fallback_messages"
}

// ToRecord 转换为兜底记录；步骤 JSON 损坏时忽略步骤
func (m *FallbackMessageModel) ToRecord() *resilience.FallbackRecord {
	var steps []envelope.StepResult
	if m.Steps != "" {
		_ = jxtjson.UnmarshalFromString(m.Steps, &steps)
	}
	return &resilience.FallbackRecord{
		ID:           m.ID,
		TraceID:      m.TraceID,
		MessageID:    m.MessageID,
		ClientID:     m.ClientID,
		Topic:        m.Topic,
		Payload:      m.Payload,
		ProductKey:   m.ProductKey,
		DeviceName:   m.DeviceName,
		PartitionKey: m.PartitionKey,
		Type:         resilience.FallbackType(m.Type),
		Reason:       m.Reason,
		Steps:        steps,
		ReceivedAt:   m.ReceivedAt,
		CreatedAt:    m.CreatedAt,
	}
}

// FromRecord 从兜底记录转换
func FromRecord(r *resilience.FallbackRecord) (*FallbackMessageModel, error) {
	steps := ""
	if len(r.Steps) > 0 {
		s, err := jxtjson.MarshalToString(r.Steps)
		if err != nil {
			return nil, err
		}
		steps = s
	}
	return &FallbackMessageModel{
		ID:           r.ID,
		TraceID:      r.TraceID,
		MessageID:    r.MessageID,
		ClientID:     r.ClientID,
		Topic:        r.Topic,
		Payload:      r.Payload,
		ProductKey:   r.ProductKey,
		DeviceName:   r.DeviceName,
		PartitionKey: r.PartitionKey,
		Type:         string(r.Type),
		Reason:       r.Reason,
		Steps:        steps,
		ReceivedAt:   r.ReceivedAt,
		CreatedAt:    r.CreatedAt,
	}, nil
}

// ToRecords 批量转换
func ToRecords(models []*FallbackMessageModel) []*resilience.FallbackRecord {
	records := make([]*resilience.FallbackRecord, len(models))
	for i, model := range models {
		records[i] = model.ToRecord()
	}
	return records
}
