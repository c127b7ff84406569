package model

import "time"

// AuditEvent 结构化事件记录
type AuditEvent struct {
	ID            uint      `gorm:"primarykey" json:"id"`
	Level         string    `gorm:"size:10;index" json:"level"`
	Category      string    `gorm:"size:50;index" json:"category"`
	Message       string    `gorm:"type:text" json:"message"`
	Data          string    `gorm:"type:text;comment:JSON 格式的附加数据" json:"data"`
	CorrelationID string    `gorm:"size:36;index" json:"correlation_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName 指定表名
func (AuditEvent) TableName() string {
	return "audit_events"
}
