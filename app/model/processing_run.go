package model

import (
	"time"
)

// RunStatus 处理结果状态
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusSkipped   RunStatus = "skipped"
)

// ProcessingRun 单个文件的一次处理记录（仅作历史，不用于重放）
type ProcessingRun struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Path          string    `gorm:"not null;index" json:"path"`
	CorrelationID string    `gorm:"size:36;index" json:"correlation_id"`
	Status        RunStatus `gorm:"size:20;index" json:"status"`
	Reason        string    `gorm:"type:text" json:"reason"`
	Provider      string    `gorm:"size:20" json:"provider"`
	TasksCreated  int       `gorm:"default:0" json:"tasks_created"`
	TasksFailed   int       `gorm:"default:0" json:"tasks_failed"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName 指定表名
func (ProcessingRun) TableName() string {
	return "processing_runs"
}
