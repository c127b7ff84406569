package database

import (
	"fmt"

	"task-miner/app/model"

	"gorm.io/gorm"
)

// RunStore 处理历史存储
type RunStore struct {
	db *gorm.DB
}

// NewRunStore 创建处理历史存储
func NewRunStore(db *gorm.DB) *RunStore {
	return &RunStore{db: db}
}

// RecordRun 写入一条处理记录
func (s *RunStore) RecordRun(run *model.ProcessingRun) error {
	if err := s.db.Create(run).Error; err != nil {
		return fmt.Errorf("写入处理记录失败: %w", err)
	}
	return nil
}

// Recent 按时间倒序返回最近的处理记录，path 为空时不过滤
func (s *RunStore) Recent(path string, limit int) ([]model.ProcessingRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := s.db.Model(&model.ProcessingRun{}).Order("id DESC").Limit(limit)
	if path != "" {
		query = query.Where("path = ?", path)
	}

	var runs []model.ProcessingRun
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("查询处理记录失败: %w", err)
	}
	return runs, nil
}

// CountByStatus 统计各状态的处理记录数量
func (s *RunStore) CountByStatus() (map[string]int64, error) {
	status := make(map[string]int64)

	for _, st := range []model.RunStatus{model.RunStatusCompleted, model.RunStatusFailed, model.RunStatusSkipped} {
		var count int64
		if err := s.db.Model(&model.ProcessingRun{}).Where("status = ?", st).Count(&count).Error; err != nil {
			return nil, err
		}
		status[string(st)] = count
	}

	return status, nil
}
