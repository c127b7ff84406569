package events

import (
	"encoding/json"

	"task-miner/app/logger"
	"task-miner/app/model"

	"gorm.io/gorm"
)

// DBSink 将事件持久化到 audit_events 表
type DBSink struct {
	db       *gorm.DB
	log      *logger.Logger
	minLevel Level
}

// NewDBSink 创建数据库事件接收端，低于 minLevel 的事件不落库
func NewDBSink(db *gorm.DB, log *logger.Logger, minLevel Level) *DBSink {
	if minLevel == "" {
		minLevel = LevelInfo
	}
	return &DBSink{db: db, log: log, minLevel: minLevel}
}

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

func (s *DBSink) Emit(level Level, category, message string, data map[string]any, correlationID string) {
	if levelRank[level] < levelRank[s.minLevel] {
		return
	}

	var payload string
	if len(data) > 0 {
		if b, err := json.Marshal(data); err == nil {
			payload = string(b)
		}
	}

	event := &model.AuditEvent{
		Level:         string(level),
		Category:      category,
		Message:       message,
		Data:          payload,
		CorrelationID: correlationID,
	}
	if err := s.db.Create(event).Error; err != nil {
		s.log.Debugf("写入审计事件失败: %v", err)
	}
}
