package events

import (
	"task-miner/app/logger"

	"go.uber.org/zap"
)

// ZapSink 将事件写入日志
type ZapSink struct {
	log *logger.Logger
}

// NewZapSink 创建日志事件接收端
func NewZapSink(log *logger.Logger) *ZapSink {
	return &ZapSink{log: log.Named("events")}
}

func (s *ZapSink) Emit(level Level, category, message string, data map[string]any, correlationID string) {
	fields := make([]zap.Field, 0, len(data)+2)
	fields = append(fields, zap.String("category", category))
	if correlationID != "" {
		fields = append(fields, zap.String("correlation_id", correlationID))
	}
	for k, v := range data {
		fields = append(fields, zap.Any(k, v))
	}

	switch level {
	case LevelDebug:
		s.log.Debug(message, fields...)
	case LevelWarn:
		s.log.Warn(message, fields...)
	case LevelError:
		s.log.Error(message, fields...)
	default:
		s.log.Info(message, fields...)
	}
}
