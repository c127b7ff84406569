// Package events 提供结构化事件输出，事件只用于观察，任何输出失败都不会影响处理结果
package events

import (
	"context"

	"github.com/google/uuid"
)

// Level 事件级别
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// 事件分类
const (
	CategoryFile    = "file"
	CategoryLLM     = "llm"
	CategoryExtract = "extract"
	CategoryNote    = "note"
	CategoryService = "service"
)

// Sink 结构化事件接收端，实现不得 panic 或阻塞调用方
type Sink interface {
	Emit(level Level, category, message string, data map[string]any, correlationID string)
}

// Nop 丢弃所有事件
type Nop struct{}

func (Nop) Emit(Level, string, string, map[string]any, string) {}

// Multi 将事件分发给多个接收端
type Multi []Sink

func (m Multi) Emit(level Level, category, message string, data map[string]any, correlationID string) {
	for _, s := range m {
		Safe(s).Emit(level, category, message, data, correlationID)
	}
}

// Safe 包装接收端，吞掉其 panic
func Safe(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	if _, ok := s.(safeSink); ok {
		return s
	}
	return safeSink{inner: s}
}

type safeSink struct {
	inner Sink
}

func (s safeSink) Emit(level Level, category, message string, data map[string]any, correlationID string) {
	defer func() {
		_ = recover()
	}()
	s.inner.Emit(level, category, message, data, correlationID)
}

// NewCorrelationID 生成一次处理的关联 ID
func NewCorrelationID() string {
	return uuid.NewString()
}

type correlationKey struct{}

// WithCorrelationID 将关联 ID 放入上下文
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID 读取上下文中的关联 ID，没有时返回空字符串
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
