package extract

import (
	"context"
	"strings"

	"task-miner/app/config"
	"task-miner/app/events"
	"task-miner/app/llm"
	"task-miner/app/logger"
)

// Caller 大模型调用
type Caller interface {
	CallLLM(ctx context.Context, systemPrompt, userPrompt string) (string, llm.Provider, error)
}

// Extractor 抽取流程：构建提示词、调用模型、规整输出
type Extractor struct {
	caller       Caller
	systemPrompt string
	logger       *logger.Logger
	sink         events.Sink
}

// NewExtractor 创建抽取器，系统提示词在创建时生成
func NewExtractor(cfg *config.Config, caller Caller, log *logger.Logger, sink events.Sink) *Extractor {
	return &Extractor{
		caller:       caller,
		systemPrompt: BuildSystemPrompt(cfg.Prompt.System, cfg.OwnerName, cfg.Fields),
		logger:       log,
		sink:         events.Safe(sink),
	}
}

// SystemPrompt 返回当前使用的系统提示词
func (e *Extractor) SystemPrompt() string {
	return e.systemPrompt
}

// Extract 抽取文档中的任务。模型调用失败或输出无法识别时按未发现任务处理，
// 只有上下文被取消时返回错误。
func (e *Extractor) Extract(ctx context.Context, path, content string) (TaskExtractionResult, llm.Provider, error) {
	correlationID := events.CorrelationID(ctx)

	text, provider, err := e.caller.CallLLM(ctx, e.systemPrompt, BuildUserPrompt(path, content))
	if err != nil {
		if ctx.Err() != nil {
			return NoTasks(), provider, ctx.Err()
		}
		e.logger.Warnf("大模型调用失败，按未发现任务处理: %s, 错误: %v", path, err)
		e.sink.Emit(events.LevelWarn, events.CategoryExtract, "llm call failed", map[string]any{
			"path":  path,
			"error": err.Error(),
		}, correlationID)
		return NoTasks(), provider, nil
	}
	if strings.TrimSpace(text) == "" {
		return NoTasks(), provider, nil
	}

	result, rejected, ok := Normalize(text)
	if !ok {
		e.logger.Warnf("无法解析模型输出: %s", path)
		e.sink.Emit(events.LevelWarn, events.CategoryExtract, "unparseable llm output", map[string]any{
			"path":   path,
			"output": truncate(text, 500),
		}, correlationID)
		return NoTasks(), provider, nil
	}

	for _, r := range rejected {
		e.logger.Warnf("丢弃无效任务 #%d: %s (%s)", r.Index+1, r.Reason, path)
		e.sink.Emit(events.LevelWarn, events.CategoryExtract, "task rejected", map[string]any{
			"path":   path,
			"index":  r.Index,
			"reason": r.Reason,
		}, correlationID)
	}

	e.sink.Emit(events.LevelInfo, events.CategoryExtract, "extraction finished", map[string]any{
		"path":     path,
		"found":    result.Found,
		"tasks":    len(result.Tasks),
		"rejected": len(rejected),
		"provider": string(provider),
	}, correlationID)
	return result, provider, nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
