package processor

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"task-miner/app/events"
	"task-miner/app/extract"
	"task-miner/app/metrics"
	"task-miner/app/model"
)

// 跳过处理的原因
const (
	reasonNoFrontmatter  = "文档没有前置字段"
	reasonNotTriggered   = "触发字段不匹配"
	reasonProcessed      = "文档已处理过"
	reasonInvalidOwner   = "负责人姓名未配置或无效"
	reasonInvalidTrigger = "触发字段配置无效"
	reasonTimeout        = "处理超时，结果已丢弃"
)

// run 处理单个文档，无论以何种方式结束都会释放处理条目
func (p *Processor) run(parent context.Context, e *entry) (outcome Outcome) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(p.baseContext(), cancel)
	defer stop()
	ctx = events.WithCorrelationID(ctx, e.CorrelationID)

	p.mu.Lock()
	e.cancel = cancel
	if p.timeout > 0 {
		e.watchdog = time.AfterFunc(p.timeout, func() { p.expire(e) })
	}
	p.mu.Unlock()

	outcome = Outcome{
		Path:          e.Path,
		CorrelationID: e.CorrelationID,
		StartedAt:     e.StartedAt,
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("处理文档时发生 panic: %s, 错误: %v", e.Path, r)
			p.sink.Emit(events.LevelError, events.CategoryFile, "panic during processing", map[string]any{
				"path":  e.Path,
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}, e.CorrelationID)
			outcome.Status = model.RunStatusFailed
			outcome.Reason = fmt.Sprintf("panic: %v", r)
		}
		if p.wasExpired(e) && outcome.Status != model.RunStatusSkipped {
			outcome.Status = model.RunStatusFailed
			outcome.Reason = reasonTimeout
		}

		if outcome.Status == model.RunStatusFailed {
			p.setStatus(e, StatusFailed)
		} else {
			p.setStatus(e, StatusCompleted)
		}
		p.releaseEntry(e)
		outcome.FinishedAt = time.Now()
		p.finish(outcome)
	}()

	p.setStatus(e, StatusProcessing)
	p.handle(ctx, e.Path, &outcome)
	return outcome
}

// handle 过滤、抽取、写入笔记、标记已处理
func (p *Processor) handle(ctx context.Context, path string, outcome *Outcome) {
	reason, err := p.filter(path)
	if err != nil {
		outcome.Status = model.RunStatusFailed
		outcome.Reason = err.Error()
		p.logger.Errorf("读取文档前置字段失败: %s, 错误: %v", path, err)
		return
	}
	if reason != "" {
		outcome.Status = model.RunStatusSkipped
		outcome.Reason = reason
		p.logger.Infof("跳过文档 %s: %s", path, reason)
		p.sink.Emit(events.LevelDebug, events.CategoryFile, "document skipped", map[string]any{
			"path":   path,
			"reason": reason,
		}, outcome.CorrelationID)
		return
	}

	content, err := p.store.Read(path)
	if err != nil {
		outcome.Status = model.RunStatusFailed
		outcome.Reason = err.Error()
		p.logger.Errorf("读取文档失败: %s, 错误: %v", path, err)
		return
	}

	p.logger.Infof("开始抽取任务: %s", path)
	p.sink.Emit(events.LevelInfo, events.CategoryFile, "processing started", map[string]any{
		"path":  path,
		"bytes": len(content),
	}, outcome.CorrelationID)

	result, provider, err := p.extractor.Extract(ctx, path, content)
	outcome.Provider = provider
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		outcome.Status = model.RunStatusFailed
		outcome.Reason = "处理已取消: " + err.Error()
		return
	}
	outcome.TasksFound = len(result.Tasks)

	if len(result.Tasks) > 0 {
		summary := p.notes.Materialize(ctx, path, result.Tasks)
		outcome.TasksCreated = summary.Created
		outcome.TasksFailed = summary.Failed
		outcome.Notes = summary.Paths
		if summary.Created == 0 {
			outcome.Status = model.RunStatusFailed
			outcome.Reason = fmt.Sprintf("%d 个任务笔记全部写入失败", summary.Failed)
			return
		}
	}

	if err := ctx.Err(); err != nil {
		outcome.Status = model.RunStatusFailed
		outcome.Reason = "处理已取消: " + err.Error()
		return
	}

	if err := p.markProcessed(path); err != nil {
		p.logger.Errorf("标记文档已处理失败: %s, 错误: %v", path, err)
		outcome.Reason = "标记已处理失败: " + err.Error()
	}
	outcome.Status = model.RunStatusCompleted
}

// filter 判断文档是否需要处理，reason 非空表示跳过
func (p *Processor) filter(path string) (string, error) {
	field := strings.TrimSpace(p.trigger.Field)
	if field == "" || len(p.trigger.Values) == 0 {
		return reasonInvalidTrigger, nil
	}

	fm, err := p.store.Frontmatter(path)
	if err != nil {
		return "", err
	}
	if fm == nil {
		return reasonNoFrontmatter, nil
	}

	value, _ := fm.String(field)
	if !p.matchesTrigger(value) {
		return reasonNotTriggered, nil
	}
	if fm.Bool(p.trigger.ProcessedField) {
		return reasonProcessed, nil
	}

	owner := strings.TrimSpace(p.ownerName)
	if owner == "" || strings.Contains(owner, extract.OwnerPlaceholder) {
		return reasonInvalidOwner, nil
	}
	return "", nil
}

func (p *Processor) matchesTrigger(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	for _, v := range p.trigger.Values {
		if strings.EqualFold(strings.TrimSpace(v), value) {
			return true
		}
	}
	return false
}

// expire 看门狗超时：取消本次处理并立即释放条目
func (p *Processor) expire(e *entry) {
	p.mu.Lock()
	e.expired = true
	p.mu.Unlock()

	p.logger.Warnf("处理文档超时 (%s)，强制释放: %s", p.timeout, e.Path)
	p.sink.Emit(events.LevelWarn, events.CategoryFile, "processing watchdog fired", map[string]any{
		"path":    e.Path,
		"timeout": p.timeout.String(),
	}, e.CorrelationID)
	p.releaseEntry(e)
}

func (p *Processor) wasExpired(e *entry) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return e.expired
}

// finish 记录处理历史、指标并发出通知
func (p *Processor) finish(outcome Outcome) {
	metrics.FileOutcomes.WithLabelValues(string(outcome.Status)).Inc()
	metrics.TasksCreated.Add(float64(outcome.TasksCreated))
	metrics.TasksFailed.Add(float64(outcome.TasksFailed))

	level := events.LevelInfo
	if outcome.Status == model.RunStatusFailed {
		level = events.LevelError
	}
	p.sink.Emit(level, events.CategoryFile, "processing finished", map[string]any{
		"path":          outcome.Path,
		"status":        string(outcome.Status),
		"reason":        outcome.Reason,
		"provider":      string(outcome.Provider),
		"tasks_found":   outcome.TasksFound,
		"tasks_created": outcome.TasksCreated,
		"tasks_failed":  outcome.TasksFailed,
		"duration_ms":   outcome.FinishedAt.Sub(outcome.StartedAt).Milliseconds(),
	}, outcome.CorrelationID)

	run := &model.ProcessingRun{
		Path:          outcome.Path,
		CorrelationID: outcome.CorrelationID,
		Status:        outcome.Status,
		Reason:        outcome.Reason,
		Provider:      string(outcome.Provider),
		TasksCreated:  outcome.TasksCreated,
		TasksFailed:   outcome.TasksFailed,
		StartedAt:     outcome.StartedAt,
		FinishedAt:    outcome.FinishedAt,
	}
	if err := p.recorder.RecordRun(run); err != nil {
		p.logger.Warnf("写入处理记录失败: %v", err)
	}

	if outcome.Status != model.RunStatusSkipped {
		p.notifier.Notify(outcome)
	}
}
