// Package notes 把抽取出的任务写成独立的笔记文档
package notes

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"task-miner/app/config"
	"task-miner/app/events"
	"task-miner/app/extract"
	"task-miner/app/logger"
	"task-miner/app/vault"
)

// Summary 一次写入的汇总，单条失败不影响其他任务
type Summary struct {
	Created int      `json:"created"`
	Failed  int      `json:"failed"`
	Paths   []string `json:"paths"`
	Errors  []error  `json:"-"`
}

// Materializer 任务笔记写入器
type Materializer struct {
	store     vault.Store
	folder    string
	extension string
	fields    []config.FieldConfig
	options   config.NotesConfig
	logger    *logger.Logger
	sink      events.Sink
	now       func() time.Time
}

// NewMaterializer 创建写入器
func NewMaterializer(store vault.Store, cfg *config.Config, log *logger.Logger, sink events.Sink) *Materializer {
	ext := cfg.Vault.Extension
	if ext == "" {
		ext = ".md"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	fields := cfg.Fields
	if len(fields) == 0 {
		fields = config.DefaultFields()
	}

	return &Materializer{
		store:     store,
		folder:    strings.Trim(cfg.Vault.TasksFolder, "/"),
		extension: ext,
		fields:    fields,
		options:   cfg.Notes,
		logger:    log,
		sink:      events.Safe(sink),
		now:       time.Now,
	}
}

// Materialize 为每条任务写一篇笔记，source 为来源文档的相对路径
func (m *Materializer) Materialize(ctx context.Context, source string, tasks []extract.ExtractedTask) Summary {
	summary := Summary{Paths: []string{}}
	used := make(map[string]bool, len(tasks))
	correlationID := events.CorrelationID(ctx)

	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			summary.Failed += len(tasks) - i
			summary.Errors = append(summary.Errors, err)
			break
		}

		notePath, err := m.writeTask(source, task, used)
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, err)
			m.logger.Errorf("写入任务笔记失败: %s, 错误: %v", task.Title, err)
			m.sink.Emit(events.LevelError, events.CategoryNote, "task note write failed", map[string]any{
				"source": source,
				"title":  task.Title,
				"error":  err.Error(),
			}, correlationID)
			continue
		}

		summary.Created++
		summary.Paths = append(summary.Paths, notePath)
		m.logger.Infof("已创建任务笔记: %s", notePath)
		m.sink.Emit(events.LevelInfo, events.CategoryNote, "task note created", map[string]any{
			"source": source,
			"path":   notePath,
		}, correlationID)
	}
	return summary
}

// maxNameAttempts 同名序号的上限
const maxNameAttempts = 1000

// writeTask 依次尝试 name、name-1、name-2…，用独占创建避免并发写入互相覆盖
func (m *Materializer) writeTask(source string, task extract.ExtractedTask, used map[string]bool) (string, error) {
	name := SanitizeFilename(task.Title)
	content := m.Render(source, task)

	for n := 0; n < maxNameAttempts; n++ {
		notePath := m.candidate(name, n)
		if used[notePath] {
			continue
		}

		err := m.store.Create(notePath, content)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("写入 %s 失败: %w", notePath, err)
		}
		used[notePath] = true
		return notePath, nil
	}
	return "", fmt.Errorf("任务笔记 %s 的同名文件过多", name)
}

func (m *Materializer) candidate(name string, n int) string {
	if n == 0 {
		return path.Join(m.folder, name+m.extension)
	}
	return path.Join(m.folder, fmt.Sprintf("%s-%d%s", name, n, m.extension))
}

// Render 生成任务笔记内容
func (m *Materializer) Render(source string, task extract.ExtractedTask) string {
	var b strings.Builder
	b.WriteString(renderFrontmatter(task, m.fields, m.now()))
	b.WriteString("\n# ")
	b.WriteString(task.Title)
	b.WriteString("\n")

	if task.Details != "" {
		b.WriteString("\n")
		b.WriteString(task.Details)
		b.WriteString("\n")
	}

	if m.options.LinkBack && source != "" {
		b.WriteString("\nSource: [[")
		b.WriteString(strings.TrimSuffix(source, path.Ext(source)))
		b.WriteString("]]\n")
	}

	if m.options.IncludeExcerpt && task.SourceExcerpt != "" {
		b.WriteString("\n")
		for _, line := range strings.Split(task.SourceExcerpt, "\n") {
			b.WriteString("> ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}
