package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultTriggerField 默认触发字段
	DefaultTriggerField = "type"
	// DefaultProcessedField 默认已处理标记字段
	DefaultProcessedField = "taskProcessed"
	// DateToken 字段默认值中的日期占位符，在创建任务时替换
	DateToken = "{{date}}"
)

// SetDefaults 设置默认配置
func SetDefaults(v *viper.Viper) {
	// 文档库默认配置
	v.SetDefault("vault.root", "./vault")
	v.SetDefault("vault.tasks_folder", "Tasks")
	v.SetDefault("vault.extension", ".md")
	v.SetDefault("vault.recursive", true)
	v.SetDefault("vault.exclude_folders", []string{".obsidian", ".trash"})

	// 触发默认配置
	v.SetDefault("trigger.field", DefaultTriggerField)
	v.SetDefault("trigger.values", []string{"email", "meetingnote", "meeting note", "meeting"})
	v.SetDefault("trigger.processed_field", DefaultProcessedField)

	// 处理流程默认配置
	v.SetDefault("processing.debounce", 2*time.Second)
	v.SetDefault("processing.timeout", 30*time.Second)
	v.SetDefault("processing.batch_size", 5)
	v.SetDefault("processing.batch_pause", 500*time.Millisecond)
	v.SetDefault("processing.scan_on_startup", true)
	v.SetDefault("processing.rescan_schedule", "")

	// 大模型默认配置
	v.SetDefault("llm.provider", "ollama")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 1500)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay", time.Second)
	v.SetDefault("llm.request_timeout", 30*time.Second)
	v.SetDefault("llm.service_ttl", 30*time.Minute)
	v.SetDefault("llm.openai.url", "https://api.openai.com/v1")
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.anthropic.url", "https://api.anthropic.com")
	v.SetDefault("llm.anthropic.model", "claude-3-5-haiku-latest")
	v.SetDefault("llm.ollama.url", "http://localhost:11434")
	v.SetDefault("llm.ollama.model", "llama3.2")
	v.SetDefault("llm.lmstudio.url", "http://localhost:1234")
	v.SetDefault("llm.lmstudio.model", "local-model")

	// 笔记默认配置
	v.SetDefault("notes.link_back", true)
	v.SetDefault("notes.include_excerpt", true)

	// 服务器默认配置
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", "5050")
	v.SetDefault("server.username", "admin")

	// JWT默认配置
	v.SetDefault("jwt.expire_time", 24) // 24小时
	v.SetDefault("jwt.issuer", "task-miner")

	v.SetDefault("database.path", "data/task-miner.db")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.dir", "data/logs")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)
}

// DefaultFields 默认输出字段
func DefaultFields() []FieldConfig {
	return []FieldConfig{
		{Key: "task", Description: "Short, actionable task title (6-100 characters)", Required: true},
		{Key: "status", Description: "Task status", Default: "inbox"},
		{Key: "priority", Description: "One of high, medium, low", Default: "medium"},
		{Key: "due", Description: "Due date in YYYY-MM-DD format, or empty when none is stated"},
		{Key: "project", Description: "Project the task belongs to, if mentioned"},
		{Key: "client", Description: "Client or external party the task is for, if mentioned"},
		{Key: "created", Description: "Creation date", Default: DateToken},
		{Key: "tags", Description: "Tags for the task", Default: "task"},
	}
}
