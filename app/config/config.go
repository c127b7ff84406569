package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Vault      VaultConfig      `mapstructure:"vault"`
	Trigger    TriggerConfig    `mapstructure:"trigger"`
	OwnerName  string           `mapstructure:"owner_name"`
	Processing ProcessingConfig `mapstructure:"processing"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Prompt     PromptConfig     `mapstructure:"prompt"`
	Fields     []FieldConfig    `mapstructure:"fields"`
	Notes      NotesConfig      `mapstructure:"notes"`
	Server     ServerConfig     `mapstructure:"server"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Log        LogConfig        `mapstructure:"log"`
}

// VaultConfig 文档库配置
type VaultConfig struct {
	Root           string   `mapstructure:"root"`
	TasksFolder    string   `mapstructure:"tasks_folder"`
	Extension      string   `mapstructure:"extension"`
	Recursive      bool     `mapstructure:"recursive"`
	ExcludeFolders []string `mapstructure:"exclude_folders"`
}

// TriggerConfig 触发字段配置
type TriggerConfig struct {
	Field          string   `mapstructure:"field"`           // 前置字段名
	Values         []string `mapstructure:"values"`          // 触发值（不区分大小写）
	ProcessedField string   `mapstructure:"processed_field"` // 已处理标记字段
}

// ProcessingConfig 文件处理配置
type ProcessingConfig struct {
	Debounce       time.Duration `mapstructure:"debounce"`
	Timeout        time.Duration `mapstructure:"timeout"`
	BatchSize      int           `mapstructure:"batch_size"`
	BatchPause     time.Duration `mapstructure:"batch_pause"`
	ScanOnStartup  bool          `mapstructure:"scan_on_startup"`
	RescanSchedule string        `mapstructure:"rescan_schedule"` // cron 表达式，空则关闭
}

// LLMConfig 大模型调用配置
type LLMConfig struct {
	Provider       string         `mapstructure:"provider"`
	Temperature    float64        `mapstructure:"temperature"`
	MaxTokens      int            `mapstructure:"max_tokens"`
	MaxRetries     int            `mapstructure:"max_retries"`
	RetryDelay     time.Duration  `mapstructure:"retry_delay"`
	RequestTimeout time.Duration  `mapstructure:"request_timeout"`
	ServiceTTL     time.Duration  `mapstructure:"service_ttl"`
	OpenAI         ProviderConfig `mapstructure:"openai"`
	Anthropic      ProviderConfig `mapstructure:"anthropic"`
	Ollama         ProviderConfig `mapstructure:"ollama"`
	LMStudio       ProviderConfig `mapstructure:"lmstudio"`
}

// ProviderConfig 单个提供方配置
type ProviderConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// ProviderSettings 按名称返回提供方配置
func (c LLMConfig) ProviderSettings(name string) (ProviderConfig, bool) {
	switch strings.ToLower(name) {
	case "openai":
		return c.OpenAI, true
	case "anthropic":
		return c.Anthropic, true
	case "ollama":
		return c.Ollama, true
	case "lmstudio":
		return c.LMStudio, true
	}
	return ProviderConfig{}, false
}

type PromptConfig struct {
	System string `mapstructure:"system"` // 覆盖内置系统提示词
}

// FieldConfig 输出字段定义
type FieldConfig struct {
	Key         string `mapstructure:"key"`
	Description string `mapstructure:"description"`
	Default     string `mapstructure:"default"`
	Required    bool   `mapstructure:"required"`
}

type NotesConfig struct {
	LinkBack       bool `mapstructure:"link_back"`
	IncludeExcerpt bool `mapstructure:"include_excerpt"`
}

type ServerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Port         string `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"` // bcrypt 哈希
}

type JWTConfig struct {
	Secret     string `mapstructure:"secret"`      // JWT 密钥
	ExpireTime int    `mapstructure:"expire_time"` // 过期时间（小时）
	Issuer     string `mapstructure:"issuer"`      // 签发者
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`      // json 或 text
	Output     string `mapstructure:"output"`      // stdout、stderr 或 file
	Dir        string `mapstructure:"dir"`         // 文件输出目录
	MaxSize    int    `mapstructure:"max_size"`    // 兆字节
	MaxBackups int    `mapstructure:"max_backups"` // 备份数量
	MaxAge     int    `mapstructure:"max_age"`     // 天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧文件
}

// Load 从全局 viper 读取配置，失败直接退出
func Load() *Config {
	SetDefaults(viper.GetViper())

	// 读取配置
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("未找到配置文件，使用默认配置")
		} else {
			log.Fatalf("读取配置文件出错: %v", err)
		}
	}

	cfg, err := Unmarshal(viper.GetViper())
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	return cfg
}

// Unmarshal 解码并校验配置
func Unmarshal(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法解码配置: %w", err)
	}

	if len(cfg.Fields) == 0 {
		cfg.Fields = DefaultFields()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// Validate 只校验启动所需的结构性配置，触发字段、负责人和提供方在使用时逐项校验
func (c *Config) Validate() error {
	if c.Vault.Root == "" {
		return fmt.Errorf("文档库根目录未设置")
	}
	if c.Vault.TasksFolder == "" {
		return fmt.Errorf("任务输出目录未设置")
	}
	if c.Processing.BatchSize <= 0 {
		return fmt.Errorf("批处理大小必须大于0")
	}
	if c.LLM.MaxRetries <= 0 {
		return fmt.Errorf("最大重试次数必须大于0")
	}
	seen := make(map[string]bool, len(c.Fields))
	for i, f := range c.Fields {
		key := strings.TrimSpace(f.Key)
		if key == "" {
			return fmt.Errorf("第%d个输出字段缺少 key", i+1)
		}
		if strings.ContainsAny(key, ": \t\n") {
			return fmt.Errorf("输出字段名无效: %q", f.Key)
		}
		if seen[key] {
			return fmt.Errorf("输出字段重复: %s", key)
		}
		seen[key] = true
	}
	if c.Server.Enabled {
		if c.Server.Port == "" {
			return fmt.Errorf("服务器端口未设置")
		}
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT密钥未设置")
		}
	}
	return nil
}
