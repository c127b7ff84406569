// Package llm 实现各大模型提供方的 HTTP 调用，并把响应统一转换为文本
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Provider 提供方名称
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
	ProviderLMStudio  Provider = "lmstudio"
)

// LocalProviders 需要服务发现的本地提供方，顺序即回退顺序
var LocalProviders = []Provider{ProviderOllama, ProviderLMStudio}

// ParseProvider 解析提供方名称（不区分大小写）
func ParseProvider(name string) (Provider, bool) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderOllama, ProviderLMStudio:
		return p, true
	}
	return "", false
}

// IsLocal 是否为本地提供方
func (p Provider) IsLocal() bool {
	return p == ProviderOllama || p == ProviderLMStudio
}

func (p Provider) String() string {
	return string(p)
}

// maxErrorBody 错误响应最多保留的字符数
const maxErrorBody = 512

// Request 一次补全请求
type Request struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
}

// Transport 单个提供方的调用实现，返回模型输出的原始文本
type Transport interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ModelLister 本地提供方的模型发现
type ModelLister interface {
	Models(ctx context.Context, baseURL string) ([]string, error)
}

// ErrEmptyResponse 提供方返回了空内容
var ErrEmptyResponse = errors.New("模型返回内容为空")

// StatusError 非 2xx 响应
type StatusError struct {
	Provider   Provider
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s 请求失败，状态码: %d, 响应: %s", e.Provider, e.StatusCode, e.Body)
}

func newStatusError(p Provider, code int, body string) *StatusError {
	if utf8.RuneCountInString(body) > maxErrorBody {
		body = string([]rune(body)[:maxErrorBody]) + "..."
	}
	return &StatusError{Provider: p, StatusCode: code, Body: body}
}

// withTimeout 按请求设置的超时包装上下文
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// joinURL 拼接基础地址与路径，避免重复斜杠
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// NewTransports 创建全部提供方的调用实现
func NewTransports() map[Provider]Transport {
	return map[Provider]Transport{
		ProviderOpenAI:    NewOpenAITransport(),
		ProviderAnthropic: NewAnthropicTransport(),
		ProviderOllama:    NewOllamaTransport(nil),
		ProviderLMStudio:  NewLMStudioTransport(),
	}
}
