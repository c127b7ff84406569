package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"resty.dev/v3"
)

const anthropicVersion = "2023-06-01"

// AnthropicTransport Anthropic Messages API 调用
type AnthropicTransport struct {
	client *resty.Client
}

// NewAnthropicTransport 创建 Anthropic 调用实现
func NewAnthropicTransport() *AnthropicTransport {
	return &AnthropicTransport{client: resty.New()}
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type anthropicResponse struct {
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (t *AnthropicTransport) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024 // 该接口要求必须指定
	}

	var result anthropicResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("x-api-key", req.APIKey).
		SetHeader("anthropic-version", anthropicVersion).
		SetHeader("Content-Type", "application/json").
		SetBody(anthropicRequest{
			Model:       req.Model,
			System:      req.SystemPrompt,
			Messages:    []chatMessage{{Role: "user", Content: req.UserPrompt}},
			MaxTokens:   maxTokens,
			Temperature: req.Temperature,
		}).
		SetResult(&result).
		Post(joinURL(req.BaseURL, "/v1/messages"))
	if err != nil {
		return "", fmt.Errorf("请求 Anthropic 失败: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", newStatusError(ProviderAnthropic, resp.StatusCode(), resp.String())
	}

	var content strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	if content.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return content.String(), nil
}
