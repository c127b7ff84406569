package llm

import (
	"context"
	"fmt"
	"net/http"

	"resty.dev/v3"
)

// OpenAITransport OpenAI Chat Completions 调用
type OpenAITransport struct {
	client *resty.Client
}

// NewOpenAITransport 创建 OpenAI 调用实现
func NewOpenAITransport() *OpenAITransport {
	return &OpenAITransport{client: resty.New()}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

func newChatCompletionRequest(req Request) chatCompletionRequest {
	return chatCompletionRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}

func (t *OpenAITransport) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	var result chatCompletionResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetAuthToken(req.APIKey).
		SetHeader("Content-Type", "application/json").
		SetBody(newChatCompletionRequest(req)).
		SetResult(&result).
		Post(joinURL(req.BaseURL, "/chat/completions"))
	if err != nil {
		return "", fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", newStatusError(ProviderOpenAI, resp.StatusCode(), resp.String())
	}

	return firstChoice(result)
}

func firstChoice(result chatCompletionResponse) (string, error) {
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return result.Choices[0].Message.Content, nil
}
