package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// OllamaTransport Ollama 本地服务调用
type OllamaTransport struct {
	httpClient *http.Client
}

// NewOllamaTransport 创建 Ollama 调用实现，httpClient 为空时使用默认客户端
func NewOllamaTransport(httpClient *http.Client) *OllamaTransport {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OllamaTransport{httpClient: httpClient}
}

func (t *OllamaTransport) client(baseURL string) (*api.Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("Ollama 地址无效: %w", err)
	}
	return api.NewClient(u, t.httpClient), nil
}

func (t *OllamaTransport) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	client, err := t.client(req.BaseURL)
	if err != nil {
		return "", err
	}

	stream := false
	options := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	var content strings.Builder
	err = client.Chat(ctx, &api.ChatRequest{
		Model: req.Model,
		Messages: []api.Message{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		Stream:  &stream,
		Options: options,
	}, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("请求 Ollama 失败: %w", err)
	}

	if content.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return content.String(), nil
}

// Models 通过 /api/tags 获取本地模型
func (t *OllamaTransport) Models(ctx context.Context, baseURL string) ([]string, error) {
	client, err := t.client(baseURL)
	if err != nil {
		return nil, err
	}

	resp, err := client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("探测 Ollama 失败: %w", err)
	}

	models := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, m.Name)
	}
	return models, nil
}
