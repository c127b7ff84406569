package llm

import (
	"context"
	"fmt"
	"net/http"

	"resty.dev/v3"
)

// LMStudioTransport LM Studio 本地服务（OpenAI 兼容接口）
type LMStudioTransport struct {
	client *resty.Client
}

// NewLMStudioTransport 创建 LM Studio 调用实现
func NewLMStudioTransport() *LMStudioTransport {
	return &LMStudioTransport{client: resty.New()}
}

func (t *LMStudioTransport) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	var result chatCompletionResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(newChatCompletionRequest(req)).
		SetResult(&result).
		Post(joinURL(req.BaseURL, "/v1/chat/completions"))
	if err != nil {
		return "", fmt.Errorf("请求 LM Studio 失败: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", newStatusError(ProviderLMStudio, resp.StatusCode(), resp.String())
	}

	return firstChoice(result)
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Models 通过 /v1/models 获取已加载的模型
func (t *LMStudioTransport) Models(ctx context.Context, baseURL string) ([]string, error) {
	var result modelsResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetResult(&result).
		Get(joinURL(baseURL, "/v1/models"))
	if err != nil {
		return nil, fmt.Errorf("探测 LM Studio 失败: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, newStatusError(ProviderLMStudio, resp.StatusCode(), resp.String())
	}

	models := make([]string, 0, len(result.Data))
	for _, m := range result.Data {
		if m.ID != "" {
			models = append(models, m.ID)
		}
	}
	return models, nil
}
