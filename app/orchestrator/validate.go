package orchestrator

import (
	"net/url"
	"strings"

	"task-miner/app/config"
	"task-miner/app/llm"
)

// validateProvider 在发起任何网络请求前检查提供方配置
func validateProvider(p llm.Provider, pc config.ProviderConfig) error {
	if err := validateURL(p, pc.URL); err != nil {
		return err
	}

	switch p {
	case llm.ProviderOpenAI:
		if pc.APIKey == "" {
			return &ConfigError{Provider: p, Field: "api_key", Reason: "缺少 API Key"}
		}
		if !strings.HasPrefix(pc.APIKey, "sk-") {
			return &ConfigError{Provider: p, Field: "api_key", Reason: "API Key 应以 sk- 开头"}
		}
	case llm.ProviderAnthropic:
		if pc.APIKey == "" {
			return &ConfigError{Provider: p, Field: "api_key", Reason: "缺少 API Key"}
		}
		if !strings.HasPrefix(pc.APIKey, "sk-ant-") {
			return &ConfigError{Provider: p, Field: "api_key", Reason: "API Key 应以 sk-ant- 开头"}
		}
	}

	if !p.IsLocal() && strings.TrimSpace(pc.Model) == "" {
		return &ConfigError{Provider: p, Field: "model", Reason: "未设置模型"}
	}
	return nil
}

func validateURL(p llm.Provider, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return &ConfigError{Provider: p, Field: "url", Reason: "未设置服务地址"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &ConfigError{Provider: p, Field: "url", Reason: "地址无法解析: " + err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ConfigError{Provider: p, Field: "url", Reason: "地址必须以 http:// 或 https:// 开头"}
	}
	if u.Host == "" {
		return &ConfigError{Provider: p, Field: "url", Reason: "地址缺少主机名"}
	}
	return nil
}
