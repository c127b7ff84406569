// Package orchestrator 负责选择提供方、重试与本地服务间的回退
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"task-miner/app/config"
	"task-miner/app/events"
	"task-miner/app/llm"
	"task-miner/app/logger"
	"task-miner/app/metrics"
	"task-miner/app/registry"
)

// ServiceSource 本地服务信息来源
type ServiceSource interface {
	Get(ctx context.Context, provider llm.Provider) registry.ServiceRecord
	Available(ctx context.Context) []registry.ServiceRecord
}

// errServiceUnavailable 本地服务不可达或没有模型
var errServiceUnavailable = errors.New("本地服务不可用")

// Orchestrator 大模型调用编排
type Orchestrator struct {
	cfg        config.LLMConfig
	transports map[llm.Provider]llm.Transport
	services   ServiceSource
	logger     *logger.Logger
	sink       events.Sink
}

// prompt 一次调用的提示词
type prompt struct {
	system string
	user   string
}

// New 创建编排器
func New(cfg config.LLMConfig, transports map[llm.Provider]llm.Transport, services ServiceSource, log *logger.Logger, sink events.Sink) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		transports: transports,
		services:   services,
		logger:     log,
		sink:       events.Safe(sink),
	}
}

// CallLLM 调用配置的提供方，返回模型原始输出与实际应答的提供方。
// 配置错误立即返回；本地提供方重试耗尽后依次尝试其他可用的本地服务，
// 云端提供方不回退。
func (o *Orchestrator) CallLLM(ctx context.Context, systemPrompt, userPrompt string) (string, llm.Provider, error) {
	p := prompt{system: systemPrompt, user: userPrompt}

	provider, ok := llm.ParseProvider(o.cfg.Provider)
	if !ok {
		err := &ConfigError{Provider: llm.Provider(o.cfg.Provider), Field: "provider", Reason: "未知的提供方"}
		o.configFailed(ctx, err)
		return "", "", err
	}

	settings, _ := o.cfg.ProviderSettings(string(provider))
	if err := validateProvider(provider, settings); err != nil {
		o.configFailed(ctx, err)
		return "", provider, err
	}

	attempts := o.cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		text, err := o.attempt(ctx, provider, settings, p, attempt)
		if err == nil {
			return text, provider, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", provider, ctx.Err()
		}

		o.logger.Warnf("%s 第 %d/%d 次调用失败: %v", provider, attempt, attempts, err)
		if attempt < attempts {
			if err := sleep(ctx, time.Duration(attempt)*o.cfg.RetryDelay); err != nil {
				return "", provider, err
			}
		}
	}

	if provider.IsLocal() {
		text, used, err := o.fallback(ctx, provider, p)
		if err == nil {
			return text, used, nil
		}
		if ctx.Err() != nil {
			return "", provider, ctx.Err()
		}
	}

	metrics.LLMExhausted.WithLabelValues(string(provider)).Inc()
	o.emit(ctx, events.LevelError, "llm call exhausted", map[string]any{
		"provider": string(provider),
		"attempts": attempts,
		"error":    lastErr.Error(),
	})
	o.logger.Errorf("%s 调用失败，已重试 %d 次: %v", provider, attempts, lastErr)
	return "", provider, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}

// attempt 对单个提供方发起一次调用，本地提供方先查询服务记录并选择模型
func (o *Orchestrator) attempt(ctx context.Context, provider llm.Provider, settings config.ProviderConfig, p prompt, attempt int) (string, error) {
	transport, ok := o.transports[provider]
	if !ok {
		return "", fmt.Errorf("%s 没有可用的调用实现", provider)
	}

	req := llm.Request{
		BaseURL:      settings.URL,
		APIKey:       settings.APIKey,
		Model:        settings.Model,
		SystemPrompt: p.system,
		UserPrompt:   p.user,
		Temperature:  o.cfg.Temperature,
		MaxTokens:    o.cfg.MaxTokens,
		Timeout:      o.cfg.RequestTimeout,
	}

	if provider.IsLocal() {
		record := o.services.Get(ctx, provider)
		if !record.Available {
			metrics.LLMAttempts.WithLabelValues(string(provider), "unavailable").Inc()
			if record.Error != "" {
				return "", fmt.Errorf("%w: %s", errServiceUnavailable, record.Error)
			}
			return "", errServiceUnavailable
		}
		model, substituted := record.SelectModel(settings.Model)
		if substituted {
			o.logger.Warnf("%s 未找到模型 %q，改用 %q", provider, settings.Model, model)
		}
		req.Model = model
		if record.URL != "" {
			req.BaseURL = record.URL
		}
	}

	start := time.Now()
	text, err := transport.Complete(ctx, req)
	elapsed := time.Since(start)
	metrics.LLMLatency.WithLabelValues(string(provider)).Observe(elapsed.Seconds())

	data := map[string]any{
		"provider":    string(provider),
		"model":       req.Model,
		"attempt":     attempt,
		"duration_ms": elapsed.Milliseconds(),
	}
	if err != nil {
		metrics.LLMAttempts.WithLabelValues(string(provider), "error").Inc()
		data["error"] = err.Error()
		o.emit(ctx, events.LevelWarn, "llm attempt failed", data)
		return "", err
	}

	metrics.LLMAttempts.WithLabelValues(string(provider), "success").Inc()
	data["response_chars"] = len(text)
	o.emit(ctx, events.LevelInfo, "llm attempt succeeded", data)
	return text, nil
}

// fallback 依次对其他可用的本地服务各尝试一次
func (o *Orchestrator) fallback(ctx context.Context, primary llm.Provider, p prompt) (string, llm.Provider, error) {
	for _, record := range o.services.Available(ctx) {
		if record.Provider == primary {
			continue
		}
		if ctx.Err() != nil {
			return "", primary, ctx.Err()
		}

		settings, _ := o.cfg.ProviderSettings(string(record.Provider))
		if record.URL != "" {
			settings.URL = record.URL
		}

		o.logger.Infof("%s 不可用，尝试回退到 %s", primary, record.Provider)
		metrics.LLMFallbacks.WithLabelValues(string(primary), string(record.Provider)).Inc()
		o.emit(ctx, events.LevelInfo, "llm fallback", map[string]any{
			"from": string(primary),
			"to":   string(record.Provider),
		})

		text, err := o.attempt(ctx, record.Provider, settings, p, 1)
		if err == nil {
			return text, record.Provider, nil
		}
		o.logger.Warnf("回退到 %s 失败: %v", record.Provider, err)
	}
	return "", primary, ErrExhausted
}

func (o *Orchestrator) configFailed(ctx context.Context, err error) {
	o.logger.Errorf("大模型配置错误: %v", err)
	o.emit(ctx, events.LevelError, "provider configuration invalid", map[string]any{
		"error": err.Error(),
	})
}

func (o *Orchestrator) emit(ctx context.Context, level events.Level, message string, data map[string]any) {
	o.sink.Emit(level, events.CategoryLLM, message, data, events.CorrelationID(ctx))
}

// sleep 等待指定时长，上下文取消时提前返回
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
