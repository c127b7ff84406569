package orchestrator

import (
	"errors"
	"fmt"

	"task-miner/app/llm"
)

// ErrExhausted 重试与回退全部失败
var ErrExhausted = errors.New("大模型调用失败，重试与回退均已用尽")

// ConfigError 提供方配置错误，不会重试
type ConfigError struct {
	Provider llm.Provider
	Field    string
	Reason   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s 配置无效: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s 配置无效 (%s): %s", e.Provider, e.Field, e.Reason)
}

// IsConfigError 判断是否为配置错误
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
