package processor

import (
	"task-miner/app/logger"
	"task-miner/app/model"
)

// Notifier 每个文档处理结束后的一次性通知
type Notifier interface {
	Notify(outcome Outcome)
}

// NotifierFunc 函数形式的通知
type NotifierFunc func(outcome Outcome)

func (f NotifierFunc) Notify(outcome Outcome) {
	f(outcome)
}

// LogNotifier 把通知写入日志
type LogNotifier struct {
	logger *logger.Logger
}

// NewLogNotifier 创建日志通知
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) Notify(outcome Outcome) {
	switch {
	case outcome.Status == model.RunStatusFailed:
		n.logger.Errorf("处理 %s 出错，详见日志", outcome.Path)
	case outcome.TasksCreated > 0:
		n.logger.Infof("已从 %s 创建 %d 个任务", outcome.Path, outcome.TasksCreated)
	default:
		n.logger.Infof("%s 中未发现任务", outcome.Path)
	}
}
