package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"task-miner/app/model"
)

// ScanSummary 批量扫描结果
type ScanSummary struct {
	Documents int `json:"documents"`
	Eligible  int `json:"eligible"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Busy      int `json:"busy"`
	Tasks     int `json:"tasks"`
}

// Scan 枚举全部文档，对未处理且符合条件的文档分批处理
func (p *Processor) Scan(ctx context.Context) (ScanSummary, error) {
	var summary ScanSummary
	if !p.isRunning() {
		return summary, ErrNotRunning
	}

	docs, err := p.store.List()
	if err != nil {
		return summary, err
	}
	summary.Documents = len(docs)

	var eligible []string
	for _, path := range docs {
		reason, err := p.filter(path)
		if err != nil {
			p.logger.Debugf("扫描时读取前置字段失败: %s, 错误: %v", path, err)
			continue
		}
		if reason != "" {
			p.logger.Debugf("扫描跳过 %s: %s", path, reason)
			continue
		}
		eligible = append(eligible, path)
	}
	summary.Eligible = len(eligible)
	p.logger.Infof("扫描完成，共 %d 个文档，%d 个待处理", summary.Documents, summary.Eligible)

	var mu sync.Mutex
	for start := 0; start < len(eligible); start += p.batchSize {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if start > 0 {
			if err := pause(ctx, p.batchPause); err != nil {
				return summary, err
			}
		}

		end := min(start+p.batchSize, len(eligible))
		var wg sync.WaitGroup
		for _, path := range eligible[start:end] {
			wg.Add(1)
			go func(path string) {
				defer wg.Done()
				outcome, err := p.ProcessNow(ctx, path)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case errors.Is(err, ErrBusy):
					summary.Busy++
				case err != nil:
					summary.Failed++
				case outcome.Status == model.RunStatusCompleted:
					summary.Completed++
					summary.Tasks += outcome.TasksCreated
				case outcome.Status == model.RunStatusSkipped:
					summary.Skipped++
				default:
					summary.Failed++
				}
			}(path)
		}
		wg.Wait()
	}

	p.logger.Infof("批量处理结束: 完成 %d，失败 %d，跳过 %d，处理中 %d，创建任务 %d",
		summary.Completed, summary.Failed, summary.Skipped, summary.Busy, summary.Tasks)
	return summary, nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
