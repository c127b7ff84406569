// Package processor 监听文档变更，对符合条件的文档执行一次任务抽取
package processor

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"task-miner/app/config"
	"task-miner/app/events"
	"task-miner/app/extract"
	"task-miner/app/llm"
	"task-miner/app/logger"
	"task-miner/app/metrics"
	"task-miner/app/model"
	"task-miner/app/notes"
	"task-miner/app/vault"

	"github.com/robfig/cron/v3"
)

// ErrBusy 该文档正在处理中
var ErrBusy = errors.New("文档正在处理中")

// ErrNotRunning 处理器未启动
var ErrNotRunning = errors.New("处理器未启动")

// ErrInvalidPath 路径为空或越出文档库
var ErrInvalidPath = errors.New("文档路径无效")

// Status 处理条目状态
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Extractor 任务抽取
type Extractor interface {
	Extract(ctx context.Context, path, content string) (extract.TaskExtractionResult, llm.Provider, error)
}

// NoteWriter 任务笔记写入
type NoteWriter interface {
	Materialize(ctx context.Context, source string, tasks []extract.ExtractedTask) notes.Summary
}

// RunRecorder 处理历史记录
type RunRecorder interface {
	RecordRun(run *model.ProcessingRun) error
}

type nopRecorder struct{}

func (nopRecorder) RecordRun(*model.ProcessingRun) error { return nil }

// Entry 正在处理的文档
type Entry struct {
	Path          string    `json:"path"`
	Status        Status    `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	CorrelationID string    `json:"correlation_id"`
}

// entry 处理条目，每个路径同一时刻最多一个
type entry struct {
	Entry
	cancel   context.CancelFunc
	watchdog *time.Timer
	release  sync.Once
	expired  bool
}

// Outcome 单个文档的处理结果
type Outcome struct {
	Path          string          `json:"path"`
	Status        model.RunStatus `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	Provider      llm.Provider    `json:"provider,omitempty"`
	TasksFound    int             `json:"tasks_found"`
	TasksCreated  int             `json:"tasks_created"`
	TasksFailed   int             `json:"tasks_failed"`
	Notes         []string        `json:"notes,omitempty"`
	CorrelationID string          `json:"correlation_id"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
}

// Processor 文档处理状态机
type Processor struct {
	store     vault.Store
	extractor Extractor
	notes     NoteWriter
	recorder  RunRecorder
	notifier  Notifier
	logger    *logger.Logger
	sink      events.Sink

	trigger        config.TriggerConfig
	ownerName      string
	debounce       time.Duration
	timeout        time.Duration
	batchSize      int
	batchPause     time.Duration
	scanOnStartup  bool
	rescanSchedule string

	mu      sync.Mutex
	timers  map[string]*time.Timer
	entries map[string]*entry
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	cron    *cron.Cron
}

// Option 处理器配置项
type Option func(*Processor)

// WithRecorder 设置处理历史记录
func WithRecorder(r RunRecorder) Option {
	return func(p *Processor) {
		if r != nil {
			p.recorder = r
		}
	}
}

// WithNotifier 设置处理结果通知
func WithNotifier(n Notifier) Option {
	return func(p *Processor) {
		if n != nil {
			p.notifier = n
		}
	}
}

// WithSink 设置事件接收端
func WithSink(sink events.Sink) Option {
	return func(p *Processor) {
		p.sink = events.Safe(sink)
	}
}

// New 创建处理器
func New(cfg *config.Config, store vault.Store, extractor Extractor, writer NoteWriter, log *logger.Logger, opts ...Option) *Processor {
	p := &Processor{
		store:          store,
		extractor:      extractor,
		notes:          writer,
		recorder:       nopRecorder{},
		notifier:       NewLogNotifier(log),
		logger:         log,
		sink:           events.Nop{},
		trigger:        cfg.Trigger,
		ownerName:      cfg.OwnerName,
		debounce:       cfg.Processing.Debounce,
		timeout:        cfg.Processing.Timeout,
		batchSize:      cfg.Processing.BatchSize,
		batchPause:     cfg.Processing.BatchPause,
		scanOnStartup:  cfg.Processing.ScanOnStartup,
		rescanSchedule: cfg.Processing.RescanSchedule,
		timers:         make(map[string]*time.Timer),
		entries:        make(map[string]*entry),
	}
	if p.trigger.ProcessedField == "" {
		p.trigger.ProcessedField = config.DefaultProcessedField
	}
	if p.batchSize <= 0 {
		p.batchSize = 5
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start 启动处理器，按配置执行启动扫描与定时扫描
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("处理器已经在运行")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	if p.rescanSchedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(p.rescanSchedule, p.scheduledScan); err != nil {
			p.cancel()
			return fmt.Errorf("定时扫描表达式无效: %w", err)
		}
		c.Start()
		p.cron = c
		p.logger.Infof("已启用定时扫描: %s", p.rescanSchedule)
	}

	p.running = true
	p.logger.Info("文档处理器已启动")

	if p.scanOnStartup {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if _, err := p.Scan(p.ctx); err != nil {
				p.logger.Errorf("启动扫描失败: %v", err)
			}
		}()
	}
	return nil
}

// Stop 停止处理器，取消所有未完成的处理并等待退出
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	for path, t := range p.timers {
		t.Stop()
		delete(p.timers, path)
	}
	p.cancel()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	p.wg.Wait()
	p.logger.Info("文档处理器已停止")
}

// Trigger 文档变更事件入口，同一路径在防抖窗口内只保留最后一次
func (p *Processor) Trigger(raw string) {
	path, err := canonicalPath(raw)
	if err != nil {
		p.logger.Debugf("忽略无效路径的变更事件: %q", raw)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	if t, ok := p.timers[path]; ok {
		t.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(p.debounce, func() {
		p.mu.Lock()
		if p.timers[path] != timer || !p.running {
			p.mu.Unlock()
			return
		}
		delete(p.timers, path)
		p.mu.Unlock()

		p.dispatch(path)
	})
	p.timers[path] = timer
}

// dispatch 防抖结束后在后台处理
func (p *Processor) dispatch(path string) {
	e, err := p.admit(path)
	if err != nil {
		p.logger.Debugf("忽略本次触发: %s, 原因: %v", path, err)
		return
	}

	go func() {
		defer p.wg.Done()
		p.run(p.baseContext(), e)
	}()
}

// ProcessNow 跳过防抖立即处理，同一路径已在处理时返回 ErrBusy
func (p *Processor) ProcessNow(ctx context.Context, raw string) (Outcome, error) {
	path, err := canonicalPath(raw)
	if err != nil {
		return Outcome{}, err
	}

	e, err := p.admit(path)
	if err != nil {
		return Outcome{}, err
	}
	defer p.wg.Done()
	return p.run(ctx, e), nil
}

// Entries 返回当前正在处理的文档
func (p *Processor) Entries() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Entry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.Entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Pending 返回仍在防抖等待中的文档数量
func (p *Processor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}

// admit 创建处理条目并登记到 wg，调用方负责 wg.Done。path 必须已规范化
func (p *Processor) admit(path string) (*entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil, ErrNotRunning
	}
	if _, exists := p.entries[path]; exists {
		return nil, ErrBusy
	}

	e := &entry{Entry: Entry{
		Path:          path,
		Status:        StatusQueued,
		StartedAt:     time.Now(),
		CorrelationID: events.NewCorrelationID(),
	}}
	p.entries[path] = e
	p.wg.Add(1)
	metrics.FilesInFlight.Inc()
	return e, nil
}

// canonicalPath 统一为文档库内的相对路径，同一文件只对应一个处理条目
func canonicalPath(raw string) (string, error) {
	cleaned := path.Clean(strings.TrimPrefix(filepath.ToSlash(strings.TrimSpace(raw)), "/"))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, raw)
	}
	return cleaned, nil
}

// releaseEntry 释放处理条目与看门狗，多次调用只生效一次
func (p *Processor) releaseEntry(e *entry) {
	e.release.Do(func() {
		p.mu.Lock()
		if e.watchdog != nil {
			e.watchdog.Stop()
		}
		if p.entries[e.Path] == e {
			delete(p.entries, e.Path)
		}
		p.mu.Unlock()

		if e.cancel != nil {
			e.cancel()
		}
		metrics.FilesInFlight.Dec()
	})
}

func (p *Processor) setStatus(e *entry, status Status) {
	p.mu.Lock()
	e.Status = status
	p.mu.Unlock()
}

func (p *Processor) isRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Processor) baseContext() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		return context.Background()
	}
	return p.ctx
}

func (p *Processor) scheduledScan() {
	ctx := p.baseContext()
	if ctx.Err() != nil {
		return
	}
	p.logger.Info("开始定时扫描")
	if _, err := p.Scan(ctx); err != nil {
		p.logger.Errorf("定时扫描失败: %v", err)
	}
}
