package cmd

import (
	"fmt"

	"task-miner/app/config"
	"task-miner/app/database"
	"task-miner/app/events"
	"task-miner/app/extract"
	"task-miner/app/llm"
	"task-miner/app/logger"
	"task-miner/app/notes"
	"task-miner/app/orchestrator"
	"task-miner/app/processor"
	"task-miner/app/registry"
	"task-miner/app/vault"
)

// pipeline 一次运行所需的全部组件
type pipeline struct {
	cfg       *config.Config
	log       *logger.Logger
	sink      events.Sink
	store     *vault.FSStore
	services  *registry.Services
	extractor *extract.Extractor
	processor *processor.Processor
	runs      *database.RunStore
}

// newPipeline 按依赖顺序组装组件，withDB 为 false 时不打开数据库，事件只写日志
func newPipeline(cfg *config.Config, log *logger.Logger, withDB bool) (*pipeline, error) {
	p := &pipeline{cfg: cfg, log: log}

	sinks := events.Multi{events.NewZapSink(log.Named("events"))}
	if withDB {
		if err := database.Init(cfg, log); err != nil {
			return nil, fmt.Errorf("数据库初始化失败: %w", err)
		}
		p.runs = database.NewRunStore(database.GetDB())
		sinks = append(sinks, events.NewDBSink(database.GetDB(), log, events.LevelInfo))
	}
	p.sink = events.Safe(sinks)

	excludes := append([]string{cfg.Vault.TasksFolder}, cfg.Vault.ExcludeFolders...)
	store, err := vault.NewFSStore(cfg.Vault.Root, cfg.Vault.Extension, excludes...)
	if err != nil {
		return nil, err
	}
	p.store = store

	transports := llm.NewTransports()
	probers := make(map[llm.Provider]llm.ModelLister)
	for _, provider := range llm.LocalProviders {
		if lister, ok := transports[provider].(llm.ModelLister); ok {
			probers[provider] = lister
		}
	}
	p.services = registry.NewServices(map[llm.Provider]string{
		llm.ProviderOllama:   cfg.LLM.Ollama.URL,
		llm.ProviderLMStudio: cfg.LLM.LMStudio.URL,
	}, probers, log.Named("registry"),
		registry.WithTTL(cfg.LLM.ServiceTTL),
		registry.WithSink(p.sink),
	)

	orch := orchestrator.New(cfg.LLM, transports, p.services, log.Named("llm"), p.sink)
	p.extractor = extract.NewExtractor(cfg, orch, log.Named("extract"), p.sink)
	materializer := notes.NewMaterializer(store, cfg, log.Named("notes"), p.sink)

	opts := []processor.Option{
		processor.WithSink(p.sink),
		processor.WithNotifier(processor.NewLogNotifier(log.Named("notify"))),
	}
	if p.runs != nil {
		opts = append(opts, processor.WithRecorder(p.runs))
	}
	p.processor = processor.New(cfg, store, p.extractor, materializer, log.Named("processor"), opts...)

	return p, nil
}

// close 释放数据库连接
func (p *pipeline) close() {
	if p.runs != nil {
		if err := database.Close(); err != nil {
			p.log.Warnf("关闭数据库失败: %v", err)
		}
	}
}
