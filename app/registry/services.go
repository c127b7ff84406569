// Package registry 维护本地大模型服务的可用性与模型列表
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"task-miner/app/events"
	"task-miner/app/llm"
	"task-miner/app/logger"
)

// DefaultTTL 服务记录有效期
const DefaultTTL = 30 * time.Minute

// defaultProbeTimeout 单次探测超时
const defaultProbeTimeout = 5 * time.Second

// ServiceRecord 本地服务探测结果
type ServiceRecord struct {
	Provider      llm.Provider `json:"provider"`
	URL           string       `json:"url"`
	Available     bool         `json:"available"`
	Models        []string     `json:"models"`
	LastCheckedAt time.Time    `json:"last_checked_at"`
	Error         string       `json:"error,omitempty"`
}

// SelectModel 按配置选择模型：配置的模型存在则使用，否则退回第一个已发现的模型
func (r ServiceRecord) SelectModel(configured string) (model string, substituted bool) {
	for _, m := range r.Models {
		if m == configured || m == configured+":latest" {
			return m, false
		}
	}
	if len(r.Models) == 0 {
		return configured, false
	}
	return r.Models[0], true
}

func (r ServiceRecord) clone() ServiceRecord {
	r.Models = append([]string(nil), r.Models...)
	return r
}

// Services 本地服务注册表
type Services struct {
	cache        *TTLCache[ServiceRecord]
	ttl          time.Duration
	probeTimeout time.Duration
	urls         map[llm.Provider]string
	probers      map[llm.Provider]llm.ModelLister
	logger       *logger.Logger
	sink         events.Sink
}

// Option 注册表配置项
type Option func(*Services)

// WithTTL 设置服务记录有效期
func WithTTL(ttl time.Duration) Option {
	return func(s *Services) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithProbeTimeout 设置单次探测超时
func WithProbeTimeout(d time.Duration) Option {
	return func(s *Services) {
		if d > 0 {
			s.probeTimeout = d
		}
	}
}

// WithSink 设置事件接收端
func WithSink(sink events.Sink) Option {
	return func(s *Services) {
		s.sink = events.Safe(sink)
	}
}

// NewServices 创建注册表，urls 与 probers 以本地提供方为键
func NewServices(urls map[llm.Provider]string, probers map[llm.Provider]llm.ModelLister, log *logger.Logger, opts ...Option) *Services {
	s := &Services{
		cache:        NewTTLCache[ServiceRecord](),
		ttl:          DefaultTTL,
		probeTimeout: defaultProbeTimeout,
		urls:         urls,
		probers:      probers,
		logger:       log,
		sink:         events.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get 返回服务记录，过期时同步重新探测
func (s *Services) Get(ctx context.Context, provider llm.Provider) ServiceRecord {
	var probed ServiceRecord
	record, err := s.cache.GetOrRefresh(string(provider), s.ttl, func() (ServiceRecord, error) {
		probed = s.probe(ctx, provider)
		// 调用方取消导致的失败不代表服务状态，不写入缓存
		if err := ctx.Err(); err != nil {
			return probed, err
		}
		return probed, nil
	})
	if err != nil {
		return probed.clone()
	}
	return record.clone()
}

// Refresh 强制重新探测
func (s *Services) Refresh(ctx context.Context, provider llm.Provider) ServiceRecord {
	record := s.probe(ctx, provider)
	if ctx.Err() == nil {
		s.cache.Set(string(provider), record, s.ttl)
	}
	return record.clone()
}

// Available 返回所有可用的本地服务，按回退顺序排列
func (s *Services) Available(ctx context.Context) []ServiceRecord {
	var out []ServiceRecord
	for _, p := range llm.LocalProviders {
		if _, ok := s.urls[p]; !ok {
			continue
		}
		if record := s.Get(ctx, p); record.Available {
			out = append(out, record)
		}
	}
	return out
}

// Snapshot 返回当前缓存中的记录，不触发探测
func (s *Services) Snapshot() []ServiceRecord {
	items := s.cache.Items()
	out := make([]ServiceRecord, 0, len(items))
	for _, r := range items {
		out = append(out, r.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// probe 探测单个本地服务，模型数为 0 视为不可用
func (s *Services) probe(ctx context.Context, provider llm.Provider) ServiceRecord {
	record := ServiceRecord{
		Provider:      provider,
		URL:           s.urls[provider],
		LastCheckedAt: time.Now(),
	}

	prober, ok := s.probers[provider]
	if !ok || record.URL == "" {
		record.Error = fmt.Sprintf("%s 未配置服务发现", provider)
		return record
	}

	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	models, err := prober.Models(ctx, record.URL)
	if err != nil {
		record.Error = err.Error()
		s.logger.Debugf("本地服务 %s 不可用: %v", provider, err)
	} else if len(models) == 0 {
		record.Error = "服务可达但没有可用模型"
		s.logger.Warnf("本地服务 %s 可达但没有可用模型: %s", provider, record.URL)
	} else {
		record.Available = true
		record.Models = models
		s.logger.Infof("本地服务 %s 可用，模型: %s", provider, strings.Join(models, ", "))
	}

	s.sink.Emit(events.LevelDebug, events.CategoryService, "local service probed", map[string]any{
		"provider":  string(provider),
		"url":       record.URL,
		"available": record.Available,
		"models":    len(record.Models),
	}, "")
	return record
}
