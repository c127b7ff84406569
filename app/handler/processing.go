package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"task-miner/app/llm"
	"task-miner/app/logger"
	"task-miner/app/model"
	"task-miner/app/processor"
	"task-miner/app/registry"

	"github.com/gin-gonic/gin"
)

// Processor 文档处理器
type Processor interface {
	Entries() []processor.Entry
	Pending() int
	ProcessNow(ctx context.Context, path string) (processor.Outcome, error)
	Scan(ctx context.Context) (processor.ScanSummary, error)
}

// ServiceRegistry 本地服务注册表
type ServiceRegistry interface {
	Get(ctx context.Context, provider llm.Provider) registry.ServiceRecord
}

// RunHistory 处理历史
type RunHistory interface {
	Recent(path string, limit int) ([]model.ProcessingRun, error)
	CountByStatus() (map[string]int64, error)
}

// ProcessingHandler 处理状态与手动触发接口
type ProcessingHandler struct {
	processor Processor
	services  ServiceRegistry
	history   RunHistory
	logger    *logger.Logger
	scanning  atomic.Bool
}

// NewProcessingHandler 创建处理接口
func NewProcessingHandler(p Processor, services ServiceRegistry, history RunHistory, log *logger.Logger) *ProcessingHandler {
	return &ProcessingHandler{
		processor: p,
		services:  services,
		history:   history,
		logger:    log,
	}
}

// ProcessRequest 手动处理请求
type ProcessRequest struct {
	Path string `json:"path" binding:"required"`
}

// Status 当前处理中的文档
func (h *ProcessingHandler) Status(c *gin.Context) {
	success(c, gin.H{
		"entries":  h.processor.Entries(),
		"pending":  h.processor.Pending(),
		"scanning": h.scanning.Load(),
	}, "success")
}

// Services 本地服务状态，过期记录会重新探测
func (h *ProcessingHandler) Services(c *gin.Context) {
	records := make([]registry.ServiceRecord, 0, len(llm.LocalProviders))
	for _, p := range llm.LocalProviders {
		records = append(records, h.services.Get(c.Request.Context(), p))
	}
	success(c, records, "success")
}

// Process 立即处理指定文档
func (h *ProcessingHandler) Process(c *gin.Context) {
	var req ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "请求参数错误: "+err.Error())
		return
	}
	outcome, err := h.processor.ProcessNow(c.Request.Context(), req.Path)
	switch {
	case errors.Is(err, processor.ErrBusy):
		fail(c, http.StatusConflict, err.Error())
		return
	case errors.Is(err, processor.ErrInvalidPath):
		fail(c, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, processor.ErrNotRunning):
		fail(c, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	success(c, outcome, "处理完成")
}

// Scan 在后台执行一次批量扫描
func (h *ProcessingHandler) Scan(c *gin.Context) {
	if !h.scanning.CompareAndSwap(false, true) {
		fail(c, http.StatusConflict, "扫描正在进行中")
		return
	}

	go func() {
		defer h.scanning.Store(false)
		if _, err := h.processor.Scan(context.Background()); err != nil {
			h.logger.Errorf("手动扫描失败: %v", err)
		}
	}()

	c.JSON(http.StatusAccepted, ApiResponse{Code: 0, Message: "扫描已开始"})
}

// Runs 最近的处理记录
func (h *ProcessingHandler) Runs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	runs, err := h.history.Recent(c.Query("path"), limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	counts, err := h.history.CountByStatus()
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	success(c, gin.H{
		"runs":   runs,
		"counts": counts,
	}, "success")
}
