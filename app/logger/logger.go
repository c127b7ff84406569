// Package logger 基于 zap 的日志记录器，支持控制台、标准错误与按天滚动的文件输出
package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"task-miner/app/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const dateLayout = "2006-01-02"

// Logger 包装 zap.Logger
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
	// rotator 只有文件输出时存在，子日志记录器共享同一个
	rotator *dailyRotator
}

// New 使用给定配置创建新的日志记录器实例
func New(cfg config.LogConfig) *Logger {
	level := parseLevel(cfg.Level)
	encoderConfig := newEncoderConfig()

	var core zapcore.Core
	var rotator *dailyRotator

	switch cfg.Output {
	case "file":
		rotator = newDailyRotator(cfg)
		core = zapcore.NewCore(newEncoder(cfg.Format, encoderConfig), zapcore.AddSync(rotator.writer), level)

		// 调试模式下同时输出到控制台
		if level == zapcore.DebugLevel {
			consoleCore := zapcore.NewCore(newEncoder("text", encoderConfig), zapcore.Lock(os.Stdout), level)
			core = zapcore.NewTee(core, consoleCore)
		}
	case "stderr":
		core = zapcore.NewCore(newEncoder(cfg.Format, encoderConfig), zapcore.Lock(os.Stderr), level)
	default:
		core = zapcore.NewCore(newEncoder(cfg.Format, encoderConfig), zapcore.Lock(os.Stdout), level)
	}

	l := wrap(zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)))
	l.rotator = rotator
	return l
}

// NewNop 创建不输出任何内容的日志记录器，供测试使用
func NewNop() *Logger {
	return wrap(zap.NewNop())
}

// NewWriter 输出到指定 Writer，供测试检查日志内容
func NewWriter(w io.Writer, level string) *Logger {
	encoderConfig := newEncoderConfig()
	encoderConfig.TimeKey = ""
	core := zapcore.NewCore(newEncoder("json", encoderConfig), zapcore.AddSync(w), parseLevel(level))
	return wrap(zap.New(core))
}

func wrap(z *zap.Logger) *Logger {
	return &Logger{Logger: z, sugar: z.Sugar()}
}

// Named 返回带模块名的子日志记录器
func (l *Logger) Named(name string) *Logger {
	child := wrap(l.Logger.Named(name))
	child.rotator = l.rotator
	return child
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	}
	return zapcore.InfoLevel
}

func newEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// newEncoder json 格式用于采集，其余按带颜色的文本输出
func newEncoder(format string, encoderConfig zapcore.EncoderConfig) zapcore.Encoder {
	if format == "json" {
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

// dailyRotator 文件按大小由 lumberjack 滚动，每天零点切换到新日期的文件
type dailyRotator struct {
	writer *lumberjack.Logger
	dir    string
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func newDailyRotator(cfg config.LogConfig) *dailyRotator {
	dir := cfg.Dir
	if dir == "" {
		dir = "data/logs"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		panic("创建日志目录失败: " + err.Error())
	}

	r := &dailyRotator{
		dir: dir,
		writer: &lumberjack.Logger{
			Filename:   filepath.Join(dir, time.Now().Format(dateLayout)+".log"),
			MaxSize:    cfg.MaxSize,    // 兆字节
			MaxBackups: cfg.MaxBackups, // 备份数量
			MaxAge:     cfg.MaxAge,     // 天数
			Compress:   cfg.Compress,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go r.loop(ctx)
	return r
}

func (r *dailyRotator) loop(ctx context.Context) {
	defer r.wg.Done()

	for {
		next := nextMidnight(time.Now())
		timer := time.NewTimer(time.Until(next) + time.Second) // 多等 1 秒确保已跨过零点

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.writer.Filename = filepath.Join(r.dir, next.Format(dateLayout)+".log")
			// 关闭当前文件，下次写入时打开新文件
			_ = r.writer.Close()
		}
	}
}

func (r *dailyRotator) stop() {
	r.once.Do(func() {
		r.cancel()
		r.wg.Wait()
		_ = r.writer.Close()
	})
}

func nextMidnight(now time.Time) time.Time {
	next := now.AddDate(0, 0, 1)
	return time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, next.Location())
}

// Close 刷新缓冲区并停止文件切换任务
func (l *Logger) Close() error {
	err := l.Logger.Sync()
	if l.rotator != nil {
		l.rotator.stop()
	}
	return err
}

func (l *Logger) Debugf(template string, args ...any) {
	l.sugar.Debugf(template, args...)
}

func (l *Logger) Infof(template string, args ...any) {
	l.sugar.Infof(template, args...)
}

func (l *Logger) Warnf(template string, args ...any) {
	l.sugar.Warnf(template, args...)
}

func (l *Logger) Errorf(template string, args ...any) {
	l.sugar.Errorf(template, args...)
}

func (l *Logger) Fatalf(template string, args ...any) {
	l.sugar.Fatalf(template, args...)
}
