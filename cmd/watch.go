package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"task-miner/app/config"
	"task-miner/app/logger"
	"task-miner/app/server"
	"task-miner/app/vault"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "监听文档库并持续抽取任务",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		// 创建日志器
		log := logger.New(cfg.Log)
		defer log.Close()

		p, err := newPipeline(cfg, log, true)
		if err != nil {
			log.Fatalf("初始化失败: %v", err)
		}
		defer p.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := p.processor.Start(ctx); err != nil {
			log.Fatalf("启动处理器失败: %v", err)
		}
		defer p.processor.Stop()

		watcher, err := vault.NewWatcher(p.store, cfg.Vault.Recursive, p.processor.Trigger, log.Named("watcher"))
		if err != nil {
			log.Fatalf("创建监控器失败: %v", err)
		}
		if err := watcher.Start(); err != nil {
			log.Fatalf("启动监控器失败: %v", err)
		}
		defer watcher.Stop()

		var srv *server.Server
		if cfg.Server.Enabled {
			srv = server.New(cfg, log.Named("server"), server.Deps{
				Processor: p.processor,
				Services:  p.services,
				History:   p.runs,
			})

			// 在协程中启动服务器
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorf("启动服务器失败: %v", err)
					stop()
				}
			}()
		}

		<-ctx.Done()
		log.Info("收到关闭信号，正在退出...")

		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Errorf("服务器关闭失败: %v", err)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
