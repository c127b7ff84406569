package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"task-miner/app/config"
	"task-miner/app/logger"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "扫描一次文档库，处理全部未处理的文档后退出",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		cfg.Processing.ScanOnStartup = false
		cfg.Processing.RescanSchedule = ""

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

		summary, err := p.processor.Scan(ctx)
		if err != nil {
			log.Errorf("扫描中断: %v", err)
		}
		log.Infof("扫描结束: 文档 %d, 待处理 %d, 完成 %d, 失败 %d, 跳过 %d, 任务 %d",
			summary.Documents, summary.Eligible, summary.Completed, summary.Failed, summary.Skipped, summary.Tasks)
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
