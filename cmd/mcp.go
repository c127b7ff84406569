package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"task-miner/app/config"
	"task-miner/app/logger"
	"task-miner/app/mcpserver"

	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "以 MCP 服务方式通过标准输入输出提供任务抽取工具",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		// 标准输出用于协议通信
		cfg.Log.Output = "stderr"

		log := logger.New(cfg.Log)
		defer log.Close()

		p, err := newPipeline(cfg, log, false)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		server := mcpserver.New(p.extractor, log.Named("mcp"), rootCmd.Version)
		log.Info("MCP 服务已启动")
		return mcpserver.Run(ctx, server)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
