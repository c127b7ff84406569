package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"task-miner/app/config"
	"task-miner/app/logger"

	"github.com/spf13/cobra"
)

var showPrompt bool

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "对单个文件执行任务抽取并输出 JSON，不写入任何笔记",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()

		log := logger.New(cfg.Log)
		defer log.Close()

		p, err := newPipeline(cfg, log, false)
		if err != nil {
			return err
		}

		if showPrompt {
			fmt.Fprintln(cmd.ErrOrStderr(), p.extractor.SystemPrompt())
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("读取文件失败: %w", err)
		}

		result, provider, err := p.extractor.Extract(context.Background(), filepath.ToSlash(args[0]), string(data))
		if err != nil {
			return err
		}
		if provider != "" {
			log.Infof("抽取使用的提供方: %s", provider)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	extractCmd.Flags().BoolVar(&showPrompt, "show-prompt", false, "在标准错误输出中打印系统提示词")
	rootCmd.AddCommand(extractCmd)
}
