package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "task-miner",
	Short:   "从邮件与会议笔记中抽取任务",
	Long:    "监听 Markdown 文档库，把符合条件的邮件与会议笔记交给大模型抽取待办任务，并写成独立的任务笔记",
	Version: "1.0.0",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径（默认查找 ./data/config.yaml 与 ./config.yaml）")
}

// initConfig 设置配置文件搜索路径和环境变量，实际读取在 config.Load 中完成
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("./data") // 相对于当前工作目录的 data 文件夹
		viper.AddConfigPath(".")      // 当前目录
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// TASK_MINER_LLM_PROVIDER 对应 llm.provider
	viper.SetEnvPrefix("task_miner")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}
