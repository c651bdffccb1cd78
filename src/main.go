package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configDir  string
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "xqnotify",
	Short: "监控 XQ 交易信号文件并推送通知",
	Long: `xqnotify 轮询监控目录中的 XQ 信号文件(默认 *.log 和 xq_trigger.txt)，
发现新文件或文件内容变化时，把最新一行通过 Telegram、钉钉或邮件推送出去。

常用命令:
  xqnotify init        # 生成示例配置并创建监控目录
  xqnotify run         # 开始监控
  xqnotify chat-id     # 查找 Telegram Chat ID
  xqnotify test        # 发送一条测试消息`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "./config", "配置文件目录")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config.json", "配置文件名")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
