package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"XQNotifier/src/config"
	"XQNotifier/src/datapush"
	"XQNotifier/src/datasource/file"
	"XQNotifier/src/storage"
	"XQNotifier/src/utils"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "生成示例配置并创建监控目录",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := filepath.Join(configDir, configFile)
		if err := config.WriteExample(path); err != nil {
			return err
		}

		cfg := config.Default()
		if err := file.EnsureDir(cfg.WatchDirectory); err != nil {
			return err
		}

		cmd.Printf("已生成配置文件 %s\n", path)
		cmd.Printf("请填写 telegram_bot_token 和 telegram_chat_id，或用 xqnotify chat-id 查找 Chat ID\n")
		return nil
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "发送一条测试消息",
	Long: `直接通过配置的通知渠道发送测试消息。

使用 --trigger 时改为写入触发文件，由正在运行的监控发出通知，
可用于检查整条监控链路。`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		viaTrigger, _ := cmd.Flags().GetBool("trigger")

		cfg, err := loadConfig(!viaTrigger)
		if err != nil {
			return err
		}

		now := time.Now()
		if viaTrigger {
			msg, err := file.WriteTestSignal(cfg.TriggerPath(), now)
			if err != nil {
				return err
			}
			cmd.Printf("已写入 %s: %s\n", cfg.TriggerPath(), msg)
			return nil
		}

		logger := storage.NewWriterLogger(cmd.ErrOrStderr())
		n, err := buildNotifier(cfg, logger)
		if err != nil {
			return err
		}

		ctx, cancel := sendContext(cmd.Context(), cfg)
		defer cancel()

		text := fmt.Sprintf("🔔 %s [%s]\nTest message - %s",
			cfg.MessageTitle, now.Format("2006-01-02 15:04:05"), now.Format("15:04:05"))
		if err := n.Send(ctx, cfg.Destination(), text); err != nil {
			return err
		}
		cmd.Printf("测试消息已通过 %s 发送\n", n.Name())
		return nil
	},
}

var chatIDCmd = &cobra.Command{
	Use:   "chat-id",
	Short: "查找 Telegram Chat ID",
	Long:  "先在 Telegram 中向机器人发送任意消息，再运行此命令读取最近一条消息所在会话的 Chat ID。",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		if cfg.TelegramBotToken == "" || cfg.TelegramBotToken == config.PlaceholderBotToken {
			return errors.New("请先在配置中填写 telegram_bot_token")
		}

		tg := datapush.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramAPIBase,
			storage.NewWriterLogger(cmd.ErrOrStderr()))

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		chat, err := tg.LatestChatID(ctx)
		if err != nil {
			return err
		}

		name := chat.Title
		if name == "" {
			name = chat.Username
		}
		cmd.Printf("Chat ID: %s\n", datapush.FormatChatID(chat.ID))
		if name != "" {
			cmd.Printf("会话: %s (%s)\n", name, chat.Type)
		}
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "显示已保存的监控状态",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}

		store := storage.NewStateStore(cfg.StatePath(), storage.NewWriterLogger(cmd.ErrOrStderr()))
		state := store.Load()
		if len(state) == 0 {
			cmd.Printf("%s 中没有记录\n", store.Path())
			return nil
		}

		keys := make([]string, 0, len(state))
		for k := range state {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		cmd.Printf("状态文件: %s (%d 个文件)\n", store.Path(), len(state))
		for _, k := range keys {
			rec := state[k]
			mark := ""
			if rec.Baseline {
				mark = " [基线]"
			}
			cmd.Printf("%s  %s  %d 字节%s\n",
				rec.LastModified.Format("2006-01-02 15:04:05"), k, len(rec.LastContent), mark)
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <file.xlsx>",
	Short: "把监控状态导出为 Excel 报表",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}

		state := storage.NewStateStore(cfg.StatePath(), storage.NewWriterLogger(cmd.ErrOrStderr())).Load()
		if err := utils.ExportState(state, args[0]); err != nil {
			return err
		}
		cmd.Printf("已导出 %d 条记录到 %s\n", len(state), args[0])
		return nil
	},
}

func init() {
	testCmd.Flags().Bool("trigger", false, "写入触发文件而不是直接发送")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(chatIDCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(exportCmd)
}
