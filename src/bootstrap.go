package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron"

	"XQNotifier/src/config"
	"XQNotifier/src/datapush"
	"XQNotifier/src/datasource/file"
	"XQNotifier/src/processor"
	"XQNotifier/src/storage"
)

const startupNotice = "✅ XQ 通知服務已啟動\n正在監控目錄中的檔案變更..."

// loadConfig 读取配置，validate 为 false 时跳过校验(chat-id 等命令不需要完整配置)
func loadConfig(validate bool) (*config.Config, error) {
	cfg, err := config.LoadConfig(configDir, configFile)
	if err != nil {
		return nil, err
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*storage.Logger, error) {
	return storage.NewLogger(storage.LogOptions{
		Filename:   cfg.Log.Name,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Level:      cfg.Log.Level,
	})
}

// buildNotifier 按配置创建通知渠道
func buildNotifier(cfg *config.Config, logger *storage.Logger) (datapush.Notifier, error) {
	switch cfg.Notifier {
	case config.NotifierTelegram:
		return datapush.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramAPIBase, logger), nil
	case config.NotifierDingTalk:
		return datapush.NewDingTalkNotifier(cfg.DingTalk.Webhook, cfg.DingTalk.Secret, logger), nil
	case config.NotifierEmail:
		return datapush.NewEmailNotifier(datapush.EmailConfig{
			SMTPServer:     cfg.Email.SMTPServer,
			Username:       cfg.Email.Username,
			Password:       cfg.Email.Password,
			IMAPServer:     cfg.Email.IMAPServer,
			ArchiveMailbox: cfg.Email.ArchiveMailbox,
		}, logger), nil
	case config.NotifierDryRun:
		return datapush.NewDryRunNotifier(logger), nil
	default:
		return nil, fmt.Errorf("未知的通知渠道: %q", cfg.Notifier)
	}
}

// checkNotifier Telegram 渠道在启动时检查机器人连接，失败只记录警告
func checkNotifier(ctx context.Context, n datapush.Notifier, logger *storage.Logger) {
	tg, ok := n.(*datapush.TelegramNotifier)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	bot, err := tg.GetMe(ctx)
	if err != nil {
		logger.Warning(fmt.Sprintf("Telegram Bot 连接检查失败: %v", err))
		return
	}
	logger.Info(fmt.Sprintf("Telegram Bot 已連接: @%s", bot.Username))
}

// newEngineFactory 创建扫描器和读取器，返回每次启动监控时构造新引擎的工厂
func newEngineFactory(cfg *config.Config, n datapush.Notifier, logger *storage.Logger) (processor.EngineFactory, error) {
	scanner, err := file.NewScanner(cfg.WatchDirectory, cfg.Patterns, cfg.TriggerFile, cfg.StateFile, logger)
	if err != nil {
		return nil, err
	}
	reader, err := file.NewContentReader(cfg.FallbackEncoding, logger)
	if err != nil {
		return nil, err
	}
	store := storage.NewStateStore(cfg.StatePath(), logger)

	opts := processor.EngineOptions{
		Destination:   cfg.Destination(),
		Title:         cfg.MessageTitle,
		ScanInterval:  cfg.ScanInterval.Std(),
		SettleDelay:   cfg.SettleDelay.Std(),
		PersistEvery:  cfg.PersistEvery,
		NotifyTimeout: cfg.NotifyTimeout.Std(),
		StartupNotice: startupNotice,
	}

	return func(hooks processor.Hooks) *processor.Engine {
		return processor.NewEngine(scanner, reader, store, n, logger, opts, hooks)
	}, nil
}

// startCron 注册心跳与日志轮转任务，两者都未配置时返回 nil
func startCron(cfg *config.Config, n datapush.Notifier, sup *processor.Supervisor, logger *storage.Logger) (*cron.Cron, error) {
	if cfg.HeartbeatSpec == "" && cfg.Log.RotateSpec == "" {
		return nil, nil
	}

	c := cron.New()

	if cfg.HeartbeatSpec != "" {
		err := c.AddFunc(cfg.HeartbeatSpec, func() {
			ctx, cancel := sendContext(context.Background(), cfg)
			defer cancel()
			if err := n.Send(ctx, cfg.Destination(), heartbeatMessage(sup.Status(), time.Now())); err != nil {
				logger.Warning(fmt.Sprintf("心跳消息发送失败: %v", err))
			}
		})
		if err != nil {
			return nil, fmt.Errorf("无效的 heartbeat_spec %q: %w", cfg.HeartbeatSpec, err)
		}
	}

	if cfg.Log.RotateSpec != "" {
		err := c.AddFunc(cfg.Log.RotateSpec, func() {
			if err := logger.Rotate(); err != nil {
				logger.Error(fmt.Sprintf("日志轮转失败: %v", err))
				return
			}
			logger.Info("日志已轮转")
		})
		if err != nil {
			return nil, fmt.Errorf("无效的 rotate_spec %q: %w", cfg.Log.RotateSpec, err)
		}
	}

	c.Start()
	return c, nil
}

// sendContext 单次发送的超时，notify_timeout 为 0 时不限制
func sendContext(parent context.Context, cfg *config.Config) (context.Context, context.CancelFunc) {
	if d := cfg.NotifyTimeout.Std(); d > 0 {
		return context.WithTimeout(parent, d)
	}
	return context.WithCancel(parent)
}

func heartbeatMessage(st processor.Status, now time.Time) string {
	state := "運行中"
	if !st.Running {
		state = "已停止"
	}
	return fmt.Sprintf("💓 XQ 通知服務%s [%s]\n追蹤檔案: %d\n已發送: %d 失敗: %d",
		state, now.Format("2006-01-02 15:04:05"), st.TrackedFiles, st.Sent, st.Failed)
}
