package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"XQNotifier/src/datasource/file"
	"XQNotifier/src/processor"
	"XQNotifier/src/web"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "开始监控信号文件",
	Long: `读取配置并开始轮询监控目录。

启动时已存在的文件只记录为基线，不发送通知；之后出现的新文件和内容变化
会推送最新一行。Ctrl+C 或 SIGTERM 停止监控并保存状态，SIGHUP 轮转日志文件。
配置了 web_addr 时同时启动控制面板。`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}

	// 初始化日志系统
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Close()

	if err := file.EnsureDir(cfg.WatchDirectory); err != nil {
		logger.Error(fmt.Sprintf("无法创建监控目录 %s: %v", cfg.WatchDirectory, err))
		return err
	}

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checkNotifier(ctx, notifier, logger)

	factory, err := newEngineFactory(cfg, notifier, logger)
	if err != nil {
		logger.Error(err.Error())
		return err
	}
	sup := processor.NewSupervisor(factory, logger)

	// 收到 SIGHUP 时切换日志文件
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				if err := logger.Rotate(); err != nil {
					logger.Error(fmt.Sprintf("日志轮转失败: %v", err))
				} else {
					logger.Info("收到 SIGHUP，日志已轮转")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := sup.Start(ctx); err != nil {
		return err
	}

	c, err := startCron(cfg, notifier, sup, logger)
	if err != nil {
		logger.Error(err.Error())
		stop()
		sup.Wait()
		return err
	}
	if c != nil {
		defer c.Stop()
	}

	var panel *web.Server
	if cfg.WebAddr != "" {
		panel = web.NewServer(ctx, cfg.WebAddr, sup, web.PanelInfo{
			WatchDirectory: cfg.WatchDirectory,
			TriggerFile:    cfg.TriggerPath(),
			Notifier:       cfg.Notifier,
		}, logger)
		if err := panel.Start(); err != nil {
			logger.Error(err.Error())
			panel = nil
		}
	}

	logger.Info(fmt.Sprintf("监控服务已启动(目录: %s，间隔: %v)，按Ctrl+C退出",
		cfg.WatchDirectory, cfg.ScanInterval.Std()))

	<-ctx.Done()
	logger.Info("收到退出信号，正在停止监控...")

	if panel != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := panel.Shutdown(shutdownCtx); err != nil {
			logger.Warning(fmt.Sprintf("控制面板关闭失败: %v", err))
		}
		cancel()
	}

	// 引擎在退出前保存状态
	sup.Wait()
	logger.Info("监控已停止")
	return nil
}
