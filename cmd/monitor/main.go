package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"option-monitor-go/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/monitor.yaml", "配置文件路径")
	once := flag.Bool("once", false, "只执行一个 tick 后退出，失败时返回非零")
	buildTimeout := flag.Duration("buildTimeout", 30*time.Second, "启动阶段确定合约的超时")
	stopTimeout := flag.Duration("stopTimeout", 15*time.Second, "优雅退出超时")
	flag.Parse()

	gin.SetMode(gin.ReleaseMode)

	c, err := container.New(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	buildCtx, cancelBuild := context.WithTimeout(ctx, *buildTimeout)
	err = c.Build(buildCtx)
	cancelBuild()
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	logger := c.Logger()

	if *once {
		f := c.RunOnce(ctx)
		_ = logger.Close()
		if !f.OK() {
			os.Exit(1)
		}
		return
	}

	if err := c.Start(ctx); err != nil {
		logger.Error("start failed", zap.Error(err))
		_ = logger.Close()
		os.Exit(1)
	}
	notify(logger.Logger, daemon.SdNotifyReady)
	stopWatchdog := startWatchdog(ctx, c, logger.Logger)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case <-c.Done():
		logger.Warn("refresh loop exited")
	}
	stopWatchdog()
	notify(logger.Logger, daemon.SdNotifyStopping)

	done := make(chan error, 1)
	go func() { done <- c.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			os.Exit(1)
		}
	case <-time.After(*stopTimeout):
		log.Printf("优雅退出超时 (%s)，强制退出", *stopTimeout)
		os.Exit(1)
	}
}

// notify 通知 systemd；非 systemd 环境下为空操作
func notify(logger *zap.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		logger.Warn("sd_notify failed", zap.String("state", state), zap.Error(err))
	}
}

// startWatchdog 按 WatchdogSec 的一半发送心跳，组件不健康时停止心跳由 systemd 重启
func startWatchdog(ctx context.Context, c *container.Container, logger *zap.Logger) func() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.HealthCheck(); err != nil {
					logger.Warn("health check failed, skipping watchdog ping", zap.Error(err))
					continue
				}
				notify(logger, daemon.SdNotifyWatchdog)
			}
		}
	}()
	return cancel
}
