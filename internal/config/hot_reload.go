package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	appconfig "option-monitor-go/config"
	"option-monitor-go/infrastructure/logger"
	"option-monitor-go/pricing"
)

// Tunables 可以在运行中调整的参数
type Tunables interface {
	SetTickInterval(d time.Duration) error
	SetSolver(s pricing.Solver) error
}

// HotReloader 监听配置文件，变化后重新加载并应用可热更新的参数。
// 合约、数据源等字段需要重启才生效，变化时只记录警告。
type HotReloader struct {
	cooldown   time.Duration
	configPath string
	watcher    *fsnotify.Watcher
	target     Tunables
	logger     *logger.Logger

	current    appconfig.AppConfig
	lastReload time.Time
	now        func() time.Time
	mu         sync.Mutex

	started  atomic.Bool
	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewHotReloader 创建热更新器，initial 为启动时生效的配置
func NewHotReloader(configPath string, initial appconfig.AppConfig, target Tunables, log *logger.Logger) (*HotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &HotReloader{
		cooldown:   initial.HotReload.Cooldown,
		configPath: filepath.Clean(configPath),
		watcher:    watcher,
		target:     target,
		logger:     log,
		current:    initial,
		now:        time.Now,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// Start 启动监听。监听所在目录，编辑器以重命名方式保存时也能收到事件。
func (h *HotReloader) Start(ctx context.Context) error {
	if err := h.watcher.Add(filepath.Dir(h.configPath)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}
	h.started.Store(true)
	go h.watch(ctx)
	return nil
}

// Stop 停止监听，可重复调用
func (h *HotReloader) Stop() error {
	h.stopOnce.Do(func() { close(h.stopChan) })
	if h.started.Load() {
		select {
		case <-h.doneChan:
		case <-time.After(time.Second):
			h.logger.Warn("Timeout waiting for config watcher to stop")
		}
	}
	return h.watcher.Close()
}

func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != h.configPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if h.inCooldown() {
				continue
			}
			if err := h.Reload(); err != nil {
				h.logger.Warn("Config reload rejected", zap.String("path", h.configPath), zap.Error(err))
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}

func (h *HotReloader) inCooldown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.lastReload.IsZero() && h.now().Sub(h.lastReload) < h.cooldown
}

// Reload 读取并校验配置文件（叠加 OM_* 环境变量，与启动时一致），应用 tick 间隔与求解器参数。
// 校验失败时保持原配置不变。
func (h *HotReloader) Reload() error {
	next, err := appconfig.LoadWithEnvOverrides(h.configPath)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.current
	if next.Loop.TickInterval != prev.Loop.TickInterval {
		if err := h.target.SetTickInterval(next.Loop.TickInterval); err != nil {
			return fmt.Errorf("apply tick interval: %w", err)
		}
		h.logger.Info("Tick interval updated",
			zap.Duration("from", prev.Loop.TickInterval),
			zap.Duration("to", next.Loop.TickInterval))
	}
	if next.Solver != prev.Solver {
		if err := h.target.SetSolver(next.Solver.Solver()); err != nil {
			return fmt.Errorf("apply solver: %w", err)
		}
		h.logger.Info("Solver updated",
			zap.Float64("epsilon", next.Solver.Epsilon),
			zap.Int("max_iterations", next.Solver.MaxIterations),
			zap.Float64("min_vega", next.Solver.MinVega))
	}
	if next.Contract != prev.Contract || next.Sources != prev.Sources {
		h.logger.Warn("Contract or source changes require a restart")
	}

	// 未应用的字段保留启动值，下次比较仍以其为基准
	prev.Loop.TickInterval = next.Loop.TickInterval
	prev.Solver = next.Solver
	h.current = prev
	h.lastReload = h.now()
	return nil
}

// LastReloadTime 最后一次成功重载的时间
func (h *HotReloader) LastReloadTime() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastReload
}
