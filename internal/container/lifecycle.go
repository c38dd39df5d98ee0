package container

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"option-monitor-go/internal/config"
	"option-monitor-go/internal/engine"
)

// Lifecycle 生命周期接口
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop() error
	Health() error
}

type namedComponent struct {
	name string
	Lifecycle
}

// LifecycleManager 生命周期管理器
type LifecycleManager struct {
	components []namedComponent
	started    int
	mu         sync.Mutex
}

// NewLifecycleManager 创建新的生命周期管理器
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{
		components: make([]namedComponent, 0),
	}
}

// Register 注册组件
func (m *LifecycleManager) Register(name string, component Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, namedComponent{name: name, Lifecycle: component})
}

// StartAll 按顺序启动所有组件，失败时回滚已启动的组件
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, component := range m.components {
		if err := component.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = m.components[j].Stop()
			}
			m.started = 0
			return fmt.Errorf("start %s failed: %w", component.name, err)
		}
		m.started = i + 1
	}
	return nil
}

// StopAll 逆序停止已启动的组件
func (m *LifecycleManager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for i := m.started - 1; i >= 0; i-- {
		if err := m.components[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", m.components[i].name, err))
		}
	}
	m.started = 0
	return errors.Join(errs...)
}

// CheckHealth 检查所有组件健康状态
func (m *LifecycleManager) CheckHealth() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, component := range m.components {
		if err := component.Health(); err != nil {
			return fmt.Errorf("component %s unhealthy: %w", component.name, err)
		}
	}
	return nil
}

// loopComponent 刷新循环
type loopComponent struct {
	loop *engine.RefreshLoop
}

func (l *loopComponent) Start(ctx context.Context) error { return l.loop.Start(ctx) }

func (l *loopComponent) Stop() error { return l.loop.Stop() }

func (l *loopComponent) Health() error {
	if state := l.loop.State(); state != engine.StateRunning {
		return fmt.Errorf("refresh loop %s", state)
	}
	return nil
}

// reloaderComponent 配置热更新
type reloaderComponent struct {
	r *config.HotReloader
}

func (c *reloaderComponent) Start(ctx context.Context) error { return c.r.Start(ctx) }

func (c *reloaderComponent) Stop() error { return c.r.Stop() }

func (c *reloaderComponent) Health() error { return nil }
