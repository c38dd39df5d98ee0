package gateway

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// BreakerState 熔断器状态
type BreakerState int

const (
	// BreakerClosed 正常放行
	BreakerClosed BreakerState = iota
	// BreakerOpen 熔断，直接拒绝
	BreakerOpen
	// BreakerHalfOpen 放行探测请求
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	Threshold      int           `yaml:"threshold"`      // 连续失败多少次后熔断
	Timeout        time.Duration `yaml:"timeout"`        // 熔断持续时间
	HalfOpenProbes int           `yaml:"halfOpenProbes"` // 半开状态需要连续成功的次数
}

// CircuitBreaker 单个数据源的熔断器。
// 数据源持续不可用时，避免每个 tick 都等待一次完整的超时。
type CircuitBreaker struct {
	cfg BreakerConfig
	now func() time.Time

	state           BreakerState
	consecutiveFail int
	probeSuccess    int
	openedAt        time.Time
	totalFailures   int64
	totalRejected   int64

	mu sync.Mutex
}

func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now, state: BreakerClosed}
}

// Call 在熔断器保护下执行 fn。熔断期间返回 ErrCircuitOpen 且不调用 fn。
// fn 返回 ErrCanceled 时既不计失败也不计成功。
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn()
	if errors.Is(err, ErrCanceled) {
		return err
	}
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != BreakerOpen {
		return nil
	}
	if wait := cb.cfg.Timeout - cb.now().Sub(cb.openedAt); wait > 0 {
		cb.totalRejected++
		return fmt.Errorf("%w, retry in %v", ErrCircuitOpen, wait.Round(time.Millisecond))
	}
	cb.state = BreakerHalfOpen
	cb.probeSuccess = 0
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.totalFailures++
		cb.consecutiveFail++
		// 半开状态下任何失败都重新熔断
		if cb.state == BreakerHalfOpen || cb.consecutiveFail >= cb.cfg.Threshold {
			cb.state = BreakerOpen
			cb.openedAt = cb.now()
		}
		return
	}

	cb.consecutiveFail = 0
	if cb.state == BreakerHalfOpen {
		cb.probeSuccess++
		if cb.probeSuccess >= cb.cfg.HalfOpenProbes {
			cb.state = BreakerClosed
		}
	}
}

// State 获取当前状态
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// MarshalText 让状态在 JSON 中显示为名称
func (s BreakerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// BreakerMetrics 熔断器指标
type BreakerMetrics struct {
	State            BreakerState `json:"state"`
	ConsecutiveFails int          `json:"consecutiveFails"`
	TotalFailures    int64        `json:"totalFailures"`
	TotalRejected    int64        `json:"totalRejected"`
	OpenedAt         time.Time    `json:"openedAt"`
}

func (cb *CircuitBreaker) Metrics() BreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerMetrics{
		State:            cb.state,
		ConsecutiveFails: cb.consecutiveFail,
		TotalFailures:    cb.totalFailures,
		TotalRejected:    cb.totalRejected,
		OpenedAt:         cb.openedAt,
	}
}
