package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"option-monitor-go/display"
	"option-monitor-go/gateway"
	"option-monitor-go/infrastructure/alert"
	"option-monitor-go/infrastructure/logger"
	"option-monitor-go/infrastructure/monitor"
	"option-monitor-go/market"
	"option-monitor-go/pricing"
)

// LoopState 刷新循环状态
type LoopState int

const (
	// StateIdle 未启动
	StateIdle LoopState = iota
	// StateRunning 运行中
	StateRunning
	// StateStopped 已停止
	StateStopped
)

// String 返回状态名称
func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config 循环配置
type Config struct {
	Contract           market.Contract
	TickInterval       time.Duration // 0 表示上一个 tick 结束后立即开始下一个
	AlertAfterFailures int           // 连续失败多少次后告警，0 表示不告警
	LatencyWindow      int           // 延迟分位数统计窗口
}

// Components 循环依赖组件，Monitor 与 AlertManager 可为空
type Components struct {
	Sources      Sources
	Solver       pricing.Solver
	Sink         display.Sink
	Monitor      *monitor.Monitor
	AlertManager *alert.Manager
	Logger       *logger.Logger
}

// Statistics 循环统计信息
type Statistics struct {
	State               string        `json:"state"`
	StartTime           time.Time     `json:"startTime"`
	TotalTicks          int64         `json:"totalTicks"`
	FailedTicks         int64         `json:"failedTicks"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	LastTickTime        time.Time     `json:"lastTickTime"`
	LastLatency         time.Duration `json:"lastLatencyNs"`
	LatencyP50          time.Duration `json:"latencyP50Ns"`
	LatencyP99          time.Duration `json:"latencyP99Ns"`
	LastError           string        `json:"lastError,omitempty"`
}

// RefreshLoop 周期性地拉取行情、反解隐含波动率、计算 Greeks 并输出。
type RefreshLoop struct {
	config   Config
	sources  Sources
	sink     display.Sink
	monitor  *monitor.Monitor
	alertMgr *alert.Manager
	logger   *logger.Logger

	solver       pricing.Solver
	solverMu     sync.RWMutex
	tickInterval atomic.Int64
	tickSeq      atomic.Uint64
	now          func() time.Time

	state   LoopState
	stateMu sync.RWMutex

	stopChan chan struct{}
	doneChan chan struct{}

	stats     Statistics
	latencies []float64 // 环形缓冲，单位秒
	latIdx    int
	alerted   bool
	statsMu   sync.RWMutex
}

// New 创建刷新循环
func New(cfg Config, components Components) (*RefreshLoop, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := validateComponents(components); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}
	if cfg.LatencyWindow <= 0 {
		cfg.LatencyWindow = 256
	}

	l := &RefreshLoop{
		config:    cfg,
		sources:   components.Sources,
		sink:      components.Sink,
		monitor:   components.Monitor,
		alertMgr:  components.AlertManager,
		logger:    components.Logger,
		solver:    components.Solver,
		now:       time.Now,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
		latencies: make([]float64, 0, cfg.LatencyWindow),
	}
	l.tickInterval.Store(int64(cfg.TickInterval))
	return l, nil
}

func validateConfig(cfg Config) error {
	if cfg.Contract.Strike <= 0 {
		return errors.New("contract strike must be > 0")
	}
	if cfg.Contract.ExpiryEpoch <= 0 {
		return errors.New("contract expiry must be set")
	}
	if cfg.TickInterval < 0 {
		return errors.New("tick interval must be >= 0")
	}
	return nil
}

func validateComponents(c Components) error {
	if c.Sources == nil {
		return errors.New("sources is required")
	}
	if c.Sink == nil {
		return errors.New("sink is required")
	}
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Start 启动循环
func (l *RefreshLoop) Start(ctx context.Context) error {
	l.stateMu.Lock()
	if l.state == StateRunning {
		l.stateMu.Unlock()
		return errors.New("refresh loop already started")
	}
	if l.state == StateStopped {
		// 从 StateStopped 复启需要重建通道
		l.stopChan = make(chan struct{})
		l.doneChan = make(chan struct{})
	}
	l.state = StateRunning
	stop, done := l.stopChan, l.doneChan
	l.stateMu.Unlock()

	l.statsMu.Lock()
	l.stats.StartTime = l.now()
	l.statsMu.Unlock()

	l.logger.Info("Refresh loop starting",
		zap.String("asset", l.config.Contract.Asset),
		zap.Int64("strike", l.config.Contract.Strike),
		zap.Time("expiry", l.config.Contract.Expiry()),
		zap.Duration("tick_interval", l.TickInterval()))

	go l.run(ctx, stop, done)
	return nil
}

// Stop 停止循环，正在进行的请求会被取消
func (l *RefreshLoop) Stop() error {
	l.stateMu.Lock()
	if l.state != StateRunning {
		state := l.state
		l.stateMu.Unlock()
		if state == StateStopped {
			return nil
		}
		return fmt.Errorf("refresh loop not running (state: %s)", state)
	}
	l.state = StateStopped
	stop, done := l.stopChan, l.doneChan
	l.stateMu.Unlock()

	close(stop)
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		l.logger.Warn("Timeout waiting for refresh loop to stop")
	}
	l.logger.Info("Refresh loop stopped")
	return nil
}

// Done 循环退出后关闭
func (l *RefreshLoop) Done() <-chan struct{} {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.doneChan
}

func (l *RefreshLoop) run(parent context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	interval := l.TickInterval()
	var ticker *time.Ticker
	if interval > 0 {
		ticker = time.NewTicker(interval)
	}
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		if ctx.Err() != nil {
			l.markStopped()
			return
		}
		l.RunTick(ctx)

		if next := l.TickInterval(); next != interval {
			interval = next
			if ticker != nil {
				ticker.Stop()
				ticker = nil
			}
			if interval > 0 {
				ticker = time.NewTicker(interval)
			}
		}
		if ticker == nil {
			continue
		}
		select {
		case <-ctx.Done():
			l.markStopped()
			return
		case <-ticker.C:
		}
	}
}

func (l *RefreshLoop) markStopped() {
	l.stateMu.Lock()
	l.state = StateStopped
	l.stateMu.Unlock()
}

// RunTick 执行一个完整周期：并发拉取、计算、输出。
// 任何失败只影响本次 tick，返回的 Frame 携带错误描述。
func (l *RefreshLoop) RunTick(ctx context.Context) display.Frame {
	start := l.now()
	frame := display.Frame{Tick: l.tickSeq.Add(1), At: start}

	snap, err := l.fetchAll(ctx)
	if err == nil {
		frame.Market = &display.MarketFields{
			OptionValue:  snap.OptionValue(),
			Spot:         snap.Spot,
			DomesticRate: snap.DomesticRate,
			ForeignRate:  snap.ForeignRate,
			Strike:       snap.Strike,
			Tau:          snap.Tau,
		}
		if l.monitor != nil {
			l.monitor.UpdateMarket(snap.Spot, snap.OptionValue(), snap.DomesticRate, snap.ForeignRate, snap.Tau)
		}
		frame.Analytics, err = l.analyze(ctx, snap)
	}
	frame.Latency = l.now().Sub(start)

	if err != nil {
		// 关闭过程中被取消的 tick 不输出
		if ctx.Err() != nil {
			return frame
		}
		frame.Error = err.Error()
	}
	if renderErr := l.sink.Render(frame); renderErr != nil {
		l.logger.Warn("Render failed", zap.Uint64("tick", frame.Tick), zap.Error(renderErr))
	}
	l.record(frame, err)
	return frame
}

// fetchAll 并发拉取四个输入，全部返回后在屏障处统一取时间计算 tau。
func (l *RefreshLoop) fetchAll(ctx context.Context) (market.Snapshot, error) {
	var spot, option, domestic, foreign float64

	g, gctx := errgroup.WithContext(ctx)
	fetch := func(name string, dst *float64, fn func(context.Context) (float64, error)) {
		g.Go(func() error {
			v, err := fn(gctx)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = v
			return nil
		})
	}
	fetch("spot", &spot, l.sources.Spot)
	fetch("option", &option, l.sources.OptionPrice)
	fetch("domestic rate", &domestic, l.sources.DomesticRate)
	fetch("foreign rate", &foreign, l.sources.ForeignRate)
	if err := g.Wait(); err != nil {
		return market.Snapshot{}, err
	}

	now := l.now()
	return market.Snapshot{
		Spot:         spot,
		OptionPrice:  option,
		DomesticRate: domestic,
		ForeignRate:  foreign,
		Strike:       float64(l.config.Contract.Strike),
		ExpiryEpoch:  l.config.Contract.ExpiryEpoch,
		Tau:          market.TauAt(l.config.Contract.ExpiryEpoch, now),
		TakenAt:      now,
	}, nil
}

func (l *RefreshLoop) analyze(ctx context.Context, snap market.Snapshot) (*display.Analytics, error) {
	res, err := l.Solver().Solve(ctx, snap)
	if l.monitor != nil && res.Iterations > 0 {
		l.monitor.RecordSolverIterations(res.Iterations)
	}
	if err != nil {
		return nil, err
	}
	greeks, err := pricing.ComputeGreeks(res.Params(snap))
	if err != nil {
		return nil, err
	}
	if l.monitor != nil {
		l.monitor.UpdateAnalytics(res.ImpliedVol, greeks.Delta, greeks.Vega, greeks.Theta, greeks.Rho)
	}
	return &display.Analytics{ImpliedVol: res.ImpliedVol, Iterations: res.Iterations, Greeks: greeks}, nil
}

// FailureReason 将 tick 错误归类为指标标签。
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, market.ErrEmptyBook):
		return "empty_book"
	case errors.Is(err, pricing.ErrDegenerateInput):
		return "degenerate_input"
	case errors.Is(err, pricing.ErrConvergence):
		return "convergence"
	}
	if kind := gateway.KindOf(err); kind != "other" {
		return kind
	}
	return "other"
}

func (l *RefreshLoop) record(frame display.Frame, err error) {
	reason := FailureReason(err)
	if l.monitor != nil {
		l.monitor.RecordTick(reason, frame.Latency)
	}

	l.statsMu.Lock()
	l.stats.TotalTicks++
	l.stats.LastTickTime = frame.At
	l.stats.LastLatency = frame.Latency
	l.pushLatency(frame.Latency)
	var consecutive int
	var raise, recovered bool
	if err != nil {
		l.stats.FailedTicks++
		l.stats.ConsecutiveFailures++
		l.stats.LastError = frame.Error
		consecutive = l.stats.ConsecutiveFailures
		if n := l.config.AlertAfterFailures; n > 0 && consecutive >= n && !l.alerted {
			l.alerted, raise = true, true
		}
	} else {
		l.stats.ConsecutiveFailures = 0
		l.stats.LastError = ""
		if l.alerted {
			l.alerted, recovered = false, true
		}
	}
	l.statsMu.Unlock()

	// 失败帧由输出端（日志或终端面板）展示，这里只留调试记录
	if err != nil {
		l.logger.Debug("Tick failed",
			zap.Uint64("tick", frame.Tick),
			zap.String("reason", reason),
			zap.Duration("latency", frame.Latency),
			zap.Error(err))
	} else {
		l.logger.Debug("Tick completed",
			zap.Uint64("tick", frame.Tick),
			zap.Float64("implied_vol", frame.Analytics.ImpliedVol),
			zap.Duration("latency", frame.Latency))
	}

	if l.alertMgr == nil {
		return
	}
	if raise {
		if aerr := l.alertMgr.SendError("option analytics ticks failing", map[string]interface{}{
			"consecutive": consecutive,
			"reason":      reason,
			"error":       frame.Error,
		}); aerr != nil {
			l.logger.Error("Failed to send alert", zap.Error(aerr))
		}
	}
	if recovered {
		if aerr := l.alertMgr.SendInfo("option analytics ticks recovered", map[string]interface{}{
			"tick": frame.Tick,
		}); aerr != nil {
			l.logger.Error("Failed to send alert", zap.Error(aerr))
		}
	}
}

func (l *RefreshLoop) pushLatency(d time.Duration) {
	if len(l.latencies) < cap(l.latencies) {
		l.latencies = append(l.latencies, d.Seconds())
		return
	}
	l.latencies[l.latIdx] = d.Seconds()
	l.latIdx = (l.latIdx + 1) % len(l.latencies)
}

// Statistics 获取统计信息快照
func (l *RefreshLoop) Statistics() Statistics {
	l.statsMu.RLock()
	s := l.stats
	sorted := append([]float64(nil), l.latencies...)
	l.statsMu.RUnlock()

	s.State = l.State().String()
	if len(sorted) > 0 {
		sort.Float64s(sorted)
		s.LatencyP50 = seconds(stat.Quantile(0.5, stat.Empirical, sorted, nil))
		s.LatencyP99 = seconds(stat.Quantile(0.99, stat.Empirical, sorted, nil))
	}
	return s
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// State 获取当前状态
func (l *RefreshLoop) State() LoopState {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.state
}

// Contract 返回被监控的合约
func (l *RefreshLoop) Contract() market.Contract {
	return l.config.Contract
}

// TickInterval 当前最小 tick 间隔
func (l *RefreshLoop) TickInterval() time.Duration {
	return time.Duration(l.tickInterval.Load())
}

// SetTickInterval 运行中调整间隔，下一个 tick 起生效
func (l *RefreshLoop) SetTickInterval(d time.Duration) error {
	if d < 0 {
		return errors.New("tick interval must be >= 0")
	}
	l.tickInterval.Store(int64(d))
	return nil
}

// Solver 当前求解器参数
func (l *RefreshLoop) Solver() pricing.Solver {
	l.solverMu.RLock()
	defer l.solverMu.RUnlock()
	return l.solver
}

// SetSolver 替换求解器参数，下一个 tick 起生效
func (l *RefreshLoop) SetSolver(s pricing.Solver) error {
	if s.Epsilon <= 0 || s.MaxIterations <= 0 || s.MinVega < 0 {
		return fmt.Errorf("invalid solver %+v", s)
	}
	l.solverMu.Lock()
	l.solver = s
	l.solverMu.Unlock()
	return nil
}
