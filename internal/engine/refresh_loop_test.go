package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"option-monitor-go/display"
	"option-monitor-go/gateway"
	"option-monitor-go/infrastructure/alert"
	"option-monitor-go/infrastructure/logger"
	"option-monitor-go/infrastructure/monitor"
	"option-monitor-go/internal/engine"
	"option-monitor-go/market"
	"option-monitor-go/pricing"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

type fakeSources struct {
	spot, option, domestic, foreign func(ctx context.Context) (float64, error)
}

func constant(v float64) func(context.Context) (float64, error) {
	return func(context.Context) (float64, error) { return v, nil }
}

func (f *fakeSources) Spot(ctx context.Context) (float64, error)         { return f.spot(ctx) }
func (f *fakeSources) OptionPrice(ctx context.Context) (float64, error)  { return f.option(ctx) }
func (f *fakeSources) DomesticRate(ctx context.Context) (float64, error) { return f.domestic(ctx) }
func (f *fakeSources) ForeignRate(ctx context.Context) (float64, error)  { return f.foreign(ctx) }

type recordingSink struct {
	mu     sync.Mutex
	frames []display.Frame
}

func (s *recordingSink) Render(f display.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type countingChannel struct {
	mu     sync.Mutex
	levels []alert.Level
}

func (c *countingChannel) Send(a alert.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.levels = append(c.levels, a.Level)
	return nil
}

func (c *countingChannel) Name() string { return "counting" }

func contract() market.Contract {
	return market.Contract{
		Asset: "BTCUSD", DerivType: "VANILLA_OPTION", PutCall: "CALL",
		Strike: 40000, ExpiryEpoch: t0.Unix() + 31536000/4,
	}
}

// marketFor 生成与 sigma 一致的四个输入
func marketFor(t *testing.T, sigma, spot float64) *fakeSources {
	t.Helper()
	c := contract()
	p := pricing.Params{
		Sigma: sigma, Spot: spot, Strike: float64(c.Strike),
		DomesticRate: 0.08, ForeignRate: 0.01,
		Tau: market.TauAt(c.ExpiryEpoch, t0),
	}
	price, err := pricing.Price(p)
	require.NoError(t, err)
	return &fakeSources{
		spot:     constant(spot),
		option:   constant(price / spot),
		domestic: constant(0.08),
		foreign:  constant(0.01),
	}
}

func newLoop(t *testing.T, src engine.Sources, sink display.Sink, mutate func(*engine.Config, *engine.Components)) *engine.RefreshLoop {
	t.Helper()
	cfg := engine.Config{Contract: contract()}
	comps := engine.Components{
		Sources: src,
		Solver:  pricing.Solver{Epsilon: 1e-9, MaxIterations: 100, MinVega: 1e-10},
		Sink:    sink,
		Logger:  logger.Nop(),
	}
	if mutate != nil {
		mutate(&cfg, &comps)
	}
	l, err := engine.New(cfg, comps)
	require.NoError(t, err)
	engine.SetClock(l, func() time.Time { return t0 })
	return l
}

func TestRunTickRecoversImpliedVol(t *testing.T) {
	sink := &recordingSink{}
	mon := monitor.New(monitor.DefaultConfig())
	l := newLoop(t, marketFor(t, 0.55, 41000), sink, func(_ *engine.Config, c *engine.Components) {
		c.Monitor = mon
	})

	f := l.RunTick(context.Background())
	require.True(t, f.OK(), f.Error)
	assert.InDelta(t, 0.55, f.Analytics.ImpliedVol, 1e-4)
	assert.InDelta(t, 41000.0, f.Market.Spot, 1e-9)
	assert.InDelta(t, 0.25, f.Market.Tau, 1e-9)
	assert.Greater(t, f.Analytics.Vega, 0.0)
	assert.Equal(t, uint64(1), f.Tick)
	assert.Equal(t, 1, sink.count())

	stats := l.Statistics()
	assert.Equal(t, int64(1), stats.TotalTicks)
	assert.Equal(t, int64(0), stats.FailedTicks)
}

func TestTauComputedOnceAtBarrier(t *testing.T) {
	sink := &recordingSink{}
	l := newLoop(t, marketFor(t, 0.4, 40000), sink, nil)

	// 每次取时间前进 1 秒：开始、屏障、结束
	var calls atomic.Int64
	engine.SetClock(l, func() time.Time {
		return t0.Add(time.Duration(calls.Add(1)-1) * time.Second)
	})

	f := l.RunTick(context.Background())
	require.NotNil(t, f.Market)
	assert.InDelta(t, market.TauAt(contract().ExpiryEpoch, t0.Add(time.Second)), f.Market.Tau, 1e-12)
	assert.Equal(t, 2*time.Second, f.Latency)
	assert.Equal(t, t0, f.At)
}

func TestTickIsolationAfterTransportError(t *testing.T) {
	src := marketFor(t, 0.5, 40000)
	good := src.spot
	var spotCalls atomic.Int64
	src.spot = func(ctx context.Context) (float64, error) {
		if spotCalls.Add(1) == 1 {
			return 0, &gateway.FetchError{Source: "spot", Kind: gateway.ErrTransport, Err: errors.New("connection reset")}
		}
		return good(ctx)
	}
	sink := &recordingSink{}
	l := newLoop(t, src, sink, func(cfg *engine.Config, _ *engine.Components) {
		cfg.AlertAfterFailures = 0
	})

	first := l.RunTick(context.Background())
	assert.Nil(t, first.Market)
	assert.Nil(t, first.Analytics)
	assert.Contains(t, first.Error, "spot")

	second := l.RunTick(context.Background())
	require.True(t, second.OK(), second.Error)
	assert.Equal(t, 40000.0, second.Market.Spot)
	assert.InDelta(t, 0.5, second.Analytics.ImpliedVol, 1e-4)

	stats := l.Statistics()
	assert.Equal(t, int64(2), stats.TotalTicks)
	assert.Equal(t, int64(1), stats.FailedTicks)
	assert.Equal(t, 0, stats.ConsecutiveFailures)
	assert.Equal(t, 2, sink.count())
}

func TestConvergenceFailureKeepsMarket(t *testing.T) {
	src := marketFor(t, 0.5, 40000)
	src.option = constant(-0.5)
	l := newLoop(t, src, &recordingSink{}, nil)

	f := l.RunTick(context.Background())
	require.NotNil(t, f.Market)
	assert.Nil(t, f.Analytics)
	assert.NotEmpty(t, f.Error)
	assert.Equal(t, int64(1), l.Statistics().FailedTicks)
}

func TestExpiredContractIsDegenerate(t *testing.T) {
	l := newLoop(t, marketFor(t, 0.5, 40000), &recordingSink{}, nil)
	engine.SetClock(l, func() time.Time { return time.Unix(contract().ExpiryEpoch+60, 0) })

	f := l.RunTick(context.Background())
	require.NotNil(t, f.Market)
	assert.Less(t, f.Market.Tau, 0.0)
	assert.Nil(t, f.Analytics)
	assert.Contains(t, f.Error, "tau")
}

func TestFetchesRunConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(4)
	all := make(chan struct{})
	go func() { started.Wait(); close(all) }()

	wait := func(v float64) func(context.Context) (float64, error) {
		return func(ctx context.Context) (float64, error) {
			started.Done()
			select {
			case <-all:
				return v, nil
			case <-time.After(2 * time.Second):
				return 0, errors.New("fetches were serialized")
			}
		}
	}
	base := marketFor(t, 0.5, 40000)
	optionPrice, _ := base.option(context.Background())
	src := &fakeSources{spot: wait(40000), option: wait(optionPrice), domestic: wait(0.08), foreign: wait(0.01)}

	f := newLoop(t, src, &recordingSink{}, nil).RunTick(context.Background())
	assert.True(t, f.OK(), f.Error)
}

func TestFirstFailureCancelsSiblings(t *testing.T) {
	block := func(ctx context.Context) (float64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	src := &fakeSources{
		spot:     block,
		option:   block,
		domestic: block,
		foreign: func(context.Context) (float64, error) {
			return 0, &gateway.FetchError{Source: "lendbook", Kind: gateway.ErrDecode, Err: errors.New("bad json")}
		},
	}
	done := make(chan display.Frame, 1)
	l := newLoop(t, src, &recordingSink{}, nil)
	go func() { done <- l.RunTick(context.Background()) }()

	select {
	case f := <-done:
		assert.Contains(t, f.Error, "foreign rate")
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not return after first failure")
	}
}

func TestAlertAfterConsecutiveFailures(t *testing.T) {
	ch := &countingChannel{}
	mgr := alert.NewManager([]alert.Channel{ch}, time.Nanosecond)

	src := marketFor(t, 0.5, 40000)
	good := src.domestic
	var fail atomic.Bool
	fail.Store(true)
	src.domestic = func(ctx context.Context) (float64, error) {
		if fail.Load() {
			return 0, market.ErrEmptyBook
		}
		return good(ctx)
	}
	l := newLoop(t, src, &recordingSink{}, func(cfg *engine.Config, c *engine.Components) {
		cfg.AlertAfterFailures = 2
		c.AlertManager = mgr
	})

	for i := 0; i < 3; i++ {
		l.RunTick(context.Background())
	}
	assert.Equal(t, []alert.Level{alert.LevelError}, ch.levels)
	assert.Equal(t, 3, l.Statistics().ConsecutiveFailures)

	fail.Store(false)
	l.RunTick(context.Background())
	assert.Equal(t, []alert.Level{alert.LevelError, alert.LevelInfo}, ch.levels)
}

func TestStartStop(t *testing.T) {
	sink := &recordingSink{}
	l := newLoop(t, marketFor(t, 0.5, 40000), sink, func(cfg *engine.Config, _ *engine.Components) {
		cfg.TickInterval = 5 * time.Millisecond
	})

	require.NoError(t, l.Start(context.Background()))
	assert.Equal(t, engine.StateRunning, l.State())
	assert.Error(t, l.Start(context.Background()))

	assert.Eventually(t, func() bool { return sink.count() >= 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, l.SetTickInterval(time.Millisecond))
	n := sink.count()
	assert.Eventually(t, func() bool { return sink.count() >= n+3 }, 2*time.Second, time.Millisecond)

	require.NoError(t, l.Stop())
	assert.Equal(t, engine.StateStopped, l.State())
	assert.NoError(t, l.Stop())

	n = sink.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, sink.count())
}

func TestContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := newLoop(t, marketFor(t, 0.5, 40000), &recordingSink{}, func(cfg *engine.Config, _ *engine.Components) {
		cfg.TickInterval = time.Millisecond
	})
	require.NoError(t, l.Start(ctx))
	cancel()

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit on context cancel")
	}
	assert.Equal(t, engine.StateStopped, l.State())
}

func TestLatencyQuantiles(t *testing.T) {
	l := newLoop(t, marketFor(t, 0.5, 40000), &recordingSink{}, func(cfg *engine.Config, _ *engine.Components) {
		cfg.LatencyWindow = 4
	})
	var step atomic.Int64
	engine.SetClock(l, func() time.Time {
		// 每个 tick 取三次时间，耗时依次为 2s、4s、6s、8s、10s
		n := step.Add(1) - 1
		tick, call := n/3, n%3
		return t0.Add(time.Duration(call*(tick+1)) * time.Second)
	})
	for i := 0; i < 5; i++ {
		l.RunTick(context.Background())
	}
	stats := l.Statistics()
	assert.Equal(t, 10*time.Second, stats.LastLatency)
	// 窗口只保留最近 4 个：4s 6s 8s 10s
	assert.Equal(t, 6*time.Second, stats.LatencyP50)
	assert.Equal(t, 10*time.Second, stats.LatencyP99)
}

func TestSettersValidate(t *testing.T) {
	l := newLoop(t, marketFor(t, 0.5, 40000), &recordingSink{}, nil)

	assert.Error(t, l.SetTickInterval(-time.Second))
	require.NoError(t, l.SetTickInterval(time.Second))
	assert.Equal(t, time.Second, l.TickInterval())

	assert.Error(t, l.SetSolver(pricing.Solver{}))
	require.NoError(t, l.SetSolver(pricing.NewSolver()))
	assert.Equal(t, pricing.NewSolver(), l.Solver())
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*engine.Config, *engine.Components)
	}{
		{"no strike", func(c *engine.Config, _ *engine.Components) { c.Contract.Strike = 0 }},
		{"no expiry", func(c *engine.Config, _ *engine.Components) { c.Contract.ExpiryEpoch = 0 }},
		{"negative interval", func(c *engine.Config, _ *engine.Components) { c.TickInterval = -1 }},
		{"no sources", func(_ *engine.Config, c *engine.Components) { c.Sources = nil }},
		{"no sink", func(_ *engine.Config, c *engine.Components) { c.Sink = nil }},
		{"no logger", func(_ *engine.Config, c *engine.Components) { c.Logger = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := engine.Config{Contract: contract()}
			comps := engine.Components{Sources: marketFor(t, 0.5, 40000), Sink: &recordingSink{}, Logger: logger.Nop()}
			tt.mutate(&cfg, &comps)
			_, err := engine.New(cfg, comps)
			assert.Error(t, err)
		})
	}
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "", engine.FailureReason(nil))
	assert.Equal(t, "empty_book", engine.FailureReason(market.ErrEmptyBook))
	assert.Equal(t, "convergence", engine.FailureReason(&pricing.ConvergenceError{Reason: "x"}))
	assert.Equal(t, "degenerate_input", engine.FailureReason(&pricing.DegenerateInputError{Field: "tau"}))
	assert.Equal(t, "decode", engine.FailureReason(&gateway.FetchError{Kind: gateway.ErrDecode, Err: errors.New("x")}))
	assert.Equal(t, "other", engine.FailureReason(errors.New("x")))
}

type discardSink struct{}

func (discardSink) Render(display.Frame) error { return nil }

func BenchmarkRunTick(b *testing.B) {
	c := contract()
	p := pricing.Params{Sigma: 0.6, Spot: 41000, Strike: float64(c.Strike), DomesticRate: 0.08, ForeignRate: 0.01, Tau: 0.25}
	price, err := pricing.Price(p)
	if err != nil {
		b.Fatal(err)
	}
	src := &fakeSources{spot: constant(41000), option: constant(price / 41000), domestic: constant(0.08), foreign: constant(0.01)}

	l, err := engine.New(engine.Config{Contract: c}, engine.Components{
		Sources: src,
		Solver:  pricing.NewSolver(),
		Sink:    discardSink{},
		Monitor: monitor.New(monitor.DefaultConfig()),
		Logger:  logger.Nop(),
	})
	if err != nil {
		b.Fatal(err)
	}
	engine.SetClock(l, func() time.Time { return t0 })
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if f := l.RunTick(ctx); !f.OK() {
			b.Fatal(f.Error)
		}
	}
}
