package container

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"option-monitor-go/config"
	"option-monitor-go/display"
	"option-monitor-go/gateway"
	"option-monitor-go/infrastructure/alert"
	"option-monitor-go/infrastructure/logger"
	"option-monitor-go/infrastructure/monitor"
	internalconfig "option-monitor-go/internal/config"
	"option-monitor-go/internal/engine"
	"option-monitor-go/internal/status"
	"option-monitor-go/market"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg        *config.AppConfig
	configPath string

	// 基础设施
	logger   *logger.Logger
	monitor  *monitor.Monitor
	alertMgr *alert.Manager

	// 数据源
	fetcher  *gateway.HTTPFetcher
	bitfinex *gateway.BitfinexClient
	coinut   *gateway.CoinutClient
	sources  *engine.VenueSources

	// 核心服务
	loop     *engine.RefreshLoop
	status   *status.Server
	reloader *internalconfig.HotReloader

	out       io.Writer
	now       func() time.Time
	lifecycle *LifecycleManager
}

// New 加载配置并创建 Container
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewWithConfig(cfg, configPath), nil
}

// NewWithConfig 使用已加载的配置；configPath 仅用于热更新，可为空。
func NewWithConfig(cfg config.AppConfig, configPath string) *Container {
	return &Container{
		cfg:        &cfg,
		configPath: configPath,
		out:        os.Stdout,
		now:        time.Now,
		lifecycle:  NewLifecycleManager(),
	}
}

// Build 构建所有组件。合约在这里确定一次，之后不再改变。
func (c *Container) Build(ctx context.Context) error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildGateway(); err != nil {
		return fmt.Errorf("build gateway failed: %w", err)
	}
	if err := c.buildEngine(ctx); err != nil {
		return fmt.Errorf("build engine failed: %w", err)
	}
	if err := c.registerLifecycleComponents(); err != nil {
		return fmt.Errorf("register components failed: %w", err)
	}
	c.logger.Info("container built successfully")
	return nil
}

func (c *Container) buildInfrastructure() error {
	if c.logger == nil {
		var err error
		logCfg := c.cfg.Log
		if c.cfg.Display.Terminal {
			logCfg = logCfg.OffTerminal()
		}
		c.logger, err = logger.New(logCfg)
		if err != nil {
			return fmt.Errorf("create logger failed: %w", err)
		}
	}

	c.monitor = monitor.New(c.cfg.Metrics)

	channels := []alert.Channel{alert.NewLogChannel("log", c.logger)}
	if c.cfg.Alert.Console {
		channels = append(channels, alert.NewConsoleChannel("console", os.Stderr))
	}
	c.alertMgr = alert.NewManager(channels, c.cfg.Alert.Throttle)

	c.logger.Info("infrastructure built", zap.String("env", c.cfg.Env))
	return nil
}

func (c *Container) buildGateway() error {
	src := c.cfg.Sources
	c.fetcher = gateway.NewHTTPFetcher(gateway.NewDefaultHTTPClient(src.Timeout), src.UserAgent)
	c.fetcher.Observer = c.monitor

	ct := c.cfg.Contract
	for _, name := range []string{
		gateway.SpotSource(ct.SpotPair),
		gateway.LendbookSource(ct.DomesticCurrency),
		gateway.LendbookSource(ct.ForeignCurrency),
		gateway.OptionBookSource,
		gateway.ExpirySource,
	} {
		c.fetcher.SetBreaker(name, gateway.NewCircuitBreaker(c.cfg.Breaker))
	}

	if src.RateLimit > 0 {
		for _, base := range []string{src.BitfinexBaseURL, src.CoinutBaseURL} {
			if err := c.fetcher.SetLimiter(base, gateway.NewTokenBucketLimiter(src.RateLimit, src.RateBurst)); err != nil {
				return err
			}
		}
	}

	c.bitfinex = gateway.NewBitfinexClient(src.BitfinexBaseURL, c.fetcher)
	c.coinut = gateway.NewCoinutClient(src.CoinutBaseURL, c.fetcher)

	c.logger.Info("gateway built",
		zap.String("bitfinex", src.BitfinexBaseURL),
		zap.String("coinut", src.CoinutBaseURL))
	return nil
}

func (c *Container) buildEngine(ctx context.Context) error {
	ct := c.cfg.Contract
	spotQuote, optionQuote, rateQuote, err := ct.Quotes()
	if err != nil {
		return err
	}

	option := market.NewPriceAggregator(optionQuote)
	option.Scale = ct.PriceScale
	rate := market.NewRateAggregator(rateQuote)
	rate.Divisor = ct.RateDivisor

	c.sources = &engine.VenueSources{
		Bitfinex:         c.bitfinex,
		Coinut:           c.coinut,
		SpotPair:         ct.SpotPair,
		SpotQuote:        spotQuote,
		DomesticCurrency: ct.DomesticCurrency,
		ForeignCurrency:  ct.ForeignCurrency,
		Option:           option,
		Rate:             rate,
		Contract:         market.Contract{Asset: ct.Asset, DerivType: ct.DerivType, PutCall: ct.PutCall},
	}

	contract, err := engine.ResolveContract(ctx, c.sources, engine.ContractSpec{
		Asset:       ct.Asset,
		DerivType:   ct.DerivType,
		PutCall:     ct.PutCall,
		Strike:      ct.Strike,
		StrikeStep:  ct.StrikeStep,
		ExpiryEpoch: ct.ExpiryTime,
	}, c.now())
	if err != nil {
		return fmt.Errorf("resolve contract: %w", err)
	}
	c.sources.Contract = contract
	c.logger.Info("contract resolved",
		zap.String("asset", contract.Asset),
		zap.String("put_call", contract.PutCall),
		zap.Int64("strike", contract.Strike),
		zap.Time("expiry", contract.Expiry()))

	sinks := display.MultiSink{}
	if c.cfg.Display.Terminal {
		sinks = append(sinks, display.NewTerminalSink(c.out, ct.DomesticCurrency, ct.ForeignCurrency, c.cfg.Display.Color))
	} else {
		sinks = append(sinks, display.NewLogSink(c.logger))
	}
	if c.cfg.Status.Addr != "" {
		c.status = status.New(c.cfg.Status.Addr, nil, c.monitor.Handler(), c.logger)
		sinks = append(sinks, c.status)
	}

	c.loop, err = engine.New(engine.Config{
		Contract:           contract,
		TickInterval:       c.cfg.Loop.TickInterval,
		AlertAfterFailures: c.cfg.Loop.AlertAfterFailures,
		LatencyWindow:      c.cfg.Loop.LatencyWindow,
	}, engine.Components{
		Sources:      c.sources,
		Solver:       c.cfg.Solver.Solver(),
		Sink:         sinks,
		Monitor:      c.monitor,
		AlertManager: c.alertMgr,
		Logger:       c.logger,
	})
	if err != nil {
		return err
	}
	if c.status != nil {
		c.status.SetStats(c.loop)
		c.status.SetBreakers(c.fetcher)
	}
	return nil
}

// registerLifecycleComponents 启动顺序：状态服务、热更新、刷新循环；停止时逆序。
func (c *Container) registerLifecycleComponents() error {
	if c.status != nil {
		c.lifecycle.Register("status_server", c.status)
	}
	if c.cfg.HotReload.Enabled && c.configPath != "" {
		r, err := internalconfig.NewHotReloader(c.configPath, *c.cfg, c.loop, c.logger)
		if err != nil {
			return err
		}
		c.reloader = r
		c.lifecycle.Register("hot_reloader", &reloaderComponent{r: r})
	}
	c.lifecycle.Register("refresh_loop", &loopComponent{loop: c.loop})
	return nil
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")
	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	c.logger.Info("container started")
	return nil
}

func (c *Container) Stop() error {
	c.logger.Info("stopping container...")
	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	stats := c.loop.Statistics()
	c.logger.Info("container stopped",
		zap.Int64("ticks", stats.TotalTicks),
		zap.Int64("failed", stats.FailedTicks))
	_ = c.logger.Close()
	return err
}

// RunOnce 只执行一个 tick，不启动后台组件
func (c *Container) RunOnce(ctx context.Context) display.Frame {
	return c.loop.RunTick(ctx)
}

// Done 刷新循环退出后关闭
func (c *Container) Done() <-chan struct{} {
	return c.loop.Done()
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

func (c *Container) Logger() *logger.Logger {
	return c.logger
}
