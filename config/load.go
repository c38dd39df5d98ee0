package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"option-monitor-go/gateway"
	"option-monitor-go/infrastructure/logger"
	"option-monitor-go/infrastructure/monitor"
	"option-monitor-go/market"
	"option-monitor-go/pricing"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env       string                `yaml:"env"`
	Sources   SourcesConfig         `yaml:"sources"`
	Contract  ContractConfig        `yaml:"contract"`
	Solver    SolverConfig          `yaml:"solver"`
	Loop      LoopConfig            `yaml:"loop"`
	Breaker   gateway.BreakerConfig `yaml:"breaker"`
	Log       logger.Config         `yaml:"log"`
	Metrics   monitor.Config        `yaml:"metrics"`
	Status    StatusConfig          `yaml:"status"`
	Display   DisplayConfig         `yaml:"display"`
	Alert     AlertConfig           `yaml:"alert"`
	HotReload HotReloadConfig       `yaml:"hotReload"`
}

type SourcesConfig struct {
	BitfinexBaseURL string        `yaml:"bitfinexBaseURL"`
	CoinutBaseURL   string        `yaml:"coinutBaseURL"`
	Timeout         time.Duration `yaml:"timeout"`
	UserAgent       string        `yaml:"userAgent"`
	RateLimit       float64       `yaml:"rateLimit"` // 每个主机每秒请求数，0 表示不限流
	RateBurst       int           `yaml:"rateBurst"`
}

// ContractConfig 描述被监控的期权。ExpiryTime、Strike 为 0 时启动阶段自动确定。
type ContractConfig struct {
	Asset            string  `yaml:"asset"`
	SpotPair         string  `yaml:"spotPair"`
	DerivType        string  `yaml:"derivType"`
	PutCall          string  `yaml:"putCall"`
	ExpiryTime       int64   `yaml:"expiryTime"`
	Strike           int64   `yaml:"strike"`
	StrikeStep       int64   `yaml:"strikeStep"`
	SpotQuote        string  `yaml:"spotQuote"`
	OptionQuote      string  `yaml:"optionQuote"`
	RateQuote        string  `yaml:"rateQuote"`
	DomesticCurrency string  `yaml:"domesticCurrency"`
	ForeignCurrency  string  `yaml:"foreignCurrency"`
	PriceScale       float64 `yaml:"priceScale"`  // 期权簿价格乘数
	RateDivisor      float64 `yaml:"rateDivisor"` // 借贷簿利率除数
}

type SolverConfig struct {
	Epsilon       float64 `yaml:"epsilon"`
	MaxIterations int     `yaml:"maxIterations"`
	MinVega       float64 `yaml:"minVega"`
}

// Solver converts the config section into a pricing.Solver.
func (s SolverConfig) Solver() pricing.Solver {
	return pricing.Solver{Epsilon: s.Epsilon, MaxIterations: s.MaxIterations, MinVega: s.MinVega}
}

type LoopConfig struct {
	// TickInterval 两次 tick 开始之间的最小间隔，0 表示上一次结束后立即开始
	TickInterval       time.Duration `yaml:"tickInterval"`
	AlertAfterFailures int           `yaml:"alertAfterFailures"`
	LatencyWindow      int           `yaml:"latencyWindow"`
}

type StatusConfig struct {
	Addr string `yaml:"addr"` // 为空时不启动 HTTP 状态服务
}

type DisplayConfig struct {
	Terminal bool `yaml:"terminal"`
	Color    bool `yaml:"color"`
}

type AlertConfig struct {
	Throttle time.Duration `yaml:"throttle"`
	Console  bool          `yaml:"console"`
}

type HotReloadConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Cooldown time.Duration `yaml:"cooldown"`
}

// Default returns a runnable configuration against the public venues.
func Default() AppConfig {
	return AppConfig{
		Env: "dev",
		Sources: SourcesConfig{
			BitfinexBaseURL: gateway.DefaultBitfinexBaseURL,
			CoinutBaseURL:   gateway.DefaultCoinutBaseURL,
			Timeout:         10 * time.Second,
			UserAgent:       "option-monitor-go/1.0",
			RateLimit:       10,
			RateBurst:       10,
		},
		Contract: ContractConfig{
			Asset:            "BTCUSD",
			SpotPair:         "BTCUSD",
			DerivType:        "VANILLA_OPTION",
			PutCall:          "CALL",
			StrikeStep:       5,
			SpotQuote:        "ask",
			OptionQuote:      "mid",
			RateQuote:        "mid",
			DomesticCurrency: "USD",
			ForeignCurrency:  "BTC",
			PriceScale:       100,
			RateDivisor:      100,
		},
		Solver: SolverConfig{
			Epsilon:       pricing.DefaultEpsilon,
			MaxIterations: pricing.DefaultMaxIterations,
			MinVega:       pricing.DefaultMinVega,
		},
		Loop: LoopConfig{
			TickInterval:       time.Second,
			AlertAfterFailures: 5,
			LatencyWindow:      256,
		},
		Breaker: gateway.BreakerConfig{Threshold: 5, Timeout: 30 * time.Second, HalfOpenProbes: 1},
		Log:     logger.DefaultConfig(),
		Metrics: monitor.DefaultConfig(),
		Status:  StatusConfig{Addr: ":9108"},
		Display: DisplayConfig{Terminal: true, Color: true},
		Alert:   AlertConfig{Throttle: 5 * time.Minute, Console: false},
		HotReload: HotReloadConfig{
			Enabled:  true,
			Cooldown: 2 * time.Second,
		},
	}
}

// Load reads YAML config from path on top of Default() and validates it.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads .env files (missing ones are skipped), then the YAML config,
// then applies OM_* environment overrides.
func LoadWithEnvOverrides(path string, envFiles ...string) (AppConfig, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return AppConfig{}, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

func applyEnv(cfg *AppConfig) error {
	if v := os.Getenv("OM_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("OM_TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("OM_TICK_INTERVAL: %w", err)
		}
		cfg.Loop.TickInterval = d
	}
	if v := os.Getenv("OM_EXPIRY_TIME"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("OM_EXPIRY_TIME: %w", err)
		}
		cfg.Contract.ExpiryTime = n
	}
	if v := os.Getenv("OM_STRIKE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("OM_STRIKE: %w", err)
		}
		cfg.Contract.Strike = n
	}
	if v, ok := os.LookupEnv("OM_STATUS_ADDR"); ok {
		cfg.Status.Addr = v
	}
	if v := os.Getenv("OM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return nil
}

// Validate ensures required fields are present and tunables are in range.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	for name, raw := range map[string]string{
		"sources.bitfinexBaseURL": cfg.Sources.BitfinexBaseURL,
		"sources.coinutBaseURL":   cfg.Sources.CoinutBaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}
	if cfg.Sources.Timeout < 0 {
		return errors.New("sources.timeout must be >= 0")
	}
	if cfg.Sources.RateLimit < 0 || cfg.Sources.RateBurst < 0 {
		return errors.New("sources.rateLimit/rateBurst must be >= 0")
	}

	c := cfg.Contract
	if c.Asset == "" || c.SpotPair == "" || c.DerivType == "" || c.PutCall == "" {
		return errors.New("contract asset/spotPair/derivType/putCall are required")
	}
	if c.DomesticCurrency == "" || c.ForeignCurrency == "" {
		return errors.New("contract domesticCurrency/foreignCurrency are required")
	}
	for name, q := range map[string]string{
		"contract.spotQuote":   c.SpotQuote,
		"contract.optionQuote": c.OptionQuote,
		"contract.rateQuote":   c.RateQuote,
	} {
		if _, err := market.ParseQuoteType(q); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.ExpiryTime < 0 {
		return errors.New("contract.expiryTime must be >= 0")
	}
	if c.Strike < 0 {
		return errors.New("contract.strike must be >= 0")
	}
	if c.StrikeStep <= 0 {
		return errors.New("contract.strikeStep must be > 0")
	}
	if c.PriceScale <= 0 || c.RateDivisor <= 0 {
		return errors.New("contract.priceScale/rateDivisor must be > 0")
	}

	if cfg.Solver.Epsilon <= 0 {
		return errors.New("solver.epsilon must be > 0")
	}
	if cfg.Solver.MaxIterations <= 0 {
		return errors.New("solver.maxIterations must be > 0")
	}
	if cfg.Solver.MinVega < 0 {
		return errors.New("solver.minVega must be >= 0")
	}

	if cfg.Loop.TickInterval < 0 {
		return errors.New("loop.tickInterval must be >= 0")
	}
	if cfg.Loop.AlertAfterFailures < 0 {
		return errors.New("loop.alertAfterFailures must be >= 0")
	}
	if cfg.Loop.LatencyWindow < 0 {
		return errors.New("loop.latencyWindow must be >= 0")
	}
	return nil
}

// Quotes parses the three quote types; call after Validate.
func (c ContractConfig) Quotes() (spot, option, rate market.QuoteType, err error) {
	if spot, err = market.ParseQuoteType(c.SpotQuote); err != nil {
		return
	}
	if option, err = market.ParseQuoteType(c.OptionQuote); err != nil {
		return
	}
	rate, err = market.ParseQuoteType(c.RateQuote)
	return
}
