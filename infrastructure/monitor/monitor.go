package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry

	// 刷新周期指标
	ticks       *prometheus.CounterVec
	tickLatency prometheus.Histogram

	// 数据源指标
	fetchLatency *prometheus.HistogramVec
	fetchErrors  *prometheus.CounterVec

	// 求解器指标
	solverIterations prometheus.Histogram

	// 行情与结果
	spot         prometheus.Gauge
	optionValue  prometheus.Gauge
	domesticRate prometheus.Gauge
	foreignRate  prometheus.Gauge
	tau          prometheus.Gauge
	impliedVol   prometheus.Gauge
	greeks       *prometheus.GaugeVec
}

// Config 监控配置
type Config struct {
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "optmon",
		Subsystem: "btcusd",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &Monitor{
		registry: reg,

		ticks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "ticks_total",
				Help:      "刷新周期总数，按结果分类",
			},
			[]string{"result"},
		),
		tickLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "tick_latency_seconds",
			Help:      "单个刷新周期总耗时（秒）",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		fetchLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "fetch_latency_seconds",
				Help:      "数据源请求延迟（秒）",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		fetchErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "fetch_errors_total",
				Help:      "数据源请求错误总数",
			},
			[]string{"source", "kind"},
		),

		solverIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "solver_iterations",
			Help:      "隐含波动率求解迭代次数",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 50, 100},
		}),

		spot:         gauge("spot_price", "现货价格"),
		optionValue:  gauge("option_value", "期权美元价格（spot × optionPrice）"),
		domesticRate: gauge("domestic_rate", "本币借贷利率"),
		foreignRate:  gauge("foreign_rate", "外币借贷利率"),
		tau:          gauge("tau_years", "剩余期限（年）"),
		impliedVol:   gauge("implied_vol", "隐含波动率"),
		greeks: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "greek",
				Help:      "期权敏感度",
			},
			[]string{"name"},
		),
	}
}

// RecordTick 记录刷新周期结果，reason 为空表示成功。
func (m *Monitor) RecordTick(reason string, latency time.Duration) {
	if reason == "" {
		reason = "ok"
	}
	m.ticks.WithLabelValues(reason).Inc()
	m.tickLatency.Observe(latency.Seconds())
}

// ObserveFetch 实现 gateway.Observer，kind 为空表示成功。
func (m *Monitor) ObserveFetch(source, kind string, elapsed time.Duration) {
	m.fetchLatency.WithLabelValues(source).Observe(elapsed.Seconds())
	if kind != "" {
		m.fetchErrors.WithLabelValues(source, kind).Inc()
	}
}

func (m *Monitor) RecordSolverIterations(n int) {
	m.solverIterations.Observe(float64(n))
}

// UpdateMarket 更新行情输入。
func (m *Monitor) UpdateMarket(spot, optionValue, domesticRate, foreignRate, tau float64) {
	m.spot.Set(spot)
	m.optionValue.Set(optionValue)
	m.domesticRate.Set(domesticRate)
	m.foreignRate.Set(foreignRate)
	m.tau.Set(tau)
}

// UpdateAnalytics 更新隐含波动率与 Greeks。
func (m *Monitor) UpdateAnalytics(iv, delta, vega, theta, rho float64) {
	m.impliedVol.Set(iv)
	m.greeks.WithLabelValues("delta").Set(delta)
	m.greeks.WithLabelValues("vega").Set(vega)
	m.greeks.WithLabelValues("theta").Set(theta)
	m.greeks.WithLabelValues("rho").Set(rho)
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
