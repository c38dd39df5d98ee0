// Package display 把每个 tick 的结果推送到终端、日志或其它输出。
package display

import (
	"errors"
	"time"

	"option-monitor-go/pricing"
)

// MarketFields tick 聚合得到的行情输入。
type MarketFields struct {
	OptionValue  float64 `json:"optionValue"` // spot × optionPrice
	Spot         float64 `json:"spot"`
	DomesticRate float64 `json:"domesticRate"`
	ForeignRate  float64 `json:"foreignRate"`
	Strike       float64 `json:"strike"`
	Tau          float64 `json:"tau"`
}

// Analytics 隐含波动率与 Greeks。
type Analytics struct {
	ImpliedVol float64 `json:"impliedVol"`
	Iterations int     `json:"iterations"`
	pricing.Greeks
}

// Frame 一个 tick 的完整输出。拉取失败时 Market 为 nil，求解失败时 Analytics 为 nil。
type Frame struct {
	Tick      uint64        `json:"tick"`
	At        time.Time     `json:"at"`
	Market    *MarketFields `json:"market,omitempty"`
	Analytics *Analytics    `json:"analytics,omitempty"`
	Latency   time.Duration `json:"latencyNs"`
	Error     string        `json:"error,omitempty"`
}

// OK 该 tick 是否完整成功。
func (f Frame) OK() bool {
	return f.Error == "" && f.Market != nil && f.Analytics != nil
}

// Sink 接收 tick 输出。RefreshLoop 是唯一写入者。
type Sink interface {
	Render(f Frame) error
}

// MultiSink 依次写入多个 Sink，单个失败不影响其余。
type MultiSink []Sink

func (m MultiSink) Render(f Frame) error {
	var errs []error
	for _, s := range m {
		if err := s.Render(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
