// Package pricing 实现外汇期权的 Garman-Kohlhagen 定价与隐含波动率反解。
// 本币利率用于折现行权价，外币利率作为标的的持有收益。
package pricing

import (
	"math"
)

// Params 单次定价的全部输入。
type Params struct {
	Sigma        float64
	Spot         float64
	Strike       float64
	DomesticRate float64
	ForeignRate  float64
	Tau          float64
}

// Greeks 一阶敏感度。
type Greeks struct {
	Delta float64 `json:"delta"`
	Vega  float64 `json:"vega"`
	Theta float64 `json:"theta"`
	Rho   float64 `json:"rho"`
}

// Validate 拒绝会导致除零或 NaN 的输入。
func (p Params) Validate() error {
	checks := []struct {
		name string
		v    float64
	}{
		{"sigma", p.Sigma},
		{"spot", p.Spot},
		{"strike", p.Strike},
		{"tau", p.Tau},
	}
	for _, c := range checks {
		if !(c.v > 0) || math.IsInf(c.v, 0) {
			return &DegenerateInputError{Field: c.name, Value: c.v}
		}
	}
	if !finite(p.DomesticRate) {
		return &DegenerateInputError{Field: "domesticRate", Value: p.DomesticRate}
	}
	if !finite(p.ForeignRate) {
		return &DegenerateInputError{Field: "foreignRate", Value: p.ForeignRate}
	}
	return nil
}

// D1 = [ln(S/K) + (rd - rf + σ²/2)τ] / (σ√τ)
func D1(p Params) float64 {
	return (math.Log(p.Spot/p.Strike) + (p.DomesticRate-p.ForeignRate+p.Sigma*p.Sigma/2)*p.Tau) /
		(p.Sigma * math.Sqrt(p.Tau))
}

// D2 = d1 - σ√τ
func D2(p Params) float64 {
	return D1(p) - p.Sigma*math.Sqrt(p.Tau)
}

// Price 看涨期权理论价格。
func Price(p Params) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return price(p), nil
}

// Vega 价格对 σ 的导数。
func Vega(p Params) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return vega(p), nil
}

func Delta(p Params) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return delta(p), nil
}

// Rho 使用外币利率折现，与行情终端历史输出保持一致。
func Rho(p Params) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return rho(p), nil
}

func Theta(p Params) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return theta(p), nil
}

// ComputeGreeks 一次性计算 delta、vega、theta、rho。
func ComputeGreeks(p Params) (Greeks, error) {
	if err := p.Validate(); err != nil {
		return Greeks{}, err
	}
	g := Greeks{
		Delta: delta(p),
		Vega:  vega(p),
		Theta: theta(p),
		Rho:   rho(p),
	}
	for _, v := range []float64{g.Delta, g.Vega, g.Theta, g.Rho} {
		if !finite(v) {
			return Greeks{}, &DegenerateInputError{Field: "greeks", Value: v}
		}
	}
	return g, nil
}

func price(p Params) float64 {
	d1 := D1(p)
	d2 := d1 - p.Sigma*math.Sqrt(p.Tau)
	return p.Spot*math.Exp(-p.ForeignRate*p.Tau)*normCDF(d1) -
		p.Strike*math.Exp(-p.DomesticRate*p.Tau)*normCDF(d2)
}

func vega(p Params) float64 {
	return p.Spot * math.Exp(-p.ForeignRate*p.Tau) * normPDF(D1(p)) * math.Sqrt(p.Tau)
}

func delta(p Params) float64 {
	return math.Exp(-p.ForeignRate*p.Tau) * normCDF(D1(p))
}

func rho(p Params) float64 {
	return p.Strike * p.Tau * math.Exp(-p.ForeignRate*p.Tau) * normCDF(D2(p))
}

func theta(p Params) float64 {
	d1 := D1(p)
	return delta(p)*p.Spot*p.ForeignRate +
		p.ForeignRate*rho(p)/p.Tau -
		math.Exp(-p.ForeignRate*p.Tau)*p.Spot*p.Sigma*normPDF(d1)/(2*math.Sqrt(p.Tau))
}

// normCDF Φ(x) = erfc(-x/√2)/2，尾部比 (1+erf)/2 更精确。
func normCDF(x float64) float64 {
	return math.Erfc(-x/math.Sqrt2) / 2
}

func normPDF(x float64) float64 {
	return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
