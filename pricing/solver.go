package pricing

import (
	"context"
	"math"

	"option-monitor-go/market"
)

// Solver 默认参数。
const (
	DefaultEpsilon       = 0.001
	DefaultMaxIterations = 100
	DefaultMinVega       = 1e-8

	// 平值时初始猜测为 0，此时 vega 也为 0，需要一个正的起点。
	minInitialGuess = 1e-3
)

// VolatilityResult 隐含波动率求解结果。
type VolatilityResult struct {
	ImpliedVol float64 `json:"impliedVol"`
	Converged  bool    `json:"converged"`
	Iterations int     `json:"iterations"`
}

// Solver 用 Newton-Raphson 反解 Garman-Kohlhagen 价格得到隐含波动率。
// 零值不可用，请使用 NewSolver 或自行填写全部字段。
//
// Epsilon 是绝对价格残差 |GK(σ) − spot×optionPrice|，以计价货币（USD）计，
// 不是波动率误差。对应的波动率误差约为 Epsilon / vega：BTCUSD 现价量级下默认值
// 远小于 1e-4 个波动率点，但现价很小（vega 不足 1）时需要相应调小 Epsilon。
type Solver struct {
	Epsilon       float64
	MaxIterations int
	MinVega       float64
}

func NewSolver() Solver {
	return Solver{
		Epsilon:       DefaultEpsilon,
		MaxIterations: DefaultMaxIterations,
		MinVega:       DefaultMinVega,
	}
}

// InitialGuess σ0 = sqrt(|ln(S/K) + rd·τ| · 2/τ)。
func InitialGuess(spot, strike, domesticRate, tau float64) float64 {
	return math.Sqrt(math.Abs(math.Log(spot/strike)+domesticRate*tau) * 2 / tau)
}

// Solve 反解快照中的期权价格。目标价格为 spot × optionPrice。
// 未收敛时返回 *ConvergenceError，输入越界时返回 *DegenerateInputError。
func (s Solver) Solve(ctx context.Context, snap market.Snapshot) (VolatilityResult, error) {
	p := Params{
		Spot:         snap.Spot,
		Strike:       snap.Strike,
		DomesticRate: snap.DomesticRate,
		ForeignRate:  snap.ForeignRate,
		Tau:          snap.Tau,
		Sigma:        1,
	}
	if err := p.Validate(); err != nil {
		return VolatilityResult{}, err
	}
	p.Sigma = math.Max(InitialGuess(p.Spot, p.Strike, p.DomesticRate, p.Tau), minInitialGuess)

	target := snap.Spot * snap.OptionPrice
	if !finite(target) {
		return VolatilityResult{}, &DegenerateInputError{Field: "optionPrice", Value: snap.OptionPrice}
	}

	maxIter := s.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	residual := price(p) - target
	for i := 0; i < maxIter; i++ {
		if math.Abs(residual) <= s.Epsilon {
			return VolatilityResult{ImpliedVol: p.Sigma, Converged: true, Iterations: i}, nil
		}
		if err := ctx.Err(); err != nil {
			return VolatilityResult{Iterations: i}, &ConvergenceError{
				Reason: err.Error(), Iterations: i, Sigma: p.Sigma, Residual: residual,
			}
		}

		v := vega(p)
		if !(v >= s.MinVega) {
			return VolatilityResult{Iterations: i}, &ConvergenceError{
				Reason: "vega below stability threshold", Iterations: i, Sigma: p.Sigma, Residual: residual,
			}
		}

		next := p.Sigma - residual/v
		if next <= 0 {
			// 牛顿步越过零点时向零折半，保持 σ 为正。
			next = p.Sigma / 2
		}
		if !finite(next) {
			return VolatilityResult{Iterations: i + 1}, &ConvergenceError{
				Reason: "non-finite step", Iterations: i + 1, Sigma: next, Residual: residual,
			}
		}
		p.Sigma = next
		residual = price(p) - target
		if !finite(residual) {
			return VolatilityResult{Iterations: i + 1}, &ConvergenceError{
				Reason: "non-finite price", Iterations: i + 1, Sigma: p.Sigma, Residual: residual,
			}
		}
	}

	if math.Abs(residual) <= s.Epsilon {
		return VolatilityResult{ImpliedVol: p.Sigma, Converged: true, Iterations: maxIter}, nil
	}
	return VolatilityResult{Iterations: maxIter}, &ConvergenceError{
		Reason: "iteration limit reached", Iterations: maxIter, Sigma: p.Sigma, Residual: residual,
	}
}

// Params 以求得的隐含波动率组装 Greeks 输入。
func (r VolatilityResult) Params(snap market.Snapshot) Params {
	return Params{
		Sigma:        r.ImpliedVol,
		Spot:         snap.Spot,
		Strike:       snap.Strike,
		DomesticRate: snap.DomesticRate,
		ForeignRate:  snap.ForeignRate,
		Tau:          snap.Tau,
	}
}
