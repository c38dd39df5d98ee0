package pricing

import (
	"errors"
	"fmt"
)

var (
	// ErrDegenerateInput 输入使 d1 或 vega 无定义（tau、sigma、spot、strike 非正或非有限）。
	ErrDegenerateInput = errors.New("degenerate pricing input")
	// ErrConvergence 隐含波动率求解未收敛。
	ErrConvergence = errors.New("implied volatility did not converge")
)

// DegenerateInputError 指明哪个输入越界。
type DegenerateInputError struct {
	Field string
	Value float64
}

func (e *DegenerateInputError) Error() string {
	return fmt.Sprintf("%s: %s=%v", ErrDegenerateInput, e.Field, e.Value)
}

func (e *DegenerateInputError) Is(target error) bool {
	return target == ErrDegenerateInput
}

// ConvergenceError 记录求解器放弃时的状态。
type ConvergenceError struct {
	Reason     string
	Iterations int
	Sigma      float64
	Residual   float64
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("%s after %d iterations: %s (sigma=%g residual=%g)",
		ErrConvergence, e.Iterations, e.Reason, e.Sigma, e.Residual)
}

func (e *ConvergenceError) Is(target error) bool {
	return target == ErrConvergence
}
