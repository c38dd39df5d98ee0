package gateway

import (
	"errors"
	"fmt"
)

// 行情拉取失败的分类，配合 errors.Is 使用。
var (
	ErrTransport   = errors.New("transport error")
	ErrDecode      = errors.New("decode error")
	ErrStatus      = errors.New("unexpected http status")
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrCanceled 调用方取消了请求（tick 中其它数据源已失败或进程退出），不代表数据源故障。
	ErrCanceled = errors.New("request canceled")
)

// FetchError 带数据源名称的拉取错误。
type FetchError struct {
	Source string
	Kind   error // ErrTransport / ErrDecode / ErrStatus / ErrCircuitOpen / ErrCanceled
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %v %d: %v", e.Source, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// KindOf 返回错误的分类名，用于日志和指标标签。
func KindOf(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrStatus):
		return "status"
	case errors.Is(err, ErrDecode):
		return "decode"
	default:
		return "other"
	}
}

// PathError 文档中某个路径缺失或类型不符。
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

func (e *PathError) Is(target error) bool {
	return target == ErrDecode
}
