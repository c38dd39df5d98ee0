package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// maxBodyBytes 单个响应体上限，订单簿远小于此值。
const maxBodyBytes = 8 << 20

// Request 一次行情请求。Body 为空表示 GET。
type Request struct {
	Source string
	Method string
	URL    string
	Body   []byte
}

// Fetcher 拉取并解析一个 JSON 文档。实现必须可并发调用。
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Document, error)
}

// Observer 接收每次拉取的耗时与错误分类（成功时 kind 为空），通常由监控模块实现。
type Observer interface {
	ObserveFetch(source, kind string, elapsed time.Duration)
}

// NewDefaultHTTPClient 返回带超时的 http.Client。
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// HTTPFetcher 基于 net/http 的 Fetcher。
// 每次调用都新建请求与响应缓冲，唯一共享的 http.Client 本身是并发安全的，
// 并发请求由 Transport 分配各自的连接。
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
	Observer  Observer

	// 按数据源名称的熔断器、按主机的限流器，均可选
	breakers map[string]*CircuitBreaker
	limiters map[string]RateLimiter
	mu       sync.RWMutex
}

func NewHTTPFetcher(client *http.Client, userAgent string) *HTTPFetcher {
	if client == nil {
		client = NewDefaultHTTPClient(0)
	}
	return &HTTPFetcher{
		Client:    client,
		UserAgent: userAgent,
		breakers:  make(map[string]*CircuitBreaker),
		limiters:  make(map[string]RateLimiter),
	}
}

// SetBreaker 为某个数据源挂上熔断器。
func (f *HTTPFetcher) SetBreaker(source string, cb *CircuitBreaker) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.breakers[source] = cb
}

// Breaker 返回数据源的熔断器，没有时为 nil。
func (f *HTTPFetcher) Breaker(source string) *CircuitBreaker {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.breakers[source]
}

// SetLimiter 为 baseURL 所在主机挂上限流器，同一主机的所有数据源共享。
func (f *HTTPFetcher) SetLimiter(baseURL string, l RateLimiter) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("parse base url: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limiters[u.Host] = l
	return nil
}

func (f *HTTPFetcher) limiter(rawURL string) RateLimiter {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.limiters[u.Host]
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (Document, error) {
	start := time.Now()
	doc, err := f.call(ctx, req)
	if f.Observer != nil {
		kind := ""
		if err != nil {
			kind = KindOf(err)
		}
		f.Observer.ObserveFetch(req.Source, kind, time.Since(start))
	}
	return doc, err
}

// call 先等限流，再经熔断器发出请求。限流等待不计入熔断失败。
func (f *HTTPFetcher) call(ctx context.Context, req Request) (Document, error) {
	if l := f.limiter(req.URL); l != nil {
		if err := l.Wait(ctx); err != nil {
			return Document{}, &FetchError{Source: req.Source, Kind: ErrCanceled, Err: err}
		}
	}
	cb := f.Breaker(req.Source)
	if cb == nil {
		return f.do(ctx, req)
	}
	var doc Document
	err := cb.Call(func() error {
		var callErr error
		doc, callErr = f.do(ctx, req)
		return callErr
	})
	if errors.Is(err, ErrCircuitOpen) {
		err = &FetchError{Source: req.Source, Kind: ErrCircuitOpen, Err: err}
	}
	return doc, err
}

func (f *HTTPFetcher) do(ctx context.Context, req Request) (Document, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
		if req.Body != nil {
			method = http.MethodPost
		}
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return Document{}, &FetchError{Source: req.Source, Kind: ErrTransport, Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if f.UserAgent != "" {
		httpReq.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := f.Client.Do(httpReq)
	if err != nil {
		return Document{}, &FetchError{Source: req.Source, Kind: transportKind(ctx), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Document{}, &FetchError{Source: req.Source, Kind: transportKind(ctx), Err: err}
	}
	if resp.StatusCode >= 300 {
		return Document{}, &FetchError{
			Source: req.Source,
			Kind:   ErrStatus,
			Status: resp.StatusCode,
			Err:    statusDetail(raw),
		}
	}
	doc, err := Decode(bytes.NewReader(raw))
	if err != nil {
		return Document{}, &FetchError{Source: req.Source, Kind: ErrDecode, Err: err}
	}
	return doc, nil
}

// transportKind 区分调用方取消与真正的网络故障，前者不应计入熔断。
func transportKind(ctx context.Context) error {
	if ctx.Err() != nil {
		return ErrCanceled
	}
	return ErrTransport
}

// statusDetail 优先取错误响应里的 message 字段（Bitfinex 的错误格式），否则截取原文。
func statusDetail(raw []byte) error {
	if doc, err := Decode(bytes.NewReader(raw)); err == nil {
		if msg, err := doc.Get("message").Text(); err == nil {
			return errors.New(msg)
		}
	}
	return fmt.Errorf("body %q", truncate(raw, 200))
}

// BreakerMetrics 所有数据源熔断器的当前状态，按数据源名称索引。
func (f *HTTPFetcher) BreakerMetrics() map[string]BreakerMetrics {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]BreakerMetrics, len(f.breakers))
	for name, cb := range f.breakers {
		out[name] = cb.Metrics()
	}
	return out
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
