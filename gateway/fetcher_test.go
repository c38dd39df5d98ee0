package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu    sync.Mutex
	calls map[string][]string
}

func (o *recordingObserver) ObserveFetch(source, kind string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calls == nil {
		o.calls = make(map[string][]string)
	}
	o.calls[source] = append(o.calls[source], kind)
}

func TestHTTPFetcherGetAndPost(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			io.WriteString(w, `{"v":1}`)
		case http.MethodPost:
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			body, _ := io.ReadAll(r.Body)
			w.Write([]byte(`{"echo":` + string(body) + `}`))
		}
	}))
	defer ts.Close()

	obs := &recordingObserver{}
	f := NewHTTPFetcher(ts.Client(), "option-monitor-test")
	f.Observer = obs

	doc, err := f.Fetch(context.Background(), Request{Source: "get", URL: ts.URL})
	require.NoError(t, err)
	v, err := doc.Get("v").Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	doc, err = f.Fetch(context.Background(), Request{Source: "post", URL: ts.URL, Body: []byte(`{"k":2}`)})
	require.NoError(t, err)
	k, err := doc.Get("echo").Get("k").Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(2), k)

	assert.Equal(t, []string{""}, obs.calls["get"])
	assert.Equal(t, []string{""}, obs.calls["post"])
}

func TestHTTPFetcherErrorKinds(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status":
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
		case "/garbage":
			io.WriteString(w, "<html>")
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			io.WriteString(w, `{}`)
		}
	}))
	defer ts.Close()

	f := NewHTTPFetcher(&http.Client{Timeout: 50 * time.Millisecond}, "")

	_, err := f.Fetch(context.Background(), Request{Source: "s", URL: ts.URL + "/status"})
	assert.ErrorIs(t, err, ErrStatus)
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusServiceUnavailable, fe.Status)
	assert.Equal(t, "s", fe.Source)

	_, err = f.Fetch(context.Background(), Request{Source: "g", URL: ts.URL + "/garbage"})
	assert.ErrorIs(t, err, ErrDecode)
	assert.Equal(t, "decode", KindOf(err))

	_, err = f.Fetch(context.Background(), Request{Source: "t", URL: ts.URL + "/slow"})
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, "transport", KindOf(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Fetch(ctx, Request{Source: "c", URL: ts.URL + "/slow"})
	assert.ErrorIs(t, err, ErrTransport)
}

func TestHTTPFetcherBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	f := NewHTTPFetcher(ts.Client(), "")
	f.SetBreaker("flaky", NewCircuitBreaker(BreakerConfig{Threshold: 2, Timeout: time.Minute}))

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), Request{Source: "flaky", URL: ts.URL})
		assert.ErrorIs(t, err, ErrStatus)
	}
	_, err := f.Fetch(context.Background(), Request{Source: "flaky", URL: ts.URL})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, "circuit_open", KindOf(err))
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, BreakerOpen, f.Breaker("flaky").State())
}

func TestHTTPFetcherConcurrentCallsIndependent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"path":"`+r.URL.Path+`"}`)
	}))
	defer ts.Close()

	f := NewHTTPFetcher(ts.Client(), "")
	paths := []string{"/a", "/b", "/c", "/d"}
	got := make([]string, len(paths))

	var wg sync.WaitGroup
	for i, p := range paths {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			doc, err := f.Fetch(context.Background(), Request{Source: p, URL: ts.URL + p})
			if err != nil {
				return
			}
			got[i], _ = doc.Get("path").Text()
		}(i, p)
	}
	wg.Wait()
	assert.Equal(t, paths, got)
}

func TestHTTPFetcherCanceledSiblingKeepsBreakerClosed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		io.WriteString(w, `{}`)
	}))
	defer ts.Close()

	f := NewHTTPFetcher(ts.Client(), "")
	f.SetBreaker("slow", NewCircuitBreaker(BreakerConfig{Threshold: 1, Timeout: time.Minute}))

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(10*time.Millisecond, cancel)
		_, err := f.Fetch(ctx, Request{Source: "slow", URL: ts.URL})
		cancel()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCanceled)
		assert.Equal(t, "canceled", KindOf(err))
	}
	m := f.BreakerMetrics()["slow"]
	assert.Equal(t, BreakerClosed, m.State)
	assert.Zero(t, m.TotalFailures)
}

func TestHTTPFetcherStatusUsesVenueMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		if r.URL.Path == "/json" {
			io.WriteString(w, `{"message":"Unknown symbol"}`)
			return
		}
		io.WriteString(w, `<html>bad</html>`)
	}))
	defer ts.Close()

	f := NewHTTPFetcher(ts.Client(), "")
	_, err := f.Fetch(context.Background(), Request{Source: "lb", URL: ts.URL + "/json"})
	require.ErrorIs(t, err, ErrStatus)
	assert.Contains(t, err.Error(), "Unknown symbol")

	_, err = f.Fetch(context.Background(), Request{Source: "lb", URL: ts.URL + "/html"})
	require.ErrorIs(t, err, ErrStatus)
	assert.Contains(t, err.Error(), "<html>bad</html>")
}
