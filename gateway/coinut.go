package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"option-monitor-go/market"
)

const DefaultCoinutBaseURL = "https://coinut.com"

// OptionQuery 期权订单簿查询参数，对应 /api/orderbook 的请求体。
type OptionQuery struct {
	DerivType  string `json:"deriv_type"`
	Asset      string `json:"asset"`
	ExpiryTime int64  `json:"expiry_time"`
	Strike     int64  `json:"strike"`
	PutCall    string `json:"put_call"`
}

// QueryFor 由合约生成查询参数。
func QueryFor(c market.Contract) OptionQuery {
	return OptionQuery{
		DerivType:  c.DerivType,
		Asset:      c.Asset,
		ExpiryTime: c.ExpiryEpoch,
		Strike:     c.Strike,
		PutCall:    c.PutCall,
	}
}

// CoinutClient 期权订单簿与到期日查询。
type CoinutClient struct {
	BaseURL string
	Fetcher Fetcher
}

func NewCoinutClient(baseURL string, f Fetcher) *CoinutClient {
	if baseURL == "" {
		baseURL = DefaultCoinutBaseURL
	}
	return &CoinutClient{BaseURL: strings.TrimRight(baseURL, "/"), Fetcher: f}
}

const (
	OptionBookSource = "coinut_orderbook"
	ExpirySource     = "coinut_expiry"
)

// OptionBook POST /api/orderbook，返回 ask/bid 的 price 档位。
func (c *CoinutClient) OptionBook(ctx context.Context, q OptionQuery) (market.Book, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return market.Book{}, fmt.Errorf("marshal option query: %w", err)
	}
	doc, err := c.Fetcher.Fetch(ctx, Request{
		Source: OptionBookSource,
		Method: http.MethodPost,
		URL:    c.BaseURL + "/api/orderbook",
		Body:   body,
	})
	if err != nil {
		return market.Book{}, err
	}
	book, err := parseBook(doc, "ask", "bid", "price", "qty")
	if err != nil {
		return market.Book{}, &FetchError{Source: OptionBookSource, Kind: ErrDecode, Err: err}
	}
	return book, nil
}

type expiryQuery struct {
	DerivType string `json:"deriv_type"`
	Asset     string `json:"asset"`
}

// ExpiryTimes POST /api/expiry_time，返回可交易的到期时间（epoch 秒）。
// 响应既可以是数组，也可以是 {"expiry_time": [...]}。
func (c *CoinutClient) ExpiryTimes(ctx context.Context, derivType, asset string) ([]int64, error) {
	body, err := json.Marshal(expiryQuery{DerivType: derivType, Asset: asset})
	if err != nil {
		return nil, fmt.Errorf("marshal expiry query: %w", err)
	}
	doc, err := c.Fetcher.Fetch(ctx, Request{
		Source: ExpirySource,
		Method: http.MethodPost,
		URL:    c.BaseURL + "/api/expiry_time",
		Body:   body,
	})
	if err != nil {
		return nil, err
	}
	list := doc
	if nested := doc.Get("expiry_time"); nested.Exists() {
		list = nested
	}
	entries, err := list.Array()
	if err != nil {
		return nil, &FetchError{Source: ExpirySource, Kind: ErrDecode, Err: err}
	}
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		v, err := e.Int64()
		if err != nil {
			return nil, &FetchError{Source: ExpirySource, Kind: ErrDecode, Err: err}
		}
		out = append(out, v)
	}
	return out, nil
}
