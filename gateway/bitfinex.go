package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"option-monitor-go/market"
)

const DefaultBitfinexBaseURL = "https://api.bitfinex.com"

// BitfinexClient 现货行情与借贷簿，均为公开接口无需签名。
type BitfinexClient struct {
	BaseURL string
	Fetcher Fetcher
}

func NewBitfinexClient(baseURL string, f Fetcher) *BitfinexClient {
	if baseURL == "" {
		baseURL = DefaultBitfinexBaseURL
	}
	return &BitfinexClient{BaseURL: strings.TrimRight(baseURL, "/"), Fetcher: f}
}

// SpotSource 现货数据源名称，用于熔断与指标。
func SpotSource(pair string) string { return "bitfinex_spot_" + strings.ToLower(pair) }

// LendbookSource 借贷簿数据源名称。
func LendbookSource(currency string) string { return "bitfinex_lendbook_" + strings.ToLower(currency) }

// Spot 调用 /v1/pubticker/<pair>，读取 ask、bid 或 mid 字段。
func (c *BitfinexClient) Spot(ctx context.Context, pair string, quote market.QuoteType) (float64, error) {
	source := SpotSource(pair)
	doc, err := c.Fetcher.Fetch(ctx, Request{
		Source: source,
		URL:    c.BaseURL + "/v1/pubticker/" + url.PathEscape(pair),
	})
	if err != nil {
		return 0, err
	}
	v, err := doc.Get(string(quote)).Float()
	if err != nil {
		return 0, &FetchError{Source: source, Kind: ErrDecode, Err: err}
	}
	if v <= 0 {
		return 0, &FetchError{Source: source, Kind: ErrDecode, Err: fmt.Errorf("non-positive %s %v", quote, v)}
	}
	return v, nil
}

// Lendbook 调用 /v1/lendbook/<currency>，返回 asks/bids 的 rate 档位。
func (c *BitfinexClient) Lendbook(ctx context.Context, currency string) (market.Book, error) {
	source := LendbookSource(currency)
	doc, err := c.Fetcher.Fetch(ctx, Request{
		Source: source,
		URL:    c.BaseURL + "/v1/lendbook/" + url.PathEscape(strings.ToUpper(currency)),
	})
	if err != nil {
		return market.Book{}, err
	}
	book, err := parseBook(doc, "asks", "bids", "rate", "amount")
	if err != nil {
		return market.Book{}, &FetchError{Source: source, Kind: ErrDecode, Err: err}
	}
	return book, nil
}

// parseBook 读取两侧档位。缺失的一侧视为空，是否允许为空由聚合器决定。
func parseBook(doc Document, askKey, bidKey, valueKey, sizeKey string) (market.Book, error) {
	var book market.Book
	var err error
	if book.Asks, err = parseLevels(doc.Get(askKey), valueKey, sizeKey); err != nil {
		return market.Book{}, err
	}
	if book.Bids, err = parseLevels(doc.Get(bidKey), valueKey, sizeKey); err != nil {
		return market.Book{}, err
	}
	return book, nil
}

func parseLevels(side Document, valueKey, sizeKey string) ([]market.PriceLevel, error) {
	if !side.Exists() {
		return nil, nil
	}
	entries, err := side.Array()
	if err != nil {
		return nil, err
	}
	levels := make([]market.PriceLevel, 0, len(entries))
	for _, e := range entries {
		v, err := e.Get(valueKey).Float()
		if err != nil {
			return nil, err
		}
		if v < 0 {
			return nil, &PathError{Path: e.Get(valueKey).Path(), Reason: fmt.Sprintf("negative value %v", v)}
		}
		lvl := market.PriceLevel{Value: v}
		if size := e.Get(sizeKey); size.Exists() {
			if lvl.Size, err = size.Float(); err != nil {
				return nil, err
			}
		}
		levels = append(levels, lvl)
	}
	return levels, nil
}
