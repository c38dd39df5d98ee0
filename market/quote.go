package market

import (
	"fmt"
	"strings"
)

// QuoteType 选择订单簿的哪一侧参与归约。
type QuoteType string

const (
	QuoteAsk QuoteType = "ask"
	QuoteBid QuoteType = "bid"
	QuoteMid QuoteType = "mid"
)

// ParseQuoteType 解析配置中的报价类型，大小写不敏感。
func ParseQuoteType(s string) (QuoteType, error) {
	switch q := QuoteType(strings.ToLower(strings.TrimSpace(s))); q {
	case QuoteAsk, QuoteBid, QuoteMid:
		return q, nil
	default:
		return "", fmt.Errorf("invalid quote type %q (want ask, bid or mid)", s)
	}
}

func (q QuoteType) String() string {
	return string(q)
}
