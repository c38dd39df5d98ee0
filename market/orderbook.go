package market

import (
	"errors"
	"fmt"
)

// ErrEmptyBook 订单簿所需一侧为空。
var ErrEmptyBook = errors.New("empty book")

// PriceLevel 单个价位。对期权簿 Value 是价格，对借贷簿 Value 是利率。
type PriceLevel struct {
	Value float64
	Size  float64
}

// Book 单次请求得到的订单簿，仅在一个 tick 内有效。
type Book struct {
	Asks []PriceLevel
	Bids []PriceLevel
}

// BestAsk 返回最低卖价。
func (b Book) BestAsk() (float64, error) {
	if len(b.Asks) == 0 {
		return 0, fmt.Errorf("asks: %w", ErrEmptyBook)
	}
	best := b.Asks[0].Value
	for _, lvl := range b.Asks[1:] {
		if lvl.Value < best {
			best = lvl.Value
		}
	}
	return best, nil
}

// BestBid 返回最高买价。
func (b Book) BestBid() (float64, error) {
	if len(b.Bids) == 0 {
		return 0, fmt.Errorf("bids: %w", ErrEmptyBook)
	}
	best := b.Bids[0].Value
	for _, lvl := range b.Bids[1:] {
		if lvl.Value > best {
			best = lvl.Value
		}
	}
	return best, nil
}

// Best 按报价类型归约订单簿：ask 取最低卖价，bid 取最高买价，mid 取两者均值。
// 只读取报价类型需要的一侧，另一侧为空不影响结果。
func (b Book) Best(q QuoteType) (float64, error) {
	switch q {
	case QuoteAsk:
		return b.BestAsk()
	case QuoteBid:
		return b.BestBid()
	case QuoteMid:
		ask, err := b.BestAsk()
		if err != nil {
			return 0, err
		}
		bid, err := b.BestBid()
		if err != nil {
			return 0, err
		}
		return (ask + bid) / 2, nil
	default:
		return 0, fmt.Errorf("unknown quote type %q", string(q))
	}
}
