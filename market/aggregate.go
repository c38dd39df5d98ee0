package market

import "fmt"

// PriceAggregator 将期权订单簿归约为单个价格。
// Coinut 期权簿的价格单位是合约面值的 1/Scale，默认 Scale 为 100。
type PriceAggregator struct {
	Quote QuoteType
	Scale float64
}

func NewPriceAggregator(q QuoteType) PriceAggregator {
	return PriceAggregator{Quote: q, Scale: 100}
}

func (a PriceAggregator) Aggregate(book Book) (float64, error) {
	v, err := book.Best(a.Quote)
	if err != nil {
		return 0, fmt.Errorf("option book %s: %w", a.Quote, err)
	}
	return v * a.Scale, nil
}

// RateAggregator 将借贷簿归约为年化利率小数。
// Bitfinex 借贷簿 rate 字段以年化百分数报价，默认 Divisor 为 100。
type RateAggregator struct {
	Quote   QuoteType
	Divisor float64
}

func NewRateAggregator(q QuoteType) RateAggregator {
	return RateAggregator{Quote: q, Divisor: 100}
}

func (a RateAggregator) Aggregate(book Book) (float64, error) {
	v, err := book.Best(a.Quote)
	if err != nil {
		return 0, fmt.Errorf("lend book %s: %w", a.Quote, err)
	}
	return v / a.Divisor, nil
}
