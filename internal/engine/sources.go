package engine

import (
	"context"

	"option-monitor-go/gateway"
	"option-monitor-go/market"
)

// Sources 一个 tick 需要的四个输入。实现必须可并发调用。
type Sources interface {
	Spot(ctx context.Context) (float64, error)
	OptionPrice(ctx context.Context) (float64, error)
	DomesticRate(ctx context.Context) (float64, error)
	ForeignRate(ctx context.Context) (float64, error)
}

// Discovery 启动阶段确定合约所需的查询。
type Discovery interface {
	StrikeReference(ctx context.Context) (float64, error)
	ExpiryTimes(ctx context.Context) ([]int64, error)
}

// VenueSources 基于 Bitfinex 与 Coinut 的 Sources 实现。
// 期权簿查询依赖 Contract，须在 ResolveContract 之后设置。
type VenueSources struct {
	Bitfinex *gateway.BitfinexClient
	Coinut   *gateway.CoinutClient

	SpotPair         string
	SpotQuote        market.QuoteType
	DomesticCurrency string
	ForeignCurrency  string
	Option           market.PriceAggregator
	Rate             market.RateAggregator

	Contract market.Contract
}

func (s *VenueSources) Spot(ctx context.Context) (float64, error) {
	return s.Bitfinex.Spot(ctx, s.SpotPair, s.SpotQuote)
}

func (s *VenueSources) OptionPrice(ctx context.Context) (float64, error) {
	book, err := s.Coinut.OptionBook(ctx, gateway.QueryFor(s.Contract))
	if err != nil {
		return 0, err
	}
	return s.Option.Aggregate(book)
}

func (s *VenueSources) DomesticRate(ctx context.Context) (float64, error) {
	return s.rate(ctx, s.DomesticCurrency)
}

func (s *VenueSources) ForeignRate(ctx context.Context) (float64, error) {
	return s.rate(ctx, s.ForeignCurrency)
}

func (s *VenueSources) rate(ctx context.Context, currency string) (float64, error) {
	book, err := s.Bitfinex.Lendbook(ctx, currency)
	if err != nil {
		return 0, err
	}
	return s.Rate.Aggregate(book)
}

// StrikeReference 行权价总是参照现货卖一价，与 SpotQuote 无关。
func (s *VenueSources) StrikeReference(ctx context.Context) (float64, error) {
	return s.Bitfinex.Spot(ctx, s.SpotPair, market.QuoteAsk)
}

func (s *VenueSources) ExpiryTimes(ctx context.Context) ([]int64, error) {
	return s.Coinut.ExpiryTimes(ctx, s.Contract.DerivType, s.Contract.Asset)
}
