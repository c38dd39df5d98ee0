package market

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func levels(values ...float64) []PriceLevel {
	out := make([]PriceLevel, 0, len(values))
	for _, v := range values {
		out = append(out, PriceLevel{Value: v, Size: 1})
	}
	return out
}

func TestBookBest(t *testing.T) {
	book := Book{Asks: levels(12, 9, 10), Bids: levels(7, 11, 8)}

	tests := []struct {
		quote QuoteType
		want  float64
	}{
		{QuoteAsk, 9},
		{QuoteBid, 11},
		{QuoteMid, 10},
	}
	for _, tt := range tests {
		t.Run(tt.quote.String(), func(t *testing.T) {
			got, err := book.Best(tt.quote)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBookBestEmptySide(t *testing.T) {
	onlyAsks := Book{Asks: levels(5)}

	v, err := onlyAsks.Best(QuoteAsk)
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)

	_, err = onlyAsks.Best(QuoteBid)
	assert.True(t, errors.Is(err, ErrEmptyBook))

	_, err = onlyAsks.Best(QuoteMid)
	assert.True(t, errors.Is(err, ErrEmptyBook))

	_, err = Book{}.Best(QuoteAsk)
	assert.True(t, errors.Is(err, ErrEmptyBook))
}

func TestBookBestUnknownQuote(t *testing.T) {
	_, err := Book{Asks: levels(1), Bids: levels(1)}.Best(QuoteType("last"))
	assert.Error(t, err)
}

func TestPriceAggregatorScales(t *testing.T) {
	book := Book{Asks: levels(9, 12), Bids: levels(11, 3)}

	mid, err := NewPriceAggregator(QuoteMid).Aggregate(book)
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, mid, 1e-9)

	ask, err := NewPriceAggregator(QuoteAsk).Aggregate(book)
	require.NoError(t, err)
	assert.InDelta(t, 900.0, ask, 1e-9)

	_, err = NewPriceAggregator(QuoteMid).Aggregate(Book{Asks: levels(9)})
	assert.ErrorIs(t, err, ErrEmptyBook)
}

func TestRateAggregatorDivides(t *testing.T) {
	book := Book{Asks: levels(12.5, 9.125), Bids: levels(8.875)}

	mid, err := NewRateAggregator(QuoteMid).Aggregate(book)
	require.NoError(t, err)
	assert.InDelta(t, 0.09, mid, 1e-12)

	bid, err := NewRateAggregator(QuoteBid).Aggregate(book)
	require.NoError(t, err)
	assert.InDelta(t, 0.08875, bid, 1e-12)
}

func TestParseQuoteType(t *testing.T) {
	q, err := ParseQuoteType(" MID ")
	require.NoError(t, err)
	assert.Equal(t, QuoteMid, q)

	_, err = ParseQuoteType("last")
	assert.Error(t, err)
}
