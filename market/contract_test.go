package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrikeFromSpot(t *testing.T) {
	tests := []struct {
		spot float64
		step int64
		want int64
	}{
		{1234.7, 5, 1230},
		{1235.0, 5, 1235},
		{1239.99, 5, 1235},
		{4.2, 5, 0},
		{1234.7, 0, 1234},
		{64012.3, 100, 64000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StrikeFromSpot(tt.spot, tt.step), "spot=%v step=%d", tt.spot, tt.step)
	}
}

func TestPickExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	got, err := PickExpiry([]int64{1_700_600_000, 1_699_000_000, 1_700_086_400}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_086_400), got)

	_, err = PickExpiry([]int64{1_600_000_000, 1_700_000_000}, now)
	assert.ErrorIs(t, err, ErrNoFutureExpiry)

	_, err = PickExpiry(nil, now)
	assert.ErrorIs(t, err, ErrNoFutureExpiry)
}

func TestTauAt(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	assert.InDelta(t, 1.0, TauAt(now.Unix()+31536000, now), 1e-12)
	assert.InDelta(t, 0.5, TauAt(now.Unix()+15768000, now), 1e-12)
	assert.Less(t, TauAt(now.Unix()-60, now), 0.0)
}

func TestSnapshotOptionValue(t *testing.T) {
	s := Snapshot{Spot: 40000, OptionPrice: 0.025}
	assert.InDelta(t, 1000.0, s.OptionValue(), 1e-9)
}
