package market

import (
	"errors"
	"math"
	"sort"
	"time"
)

// SecondsPerYear 年化使用 365 天。
const SecondsPerYear = 31536000.0

// Contract 被监控的期权合约，启动时确定，运行期间不变。
type Contract struct {
	Asset       string
	DerivType   string
	PutCall     string
	Strike      int64
	ExpiryEpoch int64
}

// Expiry 返回到期时间。
func (c Contract) Expiry() time.Time {
	return time.Unix(c.ExpiryEpoch, 0).UTC()
}

// StrikeFromSpot 将现货价格向下取整到 step 的整数倍。
func StrikeFromSpot(spot float64, step int64) int64 {
	if step <= 0 {
		step = 1
	}
	whole := int64(math.Floor(spot))
	return whole - whole%step
}

var ErrNoFutureExpiry = errors.New("no future expiry available")

// PickExpiry 返回晚于 now 的最近到期时间。
func PickExpiry(epochs []int64, now time.Time) (int64, error) {
	sorted := append([]int64(nil), epochs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	cutoff := now.Unix()
	for _, e := range sorted {
		if e > cutoff {
			return e, nil
		}
	}
	return 0, ErrNoFutureExpiry
}
