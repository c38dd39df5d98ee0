package market

import "time"

// Snapshot 一个 tick 内聚合得到的全部输入，仅由该 tick 独占。
type Snapshot struct {
	Spot         float64
	OptionPrice  float64 // 以现货计价的比例，乘以 Spot 得到美元价格
	DomesticRate float64
	ForeignRate  float64
	Strike       float64
	ExpiryEpoch  int64
	Tau          float64
	TakenAt      time.Time
}

// TauAt 返回 now 到 expiry 的年化剩余期限，可能为负。
func TauAt(expiryEpoch int64, now time.Time) float64 {
	secs := float64(expiryEpoch) - float64(now.UnixNano())/1e9
	return secs / SecondsPerYear
}

// OptionValue 期权的美元价格。
func (s Snapshot) OptionValue() float64 {
	return s.Spot * s.OptionPrice
}
