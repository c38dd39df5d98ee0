package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"option-monitor-go/market"
)

// ContractSpec 合约的静态部分。Strike、ExpiryEpoch 为 0 时由 ResolveContract 查询确定。
type ContractSpec struct {
	Asset       string
	DerivType   string
	PutCall     string
	Strike      int64
	StrikeStep  int64
	ExpiryEpoch int64
}

// ResolveContract 在主循环开始前确定一次合约，之后不再改变。
func ResolveContract(ctx context.Context, d Discovery, spec ContractSpec, now time.Time) (market.Contract, error) {
	c := market.Contract{
		Asset:       spec.Asset,
		DerivType:   spec.DerivType,
		PutCall:     spec.PutCall,
		Strike:      spec.Strike,
		ExpiryEpoch: spec.ExpiryEpoch,
	}

	if c.ExpiryEpoch == 0 {
		times, err := d.ExpiryTimes(ctx)
		if err != nil {
			return market.Contract{}, fmt.Errorf("discover expiry: %w", err)
		}
		if c.ExpiryEpoch, err = market.PickExpiry(times, now); err != nil {
			return market.Contract{}, fmt.Errorf("discover expiry: %w", err)
		}
	} else if c.ExpiryEpoch <= now.Unix() {
		return market.Contract{}, fmt.Errorf("configured expiry %s is not in the future", c.Expiry().Format(time.RFC3339))
	}

	if c.Strike == 0 {
		spot, err := d.StrikeReference(ctx)
		if err != nil {
			return market.Contract{}, fmt.Errorf("derive strike: %w", err)
		}
		c.Strike = market.StrikeFromSpot(spot, spec.StrikeStep)
	}
	if c.Strike <= 0 {
		return market.Contract{}, errors.New("strike must be positive")
	}
	return c, nil
}
