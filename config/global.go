package config

import (
	"fmt"
	"math/big"
	"strings"

	"rafflenet/native/common"
)

// FeeBounds represents the parsed bounds for router fee quotes.
type FeeBounds struct {
	FloorWei *big.Int
	CeilWei  *big.Int
}

// FeeBounds parses the configured fee quote bounds into runtime values.
func (g Global) FeeBounds() (FeeBounds, error) {
	bounds := FeeBounds{}
	floor, err := parseUintAmount(g.Delivery.FeeFloorWei)
	if err != nil {
		return bounds, fmt.Errorf("invalid global.delivery.FeeFloorWei: %w", err)
	}
	bounds.FloorWei = floor
	ceil, err := parseUintAmount(g.Delivery.FeeCeilWei)
	if err != nil {
		return bounds, fmt.Errorf("invalid global.delivery.FeeCeilWei: %w", err)
	}
	bounds.CeilWei = ceil
	return bounds, nil
}

// QuotaFor maps a surface name onto its configured quota in the form the
// guard helpers consume. Unknown names report false.
func (g Global) QuotaFor(surface string) (common.Quota, bool) {
	var q Quota
	switch strings.ToLower(strings.TrimSpace(surface)) {
	case "ticket":
		q = g.Quotas.Ticket
	case "coupon":
		q = g.Quotas.Coupon
	case "claim":
		q = g.Quotas.Claim
	default:
		return common.Quota{}, false
	}
	return common.Quota{
		MaxRequestsPerMin: q.MaxRequestsPerMin,
		MaxValuePerEpoch:  q.MaxValuePerEpoch,
		EpochSeconds:      q.EpochSeconds,
	}, true
}

func parseUintAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a base-10 integer", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", value)
	}
	return amount, nil
}
