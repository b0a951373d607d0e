package config

import "fmt"

var (
	// MinRaffleWindowSeconds mirrors the controller floor for sale windows.
	MinRaffleWindowSeconds = uint64(3600)

	defaultMaxDeliveryAttempts = uint32(5)
)

func ValidateConfig(g Global) error {
	if g.Raffle.MinDurationSecs < MinRaffleWindowSeconds {
		return fmt.Errorf("raffle: MinDurationSecs below protocol floor %d", MinRaffleWindowSeconds)
	}
	if g.Delivery.MaxAttempts == 0 {
		return fmt.Errorf("delivery: MaxAttempts must be positive")
	}
	bounds, err := g.FeeBounds()
	if err != nil {
		return err
	}
	if bounds.CeilWei.Sign() > 0 && bounds.FloorWei.Cmp(bounds.CeilWei) > 0 {
		return fmt.Errorf("delivery: fee floor above ceiling")
	}
	if err := validateQuota("ticket", g.Quotas.Ticket); err != nil {
		return err
	}
	if err := validateQuota("coupon", g.Quotas.Coupon); err != nil {
		return err
	}
	if err := validateQuota("claim", g.Quotas.Claim); err != nil {
		return err
	}
	return nil
}

func validateQuota(name string, q Quota) error {
	if q.MaxValuePerEpoch > 0 && q.EpochSeconds == 0 {
		return fmt.Errorf("quotas.%s: EpochSeconds required when MaxValuePerEpoch is set", name)
	}
	return nil
}
