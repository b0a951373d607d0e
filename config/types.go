package config

// Raffle bounds the raffle parameters the node will accept from operators.
type Raffle struct {
	MinDurationSecs uint64 `toml:"MinDurationSecs"`
}

// Delivery controls the relay's retry and fee policy.
type Delivery struct {
	MaxAttempts uint32 `toml:"MaxAttempts"`
	FeeFloorWei string `toml:"FeeFloorWei"`
	FeeCeilWei  string `toml:"FeeCeilWei"`
}

// Pauses flips write operations off per side while keeping reads available.
type Pauses struct {
	Prize   bool `toml:"Prize"`
	Ticket  bool `toml:"Ticket"`
	Channel bool `toml:"Channel"`
}

// Quota defines rate limits for module interactions on a per-address basis.
type Quota struct {
	MaxRequestsPerMin uint32 `toml:"MaxRequestsPerMin"`
	MaxValuePerEpoch  uint64 `toml:"MaxValuePerEpoch"`
	EpochSeconds      uint32 `toml:"EpochSeconds"`
}

// Quotas groups quotas for each surface that accepts participant traffic.
type Quotas struct {
	Ticket Quota `toml:"ticket"`
	Coupon Quota `toml:"coupon"`
	Claim  Quota `toml:"claim"`
}

// Global bundles the runtime policy values enforced by ValidateConfig.
type Global struct {
	Raffle   Raffle   `toml:"raffle"`
	Delivery Delivery `toml:"delivery"`
	Pauses   Pauses   `toml:"pauses"`
	Quotas   Quotas   `toml:"quotas"`
}
