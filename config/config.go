package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"rafflenet/channel"
	"rafflenet/crypto"

	"github.com/BurntSushi/toml"
)

// Config is the node-level TOML configuration shared by raffled and the CLI.
type Config struct {
	ListenAddress     string        `toml:"ListenAddress"`
	DataDir           string        `toml:"DataDir"`
	AdminKeystorePath string        `toml:"AdminKeystorePath"`
	AdminKMSURI       string        `toml:"AdminKMSURI"`
	AdminKMSEnv       string        `toml:"AdminKMSEnv"`
	NetworkName       string        `toml:"NetworkName"`
	StateDir          string        `toml:"StateDir,omitempty"`
	Channel           ChannelConfig `toml:"channel"`
	Global            Global        `toml:"global"`
}

// ChannelConfig names the two sides of the fabric and the outbound fee the
// controllers are funded for.
type ChannelConfig struct {
	PrizeChainSelector  uint64  `toml:"PrizeChainSelector"`
	TicketChainSelector uint64  `toml:"TicketChainSelector"`
	PrizeCounterpart    string  `toml:"PrizeCounterpart"`
	TicketCounterpart   string  `toml:"TicketCounterpart"`
	FeePerMessage       float64 `toml:"FeePerMessage"`
	FeeCurrencyDecimals uint32  `toml:"FeeCurrencyDecimals"`
}

// Remotes decodes the configured counterpart addresses into channel remotes.
// An empty counterpart yields a zero address; raffled fills those in when it
// hosts the controllers itself.
func (c ChannelConfig) Remotes() (channel.Remote, channel.Remote, error) {
	prize := channel.Remote{Chain: channel.Selector(c.PrizeChainSelector)}
	ticket := channel.Remote{Chain: channel.Selector(c.TicketChainSelector)}
	if trimmed := strings.TrimSpace(c.PrizeCounterpart); trimmed != "" {
		addr, err := crypto.DecodeAddress(trimmed)
		if err != nil {
			return prize, ticket, fmt.Errorf("invalid channel.PrizeCounterpart: %w", err)
		}
		prize.Address = addr.Bytes20()
	}
	if trimmed := strings.TrimSpace(c.TicketCounterpart); trimmed != "" {
		addr, err := crypto.DecodeAddress(trimmed)
		if err != nil {
			return prize, ticket, fmt.Errorf("invalid channel.TicketCounterpart: %w", err)
		}
		ticket.Address = addr.Bytes20()
	}
	return prize, ticket, nil
}

// FeeWei converts the per-message fee from whole fee-currency units into base
// units using the configured decimal exponent. The float is interpreted by
// its shortest decimal form so round values convert exactly.
func (c ChannelConfig) FeeWei() (*big.Int, error) {
	if c.FeePerMessage < 0 {
		return nil, fmt.Errorf("channel.FeePerMessage must not be negative")
	}
	if c.FeePerMessage == 0 {
		return big.NewInt(0), nil
	}
	decimals := c.FeeCurrencyDecimals
	if decimals == 0 {
		decimals = 18
	}
	fee, ok := new(big.Rat).SetString(strconv.FormatFloat(c.FeePerMessage, 'f', -1, 64))
	if !ok {
		return nil, fmt.Errorf("channel.FeePerMessage %v is not a decimal number", c.FeePerMessage)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	fee.Mul(fee, new(big.Rat).SetInt(scale))
	if !fee.IsInt() {
		return nil, fmt.Errorf("channel.FeePerMessage needs more than %d decimals", decimals)
	}
	return new(big.Int).Set(fee.Num()), nil
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}

	for _, undecoded := range meta.Undecoded() {
		if len(undecoded) == 1 && undecoded[0] == "AdminKey" {
			return nil, fmt.Errorf("config file %s uses deprecated AdminKey field; run raffle-cli keys import to move the key into a keystore", path)
		}
	}

	if cfg.AdminKMSURI == "" && cfg.AdminKMSEnv == "" {
		if err := ensureKeystore(path, cfg); err != nil {
			return nil, err
		}
	}

	if cfg.DataDir == "" && cfg.StateDir != "" {
		cfg.DataDir = cfg.StateDir
	}
	cfg.StateDir = ""
	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "raffle-local"
	}
	if cfg.Channel.FeeCurrencyDecimals == 0 {
		cfg.Channel.FeeCurrencyDecimals = 18
	}
	if cfg.Global.Raffle.MinDurationSecs == 0 {
		cfg.Global.Raffle.MinDurationSecs = MinRaffleWindowSeconds
	}
	if cfg.Global.Delivery.MaxAttempts == 0 {
		cfg.Global.Delivery.MaxAttempts = defaultMaxDeliveryAttempts
	}
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.AdminKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.AdminKeystorePath != keystorePath {
		cfg.AdminKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault writes a commented default configuration file and returns the
// parsed result. A fresh admin keystore is generated next to it.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	rendered := fmt.Sprintf(defaultConfigTemplate, keystorePath)

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(path, []byte(rendered), 0o644); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if _, err := toml.Decode(rendered, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "admin.keystore")
}

const defaultConfigTemplate = `# rafflenet node configuration.
#
# Relative paths resolve against the working directory of the process that
# loads this file.

# HTTP bind address for the raffled API.
ListenAddress = ":8080"

# LevelDB directory holding both controller ledgers.
DataDir = "./raffle-data"

# Keystore holding the operator admin key, generated on first run. Leave the
# KMS settings empty to use it.
AdminKeystorePath = %q
AdminKMSURI = ""
AdminKMSEnv = ""

# Network name surfaced by the API and the CLI.
NetworkName = "raffle-local"

[channel]
# Selector pair naming the two sides of the fabric. Values are assigned by
# the router operator and opaque to the protocol.
PrizeChainSelector = 1
TicketChainSelector = 2

# Default counterpart controllers as bech32 rfl addresses. Leave empty to let
# raffled host in-process controllers and fill these in.
PrizeCounterpart = ""
TicketCounterpart = ""

# Fee charged per outbound message, in whole fee-currency units, and the
# base-unit exponent used to settle it.
FeePerMessage = 0.1
FeeCurrencyDecimals = 18

[global.raffle]
# Floor for raffle sale windows, in seconds. Must not undercut the protocol
# minimum of 3600.
MinDurationSecs = 3600

[global.delivery]
# Delivery attempts before the relay parks an envelope.
MaxAttempts = 5

# Accepted bounds for router fee quotes, in base units. A zero ceiling
# disables the upper check.
FeeFloorWei = "0"
FeeCeilWei = "0"

[global.pauses]
# Flip to true to refuse writes on one side while keeping reads up.
Prize = false
Ticket = false
Channel = false

# Per-address quotas. Zero limits mean unlimited.
[global.quotas.ticket]
MaxRequestsPerMin = 0
MaxValuePerEpoch = 0
EpochSeconds = 0

[global.quotas.coupon]
MaxRequestsPerMin = 0
MaxValuePerEpoch = 0
EpochSeconds = 0

[global.quotas.claim]
MaxRequestsPerMin = 0
MaxValuePerEpoch = 0
EpochSeconds = 0
`
