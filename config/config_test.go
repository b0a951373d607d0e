package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rafflenet/crypto"
)

var (
	testPrizeAddrBytes = func() [20]byte {
		var addr [20]byte
		addr[0] = 0x42
		addr[len(addr)-1] = 0x24
		return addr
	}()
	testPrizeAddrString = crypto.NewAddress(crypto.RafflePrefix, testPrizeAddrBytes[:]).String()

	testTicketAddrBytes = func() [20]byte {
		var addr [20]byte
		addr[0] = 0x17
		addr[len(addr)-1] = 0x71
		return addr
	}()
	testTicketAddrString = crypto.NewAddress(crypto.RafflePrefix, testTicketAddrBytes[:]).String()
)

func TestLoadParsesChannelSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	keystorePath := filepath.Join(dir, "admin.keystore")
	contents := fmt.Sprintf(`ListenAddress = "0.0.0.0:7000"
DataDir = "./data"
AdminKeystorePath = "%s"
NetworkName = "testnet"

[channel]
PrizeChainSelector = 31
TicketChainSelector = 47
PrizeCounterpart = "%s"
TicketCounterpart = "%s"
FeePerMessage = 0.25
FeeCurrencyDecimals = 6

[global.raffle]
MinDurationSecs = 7200

[global.delivery]
MaxAttempts = 3
FeeFloorWei = "100"
FeeCeilWei = "400"

[global.pauses]
Ticket = true

[global.quotas.coupon]
MaxRequestsPerMin = 30
MaxValuePerEpoch = 1000
EpochSeconds = 3600
`, keystorePath, testPrizeAddrString, testTicketAddrString)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.ListenAddress != "0.0.0.0:7000" {
		t.Fatalf("unexpected listen address: %s", cfg.ListenAddress)
	}
	if cfg.DataDir != "./data" {
		t.Fatalf("unexpected data dir: %s", cfg.DataDir)
	}
	if cfg.NetworkName != "testnet" {
		t.Fatalf("unexpected network name: %s", cfg.NetworkName)
	}
	if cfg.Channel.PrizeChainSelector != 31 || cfg.Channel.TicketChainSelector != 47 {
		t.Fatalf("unexpected selectors: %+v", cfg.Channel)
	}

	prize, ticket, err := cfg.Channel.Remotes()
	if err != nil {
		t.Fatalf("decode remotes: %v", err)
	}
	if uint64(prize.Chain) != 31 || prize.Address != testPrizeAddrBytes {
		t.Fatalf("unexpected prize remote: %+v", prize)
	}
	if uint64(ticket.Chain) != 47 || ticket.Address != testTicketAddrBytes {
		t.Fatalf("unexpected ticket remote: %+v", ticket)
	}

	fee, err := cfg.Channel.FeeWei()
	if err != nil {
		t.Fatalf("fee conversion: %v", err)
	}
	if fee.Cmp(big.NewInt(250000)) != 0 {
		t.Fatalf("unexpected fee: %s", fee)
	}

	if cfg.Global.Raffle.MinDurationSecs != 7200 {
		t.Fatalf("unexpected raffle window floor: %d", cfg.Global.Raffle.MinDurationSecs)
	}
	if cfg.Global.Delivery.MaxAttempts != 3 {
		t.Fatalf("unexpected delivery attempts: %d", cfg.Global.Delivery.MaxAttempts)
	}
	if !cfg.Global.Pauses.Ticket || cfg.Global.Pauses.Prize || cfg.Global.Pauses.Channel {
		t.Fatalf("unexpected pauses: %+v", cfg.Global.Pauses)
	}
	want := Quota{MaxRequestsPerMin: 30, MaxValuePerEpoch: 1000, EpochSeconds: 3600}
	if cfg.Global.Quotas.Coupon != want {
		t.Fatalf("unexpected coupon quota: %+v", cfg.Global.Quotas.Coupon)
	}

	if _, err := os.Stat(keystorePath); err != nil {
		t.Fatalf("expected keystore to be created: %v", err)
	}
}

func TestLoadCreatesCommentedDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.ListenAddress != ":8080" {
		t.Fatalf("unexpected default listen address: %s", cfg.ListenAddress)
	}
	if cfg.DataDir != "./raffle-data" {
		t.Fatalf("unexpected default data dir: %s", cfg.DataDir)
	}
	if cfg.NetworkName != "raffle-local" {
		t.Fatalf("unexpected default network name: %s", cfg.NetworkName)
	}
	if cfg.Channel.PrizeChainSelector != 1 || cfg.Channel.TicketChainSelector != 2 {
		t.Fatalf("unexpected default selectors: %+v", cfg.Channel)
	}
	if cfg.Channel.FeeCurrencyDecimals != 18 {
		t.Fatalf("unexpected default fee decimals: %d", cfg.Channel.FeeCurrencyDecimals)
	}
	if cfg.Global.Raffle.MinDurationSecs != MinRaffleWindowSeconds {
		t.Fatalf("unexpected default window floor: %d", cfg.Global.Raffle.MinDurationSecs)
	}
	if cfg.Global.Delivery.MaxAttempts != defaultMaxDeliveryAttempts {
		t.Fatalf("unexpected default delivery attempts: %d", cfg.Global.Delivery.MaxAttempts)
	}

	fee, err := cfg.Channel.FeeWei()
	if err != nil {
		t.Fatalf("fee conversion: %v", err)
	}
	if fee.Cmp(big.NewInt(100000000000000000)) != 0 {
		t.Fatalf("unexpected default fee: %s", fee)
	}

	wantKeystore := filepath.Join(dir, "admin.keystore")
	if cfg.AdminKeystorePath != wantKeystore {
		t.Fatalf("unexpected keystore path: %s", cfg.AdminKeystorePath)
	}
	if _, err := os.Stat(wantKeystore); err != nil {
		t.Fatalf("expected keystore file: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read default config: %v", err)
	}
	if !strings.Contains(string(raw), "# rafflenet node configuration.") {
		t.Fatalf("default config is missing comments:\n%s", raw)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if reloaded.ListenAddress != cfg.ListenAddress || reloaded.DataDir != cfg.DataDir {
		t.Fatalf("reload drifted: %+v", reloaded)
	}
	if err := ValidateConfig(reloaded.Global); err != nil {
		t.Fatalf("default global should validate: %v", err)
	}
}

func TestLoadRejectsDeprecatedAdminKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `ListenAddress = ":8080"
AdminKey = "f00d"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected deprecated field error")
	}
	if !strings.Contains(err.Error(), "deprecated AdminKey") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadAliasesLegacyStateDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	keystorePath := filepath.Join(dir, "admin.keystore")
	contents := fmt.Sprintf(`ListenAddress = ":8080"
StateDir = "./old-data"
AdminKeystorePath = "%s"
`, keystorePath)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DataDir != "./old-data" {
		t.Fatalf("legacy StateDir not aliased: %s", cfg.DataDir)
	}
	if cfg.StateDir != "" {
		t.Fatalf("StateDir should be cleared after aliasing: %s", cfg.StateDir)
	}
}

func TestLoadSkipsKeystoreWithKMS(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `ListenAddress = ":8080"
AdminKMSEnv = "RAFFLE_ADMIN_KEY"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.AdminKeystorePath != "" {
		t.Fatalf("expected no keystore path with KMS configured: %s", cfg.AdminKeystorePath)
	}
	if _, err := os.Stat(filepath.Join(dir, "admin.keystore")); !os.IsNotExist(err) {
		t.Fatalf("keystore should not be created with KMS configured: %v", err)
	}
}

func TestLoadCreatesAndPersistsKeystorePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `ListenAddress = ":8080"
DataDir = "./data"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	wantKeystore := filepath.Join(dir, "admin.keystore")
	if cfg.AdminKeystorePath != wantKeystore {
		t.Fatalf("unexpected keystore path: %s", cfg.AdminKeystorePath)
	}
	key, err := crypto.LoadFromKeystore(wantKeystore, "")
	if err != nil {
		t.Fatalf("decrypt generated keystore: %v", err)
	}
	if key == nil {
		t.Fatalf("expected decrypted key")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read persisted config: %v", err)
	}
	if !strings.Contains(string(raw), "admin.keystore") {
		t.Fatalf("keystore path not persisted:\n%s", raw)
	}
}

func TestFeeWeiConversions(t *testing.T) {
	cases := []struct {
		name    string
		channel ChannelConfig
		want    string
		wantErr bool
	}{
		{name: "zero fee", channel: ChannelConfig{}, want: "0"},
		{name: "whole units default decimals", channel: ChannelConfig{FeePerMessage: 2}, want: "2000000000000000000"},
		{name: "fractional six decimals", channel: ChannelConfig{FeePerMessage: 0.25, FeeCurrencyDecimals: 6}, want: "250000"},
		{name: "tenth default decimals", channel: ChannelConfig{FeePerMessage: 0.1}, want: "100000000000000000"},
		{name: "negative fee", channel: ChannelConfig{FeePerMessage: -1}, wantErr: true},
		{name: "sub-unit precision", channel: ChannelConfig{FeePerMessage: 0.0000001, FeeCurrencyDecimals: 6}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.channel.FeeWei()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("fee conversion: %v", err)
			}
			if got.String() != tc.want {
				t.Fatalf("unexpected fee: got %s want %s", got, tc.want)
			}
		})
	}
}

func TestFeeBoundsParsing(t *testing.T) {
	g := Global{Delivery: Delivery{FeeFloorWei: "100", FeeCeilWei: "2500"}}
	bounds, err := g.FeeBounds()
	if err != nil {
		t.Fatalf("parse bounds: %v", err)
	}
	if bounds.FloorWei.Cmp(big.NewInt(100)) != 0 || bounds.CeilWei.Cmp(big.NewInt(2500)) != 0 {
		t.Fatalf("unexpected bounds: %+v", bounds)
	}

	g.Delivery.FeeFloorWei = "12x"
	if _, err := g.FeeBounds(); err == nil {
		t.Fatalf("expected error for malformed floor")
	}

	g.Delivery.FeeFloorWei = "-5"
	if _, err := g.FeeBounds(); err == nil {
		t.Fatalf("expected error for negative floor")
	}

	g.Delivery = Delivery{}
	bounds, err = g.FeeBounds()
	if err != nil {
		t.Fatalf("parse empty bounds: %v", err)
	}
	if bounds.FloorWei.Sign() != 0 || bounds.CeilWei.Sign() != 0 {
		t.Fatalf("empty bounds should be zero: %+v", bounds)
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() Global {
		return Global{
			Raffle:   Raffle{MinDurationSecs: 3600},
			Delivery: Delivery{MaxAttempts: 5, FeeFloorWei: "0", FeeCeilWei: "0"},
		}
	}

	cases := []struct {
		name    string
		mutate  func(*Global)
		wantErr string
	}{
		{name: "valid", mutate: func(g *Global) {}},
		{
			name:    "window below floor",
			mutate:  func(g *Global) { g.Raffle.MinDurationSecs = 600 },
			wantErr: "below protocol floor",
		},
		{
			name:    "zero delivery attempts",
			mutate:  func(g *Global) { g.Delivery.MaxAttempts = 0 },
			wantErr: "MaxAttempts",
		},
		{
			name: "fee floor above ceiling",
			mutate: func(g *Global) {
				g.Delivery.FeeFloorWei = "500"
				g.Delivery.FeeCeilWei = "100"
			},
			wantErr: "fee floor above ceiling",
		},
		{
			name:    "malformed fee floor",
			mutate:  func(g *Global) { g.Delivery.FeeFloorWei = "abc" },
			wantErr: "not a base-10 integer",
		},
		{
			name:    "quota value cap without epoch",
			mutate:  func(g *Global) { g.Quotas.Ticket = Quota{MaxValuePerEpoch: 10} },
			wantErr: "EpochSeconds required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := valid()
			tc.mutate(&g)
			err := ValidateConfig(g)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid config: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestQuotaFor(t *testing.T) {
	g := Global{Quotas: Quotas{
		Ticket: Quota{MaxRequestsPerMin: 10},
		Coupon: Quota{MaxRequestsPerMin: 20, MaxValuePerEpoch: 500, EpochSeconds: 60},
		Claim:  Quota{MaxRequestsPerMin: 5},
	}}

	coupon, ok := g.QuotaFor("Coupon")
	if !ok {
		t.Fatalf("expected coupon quota")
	}
	if coupon.MaxRequestsPerMin != 20 || coupon.MaxValuePerEpoch != 500 || coupon.EpochSeconds != 60 {
		t.Fatalf("unexpected coupon quota: %+v", coupon)
	}

	ticket, ok := g.QuotaFor("ticket")
	if !ok || ticket.MaxRequestsPerMin != 10 {
		t.Fatalf("unexpected ticket quota: %+v", ticket)
	}
	claim, ok := g.QuotaFor(" claim ")
	if !ok || claim.MaxRequestsPerMin != 5 {
		t.Fatalf("unexpected claim quota: %+v", claim)
	}
	if _, ok := g.QuotaFor("swap"); ok {
		t.Fatalf("unknown surface should not resolve")
	}
}
