package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration for the price-signer daemon. All
// values come from COUPOND_* environment variables so the service deploys
// without a config file.
type Config struct {
	ListenAddress string
	DatabaseURL   string
	SignerKeyHex  string

	AdminSecret   string
	AdminIssuer   string
	AdminAudience string
	TokenLeeway   time.Duration

	CouponTTL time.Duration
	MaxCount  uint32

	QuotaRequests  uint32
	QuotaValue     uint64
	QuotaEpochSecs uint32

	OTLPEndpoint string
	OTLPInsecure bool
	LogPath      string
}

// LoadFromEnv builds a configuration from environment variables, applying
// defaults and failing with the offending variable named.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		ListenAddress:  getenvDefault("COUPOND_LISTEN", ":8091"),
		DatabaseURL:    strings.TrimSpace(os.Getenv("COUPOND_DATABASE_URL")),
		SignerKeyHex:   strings.TrimSpace(os.Getenv("COUPOND_SIGNER_KEY")),
		AdminSecret:    strings.TrimSpace(os.Getenv("COUPOND_ADMIN_SECRET")),
		AdminIssuer:    getenvDefault("COUPOND_ADMIN_ISSUER", "coupond"),
		AdminAudience:  getenvDefault("COUPOND_ADMIN_AUDIENCE", "coupond-clients"),
		TokenLeeway:    30 * time.Second,
		CouponTTL:      10 * time.Minute,
		MaxCount:       100,
		QuotaRequests:  30,
		QuotaEpochSecs: 60,
		OTLPEndpoint:   strings.TrimSpace(os.Getenv("COUPOND_OTLP_ENDPOINT")),
		LogPath:        strings.TrimSpace(os.Getenv("COUPOND_LOG_PATH")),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("COUPOND_DATABASE_URL is required")
	}
	if cfg.AdminSecret == "" {
		return Config{}, errors.New("COUPOND_ADMIN_SECRET is required")
	}
	if cfg.SignerKeyHex == "" {
		return Config{}, errors.New("COUPOND_SIGNER_KEY is required")
	}
	if _, err := hex.DecodeString(strings.TrimPrefix(cfg.SignerKeyHex, "0x")); err != nil {
		return Config{}, fmt.Errorf("parse COUPOND_SIGNER_KEY: %w", err)
	}

	if raw := strings.TrimSpace(os.Getenv("COUPOND_TOKEN_LEEWAY")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse COUPOND_TOKEN_LEEWAY: %w", err)
		}
		if dur < 0 {
			return Config{}, errors.New("COUPOND_TOKEN_LEEWAY must not be negative")
		}
		cfg.TokenLeeway = dur
	}

	if raw := strings.TrimSpace(os.Getenv("COUPOND_COUPON_TTL")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse COUPOND_COUPON_TTL: %w", err)
		}
		if dur <= 0 {
			return Config{}, errors.New("COUPOND_COUPON_TTL must be positive")
		}
		cfg.CouponTTL = dur
	}

	if raw := strings.TrimSpace(os.Getenv("COUPOND_MAX_COUNT")); raw != "" {
		val, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return Config{}, fmt.Errorf("parse COUPOND_MAX_COUNT: %w", err)
		}
		cfg.MaxCount = uint32(val)
	}

	if raw := strings.TrimSpace(os.Getenv("COUPOND_QUOTA_REQUESTS")); raw != "" {
		val, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return Config{}, fmt.Errorf("parse COUPOND_QUOTA_REQUESTS: %w", err)
		}
		cfg.QuotaRequests = uint32(val)
	}

	if raw := strings.TrimSpace(os.Getenv("COUPOND_QUOTA_VALUE")); raw != "" {
		val, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse COUPOND_QUOTA_VALUE: %w", err)
		}
		cfg.QuotaValue = val
	}

	if raw := strings.TrimSpace(os.Getenv("COUPOND_QUOTA_EPOCH_SECS")); raw != "" {
		val, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return Config{}, fmt.Errorf("parse COUPOND_QUOTA_EPOCH_SECS: %w", err)
		}
		if val == 0 {
			return Config{}, errors.New("COUPOND_QUOTA_EPOCH_SECS must be positive")
		}
		cfg.QuotaEpochSecs = uint32(val)
	}

	if raw := strings.TrimSpace(os.Getenv("COUPOND_OTLP_INSECURE")); raw != "" {
		val, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse COUPOND_OTLP_INSECURE: %w", err)
		}
		cfg.OTLPInsecure = val
	}

	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
