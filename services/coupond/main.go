package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"rafflenet/native/common"
	"rafflenet/observability/logging"
	telemetry "rafflenet/observability/otel"
	"rafflenet/services/coupond/config"
	"rafflenet/services/coupond/server"
	"rafflenet/services/coupond/signer"
	"rafflenet/services/coupond/storage"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("coupond: load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("RAFFLE_ENV"))
	logger := logging.SetupWithOptions(logging.Options{
		Service:  "coupond",
		Env:      env,
		FilePath: cfg.LogPath,
	})

	otlpEndpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	if otlpEndpoint == "" {
		otlpEndpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "coupond",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    cfg.OTLPInsecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     otlpEndpoint != "",
		Traces:      otlpEndpoint != "",
	})
	if err != nil {
		log.Fatalf("coupond: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("coupond: connect database: %v", err)
	}
	store, err := storage.New(db)
	if err != nil {
		log.Fatalf("coupond: prepare storage: %v", err)
	}

	issuer, err := signer.FromHex(cfg.SignerKeyHex)
	if err != nil {
		log.Fatalf("coupond: load signer key: %v", err)
	}

	srv, err := server.New(server.Options{
		ListenAddress: cfg.ListenAddress,
		Store:         store,
		Signer:        issuer,
		Secret:        cfg.AdminSecret,
		Issuer:        cfg.AdminIssuer,
		Audience:      cfg.AdminAudience,
		TokenLeeway:   cfg.TokenLeeway,
		Quota: common.Quota{
			MaxRequestsPerMin: cfg.QuotaRequests,
			MaxValuePerEpoch:  cfg.QuotaValue,
			EpochSeconds:      cfg.QuotaEpochSecs,
		},
		MaxCount:  cfg.MaxCount,
		CouponTTL: cfg.CouponTTL,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("coupond: server: %v", err)
	}

	// The account below is what operators register as the ticket
	// controller's API signer; without that grant every coupon this
	// daemon signs is rejected at purchase time.
	logger.Info("signing account derived", "account", issuer.Account().String())

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}
}
