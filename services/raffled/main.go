package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"rafflenet/channel"
	nodecfg "rafflenet/config"
	"rafflenet/crypto"
	"rafflenet/observability/logging"
	telemetry "rafflenet/observability/otel"
	"rafflenet/services/raffled/config"
	"rafflenet/services/raffled/recon"
	"rafflenet/services/raffled/server"
	"rafflenet/services/raffled/storage"
	ledgerdb "rafflenet/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/raffled/config.yaml", "path to raffled configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("raffled: load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("RAFFLE_ENV"))
	logger := logging.SetupWithOptions(logging.Options{
		Service:    "raffled",
		Env:        env,
		FilePath:   cfg.Log.FilePath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	otlpEndpoint := strings.TrimSpace(cfg.Telemetry.Endpoint)
	if otlpEndpoint == "" {
		otlpEndpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	}
	otlpHeaders := cfg.Telemetry.Headers
	if len(otlpHeaders) == 0 {
		otlpHeaders = telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "raffled",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     otlpHeaders,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		log.Fatalf("raffled: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	nodeConfig, err := nodecfg.Load(cfg.NodeConfig)
	if err != nil {
		log.Fatalf("raffled: load node config: %v", err)
	}

	db, err := ledgerdb.NewLevelDB(nodeConfig.DataDir)
	if err != nil {
		log.Fatalf("raffled: open ledger database: %v", err)
	}
	defer db.Close()

	journal, err := channel.OpenJournal(cfg.Relay.JournalPath, nil)
	if err != nil {
		log.Fatalf("raffled: open relay journal: %v", err)
	}
	defer journal.Close()

	dsn, err := storage.FileDSN(cfg.Receipts.DatabasePath)
	if err != nil {
		log.Fatalf("raffled: resolve receipts DSN: %v", err)
	}
	receipts, err := storage.Open(dsn)
	if err != nil {
		log.Fatalf("raffled: open receipts storage: %v", err)
	}
	defer receipts.Close()

	node, err := server.NewNode(server.NodeOptions{
		NodeConfig:   nodeConfig,
		DB:           db,
		Journal:      journal,
		Seed:         crypto.Keccak256([]byte(cfg.Randomness.Seed)),
		HistoryLimit: cfg.Events.Backlog,
	})
	if err != nil {
		log.Fatalf("raffled: assemble node: %v", err)
	}

	auth, err := server.NewAuthenticator(cfg.Admin.Secret, cfg.Admin.Issuer, cfg.Admin.Audience, cfg.Admin.Leeway.Duration)
	if err != nil {
		log.Fatalf("raffled: configure admin auth: %v", err)
	}

	var reconciler *recon.Reconciler
	if cfg.Recon.Enabled {
		prizes, tickets := node.Ledgers()
		reconciler, err = recon.New(prizes, tickets, cfg.Recon.OutputDir, logger)
		if err != nil {
			log.Fatalf("raffled: configure recon: %v", err)
		}
	}

	srv, err := server.New(server.Options{
		ListenAddress: cfg.ListenAddress,
		Node:          node,
		Auth:          auth,
		Limits:        server.NewRateLimiter(cfg.RateLimits),
		Receipts:      receipts,
		Recon:         reconciler,
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf("raffled: server: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runRelayPump(rootCtx, node, cfg.Relay.PollInterval.Duration, logger)
	go runFulfillLoop(rootCtx, node, cfg.Randomness.FulfillInterval.Duration, logger)
	if reconciler != nil {
		go reconciler.Run(rootCtx, cfg.Recon.Interval.Duration)
	}

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}
}

// runRelayPump drains both controller inboxes on a fixed cadence. Delivery
// errors are logged and retried on the next pass.
func runRelayPump(ctx context.Context, node *server.Node, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := node.DeliverOnce(now); err != nil {
				logger.Warn("relay pass failed", "error", err)
			}
		}
	}
}

// runFulfillLoop answers outstanding randomness requests on a fixed cadence.
func runFulfillLoop(ctx context.Context, node *server.Node, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := node.FulfillPending(); err != nil {
				logger.Warn("randomness fulfilment failed", "error", err)
			}
		}
	}
}
