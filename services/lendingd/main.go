package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	ledgerconfig "peerlend/config"
	"peerlend/core/events"
	"peerlend/core/state"
	"peerlend/native/bank"
	"peerlend/native/lending"
	"peerlend/observability"
	"peerlend/observability/logging"
	telemetry "peerlend/observability/otel"
	"peerlend/services/lendingd/config"
	"peerlend/services/lendingd/journal"
	"peerlend/services/lendingd/server"
	"peerlend/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if env := strings.TrimSpace(os.Getenv("PEERLEND_ENV")); env != "" {
		cfg.Environment = env
	}

	var logSink io.Writer = os.Stdout
	if cfg.Log.File != "" {
		file := logging.RotatingFile(logging.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			Compress:   true,
		})
		defer file.Close()
		logSink = io.MultiWriter(os.Stdout, file)
	}
	logger := logging.SetupWriter("lendingd", cfg.Environment, logSink)
	if err := logging.SetLevel(cfg.Log.Level); err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	headers := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	endpoint := cfg.Telemetry.Endpoint
	if env := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); env != "" {
		endpoint = env
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "lendingd",
		Environment: cfg.Environment,
		Endpoint:    endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	if err := run(cfg, logger); err != nil {
		log.Fatalf("lendingd: %v", err)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ledgerCfg, err := ledgerconfig.Load(cfg.LedgerConfig)
	if err != nil {
		return fmt.Errorf("load ledger config: %w", err)
	}
	addrs, err := ledgerCfg.Addresses()
	if err != nil {
		return err
	}
	tokens, err := ledgerCfg.BankTokens()
	if err != nil {
		return err
	}

	dataDir := ledgerCfg.DataDir
	if !filepath.IsAbs(dataDir) {
		dataDir = filepath.Join(filepath.Dir(cfg.LedgerConfig), dataDir)
	}
	db, err := storage.Open(ledgerCfg.StorageBackend, filepath.Join(dataDir, "ledger"))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()
	if err := state.EnsureStateVersion(db, ledgerCfg.AllowMigrate); err != nil {
		return err
	}
	manager := state.NewManager(db)

	ledger := bank.NewLedger(addrs.Custody, manager)
	for _, token := range tokens {
		if err := manager.RegisterToken(token); err != nil {
			return fmt.Errorf("register token %s: %w", token.Symbol, err)
		}
	}
	registered, err := manager.Tokens()
	if err != nil {
		return err
	}
	for _, token := range registered {
		if err := ledger.RegisterToken(token); err != nil && !errors.Is(err, bank.ErrTokenExists) {
			return fmt.Errorf("load token %s: %w", token.Symbol, err)
		}
	}

	jdb, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	eventLog, err := journal.New(jdb, logger)
	if err != nil {
		return err
	}
	hub := server.NewHub()
	defer hub.Close()

	engine := lending.NewEngine(addrs.Custody, lending.FeeConfig{
		Governance: addrs.Governance,
		Receiver:   addrs.FeeReceiver,
		FeeBps:     ledgerCfg.FeeBps,
	})
	engine.SetState(manager)
	engine.SetGateway(ledger)
	engine.SetPauses(ledgerCfg.Pauses())
	engine.SetLogger(logger.With("component", "lending"))
	engine.SetEmitter(events.NewFanout(observability.Events(), eventLog, hub))

	secret, err := cfg.Secret()
	if err != nil {
		return err
	}
	auth, err := server.NewAuthenticator(server.AuthConfig{
		Secret:   secret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Leeway:   time.Duration(cfg.Auth.MaxSkewSeconds) * time.Second,
		Logger:   logger.With("component", "auth"),
	})
	if err != nil {
		return err
	}
	srv, err := server.New(server.Config{
		Ledger:    engine,
		Bank:      ledger,
		Events:    eventLog,
		Hub:       hub,
		Auth:      auth,
		RateLimit: server.RateLimit{RequestsPerMinute: cfg.RateLimit.RequestsPerMinute, Burst: cfg.RateLimit.Burst},
		Faucet:    cfg.Faucet,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	if !cfg.TLS.Enabled() {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(cfg.Environment, "dev") && !loopback {
			listener.Close()
			return fmt.Errorf("plaintext lendingd mode is restricted to loopback listeners or dev environment")
		}
	}
	if cfg.Faucet && !strings.EqualFold(cfg.Environment, "dev") {
		logger.Warn("faucet enabled outside dev environment")
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening",
			"address", cfg.ListenAddress,
			"storage", ledgerCfg.StorageBackend,
			"journal", cfg.Journal.Driver,
			"tokens", len(registered))
		if cfg.TLS.Enabled() {
			serverErr <- httpServer.ServeTLS(listener, cfg.TLS.CertPath, cfg.TLS.KeyPath)
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", "error", err)
			return httpServer.Close()
		}
		return nil
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	}
}
