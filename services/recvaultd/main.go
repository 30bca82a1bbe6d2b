// Package recvaultd wires the storage, engines, reconciliation monitor, and
// HTTP API into the runnable daemon.
package recvaultd

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"recvault/compliance"
	"recvault/config"
	"recvault/core/events"
	"recvault/native/common"
	"recvault/native/fund"
	"recvault/native/registry"
	"recvault/observability"
	"recvault/observability/logging"
	telemetry "recvault/observability/otel"
	"recvault/rpc"
	"recvault/services/reconciler"
	"recvault/state"
	"recvault/storage"
)

const serviceName = "recvaultd"

// Main runs the daemon using the provided command line flags.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to recvaultd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	env := strings.TrimSpace(cfg.Environment)
	if env == "" {
		env = strings.TrimSpace(os.Getenv("RECVAULT_ENV"))
	}
	logger := logging.Setup(serviceName, env)

	if cfg.Telemetry.Metrics || cfg.Telemetry.Traces {
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: serviceName,
			Environment: env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() { _ = shutdownTelemetry(context.Background()) }()
	}

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	store, err := state.NewStore(db)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer store.Close()

	pauses := common.NewStaticPauses(cfg.PausedModules...)
	emitter := events.Multi(eventLogger(logger), observability.StateMetricsEmitter())

	reg := registry.NewEngine()
	reg.SetState(store)
	reg.SetPauses(pauses)
	reg.SetEmitter(emitter)
	reg.SetQuota(common.Quota{
		MaxSubmissionsPerEpoch: cfg.Quota.MaxSubmissionsPerEpoch,
		MaxFaceValuePerEpoch:   cfg.Quota.MaxFaceValuePerEpoch,
		EpochSeconds:           cfg.Quota.EpochSeconds,
	})

	gateCfg, err := compliance.LoadConfig(cfg.CompliancePath)
	if err != nil {
		return fmt.Errorf("load compliance config: %w", err)
	}

	funds := fund.NewEngine()
	funds.SetState(store)
	funds.SetRegistry(reg)
	funds.SetPauses(pauses)
	funds.SetEmitter(emitter)
	funds.SetComplianceGate(gateCfg.Gate())

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 2)

	if cfg.Reconciler.Enabled {
		monitor, closeAudit, err := buildMonitor(cfg.Reconciler, reg, logger)
		if err != nil {
			return err
		}
		defer closeAudit()
		go func() {
			if err := monitor.Run(stopCtx); err != nil && stopCtx.Err() == nil {
				errs <- fmt.Errorf("reconciler: %w", err)
			}
		}()
	}

	serverOpts := []rpc.Option{rpc.WithLogger(logger)}
	if cfg.Auth.Enabled {
		serverOpts = append(serverOpts, rpc.WithAuth(rpc.NewAuthenticator(rpc.AuthConfig{
			Enabled:    true,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		}, logger)))
	}
	if len(cfg.RateLimits) > 0 {
		limits := make(map[string]rpc.RateLimit, len(cfg.RateLimits))
		for key, limit := range cfg.RateLimits {
			limits[key] = rpc.RateLimit{RequestsPerMinute: limit.RequestsPerMinute, Burst: limit.Burst}
		}
		serverOpts = append(serverOpts, rpc.WithRateLimiter(rpc.NewRateLimiter(limits, logger)))
	}
	server := rpc.NewServer(reg, funds, serverOpts...)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(server.Router(), serviceName),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.ListenAddress)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// openDatabase selects the storage backend: the literal "memory" keeps all
// state in process, anything else is a LevelDB directory.
func openDatabase(dataDir string) (storage.Database, error) {
	if strings.TrimSpace(dataDir) == "memory" {
		return storage.NewMemDB(), nil
	}
	return storage.NewLevelDB(dataDir)
}

func eventLogger(logger *slog.Logger) events.Emitter {
	return events.EmitterFunc(func(evt *events.Event) {
		if evt == nil {
			return
		}
		attrs := make([]any, 0, 2+2*len(evt.Attributes))
		attrs = append(attrs, "event", evt.Type)
		for key, value := range evt.Attributes {
			attrs = append(attrs, key, value)
		}
		logger.Debug("state event", attrs...)
	})
}

func buildMonitor(cfg config.ReconcilerConfig, reg *registry.Engine, logger *slog.Logger) (*reconciler.Monitor, func(), error) {
	opts := []reconciler.Option{
		reconciler.WithLogger(logger),
		reconciler.WithObserver(observability.Reconciler()),
	}
	closeAudit := func() {}
	if strings.TrimSpace(cfg.AuditPath) != "" {
		audit, err := reconciler.OpenAudit(cfg.AuditPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit store: %w", err)
		}
		opts = append(opts, reconciler.WithAudit(audit))
		closeAudit = func() { _ = audit.Close() }
	}
	source := &reconciler.SimulatedSource{
		VerifyFailureBp: cfg.Simulated.VerifyFailureBp,
		ErrorBp:         cfg.Simulated.ErrorBp,
		PartialBp:       cfg.Simulated.PartialBp,
		PayAfter:        cfg.Simulated.PayAfter.Duration,
		PayAfterJitter:  cfg.Simulated.PayAfterJitter.Duration,
		Seed:            cfg.Simulated.Seed,
	}
	monitor, err := reconciler.New(reg, source, reconciler.Config{
		VerifyInterval:  cfg.VerifyInterval.Duration,
		PaymentInterval: cfg.PaymentInterval.Duration,
		CallTimeout:     cfg.CallTimeout.Duration,
		SourceRate:      cfg.SourceRate,
		SourceBurst:     cfg.SourceBurst,
	}, opts...)
	if err != nil {
		closeAudit()
		return nil, nil, fmt.Errorf("build monitor: %w", err)
	}
	return monitor, closeAudit, nil
}
