package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"agrisafe_consensus/pkg/audit"
	"agrisafe_consensus/pkg/config"
	"agrisafe_consensus/pkg/consensus"
	"agrisafe_consensus/pkg/monitoring"
	"agrisafe_consensus/pkg/p2p"
	"agrisafe_consensus/pkg/scheduler"
	"agrisafe_consensus/pkg/security"
	"agrisafe_consensus/pkg/utils"
	"agrisafe_consensus/pkg/validation"
)

var (
	configFile = flag.String("config", "config.yaml", "Path to configuration file")
	dataDir    = flag.String("data-dir", "./data", "Data directory path")
	debug      = flag.Bool("debug", false, "Enable debug mode")
)

// App wires the consensus engine to its supporting services
type App struct {
	cfg        *config.Config
	engine     *consensus.Engine
	validator  *validation.Engine
	auditLog   *audit.Log
	auditStore audit.Store
	crypto     *security.Manager
	monitor    *monitoring.Monitor
	sched      *scheduler.Scheduler
	gateway    *p2p.Gateway

	logger *zap.Logger
	cancel context.CancelFunc
}

func main() {
	flag.Parse()

	logger, err := initLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal("Failed to load configuration",
			zap.String("path", *configFile),
			zap.Error(err))
	}

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		logger.Fatal("Failed to create data directory", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initializeApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}
	app.cancel = cancel

	setupGracefulShutdown(ctx, cancel, app, logger)

	<-ctx.Done()
}

func initializeApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	initCtx, cancelInit := context.WithTimeout(ctx, 30*time.Second)
	defer cancelInit()

	crypto, err := initCrypto(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing crypto manager: %w", err)
	}

	auditStore, err := initAuditStore(initCtx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing audit store: %w", err)
	}
	auditLog := audit.NewLog(auditStore, cfg.Audit.MaxEntries, logger, audit.WithCipher(crypto))

	engine := consensus.NewEngine(cfg.Consensus, logger)
	validator := validation.NewEngine(cfg.Validation.HistorySize, logger)
	monitor := monitoring.NewMonitor(cfg.Monitoring.MaxHistorySize, logger)
	monitor.UpdateThresholds(monitoring.Thresholds{
		CPU:            cfg.Monitoring.CPUThreshold,
		Memory:         cfg.Monitoring.MemThreshold,
		Disk:           cfg.Monitoring.DiskThreshold,
		ResponseTimeMs: cfg.Monitoring.ResponseTimeMs,
		ErrorRate:      cfg.Monitoring.ErrorRate,
	})
	sched := scheduler.NewScheduler(cfg.Scheduler, logger)

	app := &App{
		cfg:        cfg,
		engine:     engine,
		validator:  validator,
		auditLog:   auditLog,
		auditStore: auditStore,
		crypto:     crypto,
		monitor:    monitor,
		sched:      sched,
		logger:     logger,
	}

	if cfg.P2P.Enabled {
		gateway, err := p2p.NewGateway(ctx, cfg.P2P, engine, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing p2p gateway: %w", err)
		}
		app.gateway = gateway
	}

	if err := app.start(ctx); err != nil {
		app.stop()
		return nil, fmt.Errorf("starting services: %w", err)
	}
	return app, nil
}

func (a *App) start(ctx context.Context) error {
	go a.drainEngineEvents(ctx)

	a.monitor.Start(a.cfg.Monitoring.Interval)

	if err := a.scheduleMaintenance(); err != nil {
		return fmt.Errorf("scheduling maintenance: %w", err)
	}
	a.sched.Start()

	a.auditLog.LogSystemEvent("service_started", map[string]any{
		"environment": a.cfg.Environment,
		"threshold":   a.cfg.Consensus.Threshold,
		"p2p":         a.cfg.P2P.Enabled,
	})

	a.logger.Info("All services started successfully")
	return nil
}

func (a *App) stop() {
	a.auditLog.LogSystemEvent("service_stopping", nil)

	if a.gateway != nil {
		if err := a.gateway.Close(); err != nil {
			a.logger.Error("Shutdown error", zap.Error(err))
		}
	}
	a.sched.Stop()
	a.monitor.Stop()
	a.engine.Close()

	if err := a.auditStore.Close(); err != nil {
		a.logger.Error("Shutdown error", zap.Error(err))
	}

	a.logger.Info("All services stopped")
}

// drainEngineEvents turns every consensus event into an audit entry
// and, when the gateway is up, broadcasts it to peers
func (a *App) drainEngineEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-a.engine.Events():
			if !ok {
				return
			}
			a.auditLog.LogSystemEvent(event.Kind(), map[string]any{"event": event})

			if a.gateway != nil {
				if err := a.gateway.PublishEvent(ctx, event); err != nil {
					a.logger.Warn("Publishing consensus event",
						zap.String("kind", event.Kind()),
						zap.Error(err))
				}
			}
		}
	}
}

func (a *App) scheduleMaintenance() error {
	auditRetention := time.Duration(a.cfg.Audit.RetentionDays) * 24 * time.Hour
	monitorRetention := time.Duration(a.cfg.Monitoring.RetentionDays) * 24 * time.Hour

	if err := a.sched.ScheduleTask(&scheduler.Task{
		Name:     "audit-retention",
		Schedule: a.cfg.Scheduler.CleanupSpec,
		Run: func(context.Context) error {
			removed := a.auditLog.CleanupOlderThan(auditRetention)
			a.logger.Info("Audit retention sweep", zap.Int("removed", removed))
			return nil
		},
	}); err != nil {
		return err
	}

	return a.sched.ScheduleTask(&scheduler.Task{
		Name:     "monitoring-retention",
		Schedule: a.cfg.Scheduler.CleanupSpec,
		Run: func(context.Context) error {
			result := a.monitor.CleanupOlderThan(monitorRetention)
			a.logger.Info("Monitoring retention sweep",
				zap.Int("alerts", result.AlertsRemoved),
				zap.Int("anomalies", result.AnomaliesRemoved),
				zap.Int("metrics", result.MetricsRemoved))
			return nil
		},
	})
}

func initCrypto(cfg *config.Config, logger *zap.Logger) (*security.Manager, error) {
	secret := cfg.Security.JWTSecret
	if secret == "" {
		secret = "agrisafe-dev-secret"
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("security.jwt_secret must be set outside development")
		}
		logger.Warn("Using development JWT secret")
	}

	key := security.DeriveKey([]byte(secret), []byte("agrisafe-audit-encryption"))
	return security.NewManager(key, []byte(secret), logger)
}

func initAuditStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (audit.Store, error) {
	if cfg.Database.Enabled {
		return audit.NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.MaxConns, logger)
	}

	path := cfg.Audit.FilePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(*dataDir, path)
	}
	return audit.NewFileStore(path, cfg.Audit.MaxFileSizeMB, cfg.Audit.MaxBackups), nil
}

func setupGracefulShutdown(ctx context.Context, cancel context.CancelFunc, app *App, logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		case <-ctx.Done():
			logger.Info("Context cancelled")
		}

		app.stop()
		cancel()
	}()
}

func initLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	logCfg := utils.DefaultLogConfig()
	return utils.NewLogger(logCfg)
}
