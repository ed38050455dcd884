package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"weeklytotals/internal/amqp"
	"weeklytotals/internal/cache"
	"weeklytotals/internal/cli"
	"weeklytotals/internal/config"
	apphttp "weeklytotals/internal/http"
	"weeklytotals/internal/log"
	"weeklytotals/internal/replica"
	"weeklytotals/internal/replica/memory"
	"weeklytotals/internal/replica/sheets"
	"weeklytotals/internal/services"
	"weeklytotals/internal/week"
)

const (
	shutdownTimeout    = 30 * time.Second
	cacheSweepInterval = 5 * time.Minute
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting weekly-totals",
		log.FieldDeviceID, cfg.DeviceID,
		"replica_backend", cfg.ReplicaBackend,
		"amqp_enabled", cfg.AMQPURL != "")

	repo := cli.InitSQLite(logger.WithComponent(log.ComponentStorage), cfg.SQLiteDBPath)
	defer repo.Close()

	parent, stop := context.WithCancel(context.Background())
	defer stop()

	weeks := week.NewCalculator(time.Now, time.Local)
	ledger, err := services.NewLedger(parent, repo, weeks, logger.WithComponent(log.ComponentLedger))
	if err != nil {
		logger.Error("Failed to open ledger", log.FieldError, err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := services.NewPrometheusMetrics(reg)

	// Change notices are optional; without them the Sheets replica still
	// converges through polling.
	var notices *amqp.Client
	if cfg.AMQPURL != "" {
		notices, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.DeviceID)
		if err != nil {
			logger.WithComponent(log.ComponentAMQP).Warn("AMQP unavailable, change notices disabled", log.FieldError, err)
			notices = nil
		}
	}

	tree, sheetsTree, err := openReplica(parent, cfg, notices, logger)
	if err != nil {
		logger.Error("Failed to open replica", log.FieldError, err, "backend", cfg.ReplicaBackend)
		os.Exit(1)
	}

	engine := services.NewSyncEngine(ledger, tree, metrics, logger.WithComponent(log.ComponentSync),
		services.SyncEngineConfig{PushTimeout: cfg.PushTimeout})
	rollover := services.NewRolloverProcessor(ledger, metrics, logger.WithComponent(log.ComponentRollover),
		services.RolloverConfig{CheckInterval: cfg.RolloverCheckInterval})
	server := apphttp.NewServer(apphttp.Options{
		Ledger:   ledger,
		Sync:     engine,
		Gatherer: reg,
		Logger:   logger.WithComponent(log.ComponentHTTP),
		RateLimit: apphttp.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		},
	})

	ctx, done := cli.GracefulShutdown(parent, logger, shutdownTimeout, func(ctx context.Context) {
		logger.Info("Shutting down", log.FieldOperation, log.OpShutdown)
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := rollover.Stop(ctx); err != nil {
			logger.Warn("Rollover processor did not stop cleanly", log.FieldError, err)
		}
		if notices != nil {
			if err := notices.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start(cfg.Addr())
	})

	g.Go(func() error {
		// Transport failures are logged and never stop the device.
		if err := engine.StartListening(gctx); err != nil {
			logger.WithComponent(log.ComponentSync).Error("Sync engine failed to start", log.FieldError, err)
		}
		return nil
	})

	g.Go(func() error {
		return rollover.Start(gctx)
	})

	if sheetsTree != nil {
		g.Go(func() error {
			cache.NewJanitor(logger.WithComponent(log.ComponentCache).Logger, sheetsTree.RowCache()).
				Run(gctx, cacheSweepInterval)
			return nil
		})
	}

	if notices != nil && sheetsTree != nil {
		amqpLogger := logger.WithComponent(log.ComponentAMQP)
		g.Go(func() error {
			err := notices.ConsumeChanges(gctx, func(ctx context.Context, n *amqp.ChangeNotice) error {
				amqpLogger.DebugContext(ctx, "Change notice received",
					log.FieldRemotePath, n.Path, log.FieldDeviceID, n.DeviceID)
				sheetsTree.Refresh(n.Path)
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				amqpLogger.Error("Change notice consumer stopped", log.FieldError, err)
			}
			return nil
		})
	}

	// Any failed start-up task ends the process.
	g.Go(func() error {
		<-gctx.Done()
		stop()
		return nil
	})

	err = g.Wait()
	cli.WaitForShutdown(ctx, done)
	if err != nil {
		logger.Error("weekly-totals stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("weekly-totals stopped")
}

// openReplica connects the configured replica backend. The Sheets tree is
// also returned so its caches and refresh hook can be wired.
func openReplica(ctx context.Context, cfg *config.Config, notices *amqp.Client, logger *log.Logger) (replica.Tree, *sheets.Tree, error) {
	switch cfg.ReplicaBackend {
	case config.BackendSheets:
		opts := sheets.Options{
			PollInterval: cfg.SheetsPollInterval,
			Logger:       logger.WithComponent(log.ComponentSheets).Logger,
		}
		if notices != nil {
			opts.Publisher = notices
		}
		tree, err := sheets.New(ctx, cfg.GoogleSpreadsheetID, sheets.Credentials{
			ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
			ServiceAccountFile: cfg.GoogleServiceAccountFile,
		}, opts)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Initialized Google Sheets replica", "spreadsheet_id", cfg.GoogleSpreadsheetID)
		return tree, tree, nil
	default:
		logger.Info("Initialized in-process replica")
		return memory.New(), nil, nil
	}
}
