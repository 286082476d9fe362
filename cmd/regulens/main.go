// Command regulens runs the Regulens coordination core: the regulatory
// monitor, the inter-agent messenger, the consensus engine, and the
// regulatory simulator, sharing one PostgreSQL store. Redis (rate
// limiting), NATS (lifecycle events), and Telegram (operator alerts)
// are optional; the daemon degrades gracefully when they are absent.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gaigenticai/Regulens-sub010/internal/alerts"
	"github.com/gaigenticai/Regulens-sub010/internal/config"
	"github.com/gaigenticai/Regulens-sub010/internal/consensus"
	"github.com/gaigenticai/Regulens-sub010/internal/db"
	"github.com/gaigenticai/Regulens-sub010/internal/events"
	"github.com/gaigenticai/Regulens-sub010/internal/messenger"
	"github.com/gaigenticai/Regulens-sub010/internal/metrics"
	"github.com/gaigenticai/Regulens-sub010/internal/monitor"
	"github.com/gaigenticai/Regulens-sub010/internal/simulator"
)

const (
	gaugeRefreshInterval = 15 * time.Second
	expirySweepInterval  = time.Hour
	resultPurgeInterval  = 24 * time.Hour
	shutdownTimeout      = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	migrate := flag.Bool("migrate", false, "apply pending schema migrations before starting")
	migrationsDir := flag.String("migrations", "migrations", "directory with schema migration files")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	log.Info().
		Str("version", config.Version).
		Str("environment", cfg.App.Environment).
		Msg("Starting Regulens core")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Overlay Vault-held credentials before validation so production
	// secret checks see the real values, not env placeholders.
	if err := config.LoadSecretsFromVault(ctx, cfg, config.GetVaultConfigFromEnv()); err != nil {
		log.Fatal().Err(err).Msg("Failed to load secrets from Vault")
	}

	// Fail fast on misconfiguration. Connectivity stays off here: the
	// store connect below is fatal on its own, and Redis/NATS are
	// optional backends the daemon degrades without.
	validator := config.NewValidator(cfg, config.ValidatorOptions{Timeout: 5 * time.Second})
	if err := validator.ValidateStartup(ctx); err != nil {
		log.Fatal().Err(err).Msg("Configuration validation failed")
	}

	if *migrate {
		if err := runMigrations(ctx, cfg.Database.GetDSN(), *migrationsDir); err != nil {
			log.Fatal().Err(err).Msg("Schema migration failed")
		}
	}

	store, err := db.New(ctx, cfg.Database.GetDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	var publisher *events.Publisher
	if cfg.NATS.Enabled {
		publisher, err = events.Connect(cfg.NATS.URL)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, lifecycle events disabled")
			publisher = nil
		}
	}
	defer publisher.Close()

	alertMgr := buildAlertManager(cfg.Alerts)
	alerts.SetDefaultManager(alertMgr)

	limiter, redisClose := buildRateLimiter(ctx, cfg)
	defer redisClose()

	mon := monitor.New(store, cfg.Monitor, publisher)
	if err := mon.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize regulatory monitor")
	}

	msgr := messenger.New(store, cfg.Messenger, alertMgr)
	engine := consensus.New(store, cfg.Consensus, publisher)
	sim := simulator.New(store, cfg.Simulator, limiter, publisher)

	if restored, err := engine.RestoreActive(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to restore in-flight consensus processes")
	} else if restored > 0 {
		log.Info().Int("processes", restored).Msg("Restored in-flight consensus processes")
	}

	if err := mon.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start regulatory monitor")
	}
	if err := msgr.StartWorker(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start delivery worker")
	}

	updater := metrics.NewUpdater(store, gaugeRefreshInterval, cfg.Monitor.MaxConsecutiveFailures)
	updater.Start(ctx)

	var metricsServer *metrics.Server
	if cfg.Metrics.EnableMetrics {
		metricsServer = metrics.NewServer(cfg.Metrics.PrometheusPort, config.NewLogger("metrics"))
		// Readiness follows the store: /health says the process is up,
		// /health/ready says it can actually serve.
		metricsServer.RegisterHandler("/health/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := store.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
		if err := metricsServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start metrics server")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return maintenanceLoop(gctx, msgr, sim, engine)
	})

	log.Info().
		Int("metrics_port", cfg.Metrics.PrometheusPort).
		Bool("nats", publisher != nil).
		Bool("rate_limiter", limiter != nil).
		Msg("Regulens core started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-gctx.Done():
		log.Error().Err(context.Cause(gctx)).Msg("Subsystem failed")
	}

	log.Info().Msg("Initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := mon.Stop(); err != nil {
		log.Warn().Err(err).Msg("Monitor stop reported an error")
	}
	if err := msgr.StopWorker(); err != nil {
		log.Warn().Err(err).Msg("Delivery worker stop reported an error")
	}
	sim.Close()
	updater.Stop()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Metrics server shutdown reported an error")
		}
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Shutdown finished with subsystem error")
		os.Exit(1)
	}

	log.Info().Msg("Regulens core stopped")
}

// runMigrations applies pending schema files through the shared runner.
// The runner speaks database/sql, so this opens a second short-lived
// connection rather than borrowing the pgx pool.
func runMigrations(ctx context.Context, dsn, dir string) error {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer sqlDB.Close()

	return db.NewMigrator(sqlDB, dir).Migrate(ctx)
}

// buildAlertManager assembles the operator alert fan-out. The log
// alerter is always present so alerts are never silently dropped.
func buildAlertManager(cfg config.AlertsConfig) *alerts.Manager {
	alerters := []alerts.Alerter{alerts.NewLogAlerter()}

	if cfg.TelegramEnabled {
		tg, err := alerts.NewTelegramAlerter(cfg.TelegramToken, cfg.TelegramChatIDs)
		if err != nil {
			log.Warn().Err(err).Msg("Telegram alerter unavailable, falling back to log alerts")
		} else {
			alerters = append(alerters, tg)
			log.Info().Int("chat_ids", len(cfg.TelegramChatIDs)).Msg("Telegram alerts enabled")
		}
	}

	return alerts.NewManager(alerters...)
}

// buildRateLimiter connects Redis for the simulation rate limiter. A
// missing Redis disables rate limiting rather than the simulator.
func buildRateLimiter(ctx context.Context, cfg *config.Config) (*simulator.RateLimiter, func()) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.GetRedisAddr()).
			Msg("Redis unavailable, simulation rate limiting disabled")
		_ = client.Close()
		return nil, func() {}
	}

	limiter := simulator.NewRateLimiter(client, cfg.Simulator.RateLimitRuns, cfg.Simulator.RateLimitWindow())
	return limiter, func() { _ = client.Close() }
}

// maintenanceLoop owns the periodic housekeeping: the hourly message
// expiry sweep and the daily purge of simulation results past
// retention. Subsystem stats are logged with each sweep so operators
// can follow the core without scraping metrics.
func maintenanceLoop(ctx context.Context, msgr *messenger.Messenger, sim *simulator.Simulator, engine *consensus.Engine) error {
	sweep := time.NewTicker(expirySweepInterval)
	defer sweep.Stop()
	purge := time.NewTicker(resultPurgeInterval)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-sweep.C:
			if expired, err := msgr.CleanupExpired(ctx); err != nil {
				log.Warn().Err(err).Msg("Message expiry sweep failed")
			} else if expired > 0 {
				log.Info().Int64("expired", expired).Msg("Message expiry sweep completed")
			}
			logSubsystemStats(ctx, msgr, sim, engine)

		case <-purge.C:
			if _, err := sim.PurgeExpiredResults(ctx); err != nil {
				log.Warn().Err(err).Msg("Simulation result purge failed")
			}
		}
	}
}

func logSubsystemStats(ctx context.Context, msgr *messenger.Messenger, sim *simulator.Simulator, engine *consensus.Engine) {
	if stats, err := msgr.Stats(ctx); err == nil {
		log.Info().
			Interface("by_status", stats.ByStatus).
			Int("queue_depth", stats.QueueDepth).
			Msg("Messenger stats")
	}
	if stats, err := engine.Stats(ctx); err == nil {
		log.Info().
			Int("active", stats.ActiveProcesses).
			Int64("completed", stats.CompletedTotal).
			Msg("Consensus stats")
	}
	if stats, err := sim.Stats(ctx); err == nil {
		log.Info().
			Interface("by_status", stats.ExecutionsByStatus).
			Msg("Simulator stats")
	}
}
