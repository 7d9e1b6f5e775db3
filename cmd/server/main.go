package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"kasirsync/backend/internal/cache"
	"kasirsync/backend/internal/config"
	"kasirsync/backend/internal/domain"
	"kasirsync/backend/internal/httpapi"
	"kasirsync/backend/internal/inventory"
	"kasirsync/backend/internal/lock"
	"kasirsync/backend/internal/logger"
	"kasirsync/backend/internal/metrics"
	"kasirsync/backend/internal/network"
	"kasirsync/backend/internal/offlinequeue"
	"kasirsync/backend/internal/order"
	"kasirsync/backend/internal/reconciliation"
	"kasirsync/backend/internal/service"
	"kasirsync/backend/internal/session"
	"kasirsync/backend/internal/store"
	"kasirsync/backend/internal/store/memory"
	pgstore "kasirsync/backend/internal/store/postgres"
	"kasirsync/backend/internal/syncer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.Database.URL != "" {
		pg, err := pgstore.New(startCtx, cfg.Database.URL)
		if err != nil {
			log.Fatal("postgres unavailable and database url is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if cfg.Database.AutoSchema {
			if err := pg.EnsureSchema(startCtx); err != nil {
				log.Fatal("apply schema", zap.Error(err))
			}
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(cfg.App.CompanyID, cfg.App.StoreID)
		log.Info("repository: in-memory")
	}

	var (
		queue        offlinequeue.Queue = offlinequeue.NewMemoryQueue(cfg.Offline.QueueCapacity)
		summaryCache cache.SummaryCache = cache.NoopSummaryCache{}
		locker       lock.Locker        = lock.NewLocal()
	)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(startCtx).Err(); err != nil {
			log.Warn("redis unavailable, offline queue is in-memory and lost on restart", zap.Error(err))
			_ = client.Close()
		} else {
			queue = offlinequeue.NewRedisQueue(client, cfg.Offline.QueueCapacity)
			summaryCache = cache.NewRedisSummaryCache(client)
			locker = lock.NewRedisLocker(client)
			closers = append(closers, client.Close)
			log.Info("offline queue, summary cache and sync locks: redis")
		}
	} else {
		log.Info("offline queue: in-memory")
	}

	recorder := metrics.New()
	deferred := cfg.Reconciliation.Mode == config.ModeServerDeferred
	device := domain.OperationContext{
		CompanyID: cfg.App.CompanyID,
		StoreID:   cfg.App.StoreID,
		DeviceID:  cfg.App.DeviceID,
	}

	ledger := inventory.NewLedger(repo, inventory.Options{
		Cache:   summaryCache,
		Logger:  log,
		Metrics: recorder,
	})
	factory := order.NewFactory(repo, ledger, order.Options{
		Queue:          queue,
		Cache:          summaryCache,
		DeferInventory: deferred,
		Logger:         log,
		Metrics:        recorder,
	})
	coordinator := syncer.NewCoordinator(repo, ledger, syncer.Options{
		Queue:       queue,
		Locker:      locker,
		LockTTL:     cfg.Sync.LockTTL,
		MaxAttempts: cfg.Sync.MaxAttempts,
		Device:      device,
		BaseContext: runCtx,
		Logger:      log,
		Metrics:     recorder,
	})
	monitor := network.NewMonitor(repo, network.Options{
		Initial:         network.StateDisconnected,
		ProbeTimeout:    cfg.Network.ProbeTimeout,
		ConfirmInterval: cfg.Network.ConfirmInterval,
		Logger:          log,
		Metrics:         recorder,
	})
	auditor := reconciliation.NewAuditor(repo, ledger, reconciliation.Options{
		Online:              monitor.IsOnline,
		IncludeOnlineOrders: deferred,
		Logger:              log,
		Metrics:             recorder,
	})

	monitor.OnTransition(coordinator.HandleTransition)
	go monitor.Run(runCtx, network.PollingWatcher{
		Prober:   repo,
		Interval: cfg.Network.ProbeInterval,
		Timeout:  cfg.Network.ProbeTimeout,
	})
	go runSweeps(runCtx, log, auditor, cfg)

	tokens := session.NewTokenIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	svc := service.New(repo, ledger, factory, coordinator, auditor, monitor, service.Options{
		DeviceID: cfg.App.DeviceID,
		Queue:    queue,
		Cache:    summaryCache,
		Logger:   log,
	})
	api := httpapi.New(svc, tokens, cfg.App.AllowedOrigin, recorder.Handler(), log)

	if !cfg.IsProduction() {
		issueDevelopmentToken(log, tokens, cfg)
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("kasirsync listening",
			zap.String("addr", cfg.Address()),
			zap.String("mode", cfg.Reconciliation.Mode),
			zap.String("device_id", cfg.App.DeviceID))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-runCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	coordinator.Wait()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

// runSweeps flags discrepant orders on a fixed interval until ctx is done.
func runSweeps(ctx context.Context, log *zap.Logger, auditor *reconciliation.Auditor, cfg config.Config) {
	if cfg.Reconciliation.SweepInterval <= 0 {
		return
	}
	lookback := time.Duration(cfg.Reconciliation.LookbackDays) * 24 * time.Hour
	ticker := time.NewTicker(cfg.Reconciliation.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := auditor.Sweep(ctx, cfg.App.StoreID, lookback); err != nil {
				log.Warn("reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}

func issueDevelopmentToken(log *zap.Logger, tokens *session.TokenIssuer, cfg config.Config) {
	token, expiresAt, err := tokens.Issue(
		session.User{ID: "dev-admin", Role: "admin"},
		session.Permission{CompanyID: cfg.App.CompanyID, StoreID: cfg.App.StoreID},
		cfg.App.DeviceID,
	)
	if err != nil {
		log.Warn("development token not issued", zap.Error(err))
		return
	}
	log.Info("development admin token", zap.String("token", token), zap.Time("expires_at", expiresAt))
}

func validateSecurityConfig(cfg config.Config) error {
	if strings.TrimSpace(cfg.App.DeviceID) == "" {
		return fmt.Errorf("KASIRSYNC_APP_DEVICE_ID must be set")
	}
	if !cfg.IsProduction() {
		return nil
	}
	if len(cfg.Auth.Secret) < 32 {
		return fmt.Errorf("KASIRSYNC_AUTH_SECRET must be set and at least 32 characters")
	}
	if strings.TrimSpace(cfg.App.AllowedOrigin) == "*" {
		return fmt.Errorf("KASIRSYNC_APP_ALLOWED_ORIGIN must name an origin in production")
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("KASIRSYNC_DATABASE_URL must be set in production")
	}
	return nil
}
