package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prepaid-card-ledger/config"
	"prepaid-card-ledger/internal/adapter/events"
	httpHandler "prepaid-card-ledger/internal/adapter/http/handler"
	"prepaid-card-ledger/internal/adapter/storage/memory"
	pgStorage "prepaid-card-ledger/internal/adapter/storage/postgres"
	redisStorage "prepaid-card-ledger/internal/adapter/storage/redis"
	"prepaid-card-ledger/internal/core/ports"
	"prepaid-card-ledger/internal/service"
	"prepaid-card-ledger/pkg/logger"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// storage bundles the repositories of one backend.
type storage struct {
	cards       ports.CardRepository
	txns        ports.TransactionRepository
	outlets     ports.OutletRepository
	settlements ports.SettlementRepository
	idempotency ports.IdempotencyRepository
	audit       ports.AuditRepository
	operators   ports.OperatorRepository
	transactor  ports.DBTransactor
	health      []ports.HealthChecker
	close       func()
}

func main() {
	cfg, err := config.Load(os.Getenv("PCL_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Str("storage", cfg.Storage.Backend).
		Int("port", cfg.Server.Port).
		Msg("Starting Prepaid Card Ledger")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
	log.Info().Msg("Server exited")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.close()

	// Redis is optional: without it the idempotency log alone serves replays,
	// summaries live in process and rate limiting is off.
	var rdb *goredis.Client
	if cfg.Redis.Enabled {
		rdb, err = redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("connecting to Redis: %w", err)
		}
		defer rdb.Close()
		store.health = append(store.health, redisStorage.NewHealthCheck(rdb))
	}

	var (
		idempotencyCache ports.IdempotencyCache
		summaryCache     ports.SummaryCache = memory.NewSummaryCache()
		rateLimitStore   *redisStorage.RateLimitStore
		locker           ports.Locker = memory.NewKeyedLocker()
	)
	if rdb != nil {
		idempotencyCache = redisStorage.NewIdempotencyCache(rdb)
		summaryCache = redisStorage.NewSummaryCache(rdb)
		if cfg.RateLimit.Enabled {
			rateLimitStore = redisStorage.NewRateLimitStore(rdb)
		}
		if cfg.Ledger.LockBackend == "redis" {
			locker = redisStorage.NewLocker(rdb, cfg.Ledger.LockTTL, log)
		}
	}

	var publisher ports.EventPublisher = events.NoopPublisher{}
	if cfg.NATS.Enabled {
		nc, err := events.Connect(cfg.NATS, log)
		if err != nil {
			return err
		}
		natsPublisher := events.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix, log)
		defer func() {
			if err := natsPublisher.Close(); err != nil {
				log.Warn().Err(err).Msg("draining NATS")
			}
		}()
		publisher = natsPublisher
		store.health = append(store.health, natsPublisher)
	}

	defaults, err := cardDefaults(cfg.Ledger)
	if err != nil {
		return err
	}

	// Core services
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	auditSvc := service.NewAuditService(store.audit, log)
	defer auditSvc.Wait()

	ledgerSvc := service.NewLedgerService(store.txns, store.cards, log)
	summarySvc := service.NewSummaryService(store.txns, store.outlets, summaryCache, cfg.Summary.Workers, cfg.Summary.QueueSize, log)
	cardSvc := service.NewCardService(store.cards, ledgerSvc, store.transactor, locker, publisher, auditSvc, defaults, log)
	coordinator := service.NewCoordinator(service.CoordinatorDeps{
		Cards:      store.cards,
		Txns:       store.txns,
		Outlets:    store.outlets,
		IdempRepo:  store.idempotency,
		IdempCache: idempotencyCache,
		Ledger:     ledgerSvc,
		Locker:     locker,
		Transactor: store.transactor,
		Summary:    summarySvc,
		Events:     publisher,
		Audit:      auditSvc,
	}, service.CoordinatorConfig{
		LockTimeout:    cfg.Ledger.LockTimeout,
		MaxAttempts:    cfg.Ledger.MaxAttempts,
		RetryBackoff:   cfg.Ledger.RetryBackoff,
		IdempotencyTTL: cfg.Ledger.IdempotencyTTL,
	}, log)
	settlementSvc := service.NewSettlementService(store.txns, store.outlets, store.settlements, store.transactor,
		locker, publisher, auditSvc, cfg.Ledger.LockTimeout, log)
	outletSvc := service.NewOutletService(store.outlets, store.txns, summarySvc, auditSvc, cfg.Summary.StaleAfter, log)
	analyticsSvc := service.NewAnalyticsService(store.cards, store.txns, store.outlets)
	authSvc := service.NewAuthService(store.operators, store.outlets, hashSvc, tokenSvc, auditSvc, log)

	if err := authSvc.Bootstrap(ctx, cfg.Auth.BootstrapAdminUsername, cfg.Auth.BootstrapAdminPassword); err != nil {
		return fmt.Errorf("bootstrapping administrator: %w", err)
	}

	// Background workers stop with ctx.
	summarySvc.Start(ctx)
	defer summarySvc.Wait()
	if err := summarySvc.Rebuild(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial summary rebuild incomplete")
	}

	scheduler := service.NewScheduler(settlementSvc, store.outlets, cfg.Settlement.Interval, log)
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(ctx)
	}()
	defer func() { <-schedulerDone }()

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		AuthSvc:        authSvc,
		CardSvc:        cardSvc,
		Coordinator:    coordinator,
		LedgerSvc:      ledgerSvc,
		OutletSvc:      outletSvc,
		SettlementSvc:  settlementSvc,
		AnalyticsSvc:   analyticsSvc,
		AuditSvc:       auditSvc,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: store.health,
		Logger:         log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			stop()
			return fmt.Errorf("HTTP server: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	return nil
}

// openStorage connects the configured backend and runs migrations when asked to.
func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*storage, error) {
	if cfg.Storage.Backend == "memory" {
		log.Warn().Msg("Using in-memory storage; data is lost on restart")
		store := memory.NewStore()
		return &storage{
			cards:       memory.NewCardRepo(store),
			txns:        memory.NewTransactionRepo(store),
			outlets:     memory.NewOutletRepo(store),
			settlements: memory.NewSettlementRepo(store),
			idempotency: memory.NewIdempotencyRepo(store),
			audit:       memory.NewAuditRepo(store),
			operators:   memory.NewOperatorRepo(store),
			transactor:  store,
			close:       func() {},
		}, nil
	}

	if cfg.Database.AutoMigrate {
		if err := pgStorage.Migrate(cfg.Database.DSN(), log); err != nil {
			return nil, err
		}
	}

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	log.Info().Msg("PostgreSQL connected")

	return &storage{
		cards:       pgStorage.NewCardRepo(pool),
		txns:        pgStorage.NewTransactionRepo(pool),
		outlets:     pgStorage.NewOutletRepo(pool),
		settlements: pgStorage.NewSettlementRepo(pool),
		idempotency: pgStorage.NewIdempotencyRepo(pool),
		audit:       pgStorage.NewAuditRepo(pool),
		operators:   pgStorage.NewOperatorRepo(pool),
		transactor:  pgStorage.NewTransactor(pool),
		health:      []ports.HealthChecker{pgStorage.NewHealthCheck(pool)},
		close:       pool.Close,
	}, nil
}

func cardDefaults(cfg config.LedgerConfig) (service.CardDefaults, error) {
	daily, err := decimal.NewFromString(cfg.DefaultDailyLimit)
	if err != nil {
		return service.CardDefaults{}, fmt.Errorf("ledger.default_daily_limit: %w", err)
	}
	perTxn, err := decimal.NewFromString(cfg.DefaultTransactionLimit)
	if err != nil {
		return service.CardDefaults{}, fmt.Errorf("ledger.default_transaction_limit: %w", err)
	}
	return service.CardDefaults{
		DailyLimit:       daily,
		TransactionLimit: perTxn,
		Validity:         cfg.CardValidity,
		LockTimeout:      cfg.LockTimeout,
	}, nil
}
