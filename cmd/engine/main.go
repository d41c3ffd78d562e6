package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantjourney/fundarb/internal/aggregator"
	"github.com/quantjourney/fundarb/internal/allocator"
	"github.com/quantjourney/fundarb/internal/api"
	"github.com/quantjourney/fundarb/internal/breakeven"
	"github.com/quantjourney/fundarb/internal/cache"
	"github.com/quantjourney/fundarb/internal/config"
	"github.com/quantjourney/fundarb/internal/costs"
	"github.com/quantjourney/fundarb/internal/engine"
	"github.com/quantjourney/fundarb/internal/evaluator"
	"github.com/quantjourney/fundarb/internal/journal"
	"github.com/quantjourney/fundarb/internal/logging"
	"github.com/quantjourney/fundarb/internal/notify"
	"github.com/quantjourney/fundarb/internal/stickiness"
	"github.com/quantjourney/fundarb/pkg/interfaces"
	"github.com/quantjourney/fundarb/pkg/providers"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Environment, cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("engine exited")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fundingProviders, err := providers.Build(cfg.Exchanges)
	if err != nil {
		return fmt.Errorf("exchange connectors: %w", err)
	}

	balances, haveBalances, err := providers.BuildBalances()
	if err != nil {
		return fmt.Errorf("balance connector: %w", err)
	}
	if !haveBalances {
		logger.Warn("no balance connector registered, running decision-only with zero capital")
		balances = zeroBalances{}
	}

	// Redis keeps hysteresis ages and cooldowns across restarts; without it the
	// in-memory stores serve, losing state on restart.
	var openTimes stickiness.OpenTimeStore = stickiness.NewMemoryStore()
	var cooldowns allocator.CooldownStore = allocator.NewMemoryCooldownStore()
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Warn("redis unavailable, using in-memory stores")
		_ = redisClient.Close()
	} else {
		openTimes = cache.NewRedisOpenTimeStore(redisClient)
		cooldowns = cache.NewRedisCooldownStore(redisClient)
		defer func() { _ = redisClient.Close() }()
	}
	cancel()

	// The journal is optional in the same way: no database, no audit trail.
	var cycleJournal engine.CycleJournal
	pool, err := pgxpool.New(ctx, cfg.Database.ConnectionString())
	if err != nil {
		logger.WithError(err).Warn("postgres unavailable, journaling disabled")
	} else if err := pool.Ping(ctx); err != nil {
		logger.WithError(err).Warn("postgres unreachable, journaling disabled")
		pool.Close()
	} else {
		cycleJournal = journal.New(pool, logger)
		defer pool.Close()
	}

	notifier, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
	if err != nil {
		return fmt.Errorf("telegram notifier: %w", err)
	}

	eng, err := buildEngine(cfg, logger, fundingProviders, balances, openTimes, cooldowns, cycleJournal, notifier)
	if err != nil {
		return err
	}

	interval, err := cfg.EngineInterval()
	if err != nil {
		return err
	}
	svc := engine.NewService(eng, interval, logger)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewServer(svc, logger).Router(),
	}
	go func() {
		logger.WithField("port", cfg.Server.Port).Info("status API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("status API failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status API shutdown: %w", err)
	}
	return nil
}

func buildEngine(
	cfg *config.Config,
	logger *logrus.Logger,
	fundingProviders []interfaces.FundingDataProvider,
	balances interfaces.BalanceProvider,
	openTimes stickiness.OpenTimeStore,
	cooldowns allocator.CooldownStore,
	cycleJournal engine.CycleJournal,
	notifier engine.Notifier,
) (*engine.Engine, error) {
	batchDelay, err := time.ParseDuration(cfg.Discovery.BatchDelay)
	if err != nil {
		return nil, fmt.Errorf("invalid discovery.batch_delay: %w", err)
	}
	queryTimeout, err := time.ParseDuration(cfg.Discovery.QueryTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid discovery.query_timeout: %w", err)
	}
	cycleTimeout, err := cfg.CycleTimeout()
	if err != nil {
		return nil, err
	}

	agg := aggregator.New(fundingProviders, aggregator.Config{
		AllowedAssets: cfg.Discovery.AllowedAssets,
		BatchSize:     cfg.Discovery.BatchSize,
		BatchDelay:    batchDelay,
		QueryTimeout:  queryTimeout,
		MinExchanges:  cfg.Discovery.MinExchanges,
	}, logger)

	costCalc := costs.NewCalculator()
	costCalc.MakerFeeRate = decimal.NewFromFloat(cfg.Costs.MakerFeeRate)
	costCalc.TakerFeeRate = decimal.NewFromFloat(cfg.Costs.TakerFeeRate)

	beCfg := breakeven.Config{
		MaxBreakEvenDays:     cfg.BreakEven.MaxBreakEvenDays,
		ReliabilityThreshold: cfg.BreakEven.ReliabilityThreshold,
		MinMeaningfulSpread:  cfg.BreakEven.MinMeaningfulSpread,
		AssumedBookSpread:    cfg.BreakEven.AssumedBookSpread,
	}
	be := breakeven.NewCalculator(costCalc, nil, beCfg)

	eval := evaluator.New(costCalc, nil, evaluator.Config{
		MaxBreakEvenDays: cfg.BreakEven.MaxBreakEvenDays,
	}, logger)

	stick := stickiness.NewManager(openTimes, stickiness.Config{
		CloseThreshold:      decimal.NewFromFloat(cfg.Stickiness.CloseThreshold),
		MinHoldHours:        cfg.Stickiness.MinHoldHours,
		ChurnCostMultiplier: cfg.Stickiness.ChurnCostMultiplier,
	}, logger)

	ladder := allocator.New(cooldowns, allocator.Config{
		MinPositionSize: decimal.NewFromFloat(cfg.Allocator.MinPositionSize),
		Leverage:        decimal.NewFromFloat(cfg.Engine.Leverage),
		CooldownTTL:     time.Duration(cfg.Allocator.CooldownMinutes) * time.Minute,
	}, logger)

	return engine.New(engine.Deps{
		Aggregator: agg,
		BreakEven:  be,
		Evaluator:  eval,
		Stickiness: stick,
		Allocator:  ladder,
		Costs:      costCalc,
		Balances:   balances,
		Journal:    cycleJournal,
		Notifier:   notifier,
	}, engine.Config{
		Exchanges:            cfg.Exchanges,
		MinSpread:            decimal.NewFromFloat(cfg.Engine.MinSpread),
		Leverage:             decimal.NewFromFloat(cfg.Engine.Leverage),
		MaxCollateralPerPair: decimal.NewFromFloat(cfg.Engine.MaxCollateralPerPair),
		MaxTotalCapital:      decimal.NewFromFloat(cfg.Engine.MaxTotalCapital),
		TakerFeeRate:         decimal.NewFromFloat(cfg.Costs.TakerFeeRate),
		CycleTimeout:         cycleTimeout,
	}, logger), nil
}

// zeroBalances is the decision-only fallback: every exchange reports zero free
// collateral, so the allocator never commits capital but evaluations and the
// journal still run.
type zeroBalances struct{}

func (zeroBalances) Balance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
