package di

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rail-service/yield_bridge/internal/api/handlers"
	domainrepos "github.com/rail-service/yield_bridge/internal/domain/repositories"
	"github.com/rail-service/yield_bridge/internal/domain/services/bridge"
	"github.com/rail-service/yield_bridge/internal/domain/services/chain"
	"github.com/rail-service/yield_bridge/internal/domain/services/consensus"
	"github.com/rail-service/yield_bridge/internal/domain/services/liquidity"
	"github.com/rail-service/yield_bridge/internal/domain/services/yield"
	"github.com/rail-service/yield_bridge/internal/infrastructure/cache"
	"github.com/rail-service/yield_bridge/internal/infrastructure/config"
	"github.com/rail-service/yield_bridge/internal/infrastructure/database"
	"github.com/rail-service/yield_bridge/internal/infrastructure/messaging"
	"github.com/rail-service/yield_bridge/internal/infrastructure/repositories"
	"github.com/rail-service/yield_bridge/internal/workers/liquidity_rebalancer"
	"github.com/rail-service/yield_bridge/pkg/graceful"
	"github.com/rail-service/yield_bridge/pkg/logger"
)

const updateBuffer = 64

// Container holds all application dependencies
type Container struct {
	Config *config.Config
	DB     *sqlx.DB
	Logger *logger.Logger
	ZapLog *zap.Logger

	// Redis is nil when the service runs without a shared cache
	Redis *redis.Client

	// Repositories
	BridgeRepo domainrepos.BridgeRepository
	PoolRepo   *repositories.LiquidityPoolRepository

	// Domain Services
	Registry      *chain.Registry
	Liquidity     *liquidity.Manager
	Yield         *yield.Calculator
	Consensus     *consensus.Coordinator
	Settlement    *SettlementServices
	BridgeService *bridge.Service

	// Update fan-out
	Updates   *messaging.Hub
	Nats      *messaging.NatsPublisher
	Publisher messaging.Publisher

	// Workers
	Rebalancer *liquidity_rebalancer.Worker
}

// NewContainer creates a new dependency injection container
func NewContainer(ctx context.Context, cfg *config.Config, db *sqlx.DB, log *logger.Logger) (*Container, error) {
	c := &Container{
		Config: cfg,
		DB:     db,
		Logger: log,
		ZapLog: log.Zap(),
	}

	if err := c.initializeInfrastructure(); err != nil {
		return nil, err
	}
	if err := c.initializeDomainServices(ctx); err != nil {
		c.Close()
		return nil, err
	}

	log.Info("Container initialized",
		"redis", c.Redis != nil,
		"nats", c.Nats != nil,
		"chains", len(c.Registry.All()),
		"auto_process", cfg.Bridge.AutoProcess)
	return c, nil
}

func (c *Container) initializeInfrastructure() error {
	cfg := c.Config

	if cfg.Redis.Host != "" {
		rdb, err := cache.NewRedisClient(&cfg.Redis, c.ZapLog)
		switch {
		case err == nil:
			c.Redis = rdb
		case cfg.Environment == "production":
			return fmt.Errorf("redis is required in production: %w", err)
		default:
			c.Logger.Warn("Redis unavailable, using in-process locks without cache", "error", err)
		}
	}

	c.Updates = messaging.NewHub(updateBuffer, c.ZapLog)
	publishers := messaging.MultiPublisher{c.Updates}
	if cfg.NATS.Enabled {
		np, err := messaging.NewNatsPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, c.ZapLog)
		if err != nil {
			return fmt.Errorf("failed to connect update publisher: %w", err)
		}
		c.Nats = np
		publishers = append(publishers, np)
	}
	c.Publisher = publishers
	return nil
}

func (c *Container) initializeDomainServices(ctx context.Context) error {
	cfg := c.Config
	zapLog := c.ZapLog

	registry, err := BuildRegistry(cfg.Chains)
	if err != nil {
		return fmt.Errorf("failed to build chain registry: %w", err)
	}
	c.Registry = registry

	c.PoolRepo = repositories.NewLiquidityPoolRepository(c.DB)
	c.Liquidity, err = liquidity.NewManager(registry, PoolsFromConfig(cfg.Pools), c.PoolRepo, zapLog, liquidity.Options{
		BaseWait: cfg.Bridge.LiquidityBaseWaitDuration(),
		MaxWait:  cfg.Bridge.LiquidityMaxWaitDuration(),
	})
	if err != nil {
		return fmt.Errorf("failed to build liquidity manager: %w", err)
	}
	if err := c.Liquidity.Load(ctx); err != nil {
		return fmt.Errorf("failed to load liquidity pools: %w", err)
	}

	c.Yield = yield.NewCalculator(decimal.NewFromFloat(cfg.Bridge.BaselineAPY))

	if c.Consensus, err = BuildConsensus(cfg, zapLog); err != nil {
		return err
	}
	if c.Settlement, err = NewSettlementServicesBuilder(cfg, registry, zapLog).Build(); err != nil {
		return err
	}

	var locker bridge.Locker
	var bridgeRepo domainrepos.BridgeRepository = repositories.NewBridgeRepository(c.DB)
	if c.Redis != nil {
		bridgeRepo = cache.NewTransactionCache(bridgeRepo, c.Redis, cfg.Bridge.CacheTTLDuration(), zapLog)
		locker = cache.NewRedisLocker(c.Redis)
	} else {
		locker = cache.NewLocalLocker()
	}
	c.BridgeRepo = bridgeRepo

	c.BridgeService = bridge.NewService(
		registry,
		c.Liquidity,
		c.Yield,
		c.Consensus,
		c.Settlement.Router,
		bridgeRepo,
		locker,
		c.Publisher,
		bridge.Config{
			BaseFeeRate:             decimal.NewFromFloat(cfg.Bridge.BaseFeeRate),
			CrossEcosystemSurcharge: decimal.NewFromFloat(cfg.Bridge.CrossEcosystemSurcharge),
			MaxFeeRatio:             decimal.NewFromFloat(cfg.Bridge.MaxFeeRatio),
			SettlementOverhead:      cfg.Bridge.SettlementOverheadDuration(),
			SettlementTimeout:       cfg.Bridge.SettlementTimeoutDuration(),
			SettlementPollInterval:  cfg.Bridge.SettlementPollDuration(),
			LockTTL:                 cfg.Bridge.LockTTLDuration(),
			AutoProcess:             cfg.Bridge.AutoProcess,
		},
		zapLog,
	)

	c.Rebalancer = liquidity_rebalancer.NewWorker(
		c.Liquidity,
		cfg.Workers.RebalanceSchedule,
		seconds(cfg.Workers.RebalanceTimeout),
		zapLog,
	)
	return nil
}

// HealthChecks lists the dependencies the readiness endpoint reports on
func (c *Container) HealthChecks() []handlers.Check {
	checks := []handlers.Check{{
		Name:     "database",
		Critical: true,
		Ping:     func(ctx context.Context) error { return database.HealthCheck(ctx, c.DB) },
	}}
	if c.Redis != nil {
		checks = append(checks, handlers.Check{
			Name:     "redis",
			Critical: true,
			Ping:     func(ctx context.Context) error { return c.Redis.Ping(ctx).Err() },
		})
	}
	if c.Nats != nil {
		checks = append(checks, handlers.Check{Name: "nats", Ping: c.Nats.Ping})
	}
	return checks
}

// RegisterShutdown orders the stop sequence: workers and the orchestrator
// drain first, then connections close.
func (c *Container) RegisterShutdown(sm *graceful.ShutdownManager) {
	sm.Register(c.Rebalancer)
	sm.Register(c.BridgeService)
	sm.RegisterCloser("database", c.DB.Close)
	if c.Redis != nil {
		sm.RegisterCloser("redis", c.Redis.Close)
	}
	if c.Nats != nil {
		sm.RegisterCloser("nats", c.Nats.Close)
	}
}

// Close releases connections opened by the container itself. Used when
// construction fails part way.
func (c *Container) Close() {
	if c.Nats != nil {
		_ = c.Nats.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}
