package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rail-service/yield_bridge/internal/domain/entities"
	domainerrors "github.com/rail-service/yield_bridge/internal/domain/errors"
	"github.com/rail-service/yield_bridge/internal/domain/repositories"
	"github.com/rail-service/yield_bridge/pkg/metrics"
)

const DefaultTransactionTTL = time.Hour

// TransactionCache is a read-through cache in front of a BridgeRepository.
// The repository stays authoritative: a Redis failure degrades to a direct
// read, and a CAS conflict evicts the entry.
type TransactionCache struct {
	repo   repositories.BridgeRepository
	rdb    redis.UniversalClient
	ttl    time.Duration
	sf     singleflight.Group
	logger *zap.Logger
}

var _ repositories.BridgeRepository = (*TransactionCache)(nil)

func NewTransactionCache(repo repositories.BridgeRepository, rdb redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *TransactionCache {
	if ttl <= 0 {
		ttl = DefaultTransactionTTL
	}
	return &TransactionCache{repo: repo, rdb: rdb, ttl: ttl, logger: logger}
}

func transactionKey(id uuid.UUID) string {
	return "bridge:tx:" + id.String()
}

func (c *TransactionCache) Create(ctx context.Context, tx *entities.BridgeTransaction) error {
	if err := c.repo.Create(ctx, tx); err != nil {
		return err
	}
	c.store(ctx, tx)
	return nil
}

func (c *TransactionCache) GetByID(ctx context.Context, id uuid.UUID) (*entities.BridgeTransaction, error) {
	key := transactionKey(id)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var tx entities.BridgeTransaction
		if uerr := json.Unmarshal(raw, &tx); uerr == nil {
			metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
			return &tx, nil
		}
		c.logger.Warn("Dropping undecodable cache entry", zap.String("key", key))
		c.evict(ctx, id)
		metrics.CacheRequestsTotal.WithLabelValues("error").Inc()
	case errors.Is(err, redis.Nil):
		metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
	default:
		metrics.CacheRequestsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("Cache read failed, falling back to repository", zap.String("key", key), zap.Error(err))
	}

	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		tx, err := c.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		c.store(ctx, tx)
		return tx, nil
	})
	if err != nil {
		return nil, err
	}
	// callers sharing a flight must not share the pointer
	return v.(*entities.BridgeTransaction).Clone(), nil
}

func (c *TransactionCache) Update(ctx context.Context, tx *entities.BridgeTransaction, expected entities.BridgeStatus) error {
	err := c.repo.Update(ctx, tx, expected)
	if err != nil {
		if domainerrors.IsConflict(err) {
			c.evict(ctx, tx.ID)
		}
		return err
	}
	c.store(ctx, tx)
	return nil
}

func (c *TransactionCache) ListBySender(ctx context.Context, sender string, limit, offset int) ([]*entities.BridgeTransaction, error) {
	return c.repo.ListBySender(ctx, sender, limit, offset)
}

func (c *TransactionCache) ListByTimeRange(ctx context.Context, from, to time.Time) ([]*entities.BridgeTransaction, error) {
	return c.repo.ListByTimeRange(ctx, from, to)
}

func (c *TransactionCache) store(ctx context.Context, tx *entities.BridgeTransaction) {
	data, err := json.Marshal(tx)
	if err != nil {
		c.logger.Warn("Failed to encode transaction for cache", zap.String("transaction_id", tx.ID.String()), zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, transactionKey(tx.ID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("Cache write failed", zap.String("transaction_id", tx.ID.String()), zap.Error(err))
		// a stale entry is worse than none
		c.evict(ctx, tx.ID)
	}
}

func (c *TransactionCache) evict(ctx context.Context, id uuid.UUID) {
	if err := c.rdb.Del(ctx, transactionKey(id)).Err(); err != nil {
		c.logger.Warn("Cache evict failed", zap.String("transaction_id", id.String()), zap.Error(err))
	}
}
