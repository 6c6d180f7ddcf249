package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/rail-service/yield_bridge/internal/domain/entities"
	domainerrors "github.com/rail-service/yield_bridge/internal/domain/errors"
	"github.com/rail-service/yield_bridge/internal/domain/repositories"
)

const poolColumns = `id, source_ecosystem, destination_ecosystem, token, source_balance, destination_balance,
	rebalance_threshold, min_liquidity, max_liquidity, is_active, updated_at`

// LiquidityPoolRepository stores the latest balance snapshot per pool
type LiquidityPoolRepository struct {
	db *sqlx.DB
}

var _ repositories.LiquidityPoolRepository = (*LiquidityPoolRepository)(nil)

func NewLiquidityPoolRepository(db *sqlx.DB) *LiquidityPoolRepository {
	return &LiquidityPoolRepository{db: db}
}

func (r *LiquidityPoolRepository) Upsert(ctx context.Context, pool *entities.LiquidityPool) error {
	query := `
		INSERT INTO liquidity_pools (` + poolColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			source_balance = EXCLUDED.source_balance,
			destination_balance = EXCLUDED.destination_balance,
			rebalance_threshold = EXCLUDED.rebalance_threshold,
			min_liquidity = EXCLUDED.min_liquidity,
			max_liquidity = EXCLUDED.max_liquidity,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		pool.ID, pool.SourceEcosystem, pool.DestinationEcosystem, pool.Token,
		pool.SourceBalance, pool.DestinationBalance, pool.RebalanceThreshold,
		pool.MinLiquidity, pool.MaxLiquidity, pool.IsActive, pool.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert liquidity pool %s: %w", pool.ID, err)
	}
	return nil
}

func (r *LiquidityPoolRepository) GetByID(ctx context.Context, id string) (*entities.LiquidityPool, error) {
	var pool entities.LiquidityPool
	if err := r.db.GetContext(ctx, &pool, `SELECT `+poolColumns+` FROM liquidity_pools WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFoundError("LIQUIDITY_POOL")
		}
		return nil, fmt.Errorf("get liquidity pool %s: %w", id, err)
	}
	return &pool, nil
}

func (r *LiquidityPoolRepository) List(ctx context.Context) ([]*entities.LiquidityPool, error) {
	var pools []*entities.LiquidityPool
	if err := r.db.SelectContext(ctx, &pools, `SELECT `+poolColumns+` FROM liquidity_pools ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list liquidity pools: %w", err)
	}
	return pools, nil
}
