package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rail-service/yield_bridge/internal/domain/entities"
)

// BridgeRepository defines the interface for bridge transaction persistence.
// Update is a compare-and-set on status: it fails with errors.ErrConflict when
// the stored status no longer equals expected, and with errors.ErrNotFound when
// the row does not exist.
type BridgeRepository interface {
	Create(ctx context.Context, tx *entities.BridgeTransaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.BridgeTransaction, error)
	Update(ctx context.Context, tx *entities.BridgeTransaction, expected entities.BridgeStatus) error
	ListBySender(ctx context.Context, sender string, limit, offset int) ([]*entities.BridgeTransaction, error)
	ListByTimeRange(ctx context.Context, from, to time.Time) ([]*entities.BridgeTransaction, error)
}

// LiquidityPoolRepository persists pool balance snapshots
type LiquidityPoolRepository interface {
	Upsert(ctx context.Context, pool *entities.LiquidityPool) error
	GetByID(ctx context.Context, id string) (*entities.LiquidityPool, error)
	List(ctx context.Context) ([]*entities.LiquidityPool, error)
}
