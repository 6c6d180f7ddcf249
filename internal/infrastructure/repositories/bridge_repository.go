package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/rail-service/yield_bridge/internal/domain/entities"
	domainerrors "github.com/rail-service/yield_bridge/internal/domain/errors"
	"github.com/rail-service/yield_bridge/internal/domain/repositories"
)

const bridgeColumns = `id, source_chain, destination_chain, token, source_amount, destination_amount,
	bridge_fee_amount, estimated_yield, actual_yield, status, sender_address, recipient_address,
	settlement_provider, external_settlement_id, previous_settlement_id, source_tx_hash, destination_tx_hash,
	failure_reason, estimated_duration, retry_count, created_at, updated_at, completed_at`

// BridgeRepository implements the bridge repository interface
type BridgeRepository struct {
	db *sqlx.DB
}

var _ repositories.BridgeRepository = (*BridgeRepository)(nil)

// NewBridgeRepository creates a new bridge repository
func NewBridgeRepository(db *sqlx.DB) *BridgeRepository {
	return &BridgeRepository{db: db}
}

func (r *BridgeRepository) Create(ctx context.Context, tx *entities.BridgeTransaction) error {
	query := `
		INSERT INTO bridge_transactions (` + bridgeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`

	_, err := r.db.ExecContext(ctx, query,
		tx.ID, tx.SourceChain, tx.DestinationChain, tx.Token, tx.SourceAmount, tx.DestinationAmount,
		tx.BridgeFeeAmount, tx.EstimatedYield, tx.ActualYield, tx.Status, tx.SenderAddress, tx.RecipientAddress,
		tx.SettlementProvider, tx.ExternalSettlementID, tx.PreviousSettlementID, tx.SourceTxHash, tx.DestinationTxHash,
		tx.FailureReason, int64(tx.EstimatedDuration), tx.RetryCount, tx.CreatedAt, tx.UpdatedAt, tx.CompletedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domainerrors.ConflictError("bridge transaction", "already exists")
		}
		return fmt.Errorf("insert bridge transaction: %w", err)
	}
	return nil
}

func (r *BridgeRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.BridgeTransaction, error) {
	var tx entities.BridgeTransaction
	query := `SELECT ` + bridgeColumns + ` FROM bridge_transactions WHERE id = $1`
	if err := r.db.GetContext(ctx, &tx, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.NotFoundError("BRIDGE_TRANSACTION")
		}
		return nil, fmt.Errorf("get bridge transaction %s: %w", id, err)
	}
	return &tx, nil
}

// Update writes every mutable column only while the stored status still
// equals expected.
func (r *BridgeRepository) Update(ctx context.Context, tx *entities.BridgeTransaction, expected entities.BridgeStatus) error {
	query := `
		UPDATE bridge_transactions SET
			status = $2, actual_yield = $3, settlement_provider = $4, external_settlement_id = $5,
			source_tx_hash = $6, destination_tx_hash = $7, failure_reason = $8, retry_count = $9,
			updated_at = $10, completed_at = $11, previous_settlement_id = $12
		WHERE id = $1 AND status = $13`

	res, err := r.db.ExecContext(ctx, query,
		tx.ID, tx.Status, tx.ActualYield, tx.SettlementProvider, tx.ExternalSettlementID,
		tx.SourceTxHash, tx.DestinationTxHash, tx.FailureReason, tx.RetryCount,
		tx.UpdatedAt, tx.CompletedAt, tx.PreviousSettlementID, expected,
	)
	if err != nil {
		return fmt.Errorf("update bridge transaction %s: %w", tx.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update bridge transaction %s: %w", tx.ID, err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM bridge_transactions WHERE id = $1)`, tx.ID); err != nil {
		return fmt.Errorf("update bridge transaction %s: %w", tx.ID, err)
	}
	if !exists {
		return domainerrors.NotFoundError("BRIDGE_TRANSACTION")
	}
	return domainerrors.ConflictError("bridge transaction", fmt.Sprintf("status is no longer %s", expected))
}

func (r *BridgeRepository) ListBySender(ctx context.Context, sender string, limit, offset int) ([]*entities.BridgeTransaction, error) {
	var txs []*entities.BridgeTransaction
	query := `
		SELECT ` + bridgeColumns + ` FROM bridge_transactions
		WHERE sender_address = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &txs, query, sender, limit, offset); err != nil {
		return nil, fmt.Errorf("list bridge transactions by sender: %w", err)
	}
	return txs, nil
}

// ListByTimeRange returns transactions created in [from, to)
func (r *BridgeRepository) ListByTimeRange(ctx context.Context, from, to time.Time) ([]*entities.BridgeTransaction, error) {
	var txs []*entities.BridgeTransaction
	query := `
		SELECT ` + bridgeColumns + ` FROM bridge_transactions
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &txs, query, from, to); err != nil {
		return nil, fmt.Errorf("list bridge transactions by time range: %w", err)
	}
	return txs, nil
}
