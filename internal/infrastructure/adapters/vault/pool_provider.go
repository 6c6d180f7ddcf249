package vault

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rail-service/yield_bridge/internal/domain/entities"
	"github.com/rail-service/yield_bridge/internal/domain/services/settlement"
	"github.com/rail-service/yield_bridge/internal/domain/services/yield"
)

// PoolProvider settles by escrowing on the source chain and releasing from
// pool liquidity on the destination chain.
type PoolProvider struct {
	client *Client
	logger *zap.Logger
}

var (
	_ settlement.Provider = (*PoolProvider)(nil)
	_ yield.APYSource     = (*PoolProvider)(nil)
)

func NewPoolProvider(client *Client, logger *zap.Logger) *PoolProvider {
	return &PoolProvider{client: client, logger: logger}
}

func (p *PoolProvider) Kind() settlement.Kind { return settlement.KindPool }

func (p *PoolProvider) EstimateFee(ctx context.Context, src, dst entities.ChainID, amount decimal.Decimal) (decimal.Decimal, error) {
	q, err := p.client.GetFees(ctx, string(src), string(dst), "", amount)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Fee, nil
}

// InitiateTransfer escrows the deposit and asks for an immediate release
func (p *PoolProvider) InitiateTransfer(ctx context.Context, req settlement.TransferRequest) (*settlement.TransferResult, error) {
	dep, err := p.client.CreateDeposit(ctx, CreateDepositRequest{
		Reference:        req.Reference.String(),
		Mode:             DepositModePool,
		SourceChain:      string(req.SourceChain),
		DestinationChain: string(req.DestinationChain),
		Token:            req.Token,
		Amount:           req.Amount,
		SenderAddress:    req.SenderAddress,
		RecipientAddress: req.RecipientAddress,
	})
	if err != nil {
		return nil, err
	}
	if dep.Status == DepositStatusFailed {
		return dep.ToTransferResult(), nil
	}

	released, err := p.client.ReleaseDeposit(ctx, dep.ID, ReleaseRequest{})
	if err != nil {
		return nil, fmt.Errorf("deposit %s escrowed but release failed: %w", dep.ID, err)
	}
	if released.SourceTxHash == "" {
		released.SourceTxHash = dep.SourceTxHash
	}

	p.logger.Info("Pool settlement initiated",
		zap.String("reference", req.Reference.String()),
		zap.String("deposit_id", released.ID),
		zap.String("status", released.Status))
	return released.ToTransferResult(), nil
}

func (p *PoolProvider) GetTransferStatus(ctx context.Context, externalID string) (*settlement.TransferResult, error) {
	dep, err := p.client.GetDeposit(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return dep.ToTransferResult(), nil
}

// CurrentAPY reports the vault yield for token
func (p *PoolProvider) CurrentAPY(ctx context.Context, token string) (decimal.Decimal, error) {
	y, err := p.client.GetYield(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}
	return y.APY, nil
}

// ToTransferResult maps a gateway deposit onto the settlement contract
func (dep *Deposit) ToTransferResult() *settlement.TransferResult {
	return &settlement.TransferResult{
		ExternalID:        dep.ID,
		SourceTxHash:      dep.SourceTxHash,
		DestinationTxHash: dep.DestinationTxHash,
		Status:            transferStatus(dep.Status),
		AccruedYield:      dep.AccruedYield,
	}
}

func transferStatus(s string) settlement.TransferStatus {
	switch s {
	case DepositStatusReleased:
		return settlement.TransferStatusCompleted
	case DepositStatusFailed:
		return settlement.TransferStatusFailed
	default:
		return settlement.TransferStatusPending
	}
}
