package cctp

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rail-service/yield_bridge/internal/domain/entities"
	"github.com/rail-service/yield_bridge/internal/domain/services/chain"
	"github.com/rail-service/yield_bridge/internal/domain/services/settlement"
	"github.com/rail-service/yield_bridge/internal/domain/services/yield"
	"github.com/rail-service/yield_bridge/internal/infrastructure/adapters/vault"
)

// ChainLookup resolves chain configuration, satisfied by *chain.Registry
type ChainLookup interface {
	Get(id entities.ChainID) (chain.Config, bool)
}

// FastProvider settles the primary token by burning through the vault
// gateway, waiting for the Iris attestation, then releasing (minting) on the
// destination chain.
type FastProvider struct {
	iris   IrisClient
	vault  *vault.Client
	chains ChainLookup
	logger *zap.Logger
}

var (
	_ settlement.Provider = (*FastProvider)(nil)
	_ yield.APYSource     = (*FastProvider)(nil)
)

func NewFastProvider(iris IrisClient, vaultClient *vault.Client, chains ChainLookup, logger *zap.Logger) *FastProvider {
	return &FastProvider{iris: iris, vault: vaultClient, chains: chains, logger: logger}
}

func (p *FastProvider) Kind() settlement.Kind { return settlement.KindFast }

func (p *FastProvider) domain(id entities.ChainID) (uint32, error) {
	c, ok := p.chains.Get(id)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownDomain, id)
	}
	return c.CCTPDomain, nil
}

// EstimateFee converts the Iris fast-transfer fee (bps) into a token amount
func (p *FastProvider) EstimateFee(ctx context.Context, src, dst entities.ChainID, amount decimal.Decimal) (decimal.Decimal, error) {
	srcDomain, err := p.domain(src)
	if err != nil {
		return decimal.Zero, err
	}
	dstDomain, err := p.domain(dst)
	if err != nil {
		return decimal.Zero, err
	}
	fees, err := p.iris.GetFees(ctx, srcDomain, dstDomain)
	if err != nil {
		return decimal.Zero, err
	}
	bps := decimal.NewFromInt(int64(fees.FastTransferFee.MinimumFee))
	return amount.Mul(bps).Div(decimal.NewFromInt(bpsDenominator)), nil
}

// InitiateTransfer submits the burn. The result is pending until the
// attestation is available.
func (p *FastProvider) InitiateTransfer(ctx context.Context, req settlement.TransferRequest) (*settlement.TransferResult, error) {
	if _, err := p.domain(req.SourceChain); err != nil {
		return nil, err
	}
	if _, err := p.domain(req.DestinationChain); err != nil {
		return nil, err
	}

	dep, err := p.vault.CreateDeposit(ctx, vault.CreateDepositRequest{
		Reference:        req.Reference.String(),
		Mode:             vault.DepositModeBurn,
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

	p.logger.Info("CCTP burn submitted",
		zap.String("reference", req.Reference.String()),
		zap.String("deposit_id", dep.ID),
		zap.String("source_tx_hash", dep.SourceTxHash))
	return dep.ToTransferResult(), nil
}

// GetTransferStatus advances a burn: once Iris attests it, the release is
// submitted and the released deposit is returned.
func (p *FastProvider) GetTransferStatus(ctx context.Context, externalID string) (*settlement.TransferResult, error) {
	dep, err := p.vault.GetDeposit(ctx, externalID)
	if err != nil {
		return nil, err
	}
	switch dep.Status {
	case vault.DepositStatusReleased, vault.DepositStatusFailed, vault.DepositStatusReleasing:
		return dep.ToTransferResult(), nil
	}
	if dep.SourceTxHash == "" {
		return dep.ToTransferResult(), nil
	}

	srcDomain, err := p.domain(entities.ChainID(dep.SourceChain))
	if err != nil {
		return nil, err
	}
	att, err := p.iris.GetAttestation(ctx, srcDomain, dep.SourceTxHash)
	if errors.Is(err, ErrNoMessages) {
		return dep.ToTransferResult(), nil
	}
	if err != nil {
		return nil, err
	}

	msg := att.Messages[0]
	if !msg.IsComplete() {
		p.logger.Debug("Attestation pending",
			zap.String("deposit_id", dep.ID),
			zap.String("status", msg.Status))
		return dep.ToTransferResult(), nil
	}

	released, err := p.vault.ReleaseDeposit(ctx, dep.ID, vault.ReleaseRequest{
		Attestation: msg.Attestation,
		Message:     msg.Message,
	})
	if err != nil {
		return nil, fmt.Errorf("mint after attestation failed: %w", err)
	}
	if released.SourceTxHash == "" {
		released.SourceTxHash = dep.SourceTxHash
	}
	p.logger.Info("CCTP mint submitted",
		zap.String("deposit_id", released.ID),
		zap.String("status", released.Status))
	return released.ToTransferResult(), nil
}

// CurrentAPY reports the vault yield earned while the burn is in flight
func (p *FastProvider) CurrentAPY(ctx context.Context, token string) (decimal.Decimal, error) {
	y, err := p.vault.GetYield(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}
	return y.APY, nil
}
