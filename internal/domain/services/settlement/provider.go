// Package settlement defines the contract for external services that move
// value between chains, and the closed table that routes a token to one.
package settlement

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rail-service/yield_bridge/internal/domain/entities"
)

// Kind is a settlement path variant
type Kind string

const (
	// KindFast burns on the source chain and mints on the destination once attested
	KindFast Kind = "fast"
	// KindPool pays out of the destination side of a liquidity pool
	KindPool Kind = "pool"
)

// TransferStatus is the provider-side status of a transfer
type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "pending"
	TransferStatusCompleted TransferStatus = "completed"
	TransferStatusFailed    TransferStatus = "failed"
)

func (s TransferStatus) IsFinal() bool {
	return s == TransferStatusCompleted || s == TransferStatusFailed
}

// TransferRequest carries everything a provider needs to move funds
type TransferRequest struct {
	Reference        uuid.UUID
	SourceChain      entities.ChainID
	DestinationChain entities.ChainID
	Token            string
	Amount           decimal.Decimal
	SenderAddress    string
	RecipientAddress string
}

// TransferResult is returned by InitiateTransfer
type TransferResult struct {
	ExternalID        string
	SourceTxHash      string
	DestinationTxHash string
	Status            TransferStatus
	AccruedYield      decimal.Decimal
}

// Provider performs the actual value movement for a set of tokens
type Provider interface {
	Kind() Kind
	EstimateFee(ctx context.Context, src, dst entities.ChainID, amount decimal.Decimal) (decimal.Decimal, error)
	InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	GetTransferStatus(ctx context.Context, externalID string) (*TransferResult, error)
}
