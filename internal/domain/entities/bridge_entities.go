package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChainID identifies a supported chain in the registry, e.g. "polygon"
type ChainID string

// Ecosystem groups a mainnet with its testnets for pool and fee-tier resolution
type Ecosystem string

const (
	EcosystemPrimary   Ecosystem = "primary"
	EcosystemSecondary Ecosystem = "secondary"
	EcosystemTertiary  Ecosystem = "tertiary"
	EcosystemUnknown   Ecosystem = "unknown"
)

// BridgeStatus represents the status of a bridge transaction
type BridgeStatus string

const (
	BridgeStatusInitiated          BridgeStatus = "INITIATED"           // Accepted, liquidity reserved for quote
	BridgeStatusBridgePending      BridgeStatus = "BRIDGE_PENDING"      // Waiting for validator consensus
	BridgeStatusSourceConfirmed    BridgeStatus = "SOURCE_CONFIRMED"    // Quorum reached
	BridgeStatusDestinationPending BridgeStatus = "DESTINATION_PENDING" // Settlement provider working
	BridgeStatusCompleted          BridgeStatus = "COMPLETED"           // Done
	BridgeStatusFailed             BridgeStatus = "FAILED"              // Error, retryable
	BridgeStatusCancelled          BridgeStatus = "CANCELLED"           // User cancelled
)

var bridgeTransitions = map[BridgeStatus][]BridgeStatus{
	BridgeStatusInitiated:          {BridgeStatusBridgePending, BridgeStatusFailed, BridgeStatusCancelled},
	BridgeStatusBridgePending:      {BridgeStatusSourceConfirmed, BridgeStatusFailed, BridgeStatusCancelled},
	BridgeStatusSourceConfirmed:    {BridgeStatusDestinationPending, BridgeStatusFailed},
	BridgeStatusDestinationPending: {BridgeStatusCompleted, BridgeStatusFailed},
	BridgeStatusFailed:             {BridgeStatusInitiated},
}

// CanTransitionTo reports whether next is a legal successor of s
func (s BridgeStatus) CanTransitionTo(next BridgeStatus) bool {
	for _, allowed := range bridgeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true for states that need no further processing
func (s BridgeStatus) IsTerminal() bool {
	return s == BridgeStatusCompleted || s == BridgeStatusFailed || s == BridgeStatusCancelled
}

// Progress returns the completion percentage shown to users
func (s BridgeStatus) Progress() int {
	switch s {
	case BridgeStatusInitiated:
		return 10
	case BridgeStatusBridgePending:
		return 30
	case BridgeStatusSourceConfirmed:
		return 60
	case BridgeStatusDestinationPending:
		return 80
	case BridgeStatusCompleted:
		return 100
	default:
		return 0
	}
}

func (s BridgeStatus) CanCancel() bool {
	return s == BridgeStatusInitiated || s == BridgeStatusBridgePending
}

func (s BridgeStatus) CanRetry() bool {
	return s == BridgeStatusFailed
}

// BridgeTransaction represents one cross-chain stablecoin transfer and its lifecycle
type BridgeTransaction struct {
	ID                   uuid.UUID        `json:"id" db:"id"`
	SourceChain          ChainID          `json:"source_chain" db:"source_chain"`
	DestinationChain     ChainID          `json:"destination_chain" db:"destination_chain"`
	Token                string           `json:"token" db:"token"`
	SourceAmount         decimal.Decimal  `json:"source_amount" db:"source_amount"`
	DestinationAmount    decimal.Decimal  `json:"destination_amount" db:"destination_amount"`
	BridgeFeeAmount      decimal.Decimal  `json:"bridge_fee_amount" db:"bridge_fee_amount"`
	EstimatedYield       decimal.Decimal  `json:"estimated_yield" db:"estimated_yield"`
	ActualYield          *decimal.Decimal `json:"actual_yield,omitempty" db:"actual_yield"`
	Status               BridgeStatus     `json:"status" db:"status"`
	SenderAddress        string           `json:"sender_address" db:"sender_address"`
	RecipientAddress     string           `json:"recipient_address" db:"recipient_address"`
	SettlementProvider   string           `json:"settlement_provider,omitempty" db:"settlement_provider"`
	ExternalSettlementID string           `json:"external_settlement_id,omitempty" db:"external_settlement_id"`
	// PreviousSettlementID is the provider id abandoned by the last Retry
	PreviousSettlementID string           `json:"previous_settlement_id,omitempty" db:"previous_settlement_id"`
	SourceTxHash         string           `json:"source_tx_hash,omitempty" db:"source_tx_hash"`
	DestinationTxHash    string           `json:"destination_tx_hash,omitempty" db:"destination_tx_hash"`
	FailureReason        string           `json:"failure_reason,omitempty" db:"failure_reason"`
	EstimatedDuration    time.Duration    `json:"estimated_duration" db:"estimated_duration"`
	RetryCount           int              `json:"retry_count" db:"retry_count"`
	CreatedAt            time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at" db:"updated_at"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
}

// TotalCredited is what the recipient receives once settled
func (t *BridgeTransaction) TotalCredited() decimal.Decimal {
	if t.ActualYield == nil {
		return t.DestinationAmount
	}
	return t.DestinationAmount.Add(*t.ActualYield)
}

// Clone returns a deep copy safe to hand across goroutines
func (t *BridgeTransaction) Clone() *BridgeTransaction {
	c := *t
	if t.ActualYield != nil {
		y := *t.ActualYield
		c.ActualYield = &y
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return &c
}

// BridgeRequest represents a request to initiate a bridge transfer
type BridgeRequest struct {
	SourceChain      ChainID         `json:"source_chain"`
	DestinationChain ChainID         `json:"destination_chain"`
	Token            string          `json:"token"`
	Amount           decimal.Decimal `json:"amount"`
	SenderAddress    string          `json:"sender_address"`
	RecipientAddress string          `json:"recipient_address"`
}

// BridgeEstimate is the quote returned before a transfer is created
type BridgeEstimate struct {
	Fee               decimal.Decimal `json:"fee"`
	FeeRate           decimal.Decimal `json:"fee_rate"`
	DestinationAmount decimal.Decimal `json:"destination_amount"`
	EstimatedTime     time.Duration   `json:"estimated_time"`
	EstimatedYield    decimal.Decimal `json:"estimated_yield"`
	APY               decimal.Decimal `json:"apy"`
	// SettlementProvider is the path the token settles through. ProviderFee
	// is that provider's own quote, informational only; nil when unavailable.
	SettlementProvider string           `json:"settlement_provider"`
	ProviderFee        *decimal.Decimal `json:"provider_fee,omitempty"`
}

// BridgeStatusView is the read-only composite returned by status queries
type BridgeStatusView struct {
	Transaction *BridgeTransaction `json:"transaction"`
	Validation  *ValidationResult  `json:"validation,omitempty"`
	Progress    int                `json:"progress"`
	Elapsed     time.Duration      `json:"elapsed"`
	Estimated   time.Duration      `json:"estimated"`
	Remaining   time.Duration      `json:"remaining"`
	CanCancel   bool               `json:"can_cancel"`
	CanRetry    bool               `json:"can_retry"`
}

// LiquidityPool is the reserve for one token between two ecosystems
type LiquidityPool struct {
	ID                   string          `json:"id" db:"id"`
	SourceEcosystem      Ecosystem       `json:"source_ecosystem" db:"source_ecosystem"`
	DestinationEcosystem Ecosystem       `json:"destination_ecosystem" db:"destination_ecosystem"`
	Token                string          `json:"token" db:"token"`
	SourceBalance        decimal.Decimal `json:"source_balance" db:"source_balance"`
	DestinationBalance   decimal.Decimal `json:"destination_balance" db:"destination_balance"`
	RebalanceThreshold   decimal.Decimal `json:"rebalance_threshold" db:"rebalance_threshold"`
	MinLiquidity         decimal.Decimal `json:"min_liquidity" db:"min_liquidity"`
	MaxLiquidity         decimal.Decimal `json:"max_liquidity" db:"max_liquidity"`
	IsActive             bool            `json:"is_active" db:"is_active"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

// UtilizationRate is derived from balances, never stored
func (p *LiquidityPool) UtilizationRate() decimal.Decimal {
	if !p.MaxLiquidity.IsPositive() {
		return decimal.NewFromInt(1)
	}
	rate := p.MaxLiquidity.Sub(p.DestinationBalance).Div(p.MaxLiquidity)
	if rate.IsNegative() {
		return decimal.Zero
	}
	if rate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return rate
}

// AvailableLiquidity is destinationBalance * (1 - utilization)
func (p *LiquidityPool) AvailableLiquidity() decimal.Decimal {
	return p.DestinationBalance.Mul(decimal.NewFromInt(1).Sub(p.UtilizationRate()))
}

// TotalLiquidity is the conserved quantity across both sides
func (p *LiquidityPool) TotalLiquidity() decimal.Decimal {
	return p.SourceBalance.Add(p.DestinationBalance)
}

// LiquidityCheck is the outcome of an availability query
type LiquidityCheck struct {
	PoolID          string          `json:"pool_id"`
	Available       bool            `json:"available"`
	AvailableAmount decimal.Decimal `json:"available_amount"`
	SuggestedAmount decimal.Decimal `json:"suggested_amount"`
	EstimatedWait   time.Duration   `json:"estimated_wait"`
}

// ValidatorSignature is one validator vote in a consensus round
type ValidatorSignature struct {
	Validator string    `json:"validator"`
	Signature string    `json:"signature"`
	SignedAt  time.Time `json:"signed_at"`
}

// ValidationResult is the outcome of a consensus round for one transaction
type ValidationResult struct {
	TransactionID      uuid.UUID            `json:"transaction_id"`
	ConsensusReached   bool                 `json:"consensus_reached"`
	RequiredValidators int                  `json:"required_validators"`
	ActualValidators   int                  `json:"actual_validators"`
	Signatures         []ValidatorSignature `json:"signatures"`
	Pending            bool                 `json:"pending"`
	Timestamp          time.Time            `json:"timestamp"`
}

// UpdateType classifies events emitted to the update publisher
type UpdateType string

const (
	UpdateTypeStatusChange UpdateType = "status_change"
	UpdateTypeConfirmation UpdateType = "confirmation"
	UpdateTypeYieldUpdate  UpdateType = "yield_update"
	UpdateTypeError        UpdateType = "error"
	UpdateTypeCompletion   UpdateType = "completion"
)

// BridgeUpdate is one event in the ordered per-transaction update stream
type BridgeUpdate struct {
	TransactionID uuid.UUID              `json:"transaction_id"`
	Sequence      uint64                 `json:"sequence"`
	Type          UpdateType             `json:"type"`
	Status        BridgeStatus           `json:"status"`
	Timestamp     time.Time              `json:"timestamp"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
}
