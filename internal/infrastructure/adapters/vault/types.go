package vault

import "github.com/shopspring/decimal"

// DepositMode selects how the gateway moves funds
type DepositMode string

const (
	// DepositModePool escrows on the source chain and pays out of pool liquidity
	DepositModePool DepositMode = "pool"
	// DepositModeBurn burns on the source chain for a CCTP mint on the destination
	DepositModeBurn DepositMode = "burn"
)

// Deposit statuses reported by the gateway
const (
	DepositStatusPending   = "pending"
	DepositStatusEscrowed  = "escrowed"
	DepositStatusReleasing = "releasing"
	DepositStatusReleased  = "released"
	DepositStatusFailed    = "failed"
)

// CreateDepositRequest opens a deposit on the source chain
type CreateDepositRequest struct {
	Reference        string          `json:"reference"`
	Mode             DepositMode     `json:"mode"`
	SourceChain      string          `json:"source_chain"`
	DestinationChain string          `json:"destination_chain"`
	Token            string          `json:"token"`
	Amount           decimal.Decimal `json:"amount"`
	SenderAddress    string          `json:"sender_address"`
	RecipientAddress string          `json:"recipient_address"`
}

// ReleaseRequest pays out on the destination chain. Attestation and Message
// are only set for burn-mode deposits.
type ReleaseRequest struct {
	Attestation string `json:"attestation,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Deposit is the gateway's view of one transfer
type Deposit struct {
	ID                string          `json:"id"`
	Reference         string          `json:"reference"`
	Mode              DepositMode     `json:"mode"`
	Status            string          `json:"status"`
	SourceChain       string          `json:"source_chain"`
	DestinationChain  string          `json:"destination_chain"`
	Token             string          `json:"token"`
	Amount            decimal.Decimal `json:"amount"`
	SourceTxHash      string          `json:"source_tx_hash,omitempty"`
	DestinationTxHash string          `json:"destination_tx_hash,omitempty"`
	AccruedYield      decimal.Decimal `json:"accrued_yield"`
	FailureReason     string          `json:"failure_reason,omitempty"`
}

// FeeQuote is the gateway's fee for a route
type FeeQuote struct {
	Fee     decimal.Decimal `json:"fee"`
	FeeRate decimal.Decimal `json:"fee_rate"`
}

// YieldRate is the current vault APY for a token
type YieldRate struct {
	Token string          `json:"token"`
	APY   decimal.Decimal `json:"apy"`
}
