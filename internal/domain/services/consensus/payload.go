package consensus

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rail-service/yield_bridge/internal/domain/entities"
)

// Payload is the economic content validators attest to
type Payload struct {
	TransactionID    uuid.UUID        `json:"transaction_id"`
	SourceChain      entities.ChainID `json:"source_chain"`
	DestinationChain entities.ChainID `json:"destination_chain"`
	Token            string           `json:"token"`
	Amount           decimal.Decimal  `json:"amount"`
	Recipient        string           `json:"recipient"`
}

// PayloadFor builds the attestation payload for a transaction
func PayloadFor(tx *entities.BridgeTransaction) Payload {
	return Payload{
		TransactionID:    tx.ID,
		SourceChain:      tx.SourceChain,
		DestinationChain: tx.DestinationChain,
		Token:            tx.Token,
		Amount:           tx.DestinationAmount,
		Recipient:        tx.RecipientAddress,
	}
}

// canonical is a stable pipe-delimited encoding; amounts use a fixed scale so
// "1000" and "1000.00" hash the same.
func (p Payload) canonical() string {
	return strings.Join([]string{
		p.TransactionID.String(),
		string(p.SourceChain),
		string(p.DestinationChain),
		strings.ToUpper(p.Token),
		p.Amount.StringFixed(8),
		strings.ToLower(p.Recipient),
	}, "|")
}

// Digest is the personal-sign hash validators sign
func (p Payload) Digest() common.Hash {
	return prefixHash([]byte(p.canonical()))
}

func prefixHash(data []byte) common.Hash {
	msg := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(data), data)
	return crypto.Keccak256Hash([]byte(msg))
}

// RecoverSigner returns the address that produced sig over digest.
// Accepts recovery ids 0/1 and 27/28.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	switch normalized[64] {
	case 0, 1:
	case 27, 28:
		normalized[64] -= 27
	default:
		return common.Address{}, fmt.Errorf("wrong signature recovery id %d", sig[64])
	}

	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("cannot recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// DecodeSignature parses a 0x-prefixed hex signature
func DecodeSignature(sig string) ([]byte, error) {
	if !strings.HasPrefix(sig, "0x") {
		sig = "0x" + sig
	}
	b, err := hexutil.Decode(sig)
	if err != nil {
		return nil, fmt.Errorf("invalid signature hex: %w", err)
	}
	return b, nil
}
