package cctp

import "context"

// IrisClient is the subset of the Iris API the fast settlement path needs
type IrisClient interface {
	// GetAttestation fetches the message and attestation for a burn transaction
	GetAttestation(ctx context.Context, sourceDomain uint32, txHash string) (*AttestationResponse, error)

	// GetFees retrieves current fees for a transfer between domains
	GetFees(ctx context.Context, sourceDomain, destDomain uint32) (*FeesResponse, error)
}

var _ IrisClient = (*Client)(nil)
