package cctp

const (
	// API Hosts
	IrisMainnetURL = "https://iris-api.circle.com"
	IrisSandboxURL = "https://iris-api-sandbox.circle.com"

	// Domain IDs for the chains in the default catalog
	DomainEthereum uint32 = 0
	DomainSolana   uint32 = 5
	DomainPolygon  uint32 = 7

	// Rate limiting
	MaxRequestsPerSecond = 35

	// Attestation statuses
	AttestationStatusPending  = "pending_confirmations"
	AttestationStatusComplete = "complete"

	bpsDenominator = 10000
)

// DomainNames maps domain IDs to human-readable names
var DomainNames = map[uint32]string{
	DomainEthereum: "Ethereum",
	DomainSolana:   "Solana",
	DomainPolygon:  "Polygon",
}
